package views

import "strings"

type BadgeVariant string

const (
	BadgeVariantSecondary BadgeVariant = "secondary"
	BadgeVariantWarning   BadgeVariant = "warning"
	BadgeVariantError     BadgeVariant = "error"
	BadgeVariantOutline   BadgeVariant = "outline"
)

type BadgeProps struct {
	Variant BadgeVariant
	Class   string
}

func badgeClasses(props BadgeProps) string {
	var classes []string

	classes = append(classes, "badge")

	switch props.Variant {
	case BadgeVariantSecondary:
		classes = append(classes, "badge-secondary")
	case BadgeVariantWarning:
		classes = append(classes, "badge-warning")
	case BadgeVariantError:
		classes = append(classes, "badge-error")
	case BadgeVariantOutline:
		classes = append(classes, "badge-outline")
	default:
		classes = append(classes, "badge-default")
	}

	if props.Class != "" {
		classes = append(classes, props.Class)
	}

	return strings.Join(classes, " ")
}

// outcomeVariant maps a bundle outcome to a badge variant.
func outcomeVariant(outcome string) BadgeVariant {
	switch outcome {
	case "failed":
		return BadgeVariantError
	case "infrastructure-error":
		return BadgeVariantWarning
	case "":
		return BadgeVariantOutline
	default:
		return BadgeVariantSecondary
	}
}
