package views

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/a-h/templ"
	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"

	"github.com/networkteam/uiharness/artifact"
)

func formatDurationSince(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := time.Since(t)
	if d < 0 {
		return "in the future"
	}
	if d < time.Minute {
		return fmt.Sprintf("%d seconds ago", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%d minutes ago", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%d hours ago", int(d.Hours()))
	}
	return fmt.Sprintf("%d days ago", int(d.Hours()/24))
}

// itemLexer returns the lexer for a bundle item, nil for items shown as plain text.
func itemLexer(item string) chroma.Lexer {
	switch item {
	case artifact.ItemDOM:
		return lexers.Get("html")
	default:
		return nil
	}
}

// itemContent renders the text content of a bundle item, highlighted if its item has a
// lexer.
func itemContent(item Item) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		lexer := itemLexer(item.Name)
		if lexer == nil {
			_, _ = io.WriteString(w, `<pre class="plain">`)
			text(w, item.Content)
			_, err := io.WriteString(w, "</pre>\n")
			return err
		}

		formatter, style := chromaFormatterAndStyle()

		iterator, err := chroma.Coalesce(lexer).Tokenise(nil, item.Content)
		if err != nil {
			return err
		}

		return formatter.Format(w, style, iterator)
	})
}

func chromaFormatterAndStyle() (*html.Formatter, *chroma.Style) {
	formatter := html.New(
		html.Standalone(false),
		html.WithClasses(true),
		html.TabWidth(4),
	)

	style := styles.Get("monokai")
	if style == nil {
		style = styles.Fallback
	}

	return formatter, style
}

func chromaStyles() templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, _ = io.WriteString(w, "<style>")
		formatter, style := chromaFormatterAndStyle()
		err := formatter.WriteCSS(w, style)
		_, _ = io.WriteString(w, ".chroma { white-space: pre-wrap; }\n")
		_, _ = io.WriteString(w, "</style>")
		return err
	})
}

// text writes escaped text.
func text(w io.Writer, s string) {
	_, _ = io.WriteString(w, templ.EscapeString(s))
}

func attrValue(s string) string {
	return templ.EscapeString(s)
}
