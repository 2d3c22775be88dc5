//go:build acceptance
// +build acceptance

package acceptance

import (
	"context"
	"fmt"

	"github.com/networkteam/uiharness/page"
)

// ArtifactsPage is the page object of the failure bundle browser served below
// ArtifactsPath.
type ArtifactsPage struct {
	page.Base
}

// Open navigates to the bundle list.
func (p ArtifactsPage) Open(ctx context.Context) error {
	return p.Navigate(ctx, ArtifactsPath+"/")
}

// BundleCount returns the number of listed bundles.
func (p ArtifactsPage) BundleCount(ctx context.Context) (int, error) {
	return p.Count(ctx, "table.bundles tr.bundle")
}

// OpenBundle follows the link of the bundle with the given id ("<test>/<timestamp>").
func (p ArtifactsPage) OpenBundle(ctx context.Context, id string) error {
	return p.Click(ctx, fmt.Sprintf(`tr.bundle[data-id="%s"] a`, id))
}

// HasScreenshot reports whether the opened bundle shows a screenshot.
func (p ArtifactsPage) HasScreenshot(ctx context.Context) (bool, error) {
	return p.Exists(ctx, `div.item[data-item="screenshot.png"] img`)
}

// ItemText returns the text shown for an item of the opened bundle.
func (p ArtifactsPage) ItemText(ctx context.Context, item string) (string, error) {
	return p.Text(ctx, fmt.Sprintf(`div.item[data-item="%s"] pre`, item))
}
