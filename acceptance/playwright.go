//go:build acceptance
// +build acceptance

package acceptance

import (
	"fmt"

	"github.com/playwright-community/playwright-go"

	"github.com/networkteam/uiharness"
	"github.com/networkteam/uiharness/browser"
)

// InstallBrowsers installs the Playwright driver and browsers unless a remote browser
// endpoint is configured.
func InstallBrowsers(env uiharness.Env) error {
	if env.BrowserEndpoint != "" {
		return nil
	}
	if err := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}}); err != nil {
		return fmt.Errorf("could not install playwright: %w", err)
	}
	return nil
}

// NewBrowserManager creates a Playwright manager for the environment. Without an
// endpoint a local Chromium is launched. Set UIHARNESS_HEADLESS=false to watch the
// browser while debugging.
func NewBrowserManager(env uiharness.Env) *browser.PlaywrightManager {
	options := env.PlaywrightOptions()
	if options.Endpoint == "" {
		options.Launch = true
	}
	return browser.NewPlaywrightManager(options)
}
