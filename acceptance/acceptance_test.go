//go:build acceptance
// +build acceptance

package acceptance

import (
	"context"
	"log"
	"os"
	"testing"

	"github.com/networkteam/uiharness"
)

var app *TestApp

// TestMain installs Playwright browsers and sets up the shared harness before running tests.
func TestMain(m *testing.M) {
	env, err := uiharness.ReadEnv()
	if err != nil {
		log.Fatalf("invalid environment: %v", err)
	}
	if err := InstallBrowsers(env); err != nil {
		log.Fatal(err)
	}

	app, err = NewTestApp(context.Background(), env)
	if err != nil {
		log.Fatalf("could not set up test app: %v", err)
	}

	code := m.Run()
	if err := app.Close(); err != nil {
		log.Printf("closing test app: %v", err)
	}
	os.Exit(code)
}
