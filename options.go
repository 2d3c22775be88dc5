package uiharness

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/networkteam/uiharness/artifact"
	"github.com/networkteam/uiharness/browser"
	"github.com/networkteam/uiharness/coordinator"
	"github.com/networkteam/uiharness/page"
	"github.com/networkteam/uiharness/server"
	"github.com/networkteam/uiharness/store"
	"github.com/networkteam/uiharness/transcript"
)

// Options configures a Harness.
type Options struct {
	// Server provisions the application under test for every session. Required.
	Server server.Provisioner
	// Browser opens the automation session for every test. Required.
	Browser browser.Manager
	// Store is reset to baseline before every session.
	// Default: nil, sessions run without a data store and Session.Seeder returns nil.
	Store *store.Store

	// Recorder is attached to the transcript of the active session. Pass the same Switch as
	// store.Options.Recorder and to application loggers to have their output end up in
	// the session transcript.
	// Default: a new Switch
	Recorder *transcript.Switch
	// TranscriptCapacity is the maximum number of transcript entries kept per session.
	// Default: 0, will use transcript.DefaultCapacity
	TranscriptCapacity uint64

	// Coordinator grants exclusive access to the shared server, browser and store.
	// Default: coordinator.Default()
	Coordinator *coordinator.Coordinator

	// ArtifactDir is where failure bundles are written. Default: artifact.DefaultDir
	ArtifactDir string
	// Artifacts overrides the collector created from ArtifactDir.
	Artifacts *artifact.Collector

	// Timeout bounds a whole session from provisioning to the end of the body.
	// Default: 2m
	Timeout time.Duration
	// TeardownTimeout bounds closing the browser session and stopping the server.
	// Default: 30s
	TeardownTimeout time.Duration

	// PageOptions are used for Session.Page.
	PageOptions page.Options

	// Filter is a regular expression matched against the fully qualified test name
	// (<import path>.<TestName>) by UITest. Non-matching tests are skipped.
	// Default: empty, all tests run
	Filter string

	// Logger receives harness logs. It is combined with a handler writing into the session
	// transcript.
	// Default: a text logger on stderr at LogLevel
	Logger *slog.Logger
	// LogLevel is used for the default Logger. Default: slog.LevelInfo
	LogLevel slog.Leveler

	// OnTransition is called synchronously for every state transition of a session.
	OnTransition func(Transition)
}

// DefaultOptions returns options with all defaults set, except the required Server and
// Browser.
func DefaultOptions() Options {
	return Options{
		ArtifactDir:     artifact.DefaultDir,
		Timeout:         2 * time.Minute,
		TeardownTimeout: 30 * time.Second,
		PageOptions:     page.DefaultOptions(),
		LogLevel:        slog.LevelInfo,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Recorder == nil {
		o.Recorder = &transcript.Switch{}
	}
	if o.Coordinator == nil {
		o.Coordinator = coordinator.Default()
	}
	if o.ArtifactDir == "" {
		o.ArtifactDir = d.ArtifactDir
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.TeardownTimeout <= 0 {
		o.TeardownTimeout = d.TeardownTimeout
	}
	if o.LogLevel == nil {
		o.LogLevel = d.LogLevel
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: o.LogLevel}))
	}
	return o
}

// Environment variables read by ReadEnv.
const (
	EnvBrowserEndpoint = "UIHARNESS_BROWSER_ENDPOINT"
	EnvBrowserLaunch   = "UIHARNESS_BROWSER_LAUNCH"
	EnvHeadless        = "UIHARNESS_HEADLESS"
	EnvAppAddr         = server.AddrEnv
	EnvArtifactDir     = "UIHARNESS_ARTIFACT_DIR"
	EnvFilter          = "UIHARNESS_FILTER"
	EnvTimeout         = "UIHARNESS_TIMEOUT"
	EnvDB              = "UIHARNESS_DB"
	EnvLogLevel        = "UIHARNESS_LOG_LEVEL"
)

// Env holds the settings of the UIHARNESS_* environment variables.
type Env struct {
	// BrowserEndpoint is the websocket endpoint of a running browser server.
	BrowserEndpoint string
	// BrowserLaunch launches a local browser if no endpoint is set.
	BrowserLaunch bool
	// Headless is true unless UIHARNESS_HEADLESS is set to a false value.
	Headless bool
	// AppAddr is the address the application under test listens on.
	AppAddr string
	// DB is the path of the database file, empty for a temporary database.
	DB          string
	ArtifactDir string
	Filter      string
	Timeout     time.Duration
	LogLevel    slog.Level
}

// ReadEnv reads the UIHARNESS_* environment variables.
func ReadEnv() (Env, error) {
	env := Env{
		BrowserEndpoint: os.Getenv(EnvBrowserEndpoint),
		Headless:        true,
		AppAddr:         server.DefaultAddr,
		DB:              os.Getenv(EnvDB),
		ArtifactDir:     os.Getenv(EnvArtifactDir),
		Filter:          os.Getenv(EnvFilter),
		LogLevel:        slog.LevelInfo,
	}
	if v := os.Getenv(EnvAppAddr); v != "" {
		env.AppAddr = v
	}

	var err error
	if v := os.Getenv(EnvBrowserLaunch); v != "" {
		if env.BrowserLaunch, err = strconv.ParseBool(v); err != nil {
			return env, fmt.Errorf("invalid %s: %w", EnvBrowserLaunch, err)
		}
	}
	if v := os.Getenv(EnvHeadless); v != "" {
		if env.Headless, err = strconv.ParseBool(v); err != nil {
			return env, fmt.Errorf("invalid %s: %w", EnvHeadless, err)
		}
	}
	if v := os.Getenv(EnvTimeout); v != "" {
		if env.Timeout, err = time.ParseDuration(v); err != nil {
			return env, fmt.Errorf("invalid %s: %w", EnvTimeout, err)
		}
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		if err := env.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return env, fmt.Errorf("invalid %s: %w", EnvLogLevel, err)
		}
	}
	return env, nil
}

// PlaywrightOptions returns browser options for the environment.
func (e Env) PlaywrightOptions() browser.PlaywrightOptions {
	o := browser.DefaultPlaywrightOptions()
	o.Endpoint = e.BrowserEndpoint
	o.Launch = e.BrowserLaunch
	o.Headless = e.Headless
	return o
}

// Apply overrides the options with the settings that are set in the environment.
func (e Env) Apply(o Options) Options {
	if e.ArtifactDir != "" {
		o.ArtifactDir = e.ArtifactDir
	}
	if e.Filter != "" {
		o.Filter = e.Filter
	}
	if e.Timeout > 0 {
		o.Timeout = e.Timeout
	}
	if o.LogLevel == nil {
		o.LogLevel = e.LogLevel
	}
	if o.Browser == nil {
		o.Browser = browser.NewPlaywrightManager(e.PlaywrightOptions())
	}
	return o
}
