package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/networkteam/uiharness"
	"github.com/networkteam/uiharness/artifact"
	"github.com/networkteam/uiharness/report"
)

var (
	flagRunFilter          string
	flagRunArtifacts       string
	flagRunBrowserEndpoint string
	flagRunLaunch          bool
	flagRunHeadless        bool
	flagRunAppAddr         string
	flagRunTags            string
	flagRunTimeout         time.Duration
	flagRunVerbose         bool
	flagRunReport          bool
)

func init() {
	runCmd.Flags().StringVarP(&flagRunFilter, "filter", "f", "", "regexp selecting tests by <import path>.<TestName>[/<subtest>]")
	runCmd.Flags().StringVar(&flagRunArtifacts, "artifacts", artifact.DefaultDir, "directory for failure bundles")
	runCmd.Flags().StringVar(&flagRunBrowserEndpoint, "browser-endpoint", "", "websocket endpoint of a running Playwright browser server")
	runCmd.Flags().BoolVar(&flagRunLaunch, "launch", false, "launch a local browser if no endpoint is set")
	runCmd.Flags().BoolVar(&flagRunHeadless, "headless", true, "run a launched browser headless")
	runCmd.Flags().StringVar(&flagRunAppAddr, "app-addr", "", "address the application under test listens on")
	runCmd.Flags().StringVar(&flagRunTags, "tags", "acceptance", "build tags passed to go test")
	runCmd.Flags().DurationVar(&flagRunTimeout, "timeout", 0, "timeout of a single test session (default 2m)")
	runCmd.Flags().BoolVarP(&flagRunVerbose, "verbose", "v", false, "verbose go test output")
	runCmd.Flags().BoolVar(&flagRunReport, "report", true, "write an HTML report to the artifact directory after the run")

	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run [packages]",
	Short: "Run UI test packages",
	Long: `Run UI test packages with go test. Settings are passed to the tests as
UIHARNESS_* environment variables. The exit code is 0 if and only if every
selected test passed.

	Examples:
	  uiharness run ./acceptance/...
	  uiharness run --filter 'MyNewPage' --launch --headless=false ./acceptance/...
	  uiharness run --browser-endpoint ws://127.0.0.1:3000/ ./...`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			args = []string{"./..."}
		}
		logger := newLogger()

		settings := runSettings{
			Filter:          flagRunFilter,
			ArtifactDir:     flagRunArtifacts,
			BrowserEndpoint: flagRunBrowserEndpoint,
			Launch:          flagRunLaunch,
			Headless:        flagRunHeadless,
			AppAddr:         flagRunAppAddr,
			Tags:            flagRunTags,
			Timeout:         flagRunTimeout,
			Verbose:         flagRunVerbose,
			LogLevel:        flagLogLevel,
		}
		runErr := runTests(cmd.Context(), settings, args, cmd.OutOrStdout(), cmd.ErrOrStderr())

		if flagRunReport {
			n, err := report.WriteIndex(cmd.Context(), settings.ArtifactDir)
			if err != nil {
				logger.Warn("Could not write report", slog.Any("error", err))
			} else if n > 0 {
				logger.Info("Wrote failure report", slog.Int("bundles", n), slog.String("path", settings.ArtifactDir+"/"+report.IndexFile))
			}
		}
		return runErr
	},
}

// runSettings are the options of a test run.
type runSettings struct {
	Filter          string
	ArtifactDir     string
	BrowserEndpoint string
	Launch          bool
	Headless        bool
	AppAddr         string
	Tags            string
	Timeout         time.Duration
	Verbose         bool
	LogLevel        string
}

// env returns the UIHARNESS_* variables for the settings.
func (s runSettings) env() []string {
	env := []string{
		uiharness.EnvHeadless + "=" + strconv.FormatBool(s.Headless),
		uiharness.EnvBrowserLaunch + "=" + strconv.FormatBool(s.Launch),
	}
	set := func(key, value string) {
		if value != "" {
			env = append(env, key+"="+value)
		}
	}
	set(uiharness.EnvFilter, s.Filter)
	set(uiharness.EnvArtifactDir, s.ArtifactDir)
	set(uiharness.EnvBrowserEndpoint, s.BrowserEndpoint)
	set(uiharness.EnvAppAddr, s.AppAddr)
	set(uiharness.EnvLogLevel, s.LogLevel)
	if s.Timeout > 0 {
		set(uiharness.EnvTimeout, s.Timeout.String())
	}
	return env
}

// goTestArgs returns the arguments of the go test invocation.
func (s runSettings) goTestArgs(packages []string) []string {
	args := []string{"test", "-count=1", "-p=1"}
	if s.Tags != "" {
		args = append(args, "-tags="+s.Tags)
	}
	if s.Verbose {
		args = append(args, "-v")
	}
	return append(args, packages...)
}

func runTests(ctx context.Context, s runSettings, packages []string, stdout, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, "go", s.goTestArgs(packages)...)
	cmd.Env = append(os.Environ(), s.env()...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &exitCodeError{code: exitErr.ExitCode()}
	}
	if err != nil {
		return fmt.Errorf("running go test: %w", err)
	}
	return nil
}
