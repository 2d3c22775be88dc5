package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/networkteam/uiharness"
	"github.com/networkteam/uiharness/report"
)

func TestRunSettings_Env(t *testing.T) {
	s := runSettings{
		Filter:      "MyNewPage",
		ArtifactDir: "out",
		Launch:      true,
		Headless:    false,
		Timeout:     30 * time.Second,
	}

	env := s.env()
	assert.Contains(t, env, uiharness.EnvFilter+"=MyNewPage")
	assert.Contains(t, env, uiharness.EnvArtifactDir+"=out")
	assert.Contains(t, env, uiharness.EnvBrowserLaunch+"=true")
	assert.Contains(t, env, uiharness.EnvHeadless+"=false")
	assert.Contains(t, env, uiharness.EnvTimeout+"=30s")
	for _, kv := range env {
		assert.NotContains(t, kv, uiharness.EnvBrowserEndpoint, "unset values are not passed")
	}
}

func TestRunSettings_GoTestArgs(t *testing.T) {
	s := runSettings{Tags: "acceptance", Verbose: true}
	assert.Equal(t,
		[]string{"test", "-count=1", "-p=1", "-tags=acceptance", "-v", "./acceptance/..."},
		s.goTestArgs([]string{"./acceptance/..."}),
	)

	assert.Equal(t, []string{"test", "-count=1", "-p=1", "./..."}, runSettings{}.goTestArgs([]string{"./..."}))
}

func TestExitCodeError(t *testing.T) {
	var err error = &exitCodeError{code: 2}
	var exitErr *exitCodeError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 2, exitErr.code)
	assert.Equal(t, "tests failed (exit code 2)", err.Error())
}

func TestReportCommand_EmptyDir(t *testing.T) {
	dir := t.TempDir()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"report", dir})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "with 0 bundles")

	html, err := os.ReadFile(filepath.Join(dir, report.IndexFile))
	require.NoError(t, err)
	assert.Contains(t, string(html), "No failure bundles.")
}

func TestServe_StopsOnCancel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	srv := &http.Server{
		Addr:    addr,
		Handler: report.NewHandler(t.TempDir()),
	}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, srv, slog.New(slog.NewTextHandler(io.Discard, nil)))
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Equal(t, "", firstNonEmpty("", ""))
}
