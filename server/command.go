package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/networkteam/uiharness/transcript"
)

// AddrEnv is set for commands started by a CommandProvisioner and holds the address
// the application must listen on.
const AddrEnv = "UIHARNESS_APP_ADDR"

// CommandOptions configures a CommandProvisioner.
type CommandOptions struct {
	// Path of the executable. Required.
	Path string
	Args []string
	Dir  string
	// Env is appended to the current environment.
	Env []string
	// Addr the application listens on. It is passed in AddrEnv. Default: DefaultAddr
	Addr string
	// Readiness configures the readiness probe.
	Readiness ReadinessOptions
	// StopTimeout is how long to wait after an interrupt before killing the process group,
	// and how long to wait for the output of leftover children after exit. Default: 5s
	StopTimeout time.Duration
	// Logger for provisioning events. Default: slog.Default()
	Logger *slog.Logger
}

// CommandProvisioner runs the application under test as a separate process.
// Its stdout and stderr are recorded to the transcript found in the Start context.
type CommandProvisioner struct {
	options CommandOptions
}

var _ Provisioner = &CommandProvisioner{}

// NewCommandProvisioner creates a provisioner starting the configured command per session.
func NewCommandProvisioner(options CommandOptions) *CommandProvisioner {
	if options.Addr == "" {
		options.Addr = DefaultAddr
	}
	if options.StopTimeout <= 0 {
		options.StopTimeout = 5 * time.Second
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &CommandProvisioner{options: options}
}

// Start implements Provisioner.
func (p *CommandProvisioner) Start(ctx context.Context) (*Handle, error) {
	addr := p.options.Addr
	if p.options.Path == "" {
		return nil, &ProvisioningError{Addr: addr, Op: "start", Err: errors.New("no command configured")}
	}

	var recorder transcript.Recorder = transcript.Discard
	if tr, ok := transcript.FromContext(ctx); ok {
		recorder = tr
	}
	stdout := transcript.NewLineWriter(recorder, transcript.SourceApp, "stdout")
	stderr := transcript.NewLineWriter(recorder, transcript.SourceApp, "stderr")

	cmd := exec.Command(p.options.Path, p.options.Args...)
	cmd.Dir = p.options.Dir
	cmd.Env = append(append(os.Environ(), p.options.Env...), AddrEnv+"="+addr)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Wait returns this long after the process exited even if a leftover child still
	// holds stdout or stderr
	cmd.WaitDelay = p.options.StopTimeout
	configureProcess(cmd)

	if err := cmd.Start(); err != nil {
		return nil, &ProvisioningError{Addr: addr, Op: "start", Err: err}
	}

	exited := make(chan struct{})
	var waitErr error
	go func() {
		waitErr = cmd.Wait()
		stdout.Flush()
		stderr.Flush()
		close(exited)
	}()

	h := newHandle(addr, func(ctx context.Context) error {
		select {
		case <-exited:
			return nil
		default:
		}

		if err := interruptProcess(cmd); err != nil && !errors.Is(err, os.ErrProcessDone) {
			_ = killProcess(cmd)
		}

		timer := time.NewTimer(p.options.StopTimeout)
		defer timer.Stop()
		select {
		case <-exited:
			return nil
		case <-timer.C:
		case <-ctx.Done():
		}

		p.options.Logger.Warn("Application did not stop after interrupt, killing", slog.Int("pid", cmd.Process.Pid))
		if err := killProcess(cmd); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("killing application process: %w", err)
		}

		waitTimer := time.NewTimer(p.options.StopTimeout)
		defer waitTimer.Stop()
		select {
		case <-exited:
			return nil
		case <-waitTimer.C:
			return fmt.Errorf("application process %d did not exit after kill", cmd.Process.Pid)
		case <-ctx.Done():
			return fmt.Errorf("waiting for application process %d: %w", cmd.Process.Pid, ctx.Err())
		}
	})

	// Give up waiting as soon as the process dies.
	readyCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-exited:
			cancel()
		case <-readyCtx.Done():
		}
	}()

	if err := WaitReady(readyCtx, h.URL, p.options.Readiness); err != nil {
		select {
		case <-exited:
			err = fmt.Errorf("process exited before becoming ready: %v: %w", waitErr, err)
		default:
		}
		return h, &ProvisioningError{Addr: addr, Op: "readiness", Err: err}
	}

	p.options.Logger.DebugContext(ctx, "Application process ready", slog.String("url", h.URL), slog.Int("pid", cmd.Process.Pid))

	return h, nil
}

// Stop implements Provisioner.
func (p *CommandProvisioner) Stop(ctx context.Context, h *Handle) error {
	return h.Stop(ctx)
}
