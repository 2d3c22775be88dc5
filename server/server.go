// Package server provisions the application under test for a session and waits until
// it is ready to serve the browser.
package server

import (
	"context"
	"fmt"
	"sync"
)

// DefaultAddr is the address the application is bound to when nothing else is configured.
// Sessions never overlap, so a fixed address is fine.
const DefaultAddr = "127.0.0.1:8765"

// Provisioner starts and stops the application under test.
type Provisioner interface {
	// Start brings the application up and blocks until it is ready. On failure it may
	// return a partially started handle together with the error; Stop accepts it.
	Start(ctx context.Context) (*Handle, error)
	// Stop terminates the application and releases its address. It is idempotent
	// and accepts nil or partially started handles.
	Stop(ctx context.Context, h *Handle) error
}

// Handle references a running application.
type Handle struct {
	// Addr is the bound host:port.
	Addr string
	// URL is the base URL reachable by the browser, e.g. "http://127.0.0.1:8765".
	URL string

	stop     func(ctx context.Context) error
	stopOnce sync.Once
	stopErr  error
}

func newHandle(addr string, stop func(ctx context.Context) error) *Handle {
	return &Handle{
		Addr: addr,
		URL:  "http://" + addr,
		stop: stop,
	}
}

// Stop releases the handle's resources once; later calls return the first result.
func (h *Handle) Stop(ctx context.Context) error {
	if h == nil {
		return nil
	}
	h.stopOnce.Do(func() {
		if h.stop != nil {
			h.stopErr = h.stop(ctx)
		}
	})
	return h.stopErr
}

// ProvisioningError is returned when the application could not be started or did not
// become ready in time.
type ProvisioningError struct {
	Addr string
	Op   string
	Err  error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning server at %s: %s: %v", e.Addr, e.Op, e.Err)
}

func (e *ProvisioningError) Unwrap() error {
	return e.Err
}
