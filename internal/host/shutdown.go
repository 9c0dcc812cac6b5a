// internal/host/shutdown.go
package host

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/tendant/simple-transcriber/internal/gce"
	"github.com/tendant/simple-transcriber/internal/metadata"
)

// Shutdowner terminates the machine the runner executes on.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// DefaultPowerOffCommand halts the VM immediately.
var DefaultPowerOffCommand = []string{"shutdown", "-h", "now"}

type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execCombined(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// PowerOff runs an operating system command to halt the host.
type PowerOff struct {
	command []string
	run     runFunc
}

func NewPowerOff(command []string) *PowerOff {
	if len(command) == 0 {
		command = DefaultPowerOffCommand
	}
	return &PowerOff{command: command, run: execCombined}
}

func (p *PowerOff) Shutdown(ctx context.Context) error {
	out, err := p.run(ctx, p.command[0], p.command[1:]...)
	if err != nil {
		return fmt.Errorf("%s failed: %w (output=%s)", strings.Join(p.command, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// InstanceLocator reports which VM the process runs on.
type InstanceLocator interface {
	Instance(ctx context.Context) (metadata.Instance, error)
}

// InstanceController stops a VM through the Compute Engine API.
type InstanceController interface {
	Stop(ctx context.Context, ref gce.InstanceRef) error
}

// InstanceStopper stops the current instance through the Compute Engine API
// instead of halting the guest OS.
type InstanceStopper struct {
	Locator InstanceLocator
	Compute InstanceController
}

func (s *InstanceStopper) Shutdown(ctx context.Context) error {
	inst, err := s.Locator.Instance(ctx)
	if err != nil {
		return fmt.Errorf("resolve instance: %w", err)
	}
	ref := gce.InstanceRef{Project: inst.ProjectID, Zone: inst.Zone, Name: inst.Name}
	return s.Compute.Stop(ctx, ref)
}

// Noop leaves the host running. Used for local runs.
type Noop struct{}

func (Noop) Shutdown(context.Context) error { return nil }

// Once makes sure the wrapped Shutdowner is called a single time. Every call
// returns the result of the first one.
type Once struct {
	next Shutdowner
	once sync.Once
	err  error
}

func NewOnce(next Shutdowner) *Once {
	return &Once{next: next}
}

func (o *Once) Shutdown(ctx context.Context) error {
	o.once.Do(func() {
		o.err = o.next.Shutdown(ctx)
	})
	return o.err
}

