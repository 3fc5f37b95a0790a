// Package daemonctl stops a running novelverse daemon from another process.
package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"novelverse/internal/api"
)

// StopState describes what Stop found and did.
type StopState string

const (
	StopStateNotRunning StopState = "not_running"
	StopStateStopped    StopState = "stopped"
	// StopStateStale means a pid file named a process that no longer exists.
	StopStateStale StopState = "stale_pid"
)

// StopResult captures daemon stop orchestration state.
type StopResult struct {
	State StopState
	PID   int
}

// StopOptions configure Stop.
type StopOptions struct {
	// PID is the process recorded by the daemon; zero when no pid file exists.
	PID int
	// Client, when set, is polled until the API stops answering.
	Client  *api.Client
	Timeout time.Duration
	Poll    time.Duration
}

// Stop sends SIGTERM to the daemon process and waits for both the process
// and its API to go away. The daemon drains in-flight streams for its
// shutdown timeout, so Timeout should exceed server.shutdown_timeout.
func Stop(ctx context.Context, opts StopOptions) (StopResult, error) {
	if opts.PID <= 0 {
		return StopResult{State: StopStateNotRunning}, nil
	}
	result := StopResult{PID: opts.PID}
	if !processAlive(opts.PID) {
		result.State = StopStateStale
		return result, nil
	}
	if err := unix.Kill(opts.PID, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			result.State = StopStateStale
			return result, nil
		}
		return result, fmt.Errorf("signal daemon %d: %w", opts.PID, err)
	}
	if err := WaitForShutdown(ctx, opts); err != nil {
		return result, err
	}
	result.State = StopStateStopped
	return result, nil
}

// WaitForShutdown polls until the process has exited and the API, if a
// client is given, no longer answers.
func WaitForShutdown(ctx context.Context, opts StopOptions) error {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	poll := opts.Poll
	if poll <= 0 {
		poll = 200 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		if !processAlive(opts.PID) && !apiAnswers(ctx, opts.Client) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("daemon %d did not stop within %s", opts.PID, timeout)
		case <-ticker.C:
		}
	}
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

func apiAnswers(ctx context.Context, client *api.Client) bool {
	if client == nil {
		return false
	}
	_, err := client.Health(ctx)
	return err == nil || !api.IsAPIUnavailable(err)
}
