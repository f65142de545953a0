// Package pactlexec runs pactl invocations.
//
// Every invocation carries a timeout. Failures come back as wrapped sentinel
// errors alongside a populated Result so callers can log and carry on; the
// engine never treats a single failed command as fatal.
package pactlexec

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrCommandFailed means the utility ran and exited non-zero.
	ErrCommandFailed = errors.New("pactl command failed")
	// ErrTimeout means the invocation was killed after its deadline.
	ErrTimeout = errors.New("pactl command timed out")
	// ErrNotInstalled means the binary could not be found or started.
	ErrNotInstalled = errors.New("pactl not installed")
)

// Runner executes one pactl invocation. args exclude the binary.
// Implementations must be safe for concurrent use.
type Runner interface {
	Run(ctx context.Context, args ...string) (Result, error)
}

// Result captures one finished invocation.
type Result struct {
	Args     []string
	Stdout   string
	Stderr   string
	ExitCode int // -1 when the process never produced an exit status
	Duration time.Duration
}

// Output returns stdout with surrounding whitespace removed; load-module
// prints the new module id this way.
func (r Result) Output() string {
	return strings.TrimSpace(r.Stdout)
}

// Invocation is a Result as kept by the recent-command log.
type Invocation struct {
	At      time.Time     `json:"at"`
	Command string        `json:"command"`
	Exit    int           `json:"exit"`
	Took    time.Duration `json:"took"`
	Stderr  string        `json:"stderr,omitempty"`
	Err     string        `json:"err,omitempty"`
}
