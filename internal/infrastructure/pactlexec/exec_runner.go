package pactlexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/edirooss/wavemix/pkg/pactl"
	"go.uber.org/zap"
)

// Options configures an ExecRunner.
type Options struct {
	Binary  string        // defaults to "pactl"
	Timeout time.Duration // per invocation; defaults to 5s
}

func (o *Options) setDefaults() {
	if o.Binary == "" {
		o.Binary = pactl.Binary
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
}

// ExecRunner runs the real pactl binary.
//
// Output is forced to the C locale: the record delimiters ("Sink Input #")
// and header keys are translated otherwise.
type ExecRunner struct {
	log     *zap.Logger
	opts    Options
	history commandLog
}

// NewExecRunner returns a runner for the configured binary.
func NewExecRunner(log *zap.Logger, opts Options) *ExecRunner {
	opts.setDefaults()
	return &ExecRunner{
		log:  log.Named("pactl"),
		opts: opts,
	}
}

// CheckInstalled verifies that binary resolves on PATH.
func CheckInstalled(binary string) error {
	if binary == "" {
		binary = pactl.Binary
	}
	if _, err := exec.LookPath(binary); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNotInstalled, binary, err)
	}
	return nil
}

// Run executes one invocation bounded by the configured timeout.
func (r *ExecRunner) Run(ctx context.Context, args ...string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.opts.Binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = append(os.Environ(), "LC_ALL=C")

	start := time.Now()
	runErr := cmd.Run()

	res := Result{
		Args:     args,
		Stdout:   stdout.String(),
		Stderr:   strings.TrimSpace(stderr.String()),
		ExitCode: -1,
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	err := classify(ctx, runErr, res)
	r.record(res, err)
	return res, err
}

// Recent returns up to n of the latest invocations, newest first.
func (r *ExecRunner) Recent(n int) []Invocation {
	return r.history.Read(n)
}

func (r *ExecRunner) record(res Result, err error) {
	inv := Invocation{
		At:      time.Now(),
		Command: pactl.CommandString(r.opts.Binary, res.Args),
		Exit:    res.ExitCode,
		Took:    res.Duration,
		Stderr:  res.Stderr,
	}
	if err != nil {
		inv.Err = err.Error()
		r.log.Warn("command failed",
			zap.String("command", inv.Command),
			zap.Int("exit_code", res.ExitCode),
			zap.String("stderr", res.Stderr),
			zap.Duration("took", res.Duration),
			zap.Error(err),
		)
	} else {
		r.log.Debug("command", zap.String("command", inv.Command), zap.Duration("took", res.Duration))
	}
	r.history.Append(inv)
}

func classify(ctx context.Context, runErr error, res Result) error {
	if runErr == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrTimeout, res.Duration.Round(time.Millisecond))
	}
	var eerr *exec.ExitError
	if errors.As(runErr, &eerr) {
		if res.Stderr != "" {
			return fmt.Errorf("%w: exit %d: %s", ErrCommandFailed, res.ExitCode, res.Stderr)
		}
		return fmt.Errorf("%w: exit %d", ErrCommandFailed, res.ExitCode)
	}
	return fmt.Errorf("%w: %v", ErrNotInstalled, runErr)
}
