// Package privexec runs commands under a root-faking wrapper (the
// archetype is fakeroot) with timeout, retry, and in-memory attempt
// history (spec §4.6).
package privexec

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"sourcepm/internal/errs"
	"sourcepm/internal/log"
)

// Profile is a named execution profile pre-setting timeout/retry defaults.
type Profile struct {
	Name       string
	Timeout    time.Duration
	MaxRetries int
}

var (
	ProfileDefault = Profile{Name: "default", Timeout: 5 * time.Minute, MaxRetries: 1}
	ProfileBuild   = Profile{Name: "build", Timeout: 30 * time.Minute, MaxRetries: 2}
	ProfileTest    = Profile{Name: "test", Timeout: 15 * time.Minute, MaxRetries: 1}
	ProfilePackage = Profile{Name: "package", Timeout: 10 * time.Minute, MaxRetries: 2}
)

// Attempt records one try of a command.
type Attempt struct {
	Number   int
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
	Started  time.Time
	Duration time.Duration
}

// Result is the outcome of Run, including every attempt made.
type Result struct {
	Command  []string
	Attempts []Attempt
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

// Hook is an in-process callback invoked before or after a command runs.
type Hook func(cmd []string)

// Plugin receives a copy of every Result once a command finishes, for
// telemetry or audit purposes (spec §4.6 "publishes results to any
// registered plugins").
type Plugin interface {
	Observe(*Result)
}

// Executor runs commands via FakerootPath with retry/backoff, recording
// every attempt and invoking any registered pre/post hooks and plugins.
type Executor struct {
	FakerootPath  string
	RetryBackoff  time.Duration
	PreHooks      []Hook
	PostHooks     []Hook
	Plugins       []Plugin
	logger        log.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger attaches a logger; defaults to the no-op logger.
func WithLogger(l log.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithFakerootPath overrides the fakeroot binary name/path.
func WithFakerootPath(path string) Option {
	return func(e *Executor) { e.FakerootPath = path }
}

// WithRetryBackoffBase overrides the exponential backoff base duration.
func WithRetryBackoffBase(d time.Duration) Option {
	return func(e *Executor) { e.RetryBackoff = d }
}

// WithPlugin registers a result observer.
func WithPlugin(p Plugin) Option {
	return func(e *Executor) { e.Plugins = append(e.Plugins, p) }
}

// New returns an Executor using "fakeroot" as the wrapper binary.
func New(opts ...Option) *Executor {
	e := &Executor{
		FakerootPath: "fakeroot",
		RetryBackoff: 500 * time.Millisecond,
		logger:       log.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Options describes one invocation.
type Options struct {
	Argv       []string
	Shell      string // alternative to Argv: a shell command string
	Env        []string
	Dir        string
	Privileged bool
	Profile    Profile
	Check      bool // if true, a non-zero final attempt becomes an ExecError
}

// Run executes a command per opts, making up to opts.Profile.MaxRetries
// attempts in all (at least one) with exponential backoff between them,
// and returns a Result with every attempt recorded.
func (e *Executor) Run(ctx context.Context, opts Options) (*Result, error) {
	argv := opts.Argv
	if opts.Shell != "" {
		argv = []string{"sh", "-c", opts.Shell}
	}
	if len(argv) == 0 {
		return nil, errs.New(errs.KindExec, "no command given")
	}

	if opts.Privileged {
		argv = append([]string{e.FakerootPath}, argv...)
	}

	for _, h := range e.PreHooks {
		h(argv)
	}

	result := &Result{Command: argv}

	maxRetries := opts.Profile.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	timeout := opts.Profile.Timeout
	if timeout <= 0 {
		timeout = ProfileDefault.Timeout
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		start := time.Now()
		stdout, stderr, exitCode, err := e.runOnce(ctx, argv, opts.Env, opts.Dir, timeout)
		duration := time.Since(start)

		result.Attempts = append(result.Attempts, Attempt{
			Number:   attempt,
			Stdout:   stdout,
			Stderr:   stderr,
			ExitCode: exitCode,
			Err:      err,
			Started:  start,
			Duration: duration,
		})

		result.Stdout, result.Stderr, result.ExitCode = stdout, stderr, exitCode

		if err == nil {
			lastErr = nil
			break
		}

		lastErr = err
		e.logger.Warn("command attempt failed",
			"command", argv, "attempt", attempt, "max_retries", maxRetries, "error", err)

		if attempt < maxRetries {
			backoff := e.RetryBackoff * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = maxRetries
			}
		}
	}

	for _, h := range e.PostHooks {
		h(argv)
	}
	for _, p := range e.Plugins {
		p.Observe(result)
	}

	if lastErr != nil {
		result.Err = lastErr
		if opts.Check {
			return result, errs.Wrap(errs.KindExec,
				fmt.Sprintf("command failed after %d attempt(s): %v", maxRetries, argv), lastErr)
		}
	}

	return result, nil
}

func (e *Executor) runOnce(ctx context.Context, argv []string, env []string, dir string, timeout time.Duration) (stdout, stderr string, exitCode int, err error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = env
	}

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	stdout, stderr = outBuf.String(), errBuf.String()

	if runCtx.Err() == context.DeadlineExceeded {
		return stdout, stderr, -1, fmt.Errorf("command timed out after %s: %w", timeout, runCtx.Err())
	}

	if runErr == nil {
		return stdout, stderr, 0, nil
	}

	var exitErr *exec.ExitError
	if exitCodeOf(runErr, &exitErr) {
		return stdout, stderr, exitErr.ExitCode(), runErr
	}
	return stdout, stderr, -1, runErr
}

func exitCodeOf(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

// Pipeline runs a list of commands piped together: stdout of each feeds
// stdin of the next (spec §4.6 "supports pipelines").
func (e *Executor) Pipeline(ctx context.Context, stages [][]string, dir string) (*Result, error) {
	if len(stages) == 0 {
		return nil, errs.New(errs.KindExec, "empty pipeline")
	}

	shellParts := make([]string, len(stages))
	for i, stage := range stages {
		shellParts[i] = shellJoin(stage)
	}

	shell := shellParts[0]
	for i := 1; i < len(shellParts); i++ {
		shell += " | " + shellParts[i]
	}

	return e.Run(ctx, Options{Shell: shell, Dir: dir, Profile: ProfileDefault, Check: true})
}

func shellJoin(argv []string) string {
	out := ""
	for i, a := range argv {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}
