// Package executor runs external programs for envbuild: the docker CLI build
// backend and the GIT_ASKPASS credential helper. It captures output, manages
// the child environment and supports cancellation through context.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"
)

// Result holds the output and error from a command execution.
type Result struct {
	Stdout   string
	Stderr   string
	Combined string
	ExitCode int
	Err      error
}

// Executor defines the interface for command execution.
type Executor interface {
	// Execute runs program with args.
	Execute(ctx context.Context, program string, args []string, opts ...Option) (*Result, error)

	// ExecuteWithInput runs program with args, feeding input on stdin.
	ExecuteWithInput(ctx context.Context, input, program string, args []string, opts ...Option) (*Result, error)
}

// ExitError is returned when a program ran but exited non-zero. Output is
// kept exactly as the program wrote it.
type ExitError struct {
	Program  string
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Program, e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Options configures command execution behavior.
type Options struct {
	// Output handling
	CaptureStdout     bool
	CaptureStderr     bool
	CaptureCombined   bool
	RedirectToConsole bool

	// Retry configuration. Retries are disabled unless MaxRetries > 0.
	MaxRetries int
	RetryDelay time.Duration
	RetryOn    func(error) bool

	WorkingDir string

	// Env is appended to the parent environment, or used alone when CleanEnv is set.
	Env      map[string]string
	CleanEnv bool

	StdoutWriter io.Writer
	StderrWriter io.Writer
}

// Option is a function that modifies Options.
type Option func(*Options)

// DefaultOptions returns default execution options.
func DefaultOptions() *Options {
	return &Options{
		CaptureStdout: true,
		CaptureStderr: true,
		RetryDelay:    time.Second,
		Env:           make(map[string]string),
	}
}

// LocalExecutor runs programs on the host with os/exec.
type LocalExecutor struct {
	logger  *slog.Logger
	options *Options
}

var _ Executor = (*LocalExecutor)(nil)

// ExecutorOption configures a LocalExecutor.
type ExecutorOption func(*LocalExecutor)

// WithLogger sets the logger used to trace executions. Environment values are never logged.
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *LocalExecutor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithDefaults sets options applied to every execution before per-call options.
func WithDefaults(opts ...Option) ExecutorOption {
	return func(e *LocalExecutor) {
		for _, opt := range opts {
			opt(e.options)
		}
	}
}

// New creates a LocalExecutor.
func New(opts ...ExecutorOption) *LocalExecutor {
	e := &LocalExecutor{
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		options: DefaultOptions(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute implements Executor.
func (e *LocalExecutor) Execute(ctx context.Context, program string, args []string, opts ...Option) (*Result, error) {
	return e.ExecuteWithInput(ctx, "", program, args, opts...)
}

// ExecuteWithInput implements Executor.
func (e *LocalExecutor) ExecuteWithInput(
	ctx context.Context,
	input, program string,
	args []string,
	opts ...Option,
) (*Result, error) {
	options := e.mergeOptions(opts...)

	maxAttempts := options.MaxRetries + 1
	var (
		result *Result
		err    error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		e.logger.Debug("executing command",
			"program", program,
			"args", args,
			"attempt", attempt,
			"env_keys", envKeys(options.Env),
		)

		result, err = e.executeOnce(ctx, input, program, args, options)
		if err == nil || attempt == maxAttempts {
			break
		}
		if options.RetryOn != nil && !options.RetryOn(err) {
			break
		}

		select {
		case <-ctx.Done():
			return result, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		case <-time.After(options.RetryDelay):
		}
	}

	if err != nil {
		e.logger.Debug("command failed", "program", program, "exit_code", result.ExitCode)
	}
	return result, err
}

func (e *LocalExecutor) executeOnce(
	ctx context.Context,
	input, program string,
	args []string,
	options *Options,
) (*Result, error) {
	cmd := exec.CommandContext(ctx, program, args...)
	setupCommand(cmd, input, options)
	stdoutBuf, stderrBuf, combinedBuf := setupOutputCapture(cmd, options)

	err := cmd.Run()
	result := &Result{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Combined: combinedBuf.String(),
		Err:      err,
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return result, nil
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
		stderr := result.Stderr
		if options.CaptureCombined {
			stderr = result.Combined
		}
		return result, &ExitError{
			Program:  program,
			Args:     args,
			ExitCode: result.ExitCode,
			Stdout:   result.Stdout,
			Stderr:   stderr,
			Err:      err,
		}
	default:
		result.ExitCode = -1
		return result, fmt.Errorf("failed to run %s: %w", program, err)
	}
}

func (e *LocalExecutor) mergeOptions(opts ...Option) *Options {
	merged := *e.options
	merged.Env = make(map[string]string, len(e.options.Env))
	for k, v := range e.options.Env {
		merged.Env[k] = v
	}
	for _, opt := range opts {
		opt(&merged)
	}
	return &merged
}

// setupCommand configures working directory, environment and input.
func setupCommand(cmd *exec.Cmd, input string, options *Options) {
	if options.WorkingDir != "" {
		cmd.Dir = options.WorkingDir
	}

	if options.CleanEnv || len(options.Env) > 0 {
		var env []string
		if !options.CleanEnv {
			env = os.Environ()
		}
		for _, k := range envKeys(options.Env) {
			env = append(env, k+"="+options.Env[k])
		}
		// An empty non-nil slice keeps exec from inheriting the parent environment.
		if env == nil {
			env = []string{}
		}
		cmd.Env = env
	}

	if input != "" {
		cmd.Stdin = strings.NewReader(input)
	}
}

// setupOutputCapture configures stdout and stderr writers for the command.
func setupOutputCapture(cmd *exec.Cmd, options *Options) (*bytes.Buffer, *bytes.Buffer, *bytes.Buffer) {
	var stdoutBuf, stderrBuf, combinedBuf bytes.Buffer

	var stdoutWriters, stderrWriters []io.Writer
	switch {
	case options.CaptureCombined:
		// os/exec copies each stream on its own goroutine.
		combined := &syncWriter{w: &combinedBuf}
		stdoutWriters = append(stdoutWriters, combined)
		stderrWriters = append(stderrWriters, combined)
	default:
		if options.CaptureStdout {
			stdoutWriters = append(stdoutWriters, &stdoutBuf)
		}
		if options.CaptureStderr {
			stderrWriters = append(stderrWriters, &stderrBuf)
		}
	}
	if options.RedirectToConsole {
		stdoutWriters = append(stdoutWriters, os.Stdout)
		stderrWriters = append(stderrWriters, os.Stderr)
	}
	if options.StdoutWriter != nil {
		stdoutWriters = append(stdoutWriters, options.StdoutWriter)
	}
	if options.StderrWriter != nil {
		stderrWriters = append(stderrWriters, options.StderrWriter)
	}

	if len(stdoutWriters) > 0 {
		cmd.Stdout = io.MultiWriter(stdoutWriters...)
	}
	if len(stderrWriters) > 0 {
		cmd.Stderr = io.MultiWriter(stderrWriters...)
	}

	return &stdoutBuf, &stderrBuf, &combinedBuf
}

// syncWriter serializes writes from the stdout and stderr copiers.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func envKeys(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Wrapped binds an Executor to a single program, e.g. the docker CLI.
type Wrapped struct {
	exec    Executor
	program string
	opts    []Option
}

// NewWrapped creates a Wrapped executor for program.
func NewWrapped(exec Executor, program string, opts ...Option) *Wrapped {
	return &Wrapped{exec: exec, program: program, opts: opts}
}

// Program returns the wrapped program name.
func (w *Wrapped) Program() string {
	return w.program
}

// Execute runs the wrapped program with args.
func (w *Wrapped) Execute(ctx context.Context, args []string, opts ...Option) (*Result, error) {
	return w.exec.Execute(ctx, w.program, args, append(append([]Option{}, w.opts...), opts...)...)
}

// Option functions for fluent configuration

// WithCapture configures output capture.
func WithCapture(stdout, stderr, combined bool) Option {
	return func(o *Options) {
		o.CaptureStdout = stdout
		o.CaptureStderr = stderr
		o.CaptureCombined = combined
	}
}

// WithConsoleRedirect enables or disables console output.
func WithConsoleRedirect(redirect bool) Option {
	return func(o *Options) {
		o.RedirectToConsole = redirect
	}
}

// WithRetry configures retry behavior.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(o *Options) {
		o.MaxRetries = maxRetries
		o.RetryDelay = delay
	}
}

// WithRetryCondition sets a custom retry condition.
func WithRetryCondition(fn func(error) bool) Option {
	return func(o *Options) {
		o.RetryOn = fn
	}
}

// WithWorkingDir sets the working directory.
func WithWorkingDir(dir string) Option {
	return func(o *Options) {
		o.WorkingDir = dir
	}
}

// WithEnv adds environment variables.
func WithEnv(env map[string]string) Option {
	return func(o *Options) {
		if o.Env == nil {
			o.Env = make(map[string]string)
		}
		for k, v := range env {
			o.Env[k] = v
		}
	}
}

// WithEnvVar adds a single environment variable.
func WithEnvVar(key, value string) Option {
	return func(o *Options) {
		if o.Env == nil {
			o.Env = make(map[string]string)
		}
		o.Env[key] = value
	}
}

// WithCleanEnv stops the child from inheriting the parent environment.
func WithCleanEnv() Option {
	return func(o *Options) {
		o.CleanEnv = true
	}
}

// WithStdoutWriter sets an additional stdout writer.
func WithStdoutWriter(w io.Writer) Option {
	return func(o *Options) {
		o.StdoutWriter = w
	}
}

// WithStderrWriter sets an additional stderr writer.
func WithStderrWriter(w io.Writer) Option {
	return func(o *Options) {
		o.StderrWriter = w
	}
}

// CaptureAll captures and redirects to console simultaneously.
func CaptureAll() Option {
	return func(o *Options) {
		o.CaptureStdout = true
		o.CaptureStderr = true
		o.RedirectToConsole = true
	}
}

// SilentMode captures output without console redirect.
func SilentMode() Option {
	return func(o *Options) {
		o.CaptureStdout = true
		o.CaptureStderr = true
		o.RedirectToConsole = false
	}
}
