package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/executor"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/fs"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/fs/billy"
)

// TokenEnv is the environment variable the askpass helper reads the
// access token from.
const TokenEnv = "GIT_ACCESS_TOKEN"

// ErrHelperMissing is returned when the askpass helper does not exist or
// is not executable.
var ErrHelperMissing = errors.New("askpass helper missing or not executable")

// AskpassProvider obtains credentials by running a GIT_ASKPASS helper the
// same way git does: once with a username prompt and once with a password
// prompt, with the access token in the helper's environment.
type AskpassProvider struct {
	helper string
	token  string
	exec   executor.Executor
	fs     fs.Filesystem
	logger *slog.Logger
}

// AskpassOption configures an AskpassProvider.
type AskpassOption func(*AskpassProvider)

// WithExecutor sets the executor used to run the helper.
func WithExecutor(e executor.Executor) AskpassOption {
	return func(p *AskpassProvider) {
		p.exec = e
	}
}

// WithFilesystem sets the filesystem the helper is looked up in.
func WithFilesystem(f fs.Filesystem) AskpassOption {
	return func(p *AskpassProvider) {
		p.fs = f
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) AskpassOption {
	return func(p *AskpassProvider) {
		p.logger = l
	}
}

// NewAskpassProvider creates a provider running helper with token exported
// as GIT_ACCESS_TOKEN.
func NewAskpassProvider(helper, token string, opts ...AskpassOption) *AskpassProvider {
	p := &AskpassProvider{
		helper: helper,
		token:  token,
		exec:   executor.New(),
		fs:     billy.NewBaseOSFS(),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Helper returns the helper path.
func (p *AskpassProvider) Helper() string {
	return p.helper
}

// Check verifies that the helper exists and is executable.
func (p *AskpassProvider) Check() error {
	if p.helper == "" {
		return fmt.Errorf("%w: no helper configured", ErrHelperMissing)
	}
	ok, err := fs.IsExecutable(p.fs, p.helper)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrHelperMissing, p.helper, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrHelperMissing, p.helper)
	}
	return nil
}

// Method runs the helper for the username and password of remoteURL.
//
//nolint:ireturn // go-git requires returning transport.AuthMethod interface
func (p *AskpassProvider) Method(ctx context.Context, remoteURL string) (transport.AuthMethod, error) {
	host, err := httpsHost(remoteURL)
	if err != nil {
		return nil, err
	}
	if err := p.Check(); err != nil {
		return nil, err
	}

	scheme, _, _ := strings.Cut(remoteURL, "://")
	username, err := p.ask(ctx, fmt.Sprintf("Username for '%s://%s': ", scheme, host))
	if err != nil {
		return nil, err
	}
	password, err := p.ask(ctx, fmt.Sprintf("Password for '%s://%s@%s': ", scheme, username, host))
	if err != nil {
		return nil, err
	}
	if password == "" {
		return nil, fmt.Errorf("askpass helper returned an empty password for %s", host)
	}

	p.logger.Debug("resolved credentials from askpass helper", "host", host, "username", username)
	return &http.BasicAuth{Username: username, Password: password}, nil
}

func (p *AskpassProvider) ask(ctx context.Context, prompt string) (string, error) {
	res, err := p.exec.Execute(ctx, p.helper, []string{prompt},
		executor.WithCapture(true, true, false),
		executor.WithEnvVar(TokenEnv, p.token),
	)
	if err != nil {
		return "", fmt.Errorf("askpass helper failed: %w", err)
	}
	return strings.TrimRight(res.Stdout, "\r\n"), nil
}
