// Package config loads the envbuild project configuration, envbuild.yaml,
// which names the manifest to build, the backend to build it with, where
// the lockfile is written and how secrets are resolved.
//
// # Basic Usage
//
//	fsys := billy.NewBaseOSFS()
//	cfg, err := config.LoadFromFS(fsys, "envbuild.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Build arguments: flags win over the environment, which wins over
//	// .env files, which win over values in envbuild.yaml.
//	args := cfg.ResolveArgs(flagArgs, os.LookupEnv, []string{"REGISTRY_HOST"})
//
// Relative paths in the file are resolved against the directory containing
// it. A .env file in that directory is read automatically.
package config

import (
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/secrets"
)

// SupportedVersion is the configuration file version this package reads.
const SupportedVersion = "1.0"

// DefaultFile is the conventional configuration file name.
const DefaultFile = "envbuild.yaml"

// DotEnvFile is read from the configuration directory when present.
const DotEnvFile = ".env"

// Backends accepted in the backend field.
const (
	BackendDocker = "docker"
	BackendDagger = "dagger"
	BackendCLI    = "cli"
)

// Config is the decoded envbuild.yaml.
type Config struct {
	Version string `yaml:"version"`
	// Manifest is the environment manifest to build.
	Manifest string `yaml:"manifest,omitempty"`
	// Dockerfile is the default input for import.
	Dockerfile string `yaml:"dockerfile,omitempty"`
	Backend    string `yaml:"backend,omitempty"`
	Lockfile   string `yaml:"lockfile,omitempty"`
	Tag        string `yaml:"tag,omitempty"`
	// ContextDir is the build context. Defaults to the manifest directory.
	ContextDir string `yaml:"context_dir,omitempty"`
	// CacheDir persists fetched source objects. Defaults to the XDG cache.
	CacheDir      string                       `yaml:"cache_dir,omitempty"`
	LogLevel      string                       `yaml:"log_level,omitempty"`
	VerifySources bool                         `yaml:"verify_sources,omitempty"`
	Args          map[string]string            `yaml:"args,omitempty"`
	Registry      Registry                     `yaml:"registry,omitempty"`
	S3            S3                           `yaml:"s3,omitempty"`
	Secrets       map[string]secrets.SecretRef `yaml:"secrets,omitempty"`

	dir    string
	dotenv map[string]string
}

// Registry is where lockfiles are published.
type Registry struct {
	Host       string `yaml:"host,omitempty"`
	Repository string `yaml:"repository,omitempty"`
	PlainHTTP  bool   `yaml:"plain_http,omitempty"`
	Username   string `yaml:"username,omitempty"`
	// PasswordSecret resolves the registry password.
	PasswordSecret *secrets.SecretRef `yaml:"password_secret,omitempty"`
}

// S3 configures the client used for s3:// lockfile locations. Credentials
// come from the default AWS chain.
type S3 struct {
	Region         string `yaml:"region,omitempty"`
	Endpoint       string `yaml:"endpoint,omitempty"`
	ForcePathStyle bool   `yaml:"force_path_style,omitempty"`
}

// Reference returns host/repository:tag, or "" when no registry is set.
func (r Registry) Reference(tag string) string {
	if r.Host == "" || r.Repository == "" {
		return ""
	}
	ref := strings.TrimSuffix(r.Host, "/") + "/" + strings.Trim(r.Repository, "/")
	if tag != "" {
		ref += ":" + tag
	}
	return ref
}

// Default returns the configuration used when no file exists, rooted at dir.
func Default(dir string) *Config {
	c := &Config{Version: SupportedVersion, dir: dir}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Manifest == "" {
		c.Manifest = "environment/manifest.yaml"
	}
	if c.Dockerfile == "" {
		c.Dockerfile = "environment/Dockerfile"
	}
	if c.Backend == "" {
		c.Backend = BackendDocker
	}
	if c.Lockfile == "" {
		c.Lockfile = "environment/envbuild.lock"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Dir returns the directory relative paths are resolved against.
func (c *Config) Dir() string {
	return c.dir
}

// Path resolves p against the configuration directory.
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.dir, filepath.FromSlash(p))
}

// ManifestPath returns the resolved manifest path.
func (c *Config) ManifestPath() string {
	return c.Path(c.Manifest)
}

// LockfilePath returns the resolved lockfile path.
func (c *Config) LockfilePath() string {
	return c.Path(c.Lockfile)
}

// BuildContext returns the resolved build context directory.
func (c *Config) BuildContext() string {
	if c.ContextDir != "" {
		return c.Path(c.ContextDir)
	}
	return filepath.Dir(c.ManifestPath())
}

// GitCacheDir returns where fetched source objects are cached.
func (c *Config) GitCacheDir() string {
	if c.CacheDir != "" {
		return filepath.Join(c.Path(c.CacheDir), "git")
	}
	return filepath.Join(xdg.CacheHome, "envbuild", "git")
}
