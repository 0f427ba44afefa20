package config

import (
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/errors"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/fs"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/fs/billy"
	schema "github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/schemas"
)

// LoadOptions configures loading.
type LoadOptions struct {
	// SkipValidation disables Validate after loading. Schema checks still
	// run.
	SkipValidation bool
	// SkipDotEnv disables reading the .env file.
	SkipDotEnv bool
}

// Load reads the configuration at path from the host filesystem.
func Load(path string) (*Config, error) {
	return LoadFromFS(billy.NewBaseOSFS(), path)
}

// LoadFromFS reads and validates the configuration at path.
func LoadFromFS(fsys fs.Filesystem, path string) (*Config, error) {
	return LoadWithOptions(fsys, path, LoadOptions{})
}

// LoadWithOptions reads the configuration at path.
//
// The file is checked against the configuration schema before decoding,
// defaults are applied, the sibling .env file is read, and finally the
// result is validated unless opts.SkipValidation is set.
func LoadWithOptions(fsys fs.Filesystem, path string, opts LoadOptions) (*Config, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, errors.WrapWithContext(err, errors.CodeNotFound, "failed to read configuration",
			map[string]interface{}{"path": path})
	}

	c, err := Parse(data)
	if err != nil {
		return nil, errors.WrapWithContext(err, errors.GetCode(err), "failed to load configuration",
			map[string]interface{}{"path": path})
	}
	c.dir = filepath.Dir(path)

	if !opts.SkipDotEnv {
		env, err := loadDotEnv(fsys, filepath.Join(c.dir, DotEnvFile))
		if err != nil {
			return nil, err
		}
		c.dotenv = env
	}

	if !opts.SkipValidation {
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Parse decodes configuration YAML and applies defaults. Relative paths
// resolve against the working directory until the caller sets a directory
// through LoadFromFS.
func Parse(data []byte) (*Config, error) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "configuration is not valid YAML")
	}
	if doc == nil {
		return nil, errors.New(errors.CodeInvalidConfig, "configuration is empty")
	}
	if err := schema.Validate(schema.KindConfig, doc); err != nil {
		return nil, err
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "failed to decode configuration")
	}
	c.dir = "."
	c.applyDefaults()
	return &c, nil
}

func loadDotEnv(fsys fs.Filesystem, path string) (map[string]string, error) {
	exists, err := fsys.Exists(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeInvalidConfig, "checking %s", path)
	}
	if !exists {
		return nil, nil
	}
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeInvalidConfig, "reading %s", path)
	}
	env, err := godotenv.Unmarshal(string(data))
	if err != nil {
		return nil, errors.WrapWithContext(err, errors.CodeInvalidConfig, "failed to parse .env file",
			map[string]interface{}{"path": path})
	}
	return env, nil
}
