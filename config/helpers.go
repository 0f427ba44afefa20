package config

import (
	"sort"
	"strings"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/secrets"
)

// DotEnv returns the values read from the .env file, if any.
func (c *Config) DotEnv() map[string]string {
	out := make(map[string]string, len(c.dotenv))
	for k, v := range c.dotenv {
		out[k] = v
	}
	return out
}

// SecretArgs maps configured secrets to the build arguments they fill.
// Secret keys are upper-cased, so git_access_token fills GIT_ACCESS_TOKEN.
func (c *Config) SecretArgs() map[string]secrets.SecretRef {
	out := make(map[string]secrets.SecretRef, len(c.Secrets))
	for k, ref := range c.Secrets {
		out[ArgName(k)] = ref
	}
	return out
}

// ArgName converts a configuration key to a build argument name.
func ArgName(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// ResolveArgs returns build argument values for names with precedence
// flags, then lookup (the process environment), then the .env file, then
// the args section. Every key present in flags, .env or args is also
// resolved. Empty values are dropped.
func (c *Config) ResolveArgs(flags map[string]string, lookup func(string) (string, bool), names []string) map[string]string {
	keys := make(map[string]bool)
	for _, n := range names {
		keys[n] = true
	}
	for _, m := range []map[string]string{flags, c.dotenv, c.Args} {
		for k := range m {
			keys[k] = true
		}
	}

	out := make(map[string]string, len(keys))
	for k := range keys {
		if v, ok := flags[k]; ok {
			out[k] = v
			continue
		}
		if lookup != nil {
			if v, ok := lookup(k); ok {
				out[k] = v
				continue
			}
		}
		if v, ok := c.dotenv[k]; ok {
			out[k] = v
			continue
		}
		if v, ok := c.Args[k]; ok {
			out[k] = v
		}
	}
	for k, v := range out {
		if v == "" {
			delete(out, k)
		}
	}
	return out
}

// SecretKeys returns the configured secret names in sorted order.
func (c *Config) SecretKeys() []string {
	keys := make([]string, 0, len(c.Secrets))
	for k := range c.Secrets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
