// Package schema provides the JSON Schemas for envbuild documents and the
// helpers used to validate them.
//
// Three documents are covered: the environment manifest, the lockfile written
// after a build, and the project configuration. Each document carries a schema
// version that must be caret-compatible with SchemaVersion.
//
// # Usage Example
//
//	var doc map[string]any
//	if err := yaml.Unmarshal(data, &doc); err != nil {
//	    return err
//	}
//	if err := schema.Validate(schema.KindManifest, doc); err != nil {
//	    return err
//	}
package schema
