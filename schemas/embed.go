package schema

import "embed"

// Files contains the embedded JSON Schema documents:
//   - manifest.schema.json: environment manifest
//   - lock.schema.json: build lockfile
//   - config.schema.json: project configuration (envbuild.yaml)
//
//go:embed manifest.schema.json lock.schema.json config.schema.json
var Files embed.FS
