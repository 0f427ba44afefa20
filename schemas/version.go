package schema

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// SchemaVersion is the current schema version.
// Manifests, lockfiles and configs declare their schema_version to indicate compatibility.
const SchemaVersion = "1.0.0"

// IsCompatible checks if a document's schema version is compatible with SchemaVersion.
// Uses caret constraint (^): any 1.x.y release is accepted, 2.0.0 is not.
//
// Returns true if the versions are compatible according to semantic versioning rules.
// Returns false (with no error) if versions are incompatible.
// Returns an error if either version string is invalid.
func IsCompatible(docVersion string) (bool, error) {
	// Create constraint: ^SchemaVersion (compatible with same major version)
	constraint, err := semver.NewConstraint("^" + SchemaVersion)
	if err != nil {
		return false, fmt.Errorf("invalid schema version: %w", err)
	}

	// Parse document version
	v, err := semver.NewVersion(docVersion)
	if err != nil {
		return false, fmt.Errorf("invalid schema version %q: %w", docVersion, err)
	}

	// Check compatibility
	return constraint.Check(v), nil
}
