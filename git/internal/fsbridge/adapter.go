// Package fsbridge lets go-git object storage live on an fs.Filesystem.
package fsbridge

import (
	"fmt"

	"github.com/go-git/go-billy/v5"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/fs"
	fsb "github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/fs/billy"
)

// ToBillyFilesystem unwraps the billy.Filesystem behind fsys. fsys must be
// an *fs/billy.FS.
//
//nolint:ireturn // go-git storage is built on the billy interface
func ToBillyFilesystem(fsys fs.Filesystem) (billy.Filesystem, error) {
	billyFS, ok := fsys.(*fsb.FS)
	if !ok {
		return nil, fmt.Errorf("filesystem must be a billy.FS from fs/billy package, got %T", fsys)
	}
	return billyFS.Raw(), nil
}
