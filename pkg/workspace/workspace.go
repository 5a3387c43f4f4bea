// Package workspace tracks the directory linthost treats as the workspace
// when no editor told it otherwise.
package workspace

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/wycleffsean/linthost/pkg/urispec"
)

// Key is the viper key holding the workspace directory. It can be set with
// --workspace or LINTHOST_WORKSPACE.
const Key = "workspace"

// Set assigns the workspace directory. If dir is empty, it defaults to the
// current working directory.
func Set(dir string) {
	if dir == "" {
		if cwd, err := os.Getwd(); err == nil {
			dir = cwd
		}
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	viper.Set(Key, dir)
}

// SetSpec resolves a path or git target and makes it the workspace.
func SetSpec(ctx context.Context, spec string, progress io.Writer) error {
	if spec == "" {
		Set("")
		return nil
	}
	dir, err := urispec.Parse(spec).LocalPath(ctx, progress)
	if err != nil {
		return err
	}
	Set(dir)
	return nil
}

// Dir returns the configured workspace directory, falling back to the
// current working directory.
func Dir() string {
	if d := viper.GetString(Key); d != "" {
		if abs, err := filepath.Abs(d); err == nil {
			return abs
		}
		return d
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return cwd
}
