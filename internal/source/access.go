package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/mesh-intelligence/fira/pkg/types"
)

// DirectoryPrompter asks the user to pick a directory. Implementations
// return types.ErrNoDirectory when the user declines or aborts.
type DirectoryPrompter interface {
	PromptDirectory(ctx context.Context) (string, error)
}

// PrompterFunc adapts a function to DirectoryPrompter.
type PrompterFunc func(ctx context.Context) (string, error)

// PromptDirectory calls f.
func (f PrompterFunc) PromptDirectory(ctx context.Context) (string, error) { return f(ctx) }

// Opener turns a granted path into a filesystem rooted at that path.
type Opener func(path string) (afero.Fs, error)

// OSOpener checks access to path on the host filesystem and returns an
// afero filesystem rooted there.
func OSOpener(path string) (afero.Fs, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}
	osFs := afero.NewOsFs()
	if err := CheckAccess(osFs, abs); err != nil {
		return nil, err
	}
	return afero.NewBasePathFs(osFs, abs), nil
}

// MemOpener returns an Opener over an existing filesystem, rooting each
// grant at the requested path.
func MemOpener(base afero.Fs) Opener {
	return func(path string) (afero.Fs, error) {
		if err := CheckAccess(base, path); err != nil {
			return nil, err
		}
		return afero.NewBasePathFs(base, path), nil
	}
}

const accessProbe = ".fira-access-probe"

// CheckAccess re-validates a granted directory: it must exist, be listable
// and be writable. Failures map to types.ErrNotFound or
// types.ErrPermissionDenied.
func CheckAccess(fs afero.Fs, path string) error {
	info, err := fs.Stat(path)
	if err != nil {
		return fmt.Errorf("checking %s: %w", path, accessError(err))
	}
	if !info.IsDir() {
		return fmt.Errorf("checking %s: not a directory: %w", path, types.ErrNotFound)
	}
	if _, err := afero.ReadDir(fs, path); err != nil {
		return fmt.Errorf("listing %s: %w", path, accessError(err))
	}
	probe := filepath.Join(path, accessProbe)
	if err := afero.WriteFile(fs, probe, nil, 0o644); err != nil {
		return fmt.Errorf("writing in %s: %w", path, accessError(err))
	}
	_ = fs.Remove(probe)
	return nil
}

func accessError(err error) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return types.ErrNotFound
	case errors.Is(err, os.ErrPermission):
		return types.ErrPermissionDenied
	}
	return fmt.Errorf("%w: %v", types.ErrPermissionDenied, err)
}
