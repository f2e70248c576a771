//go:build windows

package pipeline

import (
	"fmt"
	"os"

	"github.com/hpungsan/bereel/internal/errors"
)

// createTemp creates a fresh temp artifact. Windows has no O_NOFOLLOW;
// writeAtomic's Lstat check still guards the final path.
func createTemp(tmp string) (*os.File, error) {
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, openError(tmp, err)
	}
	return f, nil
}

// openSource opens an export image for copying.
func openSource(src string) (*os.File, error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, openError(src, err)
	}
	return f, nil
}

func openError(path string, err error) error {
	switch {
	case os.IsNotExist(err):
		return errors.NewNotFound(path)
	case os.IsExist(err):
		return errors.NewConflict("temp file already exists: " + path)
	}
	return errors.NewInternal(fmt.Errorf("open %s: %w", path, err))
}
