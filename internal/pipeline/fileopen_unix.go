//go:build !windows

package pipeline

import (
	stderrors "errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/hpungsan/bereel/internal/errors"
)

// Descriptors never leak into the exiftool child.
const openFlags = unix.O_NOFOLLOW | unix.O_CLOEXEC

// createTemp creates a fresh temp artifact. An existing file or a symlink
// planted at tmp is refused.
func createTemp(tmp string) (*os.File, error) {
	fd, err := unix.Open(tmp, unix.O_CREAT|unix.O_EXCL|unix.O_WRONLY|openFlags, 0o644)
	if err != nil {
		return nil, openError(tmp, err)
	}
	return os.NewFile(uintptr(fd), tmp), nil
}

// openSource opens an export image for copying. Images that are symlinks
// are refused so nothing outside the export is archived through one.
func openSource(src string) (*os.File, error) {
	fd, err := unix.Open(src, unix.O_RDONLY|openFlags, 0)
	if err != nil {
		return nil, openError(src, err)
	}
	return os.NewFile(uintptr(fd), src), nil
}

func openError(path string, err error) error {
	switch {
	case stderrors.Is(err, unix.ELOOP):
		return errors.NewInvalidRequest("symlink instead of a regular file: " + path)
	case stderrors.Is(err, unix.ENOENT):
		return errors.NewNotFound(path)
	case stderrors.Is(err, unix.EEXIST):
		return errors.NewConflict("temp file already exists: " + path)
	}
	return errors.NewInternal(fmt.Errorf("open %s: %w", path, err))
}
