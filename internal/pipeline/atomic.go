package pipeline

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/hpungsan/bereel/internal/errors"
)

// tempPath returns a hidden sibling of path that keeps its extension, so
// the tag writer sees the right format.
func tempPath(path string) (string, error) {
	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return "", errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	dir, base := filepath.Split(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, "."+stem+"."+hex.EncodeToString(randBytes)+".tmp"+ext), nil
}

// writeAtomic creates path through a temp file in the same directory.
// fill writes the content; finish, if set, runs on the closed temp file
// before it is renamed into place. On any error the temp file is removed
// and path is left untouched. fill and finish errors are returned as is.
func writeAtomic(path string, fill func(io.Writer) error, finish func(tmp string) error) error {
	tmp, err := tempPath(path)
	if err != nil {
		return err
	}
	file, err := createTemp(tmp)
	if err != nil {
		return err
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tmp)
		}
	}()

	if err := fill(file); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		return errors.NewInternal(err)
	}
	// Close before tagging and renaming (required on Windows; fine elsewhere).
	if err := file.Close(); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to close temp file: %w", err))
	}
	file = nil

	if finish != nil {
		if err := finish(tmp); err != nil {
			return err
		}
	}

	// os.Rename would follow a symlink at the destination
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return errors.NewInvalidRequest(fmt.Sprintf("output path is a symlink: %s", path))
	}

	if err := os.Rename(tmp, path); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(path); statErr == nil {
				return errors.NewConflict(fmt.Sprintf("output already exists: %s", path))
			}
		}
		return errors.NewInternal(fmt.Errorf("failed to finalize %s: %w", path, err))
	}

	success = true
	return nil
}

// copyFrom returns a fill func streaming the file at src.
func copyFrom(src string) func(io.Writer) error {
	return func(w io.Writer) error {
		in, err := openSource(src)
		if err != nil {
			return err
		}
		defer in.Close()
		if _, err := io.Copy(w, in); err != nil {
			return errors.NewInternal(fmt.Errorf("copy %s: %w", src, err))
		}
		return nil
	}
}
