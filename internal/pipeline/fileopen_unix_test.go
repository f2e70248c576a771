//go:build !windows

package pipeline

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/bereel/internal/errors"
)

func TestOpenSource(t *testing.T) {
	dir := t.TempDir()
	img := writePNG(t, dir, "real.png", 4, 4, color.RGBA{1, 2, 3, 255})
	link := filepath.Join(dir, "link.png")
	require.NoError(t, os.Symlink(img, link))

	tests := []struct {
		name string
		path string
		code errors.ErrorCode
	}{
		{"regular file", img, ""},
		{"symlinked image", link, errors.ErrInvalidRequest},
		{"missing image", filepath.Join(dir, "gone.png"), errors.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := openSource(tt.path)
			if tt.code == "" {
				require.NoError(t, err)
				require.NoError(t, f.Close())
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.CodeOf(err))
		})
	}
}

func TestCreateTemp_RefusesPlantedFiles(t *testing.T) {
	dir := t.TempDir()
	victim := filepath.Join(dir, "victim.txt")
	require.NoError(t, os.WriteFile(victim, []byte("keep"), 0o600))

	planted := filepath.Join(dir, ".a.tmp.png")
	require.NoError(t, os.Symlink(victim, planted))
	_, err := createTemp(planted)
	require.Error(t, err)

	data, err := os.ReadFile(victim)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data))

	f, err := createTemp(filepath.Join(dir, ".b.tmp.png"))
	require.NoError(t, err)
	require.NoError(t, f.Close())
	_, err = createTemp(filepath.Join(dir, ".b.tmp.png"))
	assert.Equal(t, errors.ErrConflict, errors.CodeOf(err))
}
