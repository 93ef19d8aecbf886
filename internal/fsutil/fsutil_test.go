package fsutil

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindFilesByExtension(t *testing.T) {
	fsys := fstest.MapFS{
		"b/flux.json":      {Data: []byte("{}")},
		"a/z_image.json":   {Data: []byte("{}")},
		"a/readme.md":      {Data: []byte("#")},
		"manifest.hcl":     {Data: []byte("")},
		"nested/deep.json": {Data: []byte("{}")},
	}

	files, err := FindFilesByExtension(fsys, ".", ".json")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/z_image.json", "b/flux.json", "nested/deep.json"}, files)
}

func TestFindFilesByExtension_EmptyExtensionPanics(t *testing.T) {
	assert.Panics(t, func() {
		_, _ = FindFilesByExtension(fstest.MapFS{}, ".", "")
	})
}

func TestOpenPath(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "workflows.hcl")
	require.NoError(t, os.WriteFile(file, []byte(""), 0600))

	t.Run("directory", func(t *testing.T) {
		fsys, root, err := OpenPath(dir)
		require.NoError(t, err)
		assert.Equal(t, ".", root)
		files, err := FindFilesByExtension(fsys, root, ".hcl")
		require.NoError(t, err)
		assert.Equal(t, []string{"workflows.hcl"}, files)
	})

	t.Run("single file", func(t *testing.T) {
		fsys, root, err := OpenPath(file)
		require.NoError(t, err)
		assert.Equal(t, "workflows.hcl", root)
		files, err := FindFilesByExtension(fsys, root, ".hcl")
		require.NoError(t, err)
		assert.Equal(t, []string{"workflows.hcl"}, files)
	})

	t.Run("missing", func(t *testing.T) {
		_, _, err := OpenPath(filepath.Join(dir, "nope"))
		assert.True(t, os.IsNotExist(err))
	})
}
