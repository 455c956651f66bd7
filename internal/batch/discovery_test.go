package batch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
}

func TestDiscoverImageFiles(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a.png"))
	touch(t, filepath.Join(root, "b.jpg"))
	touch(t, filepath.Join(root, "notes.txt"))
	touch(t, filepath.Join(root, "sub", "c.tiff"))

	tests := []struct {
		name      string
		recursive bool
		include   []string
		exclude   []string
		want      []string
	}{
		{name: "flat", want: []string{"a.png", "b.jpg"}},
		{name: "recursive", recursive: true, want: []string{"a.png", "b.jpg", filepath.Join("sub", "c.tiff")}},
		{name: "include", recursive: true, include: []string{"*.png", "*.tiff"}, want: []string{"a.png", filepath.Join("sub", "c.tiff")}},
		{name: "exclude", exclude: []string{"a.*"}, want: []string{"b.jpg"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files, err := discoverImageFiles([]string{root}, tt.recursive, tt.include, tt.exclude)
			require.NoError(t, err)
			want := make([]string, len(tt.want))
			for i, w := range tt.want {
				want[i] = filepath.Join(root, w)
			}
			assert.ElementsMatch(t, want, files)
		})
	}
}

func TestDiscoverImageFiles_ExplicitFile(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "frame.bin")
	touch(t, file)

	files, err := discoverImageFiles([]string{file}, false, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{file}, files)
}

func TestDiscoverImageFiles_Missing(t *testing.T) {
	_, err := discoverImageFiles([]string{"/nonexistent/path"}, false, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot access")
}

func TestShouldIncludeFile(t *testing.T) {
	assert.True(t, shouldIncludeFile("/x/a.png", nil, nil))
	assert.False(t, shouldIncludeFile("/x/a.png", nil, []string{"*.png"}))
	assert.False(t, shouldIncludeFile("/x/a.png", []string{"*.jpg"}, nil))
	assert.True(t, shouldIncludeFile("/x/a.png", []string{"*.jpg", "a.*"}, nil))
	assert.False(t, matchesAnyPattern("/x/a.png", nil))
}
