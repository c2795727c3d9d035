package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "empty path", input: "", wantErr: true},
		{name: "absolute path", input: "/tmp/a/../b", want: "/tmp/b"},
		{name: "home expansion", input: "~/code", want: filepath.Join(home, "code")},
		{name: "bare home", input: "~", want: home},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolvePath(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrEmptyPath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEnsureDirAndExists(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "a", "b", "c.txt")

	require.NoError(t, EnsureParent(file))
	assert.True(t, DirExists(filepath.Dir(file)))
	assert.False(t, FileExists(file))

	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	assert.True(t, FileExists(file))
	assert.False(t, DirExists(file))
}

func TestNormPath(t *testing.T) {
	assert.Equal(t, "src/app.py", NormPath("./src/app.py"))
	assert.Equal(t, "src/app.py", NormPath("/src//app.py"))
	assert.Equal(t, "app.py", NormPath("app.py"))
}
