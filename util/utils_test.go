package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateFileMakesParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "out.csv")
	f, err := CreateFile(path)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestGetAbsolutePath(t *testing.T) {
	assert.Equal(t, "/tmp/x", GetAbsolutePath("/tmp/x"))
	assert.True(t, filepath.IsAbs(GetAbsolutePath("data/raw")))
}
