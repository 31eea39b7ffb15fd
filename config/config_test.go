package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPassesValidate(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestDefaultCommandKeyIsNonEmpty(t *testing.T) {
	assert.NotEmpty(t, Default().CommandKey)
}

func TestValidateRejectsOutOfRangeRows(t *testing.T) {
	c := Default()
	c.Rows = 10
	assert.Error(t, c.Validate())
}

func TestValidateRejectsBadBitDepth(t *testing.T) {
	c := Default()
	c.BitDepth = 12
	assert.Error(t, c.Validate())
}

func TestLoadParsesYAMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rows: 512\ncols: 512\nframe_rate: 30\n"), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 512, c.Rows)
	assert.Equal(t, 512, c.Cols)
	assert.Equal(t, 30, c.FrameRate)
	assert.Equal(t, Default().BitDepth, c.BitDepth, "omitted fields keep their default")
}

func TestApplyAllowsHotFieldChangeWhileScanning(t *testing.T) {
	current := Default()
	next := current
	next.FrameRate = 5

	got, err := Apply(current, next, false)
	require.NoError(t, err)
	assert.Equal(t, 5, got.FrameRate)
}

func TestApplyRejectsColdFieldChangeWhileScanning(t *testing.T) {
	current := Default()
	next := current
	next.Rows = 1024

	_, err := Apply(current, next, false)
	assert.Error(t, err)
}

func TestApplyAllowsColdFieldChangeWhenStopped(t *testing.T) {
	current := Default()
	next := current
	next.Rows = 1024

	got, err := Apply(current, next, true)
	require.NoError(t, err)
	assert.Equal(t, 1024, got.Rows)
}

func TestApplyRejectsInvalidNext(t *testing.T) {
	current := Default()
	next := current
	next.BitDepth = 8

	_, err := Apply(current, next, true)
	assert.Error(t, err)
}
