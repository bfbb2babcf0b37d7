package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeAppliesDefaultsForUnsetFields(t *testing.T) {
	cfg, err := Decode([]byte(`data_dir = "/tmp/heap"`))
	require.NoError(t, err)
	require.Equal(t, "/tmp/heap", cfg.DataDir)
	require.Equal(t, Defaults().PageSize, cfg.PageSize)
	require.Equal(t, Defaults().WALSegmentSize, cfg.WALSegmentSize)
}

func TestDecodeKeepsExplicitValues(t *testing.T) {
	cfg, err := Decode([]byte(`
page_size = 4096
checksums = true
segmented = true
`))
	require.NoError(t, err)
	require.Equal(t, uint16(4096), cfg.PageSize)
	require.True(t, cfg.Checksums)
	require.True(t, cfg.Segmented)
}

func TestDecodeRejectsMalformedTOML(t *testing.T) {
	_, err := Decode([]byte("not = [valid"))
	require.Error(t, err)
}

func TestLoadReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heapengine.toml")
	require.NoError(t, os.WriteFile(path, []byte(`data_dir = "/var/heap"`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/heap", cfg.DataDir)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
