// Package config decodes an engine configuration file analogous to a
// postgresql.conf subset (page size, data directory, segment size,
// checksums, WAL segment size, vacuum safety margin), using
// github.com/pelletier/go-toml/v2 in place of the teacher's flag-based
// main.go defaults.
package config

import (
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/Chocapikk/heapengine/heaperrors"
)

// Config holds every tunable the engine's components read at startup.
type Config struct {
	DataDir          string `toml:"data_dir"`
	PageSize         uint16 `toml:"page_size"`
	Segmented        bool   `toml:"segmented"`
	SegmentSize      int64  `toml:"segment_size"`
	Checksums        bool   `toml:"checksums"`
	WALDir           string `toml:"wal_dir"`
	WALSegmentSize   int64  `toml:"wal_segment_size"`
	VacuumSafetyMargin uint32 `toml:"vacuum_safety_margin"`
}

// Defaults matches the constants the storage/page/wal packages already
// fall back to when passed a zero value, kept here as one place an
// operator-facing config file can override.
func Defaults() Config {
	return Config{
		DataDir:            "./data",
		PageSize:           8192,
		Segmented:          false,
		SegmentSize:        1024 * 1024 * 1024,
		Checksums:          false,
		WALDir:             "./data/wal",
		WALSegmentSize:     16 * 1024 * 1024,
		VacuumSafetyMargin: 0,
	}
}

// Load reads and decodes a TOML config file, filling any zero-valued
// field left unset in the file with Defaults, matching the teacher's
// flag-default convention in main.go.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, heaperrors.Wrap(err, "reading config file")
	}
	return Decode(data)
}

// Decode parses raw TOML bytes into a Config, applying Defaults for any
// field the document leaves at its zero value.
func Decode(data []byte) (Config, error) {
	cfg := Config{}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, heaperrors.Wrap(err, "parsing config")
	}

	def := Defaults()
	if cfg.DataDir == "" {
		cfg.DataDir = def.DataDir
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.SegmentSize == 0 {
		cfg.SegmentSize = def.SegmentSize
	}
	if cfg.WALDir == "" {
		cfg.WALDir = def.WALDir
	}
	if cfg.WALSegmentSize == 0 {
		cfg.WALSegmentSize = def.WALSegmentSize
	}
	return cfg, nil
}
