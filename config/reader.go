package config

import (
	"bytes"
	"io"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
	"github.com/yosuke-furukawa/json5/encoding/json5"

	"github.com/robotmemory/keydrive/logging"
)

// Read reads a config from the given file. ${VAR} references are expanded from the environment
// before parsing.
func Read(filePath string, logger logging.Logger) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	return FromReader(filePath, bytes.NewReader(buf), logger)
}

// FromReader reads a config from the given reader and specifies
// where, if applicable, the file the reader originated from.
func FromReader(originalPath string, r io.Reader, logger logging.Logger) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	// JSON5 allows comments and trailing commas in hand-edited files.
	var raw map[string]interface{}
	if err := json5.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrapf(err, "failed to decode Config from json5")
	}

	cfg := Config{ConfigFilePath: originalPath}
	if err := decode(raw, &cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to decode Config")
	}
	if err := cfg.Ensure(); err != nil {
		return nil, errors.Wrapf(err, "failed to process Config")
	}

	logger.Debugw("read configuration", "path", originalPath, "input", cfg.Input.Type, "keys", len(cfg.KeyMap))
	return &cfg, nil
}
