package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ErrExists is returned by WriteDefault when the file exists and overwrite
// was not requested.
var ErrExists = errors.New("config file already exists")

// fileConfig is the on-disk shape of a config file. Durations are written
// as strings so the file stays readable.
type fileConfig struct {
	LogLevel     string `toml:"log-level"`
	LogFormat    string `toml:"log-format"`
	LogFile      string `toml:"log-file"`
	LogMaxAge    int    `toml:"log-max-age"`
	LogStderr    bool   `toml:"log-stderr"`
	IdleInterval string `toml:"idle-interval"`
	FeedPort     int    `toml:"feed-port"`
	LockStyle    string `toml:"lock-style"`
	URITemplate  string `toml:"uri-template"`
	NoColor      bool   `toml:"no-color"`
}

func toFile(c *Config) fileConfig {
	return fileConfig{
		LogLevel:     c.LogLevel,
		LogFormat:    c.LogFormat,
		LogFile:      c.LogFile,
		LogMaxAge:    c.LogMaxAge,
		LogStderr:    c.LogStderr,
		IdleInterval: c.IdleInterval.String(),
		FeedPort:     c.FeedPort,
		LockStyle:    c.LockStyle,
		URITemplate:  c.URITemplate,
		NoColor:      c.NoColor,
	}
}

// Encode renders cfg as a TOML config file.
func Encode(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("# keynotes configuration\n\n")
	if err := toml.NewEncoder(&buf).Encode(toFile(cfg)); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteDefault writes a config file holding the default values to path.
// It fails with ErrExists when the file exists and overwrite is false.
func WriteDefault(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s: %w", path, ErrExists)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("checking %s: %w", path, err)
		}
	}

	data, err := Encode(Default())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
