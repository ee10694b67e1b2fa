// Package config defines the JSON service configuration: where calibration documents and
// efficiency maps live, which stages make up the pipeline and how to log.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/a8m/envsubst"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/beamline/viewscreen/calibration"
	"github.com/beamline/viewscreen/logging"
	"github.com/beamline/viewscreen/pipeline"
)

// Config is the service configuration.
type Config struct {
	// ConfigDir is the directory calibration document names are resolved against. A relative
	// directory is relative to the configuration file.
	ConfigDir string `json:"config_dir"`
	// Document is the calibration document loaded at startup.
	Document string `json:"document,omitempty"`
	// WatchDocument reloads the document whenever it changes on disk.
	WatchDocument bool `json:"watch_document,omitempty"`

	MapDirs []MapDir               `json:"map_dirs,omitempty"`
	Stages  []pipeline.StageConfig `json:"stages"`
	Log     LogConfig              `json:"log,omitempty"`

	// ConfigFilePath is the file the configuration was read from, if any.
	ConfigFilePath string `json:"-"`
}

// MapDir registers the efficiency map directory for one geometry and light distribution.
type MapDir struct {
	Geometry          string `json:"geometry"`
	LightDistribution string `json:"light_distribution"`
	Dir               string `json:"dir"`
}

// Validate ensures all parts of the config are valid.
func (m *MapDir) Validate(path string) error {
	if m.Geometry == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "geometry")
	}
	if _, err := calibration.ParseGeometry(m.Geometry); err != nil {
		return goutils.NewConfigValidationError(path, err)
	}
	if m.LightDistribution == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "light_distribution")
	}
	if m.Dir == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "dir")
	}
	return nil
}

// LogConfig configures the service logger.
type LogConfig struct {
	Level logging.Level               `json:"level,omitempty"`
	File  *logging.FileAppenderConfig `json:"file,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (l *LogConfig) Validate(path string) error {
	if l.File != nil && l.File.Path == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "file.path")
	}
	return nil
}

// Validate ensures all parts of the config are valid.
func (c *Config) Validate() error {
	if c.ConfigDir == "" {
		return goutils.NewConfigValidationFieldRequiredError("", "config_dir")
	}
	for idx := range c.MapDirs {
		if err := c.MapDirs[idx].Validate(fmt.Sprintf("%s.%d", "map_dirs", idx)); err != nil {
			return err
		}
	}
	if len(c.Stages) == 0 {
		return goutils.NewConfigValidationFieldRequiredError("", "stages")
	}
	names := map[string]bool{}
	for idx := range c.Stages {
		path := fmt.Sprintf("%s.%d", "stages", idx)
		if err := c.Stages[idx].Validate(path); err != nil {
			return err
		}
		if names[c.Stages[idx].Name] {
			return goutils.NewConfigValidationError(path, errors.Errorf("duplicate stage name %q", c.Stages[idx].Name))
		}
		names[c.Stages[idx].Name] = true
	}
	if c.WatchDocument && c.Document == "" {
		return goutils.NewConfigValidationError("watch_document", errors.New("no document to watch"))
	}
	return c.Log.Validate("log")
}

// Read reads a config from a file. Environment variables in the file are expanded.
func Read(filePath string) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return FromReader(filePath, bytes.NewReader(buf))
}

// FromReader reads a config from the given reader and specifies where, if applicable, the
// file the reader originated from.
func FromReader(originalPath string, r io.Reader) (*Config, error) {
	cfg := Config{ConfigFilePath: originalPath}
	if err := json.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode Config from json")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if originalPath != "" && !filepath.IsAbs(cfg.ConfigDir) {
		cfg.ConfigDir = filepath.Join(filepath.Dir(originalPath), cfg.ConfigDir)
	}
	for idx := range cfg.MapDirs {
		if !filepath.IsAbs(cfg.MapDirs[idx].Dir) {
			cfg.MapDirs[idx].Dir = filepath.Join(cfg.ConfigDir, cfg.MapDirs[idx].Dir)
		}
	}
	return &cfg, nil
}

// RepositoryPaths returns the document and efficiency map locations the config describes.
func (c *Config) RepositoryPaths() *calibration.RepositoryPaths {
	paths := calibration.NewRepositoryPaths(c.ConfigDir)
	for _, m := range c.MapDirs {
		// validated on read
		geometry, _ := calibration.ParseGeometry(m.Geometry)
		paths.RegisterMapDir(geometry, m.LightDistribution, m.Dir)
	}
	return paths
}

// NewLogger returns the service logger described by the log section.
func (c *Config) NewLogger(name string) logging.Logger {
	if c.Log.File != nil {
		return logging.NewFileLogger(name, c.Log.Level, *c.Log.File)
	}
	logger := logging.NewLogger(name)
	logger.SetLevel(c.Log.Level)
	return logger
}

// Schema returns the JSON schema of the configuration file.
func Schema() *jsonschema.Schema {
	return jsonschema.Reflect(&Config{})
}
