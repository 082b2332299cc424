// Package config loads the optional nanoem-plugin-wasm.yaml file that sits
// next to the plugin modules and turns it into engine, WASI and logging
// settings.
package config

import (
	stderrors "errors"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/nanoem-plugin-wasm/controller"
	"github.com/wippyai/nanoem-plugin-wasm/engine"
	"github.com/wippyai/nanoem-plugin-wasm/errors"
)

// FileName is the configuration file looked up in the plugin directory.
const FileName = "nanoem-plugin-wasm.yaml"

// Stdout modes.
const (
	StdoutDiscard = "discard"
	StdoutInherit = "inherit"
)

// LogConfig configures the host logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console or json
	Output string `yaml:"output"` // stderr, stdout or a file path
}

// Preopen grants plugins read-only access to a host directory.
type Preopen struct {
	Host  string `yaml:"host"`
	Guest string `yaml:"guest"`
}

// Config is the plugin directory configuration.
type Config struct {
	Env              map[string]string `yaml:"env"`
	Log              LogConfig         `yaml:"log"`
	Stdout           string            `yaml:"stdout"`
	Preopens         []Preopen         `yaml:"preopens"`
	MemoryLimitPages uint32            `yaml:"memory_limit_pages"`
	AllowText        bool              `yaml:"allow_text"`

	// dir is the plugin directory relative preopens resolve against.
	dir string
}

// Defaults returns the configuration used when no file is present.
func Defaults() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "warn",
			Format: "console",
			Output: "stderr",
		},
		Stdout: StdoutDiscard,
	}
}

// Load reads FileName from dir. A missing file yields Defaults.
func Load(dir string) (*Config, error) {
	cfg := Defaults()
	cfg.dir = dir

	f, err := os.Open(filepath.Join(dir, FileName))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "open "+FileName)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !stderrors.Is(err, io.EOF) {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "parse "+FileName)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Dir returns the directory the configuration was loaded from.
func (c *Config) Dir() string {
	return c.dir
}

// Engine returns the engine settings.
func (c *Config) Engine() engine.Config {
	return engine.Config{
		MemoryLimitPages: c.MemoryLimitPages,
		AllowText:        c.AllowText,
	}
}

// Configure applies stdout, environment and preopens to a plugin's WASI
// environment. It has the shape of controller.Options.Configure.
func (c *Config) Configure(_ string, b *engine.WASIBuilder) {
	if c.Stdout == StdoutInherit {
		b.WithStdout(os.Stdout).WithStderr(os.Stderr)
	}
	for k, v := range c.Env {
		b.WithEnv(k, v)
	}
	for _, p := range c.Preopens {
		host := p.Host
		if !filepath.IsAbs(host) {
			host = filepath.Join(c.dir, host)
		}
		b.WithReadOnlyDir(host, p.Guest)
	}
}

// Options returns controller options for the configured directory.
func (c *Config) Options(logger *zap.Logger) *controller.Options {
	return &controller.Options{
		Configure: c.Configure,
		Logger:    logger,
		Engine:    c.Engine(),
	}
}
