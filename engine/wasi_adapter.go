package engine

import (
	"context"
	"fmt"
	"io"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// HostModuleFunc instantiates an additional host module into a plugin store
// before the plugin itself is instantiated.
type HostModuleFunc func(ctx context.Context, r wazero.Runtime) error

// WASIBuilder describes the WASI environment of one plugin. Callers receive
// it through the configure hook of Engine.Instantiate to redirect stdio,
// grant read-only directories or add host imports.
type WASIBuilder struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	env    map[string]string
	name   string
	args   []string
	mounts []dirMount
	hosts  []HostModuleFunc
}

type dirMount struct {
	host  string
	guest string
}

// NewWASIBuilder creates a builder with WASI defaults: no stdio, no
// environment, no filesystem.
func NewWASIBuilder(name string) *WASIBuilder {
	return &WASIBuilder{
		name: name,
		env:  make(map[string]string),
	}
}

// Name returns the plugin name the environment is built for.
func (b *WASIBuilder) Name() string {
	return b.name
}

// WithStdin sets the guest's standard input.
func (b *WASIBuilder) WithStdin(r io.Reader) *WASIBuilder {
	b.stdin = r
	return b
}

// WithStdout captures the guest's standard output.
func (b *WASIBuilder) WithStdout(w io.Writer) *WASIBuilder {
	b.stdout = w
	return b
}

// WithStderr captures the guest's standard error.
func (b *WASIBuilder) WithStderr(w io.Writer) *WASIBuilder {
	b.stderr = w
	return b
}

// WithEnv sets one environment variable visible to the guest.
func (b *WASIBuilder) WithEnv(key, value string) *WASIBuilder {
	b.env[key] = value
	return b
}

// WithArgs sets the guest's argv.
func (b *WASIBuilder) WithArgs(args ...string) *WASIBuilder {
	b.args = append([]string(nil), args...)
	return b
}

// WithReadOnlyDir preopens hostDir at guestPath. Plugins never receive
// writable mounts.
func (b *WASIBuilder) WithReadOnlyDir(hostDir, guestPath string) *WASIBuilder {
	b.mounts = append(b.mounts, dirMount{host: hostDir, guest: guestPath})
	return b
}

// WithHostModule registers an additional host module for the plugin's imports.
func (b *WASIBuilder) WithHostModule(fn HostModuleFunc) *WASIBuilder {
	b.hosts = append(b.hosts, fn)
	return b
}

func (b *WASIBuilder) instantiateHosts(ctx context.Context, r wazero.Runtime) error {
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		return fmt.Errorf("instantiate WASI: %w", err)
	}
	for _, fn := range b.hosts {
		if err := fn(ctx, r); err != nil {
			return fmt.Errorf("instantiate host module: %w", err)
		}
	}
	return nil
}

func (b *WASIBuilder) moduleConfig() wazero.ModuleConfig {
	cfg := wazero.NewModuleConfig().
		WithName(b.name).
		WithStartFunctions()

	if b.stdin != nil {
		cfg = cfg.WithStdin(b.stdin)
	}
	if b.stdout != nil {
		cfg = cfg.WithStdout(b.stdout)
	}
	if b.stderr != nil {
		cfg = cfg.WithStderr(b.stderr)
	}
	for k, v := range b.env {
		cfg = cfg.WithEnv(k, v)
	}
	if len(b.args) > 0 {
		cfg = cfg.WithArgs(b.args...)
	}
	if len(b.mounts) > 0 {
		fs := wazero.NewFSConfig()
		for _, m := range b.mounts {
			fs = fs.WithReadOnlyDirMount(m.host, m.guest)
		}
		cfg = cfg.WithFSConfig(fs)
	}
	return cfg
}
