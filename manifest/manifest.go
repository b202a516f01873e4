// Package manifest handles bytevm.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/bytevm/policy"
	"github.com/chazu/bytevm/scheduler"
	"github.com/chazu/bytevm/vm"
)

// FileName is the name of the manifest file.
const FileName = "bytevm.toml"

// Manifest represents a bytevm.toml project configuration.
type Manifest struct {
	Project   Project         `toml:"project"`
	Runtime   RuntimeConfig   `toml:"runtime"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Policy    PolicyConfig    `toml:"policy"`
	Cache     CacheConfig     `toml:"cache"`
	Log       LogConfig       `toml:"log"`

	// Dir is the directory containing the bytevm.toml file (set at load time).
	Dir string `toml:"-"`

	mode scheduler.Mode
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
	Entry   string `toml:"entry"` // script run when no file is given
}

// RuntimeConfig configures each VM.
type RuntimeConfig struct {
	MaxDepth int      `toml:"max_depth"`
	Argv     []string `toml:"argv"`
}

// SchedulerConfig selects how tasks run.
type SchedulerConfig struct {
	Mode   string `toml:"mode"`
	Budget int    `toml:"budget"`
}

// PolicyConfig overrides individual permissions. Unset keys keep the
// platform default.
type PolicyConfig struct {
	Read    *bool `toml:"read"`
	Write   *bool `toml:"write"`
	Exec    *bool `toml:"exec"`
	Network *bool `toml:"network"`
	Env     *bool `toml:"env"`
}

// CacheConfig configures the compiled-code cache. An empty backend
// disables it.
type CacheConfig struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
}

// LogConfig configures commonlog.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the configuration used when no bytevm.toml exists.
func Default() *Manifest {
	dir, _ := os.Getwd()
	m := &Manifest{Dir: dir}
	m.applyDefaults()
	return m
}

// Load parses a bytevm.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	m.applyDefaults()
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a bytevm.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

func (m *Manifest) applyDefaults() {
	if m.Scheduler.Mode == "" {
		m.Scheduler.Mode = scheduler.Native.String()
	}
	if m.Scheduler.Budget <= 0 {
		m.Scheduler.Budget = scheduler.DefaultBudget
	}
	if m.Runtime.MaxDepth <= 0 {
		m.Runtime.MaxDepth = vm.DefaultMaxDepth
	}
	if m.Cache.Backend != "" && m.Cache.Path == "" {
		m.Cache.Path = filepath.Join(".bytevm", "cache-"+m.Cache.Backend)
	}
}

func (m *Manifest) validate() error {
	mode, err := scheduler.ParseMode(m.Scheduler.Mode)
	if err != nil {
		return err
	}
	m.mode = mode

	switch m.Cache.Backend {
	case "", "sqlite", "bolt", "badger":
	default:
		return fmt.Errorf("unknown cache backend %q (want sqlite, bolt or badger)", m.Cache.Backend)
	}
	return nil
}

// Apply writes the configured permission overrides into kit.
func (m *Manifest) Apply(kit *policy.Kit) {
	overrides := []struct {
		perm    policy.Permission
		allowed *bool
	}{
		{policy.Read, m.Policy.Read},
		{policy.Write, m.Policy.Write},
		{policy.Exec, m.Policy.Exec},
		{policy.Network, m.Policy.Network},
		{policy.Env, m.Policy.Env},
	}
	for _, o := range overrides {
		if o.allowed != nil {
			kit.Set(o.perm, *o.allowed)
		}
	}
}

// SchedulerOptions returns the scheduler settings as options.
func (m *Manifest) SchedulerOptions() []scheduler.Option {
	return []scheduler.Option{
		scheduler.WithMode(m.mode),
		scheduler.WithBudget(m.Scheduler.Budget),
	}
}

// VMOptions returns the runtime settings as options.
func (m *Manifest) VMOptions() []vm.Option {
	opts := []vm.Option{vm.WithMaxDepth(m.Runtime.MaxDepth)}
	if len(m.Runtime.Argv) > 0 {
		opts = append(opts, vm.WithArgv(m.Runtime.Argv))
	}
	return opts
}

// EntryPath returns the absolute path of the entry script, or "".
func (m *Manifest) EntryPath() string {
	if m.Project.Entry == "" {
		return ""
	}
	return m.resolve(m.Project.Entry)
}

// CachePath returns the absolute path of the cache store.
func (m *Manifest) CachePath() string {
	return m.resolve(m.Cache.Path)
}

// LogPath returns the absolute path of the log file, or nil to log to
// stderr. The result is shaped for commonlog.Configure.
func (m *Manifest) LogPath() *string {
	if m.Log.File == "" {
		return nil
	}
	path := m.resolve(m.Log.File)
	return &path
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}
