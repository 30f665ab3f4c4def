package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/cortex/internal/engine"
	"github.com/starford/cortex/internal/graph"
	"github.com/starford/cortex/internal/storage"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Vault    VaultConfig       `yaml:"vault"`
	Runtime  RuntimeConfig     `yaml:"runtime"`
	Graph    graph.Params      `yaml:"graph"`
	Schedule ScheduleConfig    `yaml:"schedule"`
	SQLite   SQLiteConfig      `yaml:"sqlite"`
	Auth     AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Vault.Validate(); err != nil {
		return err
	}
	if err := c.Runtime.Validate(); err != nil {
		return fmt.Errorf("runtime: %w", err)
	}
	if err := c.Graph.Validate(); err != nil {
		return fmt.Errorf("graph: %w", err)
	}
	if err := c.Schedule.Validate(); err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
	// SSEThrottle bounds how often brain.updated events are pushed.
	SSEThrottle time.Duration `yaml:"sse_throttle"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.SSEThrottle, validation.Min(time.Duration(0))),
	)
}

// VaultConfig holds the path to the Markdown vault directory.
type VaultConfig struct {
	Path     string   `yaml:"path"`
	SkipDirs []string `yaml:"skip_dirs"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// RuntimeConfig holds the files and limits of the graph owner.
type RuntimeConfig struct {
	// StateFile keeps activation and fatigue across restarts. Empty disables it.
	StateFile string `yaml:"state_file"`
	// SnapshotFile receives every published snapshot. Empty disables it.
	SnapshotFile    string        `yaml:"snapshot_file"`
	IOTimeout       time.Duration `yaml:"io_timeout"`
	QueueSize       int           `yaml:"queue_size"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Validate validates the runtime configuration.
func (c *RuntimeConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.IOTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.QueueSize, validation.Required, validation.Min(1)),
		validation.Field(&c.ShutdownTimeout, validation.Required, validation.Min(time.Second)),
	)
}

// ScheduleConfig holds the cadence of the periodic graph tasks. A zero
// interval disables the task.
type ScheduleConfig struct {
	Tick           time.Duration `yaml:"tick"`
	Propagate      time.Duration `yaml:"propagate"`
	Decay          time.Duration `yaml:"decay"`
	Rest           time.Duration `yaml:"rest"`
	Garden         time.Duration `yaml:"garden"`
	ReloadDebounce time.Duration `yaml:"reload_debounce"`
}

// Validate validates the schedule configuration.
func (c *ScheduleConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Tick, validation.Required, validation.Min(10*time.Millisecond)),
		validation.Field(&c.Propagate, validation.Min(time.Duration(0))),
		validation.Field(&c.Decay, validation.Min(time.Duration(0))),
		validation.Field(&c.Rest, validation.Min(time.Duration(0))),
		validation.Field(&c.Garden, validation.Min(time.Duration(0))),
		validation.Field(&c.ReloadDebounce, validation.Min(time.Duration(0))),
	)
}

// EngineConfig assembles the engine configuration from the schedule and
// runtime sections.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		TickInterval:    c.Schedule.Tick,
		PropagateEvery:  c.Schedule.Propagate,
		DecayEvery:      c.Schedule.Decay,
		RestEvery:       c.Schedule.Rest,
		GardenEvery:     c.Schedule.Garden,
		ReloadDebounce:  c.Schedule.ReloadDebounce,
		QueueSize:       c.Runtime.QueueSize,
		SnapshotFile:    c.Runtime.SnapshotFile,
		IOTimeout:       c.Runtime.IOTimeout,
		ShutdownTimeout: c.Runtime.ShutdownTimeout,
	}
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	sched := engine.DefaultConfig()
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port:        8080,
				SSEThrottle: 2 * time.Second,
			},
		},
		Vault: VaultConfig{
			Path:     "./vault",
			SkipDirs: append([]string(nil), storage.DefaultSkipDirs...),
		},
		Runtime: RuntimeConfig{
			StateFile:       "./data/brain_state.json",
			IOTimeout:       sched.IOTimeout,
			QueueSize:       sched.QueueSize,
			ShutdownTimeout: sched.ShutdownTimeout,
		},
		Graph: graph.DefaultParams(),
		Schedule: ScheduleConfig{
			Tick:           sched.TickInterval,
			Propagate:      sched.PropagateEvery,
			Decay:          sched.DecayEvery,
			Rest:           sched.RestEvery,
			Garden:         sched.GardenEvery,
			ReloadDebounce: sched.ReloadDebounce,
		},
		SQLite: SQLiteConfig{
			Path: "./data/cortex.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
