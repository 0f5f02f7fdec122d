package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

const (
	defaultBusyTimeout       = 5 * time.Second
	defaultSchedulingBuffer  = 2 * time.Hour
	defaultListen            = "127.0.0.1:8080"
	defaultReadHeaderTimeout = 5 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultRateLimit         = 20.0
	defaultRateBurst         = 40
	defaultSweepInterval     = 15 * time.Minute
	defaultNoShowGrace       = 30 * time.Minute
	defaultLogLevel          = "info"
	defaultLogFormat         = "text"
	defaultLogMaxSizeMB      = 10
	defaultLogMaxFiles       = 5

	envPrefix     = "WARDKEEPER_"
	dbFileName    = "wardkeeper.db"
	dotEnvDefault = ".env"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Database   DatabaseConfig   `toml:"database"`
	Scheduling SchedulingConfig `toml:"scheduling"`
	Server     ServerConfig     `toml:"server"`
	Jobs       JobsConfig       `toml:"jobs"`
	Logging    LoggingConfig    `toml:"logging"`
}

type DatabaseConfig struct {
	Path        string        `toml:"path"`
	BusyTimeout time.Duration `toml:"busy_timeout"`
}

type SchedulingConfig struct {
	// Buffer is the exclusion window on each side of a booked appointment.
	Buffer time.Duration `toml:"buffer"`
}

type ServerConfig struct {
	Listen            string        `toml:"listen"`
	ReadHeaderTimeout time.Duration `toml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `toml:"shutdown_timeout"`
	// RateLimit is requests per second per client address; zero disables limiting.
	RateLimit float64 `toml:"rate_limit"`
	RateBurst int     `toml:"rate_burst"`
}

type JobsConfig struct {
	Enabled       bool          `toml:"enabled"`
	SweepInterval time.Duration `toml:"sweep_interval"`
	NoShowGrace   time.Duration `toml:"no_show_grace"`
}

type LoggingConfig struct {
	Level     string `toml:"level"`
	Format    string `toml:"format"`
	File      string `toml:"file"`
	MaxSizeMB int    `toml:"max_size_mb"`
	MaxFiles  int    `toml:"max_files"`
}

type LoadOptions struct {
	ConfigPath string
	// DotEnvPath defaults to ".env" in the working directory. A missing file
	// is not an error.
	DotEnvPath string
	Env        map[string]string
	Flags      FlagOverrides
}

type FlagOverrides struct {
	DatabasePath *string
	Listen       *string
	LogLevel     *string
}

func DefaultConfig() Config {
	return Config{
		Database: DatabaseConfig{
			BusyTimeout: defaultBusyTimeout,
		},
		Scheduling: SchedulingConfig{
			Buffer: defaultSchedulingBuffer,
		},
		Server: ServerConfig{
			Listen:            defaultListen,
			ReadHeaderTimeout: defaultReadHeaderTimeout,
			ShutdownTimeout:   defaultShutdownTimeout,
			RateLimit:         defaultRateLimit,
			RateBurst:         defaultRateBurst,
		},
		Jobs: JobsConfig{
			Enabled:       true,
			SweepInterval: defaultSweepInterval,
			NoShowGrace:   defaultNoShowGrace,
		},
		Logging: LoggingConfig{
			Level:     defaultLogLevel,
			Format:    defaultLogFormat,
			MaxSizeMB: defaultLogMaxSizeMB,
			MaxFiles:  defaultLogMaxFiles,
		},
	}
}

// Load resolves configuration with precedence
// defaults < config file < .env file < environment < flags.
func Load(opts LoadOptions) (Config, error) {
	cfg := DefaultConfig()

	dotEnv, err := readDotEnv(opts.DotEnvPath)
	if err != nil {
		return Config{}, err
	}
	env := envLookup{explicit: opts.Env, dotEnv: dotEnv}

	configPath, err := resolveConfigPath(opts, env)
	if err != nil {
		return Config{}, fmt.Errorf("resolve config path: %w", err)
	}
	if err := loadAndApplyFile(configPath, &cfg); err != nil {
		return Config{}, err
	}

	if err := applyEnvOverrides(&cfg, env); err != nil {
		return Config{}, err
	}
	applyFlagOverrides(&cfg, opts.Flags)

	if cfg.Database.Path == "" {
		dataDir, err := DataDir(opts.Env)
		if err != nil {
			return Config{}, fmt.Errorf("resolve data dir: %w", err)
		}
		cfg.Database.Path = filepath.Join(dataDir, dbFileName)
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type rawConfig struct {
	Database   *rawDatabase   `toml:"database"`
	Scheduling *rawScheduling `toml:"scheduling"`
	Server     *rawServer     `toml:"server"`
	Jobs       *rawJobs       `toml:"jobs"`
	Logging    *rawLogging    `toml:"logging"`
}

type rawDatabase struct {
	Path        *string `toml:"path"`
	BusyTimeout *string `toml:"busy_timeout"`
}

type rawScheduling struct {
	Buffer *string `toml:"buffer"`
}

type rawServer struct {
	Listen            *string  `toml:"listen"`
	ReadHeaderTimeout *string  `toml:"read_header_timeout"`
	ShutdownTimeout   *string  `toml:"shutdown_timeout"`
	RateLimit         *float64 `toml:"rate_limit"`
	RateBurst         *int     `toml:"rate_burst"`
}

type rawJobs struct {
	Enabled       *bool   `toml:"enabled"`
	SweepInterval *string `toml:"sweep_interval"`
	NoShowGrace   *string `toml:"no_show_grace"`
}

type rawLogging struct {
	Level     *string `toml:"level"`
	Format    *string `toml:"format"`
	File      *string `toml:"file"`
	MaxSizeMB *int    `toml:"max_size_mb"`
	MaxFiles  *int    `toml:"max_files"`
}

func loadAndApplyFile(path string, cfg *Config) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file %q: %w", path, err)
	}

	var raw rawConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: parse TOML file %q: %v", ErrInvalidConfig, path, err)
	}
	return applyRawConfig(cfg, raw)
}

func applyRawConfig(cfg *Config, raw rawConfig) error {
	if raw.Database != nil {
		setString(raw.Database.Path, &cfg.Database.Path)
		if err := setDuration("database.busy_timeout", raw.Database.BusyTimeout, &cfg.Database.BusyTimeout); err != nil {
			return err
		}
	}

	if raw.Scheduling != nil {
		if err := setDuration("scheduling.buffer", raw.Scheduling.Buffer, &cfg.Scheduling.Buffer); err != nil {
			return err
		}
	}

	if raw.Server != nil {
		setString(raw.Server.Listen, &cfg.Server.Listen)
		if err := setDuration("server.read_header_timeout", raw.Server.ReadHeaderTimeout, &cfg.Server.ReadHeaderTimeout); err != nil {
			return err
		}
		if err := setDuration("server.shutdown_timeout", raw.Server.ShutdownTimeout, &cfg.Server.ShutdownTimeout); err != nil {
			return err
		}
		setFloat(raw.Server.RateLimit, &cfg.Server.RateLimit)
		setInt(raw.Server.RateBurst, &cfg.Server.RateBurst)
	}

	if raw.Jobs != nil {
		setBool(raw.Jobs.Enabled, &cfg.Jobs.Enabled)
		if err := setDuration("jobs.sweep_interval", raw.Jobs.SweepInterval, &cfg.Jobs.SweepInterval); err != nil {
			return err
		}
		if err := setDuration("jobs.no_show_grace", raw.Jobs.NoShowGrace, &cfg.Jobs.NoShowGrace); err != nil {
			return err
		}
	}

	if raw.Logging != nil {
		setString(raw.Logging.Level, &cfg.Logging.Level)
		setString(raw.Logging.Format, &cfg.Logging.Format)
		setString(raw.Logging.File, &cfg.Logging.File)
		setInt(raw.Logging.MaxSizeMB, &cfg.Logging.MaxSizeMB)
		setInt(raw.Logging.MaxFiles, &cfg.Logging.MaxFiles)
	}

	return nil
}

func applyEnvOverrides(cfg *Config, env envLookup) error {
	env.string("DB_PATH", &cfg.Database.Path)
	if err := env.duration("DB_BUSY_TIMEOUT", &cfg.Database.BusyTimeout); err != nil {
		return err
	}

	if err := env.duration("SCHEDULING_BUFFER", &cfg.Scheduling.Buffer); err != nil {
		return err
	}

	env.string("SERVER_LISTEN", &cfg.Server.Listen)
	if err := env.duration("SERVER_READ_HEADER_TIMEOUT", &cfg.Server.ReadHeaderTimeout); err != nil {
		return err
	}
	if err := env.duration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout); err != nil {
		return err
	}
	if err := env.float("SERVER_RATE_LIMIT", &cfg.Server.RateLimit); err != nil {
		return err
	}
	if err := env.int("SERVER_RATE_BURST", &cfg.Server.RateBurst); err != nil {
		return err
	}

	if err := env.bool("JOBS_ENABLED", &cfg.Jobs.Enabled); err != nil {
		return err
	}
	if err := env.duration("JOBS_SWEEP_INTERVAL", &cfg.Jobs.SweepInterval); err != nil {
		return err
	}
	if err := env.duration("JOBS_NO_SHOW_GRACE", &cfg.Jobs.NoShowGrace); err != nil {
		return err
	}

	env.string("LOG_LEVEL", &cfg.Logging.Level)
	env.string("LOG_FORMAT", &cfg.Logging.Format)
	env.string("LOG_FILE", &cfg.Logging.File)
	if err := env.int("LOG_MAX_SIZE_MB", &cfg.Logging.MaxSizeMB); err != nil {
		return err
	}
	if err := env.int("LOG_MAX_FILES", &cfg.Logging.MaxFiles); err != nil {
		return err
	}
	return nil
}

func applyFlagOverrides(cfg *Config, flags FlagOverrides) {
	setString(flags.DatabasePath, &cfg.Database.Path)
	setString(flags.Listen, &cfg.Server.Listen)
	setString(flags.LogLevel, &cfg.Logging.Level)
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.Database.Path) == "" {
		return fmt.Errorf("%w: database.path must not be empty", ErrInvalidConfig)
	}
	if cfg.Database.BusyTimeout <= 0 {
		return fmt.Errorf("%w: database.busy_timeout must be > 0", ErrInvalidConfig)
	}
	if cfg.Scheduling.Buffer <= 0 || cfg.Scheduling.Buffer > 24*time.Hour {
		return fmt.Errorf("%w: scheduling.buffer must be > 0 and <= 24h", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.Server.Listen) == "" {
		return fmt.Errorf("%w: server.listen must not be empty", ErrInvalidConfig)
	}
	if cfg.Server.ReadHeaderTimeout <= 0 || cfg.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: server timeouts must be > 0", ErrInvalidConfig)
	}
	if cfg.Server.RateLimit < 0 {
		return fmt.Errorf("%w: server.rate_limit must not be negative", ErrInvalidConfig)
	}
	if cfg.Server.RateLimit > 0 && cfg.Server.RateBurst < 1 {
		return fmt.Errorf("%w: server.rate_burst must be >= 1 when rate limiting is enabled", ErrInvalidConfig)
	}
	if cfg.Jobs.SweepInterval < time.Second {
		return fmt.Errorf("%w: jobs.sweep_interval must be >= 1s", ErrInvalidConfig)
	}
	if cfg.Jobs.NoShowGrace < 0 {
		return fmt.Errorf("%w: jobs.no_show_grace must not be negative", ErrInvalidConfig)
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: logging.level %q is not one of debug, info, warn, error", ErrInvalidConfig, cfg.Logging.Level)
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: logging.format %q must be text or json", ErrInvalidConfig, cfg.Logging.Format)
	}
	if cfg.Logging.MaxSizeMB <= 0 || cfg.Logging.MaxFiles <= 0 {
		return fmt.Errorf("%w: logging rotation limits must be > 0", ErrInvalidConfig)
	}
	return nil
}

func setDuration(field string, raw *string, target *time.Duration) error {
	if raw == nil {
		return nil
	}
	d, err := time.ParseDuration(*raw)
	if err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, field, err)
	}
	*target = d
	return nil
}

func setString(raw *string, target *string) {
	if raw == nil {
		return
	}
	*target = *raw
}

func setBool(raw *bool, target *bool) {
	if raw == nil {
		return
	}
	*target = *raw
}

func setInt(raw *int, target *int) {
	if raw == nil {
		return
	}
	*target = *raw
}

func setFloat(raw *float64, target *float64) {
	if raw == nil {
		return
	}
	*target = *raw
}

func readDotEnv(path string) (map[string]string, error) {
	explicit := path != ""
	if !explicit {
		path = dotEnvDefault
	}
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read env file %q: %v", ErrInvalidConfig, path, err)
	}
	return values, nil
}

// envLookup resolves WARDKEEPER_* keys from explicit overrides, then the
// process environment, then the .env file.
type envLookup struct {
	explicit map[string]string
	dotEnv   map[string]string
}

func (e envLookup) lookup(key string) (string, bool) {
	if e.explicit != nil {
		if value, ok := e.explicit[key]; ok {
			return value, true
		}
	}
	if value, ok := os.LookupEnv(key); ok {
		return value, true
	}
	value, ok := e.dotEnv[key]
	return value, ok
}

func (e envLookup) string(suffix string, target *string) {
	if value, ok := e.lookup(envPrefix + suffix); ok {
		*target = value
	}
}

func (e envLookup) duration(suffix string, target *time.Duration) error {
	value, ok := e.lookup(envPrefix + suffix)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%w: parse %s%s: %v", ErrInvalidConfig, envPrefix, suffix, err)
	}
	*target = d
	return nil
}

func (e envLookup) int(suffix string, target *int) error {
	value, ok := e.lookup(envPrefix + suffix)
	if !ok {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%w: parse %s%s: %v", ErrInvalidConfig, envPrefix, suffix, err)
	}
	*target = parsed
	return nil
}

func (e envLookup) float(suffix string, target *float64) error {
	value, ok := e.lookup(envPrefix + suffix)
	if !ok {
		return nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("%w: parse %s%s: %v", ErrInvalidConfig, envPrefix, suffix, err)
	}
	*target = parsed
	return nil
}

func (e envLookup) bool(suffix string, target *bool) error {
	value, ok := e.lookup(envPrefix + suffix)
	if !ok {
		return nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("%w: parse %s%s: %v", ErrInvalidConfig, envPrefix, suffix, err)
	}
	*target = parsed
	return nil
}

func resolveConfigPath(opts LoadOptions, env envLookup) (string, error) {
	if opts.ConfigPath != "" {
		return opts.ConfigPath, nil
	}
	if value, ok := env.lookup(envPrefix + "CONFIG_PATH"); ok {
		return value, nil
	}
	return defaultConfigPath()
}

// ResolvePath returns the config file Load would read: the explicit path,
// then WARDKEEPER_CONFIG_PATH, then the platform default.
func ResolvePath(explicit string) (string, error) {
	return resolveConfigPath(LoadOptions{ConfigPath: explicit}, envLookup{})
}

// DataDir returns WARDKEEPER_HOME when set, otherwise the platform data
// directory for wardkeeper.
func DataDir(env map[string]string) (string, error) {
	lookup := envLookup{explicit: env}
	if value, ok := lookup.lookup(envPrefix + "HOME"); ok && value != "" {
		return value, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "Wardkeeper"), nil
	}

	dataHome := filepath.Join(home, ".local", "share")
	if xdgDataHome, ok := lookup.lookup("XDG_DATA_HOME"); ok && xdgDataHome != "" {
		dataHome = xdgDataHome
	}
	return filepath.Join(dataHome, "wardkeeper"), nil
}

func defaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "Wardkeeper", "config.toml"), nil
	}

	configHome := filepath.Join(home, ".config")
	if xdgConfigHome, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok && xdgConfigHome != "" {
		configHome = xdgConfigHome
	}
	return filepath.Join(configHome, "wardkeeper", "config.toml"), nil
}
