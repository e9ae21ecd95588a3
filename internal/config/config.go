package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"clockbot/internal/timeutil"

	"gopkg.in/yaml.v3"
)

const (
	defaultConfigPath     = "config.yaml"
	defaultTimezone       = "America/New_York"
	defaultConfirmTimeout = 10 * time.Second
)

type Config struct {
	Discord  DiscordConfig  `yaml:"discord"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Log      LogConfig      `yaml:"log"`

	// DisplayTimezone is used for bonus-window day boundaries and for
	// parsing admin-entered dates and times.
	DisplayTimezone string        `yaml:"display_timezone"`
	ConfirmTimeout  time.Duration `yaml:"confirm_timeout"`

	// Guilds is keyed by Discord guild id.
	Guilds map[string]GuildConfig `yaml:"guilds"`

	location *time.Location
}

type DiscordConfig struct {
	Token    string `yaml:"token" env:"DISCORD_TOKEN,required"`
	ClientID string `yaml:"client_id" env:"DISCORD_CLIENT_ID,required"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host" env:"DB_HOST,required"`
	Port     int    `yaml:"port" env:"DB_PORT,required"`
	User     string `yaml:"user" env:"DB_USER,required"`
	Password string `yaml:"password" env:"DB_PASSWORD,required"`
	DBName   string `yaml:"dbname" env:"DB_NAME,required"`
	SSLMode  string `yaml:"sslmode" env:"DB_SSLMODE,required"`
	MaxConns int32  `yaml:"max_conns"`
	MinConns int32  `yaml:"min_conns"`
}

// URL returns the postgres connection URL.
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// GuildConfig holds per-guild behaviour.
type GuildConfig struct {
	MaxActive       int           `yaml:"max_active"`
	BonusHours      []BonusWindow `yaml:"bonus_hours"`
	CommandChannels []string      `yaml:"command_channels"`
	MemberRoles     []string      `yaml:"member_roles"`
}

// BonusWindow is a recurring daily time range awarding Pct percent of the
// overlapping attendance as an extra record.
type BonusWindow struct {
	Start string  `yaml:"start"`
	End   string  `yaml:"end"`
	Pct   float64 `yaml:"pct"`
}

// Load reads the config file at path (config.yaml when empty).
func Load(path string) (*Config, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// LoadDatabase reads the config file at path and validates only what a
// migration run needs; Discord credentials may be absent.
func LoadDatabase(path string) (*Config, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return ParseDatabase(data)
}

func readFile(path string) ([]byte, error) {
	if path == "" {
		path = defaultConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return data, nil
}

// Parse decodes YAML config content after substituting ${VAR} placeholders
// with environment values.
func Parse(data []byte) (*Config, error) {
	return parse(data, (*Config).Validate)
}

// ParseDatabase is Parse with only the database section validated.
func ParseDatabase(data []byte) (*Config, error) {
	return parse(data, func(c *Config) error {
		return c.Database.Validate()
	})
}

func parse(data []byte, validate func(*Config) error) (*Config, error) {
	content := string(data)
	for _, env := range os.Environ() {
		pair := strings.SplitN(env, "=", 2)
		if len(pair) != 2 {
			continue
		}
		placeholder := "${" + pair[0] + "}"
		content = strings.ReplaceAll(content, placeholder, pair[1])
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	// DB_PORT may arrive as a string placeholder
	if portStr := os.Getenv("DB_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT value: %w", err)
		}
		cfg.Database.Port = port
	}

	cfg.applyDefaults()
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DisplayTimezone == "" {
		c.DisplayTimezone = defaultTimezone
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = defaultConfirmTimeout
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = 10
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = 2
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
}

// Validate checks required fields and per-guild settings.
func (c *Config) Validate() error {
	if c.Discord.Token == "" {
		return fmt.Errorf("config: discord.token is required")
	}
	if c.Discord.ClientID == "" {
		return fmt.Errorf("config: discord.client_id is required")
	}
	if err := c.Database.Validate(); err != nil {
		return err
	}
	loc, err := time.LoadLocation(c.DisplayTimezone)
	if err != nil {
		return fmt.Errorf("config: invalid display_timezone %q: %w", c.DisplayTimezone, err)
	}
	c.location = loc

	for guildID, g := range c.Guilds {
		if _, err := strconv.ParseInt(guildID, 10, 64); err != nil {
			return fmt.Errorf("config: guild key %q is not a guild id", guildID)
		}
		if g.MaxActive < 0 {
			return fmt.Errorf("config: guild %s: max_active must not be negative", guildID)
		}
		for i, w := range g.BonusHours {
			if err := w.Validate(); err != nil {
				return fmt.Errorf("config: guild %s: bonus_hours[%d]: %w", guildID, i, err)
			}
		}
	}
	return nil
}

// Validate checks the fields needed to build a connection URL.
func (c DatabaseConfig) Validate() error {
	switch {
	case c.Host == "":
		return fmt.Errorf("config: database.host is required")
	case c.DBName == "":
		return fmt.Errorf("config: database.dbname is required")
	case c.Port <= 0:
		return fmt.Errorf("config: database.port must be positive")
	}
	return nil
}

// Validate checks the window bounds and percentage.
func (w BonusWindow) Validate() error {
	if _, err := timeutil.ParseClock(w.Start); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	if _, err := timeutil.ParseClock(w.End); err != nil {
		return fmt.Errorf("end: %w", err)
	}
	if w.Pct <= 0 || w.Pct > 1000 {
		return fmt.Errorf("pct must be in (0, 1000], got %v", w.Pct)
	}
	return nil
}

// Location returns the display time zone, UTC if the config was not
// validated.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// Guild returns the settings for guildID, or the zero value.
func (c *Config) Guild(guildID int64) GuildConfig {
	return c.Guilds[strconv.FormatInt(guildID, 10)]
}
