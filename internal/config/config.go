package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "configs/config.yml"

// Config holds the application's configuration.
type Config struct {
	Telegram struct {
		Token string `yaml:"token"`
		// GroupID is the moderation group, ChannelID the public channel.
		GroupID   int64 `yaml:"group_id"`
		ChannelID int64 `yaml:"channel_id"`
		// RateLimit is the maximum number of outbound API calls per second.
		RateLimit       float64 `yaml:"rate_limit"`
		PollTimeout     int     `yaml:"poll_timeout_seconds"`
		GreetingSticker string  `yaml:"greeting_sticker"`
		Debug           bool    `yaml:"debug"`
	} `yaml:"telegram"`
	Database struct {
		Driver string `yaml:"driver"`
		URL    string `yaml:"url"`
		// PayloadKey is a base64 AES key; when set, stored payloads are encrypted.
		PayloadKey string `yaml:"payload_key"`
		CacheSize  int    `yaml:"cache_size"`
	} `yaml:"database"`
	Relay struct {
		MediaGroupWindow    time.Duration `yaml:"media_group_window"`
		RequireRegistration bool          `yaml:"require_registration"`
	} `yaml:"relay"`

	Texts Texts `yaml:"texts"`

	Log struct {
		Development bool `yaml:"development"`
	} `yaml:"log"`
	Server struct {
		Enabled bool   `yaml:"enabled"`
		Port    string `yaml:"port"`
	} `yaml:"server"`
	Admin struct {
		Enabled      bool   `yaml:"enabled"`
		Username     string `yaml:"username"`
		PasswordHash string `yaml:"password_hash"`
		JWTSecret    string `yaml:"jwt_secret"`
	} `yaml:"admin"`
}

// Texts overrides the user-facing messages. Empty fields keep the built-in wording.
type Texts struct {
	Greeting      string `yaml:"greeting"`
	Thanks        string `yaml:"thanks"`
	Blocked       string `yaml:"blocked"`
	NotRegistered string `yaml:"not_registered"`
	SendFailed    string `yaml:"send_failed"`
	Published     string `yaml:"published"`
}

// envRef matches ${VAR}. A bare $ is kept literally, as in argon2 hashes.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		return os.Getenv(ref[2 : len(ref)-1])
	})
}

var (
	ErrMissingToken   = errors.New("telegram token is not set")
	ErrMissingGroup   = errors.New("moderation group id is not set")
	ErrMissingChannel = errors.New("channel id is not set")
)

// LoadConfig reads configuration from the specified YAML file. ${VAR} references
// are expanded from the environment (after loading .env when present), and
// BOT_TOKEN, GROUP_ID, CHANNEL_ID and DB_URL override the file.
func LoadConfig(configPath string) (*Config, error) {
	_ = godotenv.Load()

	config := &Config{}

	raw, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal([]byte(expandEnv(string(raw))), config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	return config, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("BOT_TOKEN"); v != "" {
		c.Telegram.Token = v
	}
	if v := os.Getenv("DB_URL"); v != "" {
		c.Database.URL = v
	}
	for name, dst := range map[string]*int64{"GROUP_ID": &c.Telegram.GroupID, "CHANNEL_ID": &c.Telegram.ChannelID} {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, v, err)
		}
		*dst = id
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Telegram.RateLimit <= 0 {
		c.Telegram.RateLimit = 25
	}
	if c.Telegram.PollTimeout <= 0 {
		c.Telegram.PollTimeout = 60
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.CacheSize <= 0 {
		c.Database.CacheSize = 1024
	}
	if c.Relay.MediaGroupWindow <= 0 {
		c.Relay.MediaGroupWindow = 2 * time.Second
	}
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
}

// Validate reports settings the bot cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.Telegram.Token == "" {
		errs = append(errs, ErrMissingToken)
	}
	if c.Telegram.GroupID == 0 {
		errs = append(errs, ErrMissingGroup)
	}
	if c.Telegram.ChannelID == 0 {
		errs = append(errs, ErrMissingChannel)
	}
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database url is not set"))
	}
	if c.Database.Driver != "postgres" && c.Database.Driver != "sqlite" {
		errs = append(errs, fmt.Errorf("unsupported database driver %q", c.Database.Driver))
	}
	if c.Admin.Enabled {
		if !c.Server.Enabled {
			errs = append(errs, errors.New("admin api requires server.enabled"))
		}
		if c.Admin.Username == "" || c.Admin.PasswordHash == "" {
			errs = append(errs, errors.New("admin api requires username and password_hash"))
		}
		if c.Admin.JWTSecret == "" {
			errs = append(errs, errors.New("admin api requires jwt_secret"))
		}
	}
	return errors.Join(errs...)
}
