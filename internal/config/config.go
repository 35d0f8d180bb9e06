package config

import (
	"log"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv      = "SELECTION_BUILDER_CONFIG"
	databaseDSNEnv     = "DATABASE_DSN"
	databaseDriverEnv  = "DATABASE_DRIVER"
	zimfarmTokenEnv    = "ZIMFARM_TOKEN"
	zimfarmHookEnv     = "ZIMFARM_HOOK_TOKEN"
	apiTokenEnv        = "API_TOKEN"
	telegramTokenEnv   = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv  = "TELEGRAM_CHAT_ID"
	logLevelEnv        = "LOG_LEVEL"
	defaultUserHeader  = "X-Authenticated-User"
	defaultSQLiteFile  = "selectionbuilder.db"
	defaultStorageDir  = "selections"
	defaultWorkerLock  = "selectionbuilder-worker.lock"
	defaultDownloadURL = "https://download.kiwix.org/zim"
)

// Config holds high-level settings required across the application.
type Config struct {
	Database      DatabaseConfig     `yaml:"database"`
	Server        ServerConfig       `yaml:"server"`
	Worker        WorkerConfig       `yaml:"worker"`
	ZimFarm       ZimFarmConfig      `yaml:"zimfarm"`
	Storage       StorageConfig      `yaml:"storage"`
	Models        ModelsConfig       `yaml:"models"`
	Notifications NotificationConfig `yaml:"notifications"`
	Logging       LoggingConfig      `yaml:"logging"`
}

// DatabaseConfig selects the SQL driver and connection string.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// ServerConfig describes the HTTP API listener.
type ServerConfig struct {
	Bind       string `yaml:"bind"`
	APIToken   string `yaml:"apiToken"`
	UserHeader string `yaml:"userHeader"`
}

// WorkerConfig tunes the job queue consumer.
type WorkerConfig struct {
	PollInterval time.Duration `yaml:"pollInterval"`
	LockPath     string        `yaml:"lockPath"`
	MaxAttempts  int           `yaml:"maxAttempts"`
	StaleAfter   time.Duration `yaml:"staleAfter"`
}

// ZimFarmConfig wires the external archive generation farm.
type ZimFarmConfig struct {
	URL             string        `yaml:"url"`
	Token           string        `yaml:"token"`
	HookToken       string        `yaml:"hookToken"`
	WebhookURL      string        `yaml:"webhookUrl"`
	DownloadBaseURL string        `yaml:"downloadBaseUrl"`
	PollMaxAttempts int           `yaml:"pollMaxAttempts"`
	PollBaseDelay   time.Duration `yaml:"pollBaseDelay"`
	PollMaxDelay    time.Duration `yaml:"pollMaxDelay"`
}

// StorageConfig locates generated selection files.
type StorageConfig struct {
	Dir       string `yaml:"dir"`
	PublicURL string `yaml:"publicUrl"`
}

// ModelsConfig holds endpoints used by builder models.
type ModelsConfig struct {
	PageviewsURL string   `yaml:"pageviewsUrl"`
	PetScanHosts []string `yaml:"petscanHosts"`
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// LoggingConfig controls slog level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	return LoadFile(os.Getenv(configPathEnv))
}

// LoadFile is Load with an explicit path; an empty path means defaults only.
func LoadFile(path string) Config {
	cfg := Default()

	if path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDriverEnv); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}

	if v := os.Getenv(apiTokenEnv); v != "" {
		c.Server.APIToken = v
	}

	if v := os.Getenv(zimfarmTokenEnv); v != "" {
		c.ZimFarm.Token = v
	}
	if v := os.Getenv(zimfarmHookEnv); v != "" {
		c.ZimFarm.HookToken = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}

	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
}

func mergeConfig(base, override Config) Config {
	if override.Database.Driver != "" {
		base.Database.Driver = override.Database.Driver
	}
	if override.Database.DSN != "" {
		base.Database.DSN = override.Database.DSN
	}

	if override.Server.Bind != "" {
		base.Server.Bind = override.Server.Bind
	}
	if override.Server.APIToken != "" {
		base.Server.APIToken = override.Server.APIToken
	}
	if override.Server.UserHeader != "" {
		base.Server.UserHeader = override.Server.UserHeader
	}

	if override.Worker.PollInterval > 0 {
		base.Worker.PollInterval = override.Worker.PollInterval
	}
	if override.Worker.LockPath != "" {
		base.Worker.LockPath = override.Worker.LockPath
	}
	if override.Worker.MaxAttempts > 0 {
		base.Worker.MaxAttempts = override.Worker.MaxAttempts
	}
	if override.Worker.StaleAfter > 0 {
		base.Worker.StaleAfter = override.Worker.StaleAfter
	}

	if override.ZimFarm.URL != "" {
		base.ZimFarm.URL = override.ZimFarm.URL
	}
	if override.ZimFarm.Token != "" {
		base.ZimFarm.Token = override.ZimFarm.Token
	}
	if override.ZimFarm.HookToken != "" {
		base.ZimFarm.HookToken = override.ZimFarm.HookToken
	}
	if override.ZimFarm.WebhookURL != "" {
		base.ZimFarm.WebhookURL = override.ZimFarm.WebhookURL
	}
	if override.ZimFarm.DownloadBaseURL != "" {
		base.ZimFarm.DownloadBaseURL = override.ZimFarm.DownloadBaseURL
	}
	if override.ZimFarm.PollMaxAttempts > 0 {
		base.ZimFarm.PollMaxAttempts = override.ZimFarm.PollMaxAttempts
	}
	if override.ZimFarm.PollBaseDelay > 0 {
		base.ZimFarm.PollBaseDelay = override.ZimFarm.PollBaseDelay
	}
	if override.ZimFarm.PollMaxDelay > 0 {
		base.ZimFarm.PollMaxDelay = override.ZimFarm.PollMaxDelay
	}

	if override.Storage.Dir != "" {
		base.Storage.Dir = override.Storage.Dir
	}
	if override.Storage.PublicURL != "" {
		base.Storage.PublicURL = override.Storage.PublicURL
	}

	if override.Models.PageviewsURL != "" {
		base.Models.PageviewsURL = override.Models.PageviewsURL
	}
	if len(override.Models.PetScanHosts) > 0 {
		base.Models.PetScanHosts = override.Models.PetScanHosts
	}

	if override.Notifications.Telegram.BotToken != "" {
		base.Notifications.Telegram.BotToken = override.Notifications.Telegram.BotToken
	}
	if override.Notifications.Telegram.ChatID != "" {
		base.Notifications.Telegram.ChatID = override.Notifications.Telegram.ChatID
	}

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}

	return base
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database: DatabaseConfig{Driver: "sqlite", DSN: defaultSQLiteFile},
		Server:   ServerConfig{Bind: "127.0.0.1:8080", UserHeader: defaultUserHeader},
		Worker: WorkerConfig{
			PollInterval: 2 * time.Second,
			LockPath:     filepath.Join(os.TempDir(), defaultWorkerLock),
			MaxAttempts:  5,
			StaleAfter:   30 * time.Minute,
		},
		ZimFarm: ZimFarmConfig{
			URL:             "https://api.farm.openzim.org/v1",
			DownloadBaseURL: defaultDownloadURL,
			PollMaxAttempts: 12,
			PollBaseDelay:   2 * time.Minute,
			PollMaxDelay:    4 * time.Hour,
		},
		Storage: StorageConfig{Dir: defaultStorageDir, PublicURL: "http://127.0.0.1:8080/files"},
		Models: ModelsConfig{
			PageviewsURL: "https://wikimedia.org/api/rest_v1",
			PetScanHosts: []string{"petscan.wmflabs.org", "petscan.wmcloud.org"},
		},
		Logging: LoggingConfig{Level: "info", Format: "auto"},
	}
}
