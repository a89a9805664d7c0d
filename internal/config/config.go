package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/Masterminds/semver/v3"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/foxsight/license-client/internal/domain"
)

const (
	envPrefix      = "FOXSIGHT__"
	appDirName     = "foxsight-license"
	configFileName = "config.toml"
	databaseName   = "license-client.db"
)

// envBindings maps config keys to their environment variable suffix.
var envBindings = map[string]string{
	"host":                                "HOST",
	"port":                                "PORT",
	"baseUrl":                             "BASE_URL",
	"logLevel":                            "LOG_LEVEL",
	"logPath":                             "LOG_PATH",
	"dataDir":                             "DATA_DIR",
	"metricsEnabled":                      "METRICS_ENABLED",
	"adminApiKey":                         "ADMIN_API_KEY",
	"license.apiUrl":                      "LICENSE_API_URL",
	"license.apiTimeout":                  "LICENSE_API_TIMEOUT",
	"license.installationName":            "INSTALLATION_NAME",
	"license.appVersion":                  "APP_VERSION",
	"license.heartbeatIntervalHours":      "HEARTBEAT_INTERVAL_HOURS",
	"license.validationIntervalHours":     "VALIDATION_INTERVAL_HOURS",
	"license.offlineGracePeriodHours":     "OFFLINE_GRACE_PERIOD_HOURS",
	"license.allowUnlicensedCoreFeatures": "ALLOW_UNLICENSED_CORE_FEATURES",
	"license.recordingsPath":              "RECORDINGS_PATH",
}

type AppConfig struct {
	Config     *domain.Config
	viper      *viper.Viper
	configPath string
	dataDir    string
}

// New loads the configuration from a config directory or a direct path to a
// .toml file. A default file is written when none exists yet.
func New(configDirOrPath string) (*AppConfig, error) {
	c := &AppConfig{
		viper:  viper.New(),
		Config: &domain.Config{},
	}

	c.defaults()

	if configDirOrPath == "" {
		configDirOrPath = GetDefaultConfigDir()
	}
	c.configPath = c.resolveConfigPath(configDirOrPath)

	if _, err := os.Stat(c.configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(c.configPath); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
		log.Info().Str("path", c.configPath).Msg("Created default configuration file")
	}

	if err := c.load(); err != nil {
		return nil, err
	}

	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return c, nil
}

func (c *AppConfig) defaults() {
	c.viper.SetDefault("host", "localhost")
	c.viper.SetDefault("port", 8000)
	c.viper.SetDefault("baseUrl", "")
	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("logPath", "")
	c.viper.SetDefault("dataDir", "")
	c.viper.SetDefault("metricsEnabled", false)
	c.viper.SetDefault("adminApiKey", "")

	c.viper.SetDefault("license.apiUrl", "http://localhost:4000/api")
	c.viper.SetDefault("license.apiTimeout", 30)
	c.viper.SetDefault("license.installationName", "Foxsight Central Command VMS")
	c.viper.SetDefault("license.appVersion", "1.0.0")
	c.viper.SetDefault("license.heartbeatIntervalHours", 4)
	c.viper.SetDefault("license.validationIntervalHours", 24)
	c.viper.SetDefault("license.offlineGracePeriodHours", 72)
	c.viper.SetDefault("license.allowUnlicensedCoreFeatures", true)
	c.viper.SetDefault("license.recordingsPath", "")

	c.viper.SetDefault("httpTimeouts.readTimeout", 60)
	c.viper.SetDefault("httpTimeouts.writeTimeout", 120)
	c.viper.SetDefault("httpTimeouts.idleTimeout", 180)
}

func (c *AppConfig) load() error {
	c.viper.SetConfigFile(c.configPath)
	c.viper.SetConfigType("toml")

	for key, suffix := range envBindings {
		if err := c.viper.BindEnv(key, envPrefix+suffix); err != nil {
			return fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if err := c.viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", c.configPath, err)
	}

	if err := c.viper.Unmarshal(c.Config); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	c.dataDir = c.Config.DataDir
	return nil
}

func (c *AppConfig) validate() error {
	if c.Config.Port <= 0 || c.Config.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Config.Port)
	}

	lc := c.Config.License

	u, err := url.Parse(lc.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("license.apiUrl %q must be an absolute http(s) URL", lc.APIURL)
	}

	if _, err := semver.NewVersion(lc.AppVersion); err != nil {
		return fmt.Errorf("license.appVersion %q is not a semantic version: %w", lc.AppVersion, err)
	}

	if lc.APITimeout <= 0 {
		return fmt.Errorf("license.apiTimeout must be positive")
	}
	if lc.HeartbeatIntervalHours <= 0 || lc.ValidationIntervalHours <= 0 {
		return fmt.Errorf("license heartbeat and validation intervals must be positive")
	}
	if lc.OfflineGracePeriodHours <= 0 {
		return fmt.Errorf("license.offlineGracePeriodHours must be positive")
	}

	return nil
}

// resolveConfigPath accepts either a directory or a direct file path.
func (c *AppConfig) resolveConfigPath(input string) string {
	if strings.HasSuffix(strings.ToLower(input), ".toml") {
		return input
	}
	if info, err := os.Stat(input); err == nil && !info.IsDir() {
		return input
	}
	return filepath.Join(input, configFileName)
}

// Watch reloads the log level whenever the config file changes on disk.
func (c *AppConfig) Watch() {
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		level := c.viper.GetString("logLevel")
		log.Info().Str("file", e.Name).Str("logLevel", level).Msg("Config file changed")
		setLogLevel(level)
	})
	c.viper.WatchConfig()
}

// ConfigPath returns the resolved config file path
func (c *AppConfig) ConfigPath() string {
	return c.configPath
}

// SetDataDir overrides the data directory
func (c *AppConfig) SetDataDir(dir string) {
	c.dataDir = dir
	c.Config.DataDir = dir
}

// GetDatabasePath returns the database location, next to the config file
// unless a data directory is configured.
func (c *AppConfig) GetDatabasePath() string {
	if c.dataDir != "" {
		return filepath.Join(c.dataDir, databaseName)
	}
	return filepath.Join(filepath.Dir(c.configPath), databaseName)
}

// ApplyLogConfig configures the global zerolog logger
func (c *AppConfig) ApplyLogConfig() {
	setLogLevel(c.Config.LogLevel)

	if c.Config.LogPath == "" {
		return
	}

	if err := os.MkdirAll(filepath.Dir(c.Config.LogPath), 0755); err != nil {
		log.Error().Err(err).Str("path", c.Config.LogPath).Msg("Failed to create log directory")
		return
	}

	f, err := os.OpenFile(c.Config.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		log.Error().Err(err).Str("path", c.Config.LogPath).Msg("Failed to open log file")
		return
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: f, NoColor: true})
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		log.Warn().Str("logLevel", level).Msg("Unknown log level, falling back to info")
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// GetDefaultConfigDir returns the OS-specific config directory
func GetDefaultConfigDir() string {
	// container images mount their volume at /config
	if os.Getenv("XDG_CONFIG_HOME") == "/config" {
		return "/config"
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, appDirName)
	}
	return "."
}

var defaultConfigTemplate = template.Must(template.New("config").Parse(`# config.toml - Foxsight license client

# Hostname / IP the local license API listens on
host = "localhost"

# Port for the local license API
port = 8000

# Serve the API under a sub path, e.g. "/license/"
#baseUrl = ""

# Log level: TRACE, DEBUG, INFO, WARN, ERROR
logLevel = "INFO"

# Log file path, stderr when empty
#logPath = ""

# Directory for the license database, next to this file when empty
#dataDir = ""

# Expose Prometheus metrics on /metrics
metricsEnabled = false

# Required in the X-API-Key header for activation and feature toggles
adminApiKey = "{{ .AdminAPIKey }}"

[license]
apiUrl = "http://localhost:4000/api"
apiTimeout = 30
installationName = "Foxsight Central Command VMS"
appVersion = "1.0.0"
heartbeatIntervalHours = 4
validationIntervalHours = 24
offlineGracePeriodHours = 72
allowUnlicensedCoreFeatures = true
#recordingsPath = ""

[httpTimeouts]
readTimeout = 60
writeTimeout = 120
idleTimeout = 180
`))

// WriteDefaultConfig writes a default config file. An existing file is left
// untouched.
func WriteDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	apiKey, err := generateSecureToken(32)
	if err != nil {
		return fmt.Errorf("failed to generate admin api key: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	return defaultConfigTemplate.Execute(f, struct{ AdminAPIKey string }{AdminAPIKey: apiKey})
}

func generateSecureToken(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
