package domain

import "time"

// Config represents the application configuration
type Config struct {
	Host           string        `toml:"host" mapstructure:"host"`
	Port           int           `toml:"port" mapstructure:"port"`
	BaseURL        string        `toml:"baseUrl" mapstructure:"baseUrl"`
	LogLevel       string        `toml:"logLevel" mapstructure:"logLevel"`
	LogPath        string        `toml:"logPath" mapstructure:"logPath"`
	DataDir        string        `toml:"dataDir" mapstructure:"dataDir"`
	MetricsEnabled bool          `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	AdminAPIKey    string        `toml:"adminApiKey" mapstructure:"adminApiKey"`
	License        LicenseConfig `toml:"license" mapstructure:"license"`
	HTTPTimeouts   HTTPTimeouts  `toml:"httpTimeouts" mapstructure:"httpTimeouts"`
}

// HTTPTimeouts represents HTTP server timeout configuration
type HTTPTimeouts struct {
	ReadTimeout  int `toml:"readTimeout" mapstructure:"readTimeout"`   // seconds
	WriteTimeout int `toml:"writeTimeout" mapstructure:"writeTimeout"` // seconds
	IdleTimeout  int `toml:"idleTimeout" mapstructure:"idleTimeout"`   // seconds
}

// LicenseConfig holds the licensing authority connection and the local
// offline policy knobs.
type LicenseConfig struct {
	APIURL                      string `toml:"apiUrl" mapstructure:"apiUrl"`
	APITimeout                  int    `toml:"apiTimeout" mapstructure:"apiTimeout"` // seconds
	InstallationName            string `toml:"installationName" mapstructure:"installationName"`
	AppVersion                  string `toml:"appVersion" mapstructure:"appVersion"`
	HeartbeatIntervalHours      int    `toml:"heartbeatIntervalHours" mapstructure:"heartbeatIntervalHours"`
	ValidationIntervalHours     int    `toml:"validationIntervalHours" mapstructure:"validationIntervalHours"`
	OfflineGracePeriodHours     int    `toml:"offlineGracePeriodHours" mapstructure:"offlineGracePeriodHours"`
	AllowUnlicensedCoreFeatures bool   `toml:"allowUnlicensedCoreFeatures" mapstructure:"allowUnlicensedCoreFeatures"`
	RecordingsPath              string `toml:"recordingsPath" mapstructure:"recordingsPath"`
}

func (c LicenseConfig) Timeout() time.Duration {
	return time.Duration(c.APITimeout) * time.Second
}

func (c LicenseConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalHours) * time.Hour
}

func (c LicenseConfig) ValidationInterval() time.Duration {
	return time.Duration(c.ValidationIntervalHours) * time.Hour
}

func (c LicenseConfig) GracePeriod() time.Duration {
	return time.Duration(c.OfflineGracePeriodHours) * time.Hour
}
