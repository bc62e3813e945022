package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the driver configuration.
type Config struct {
	Host         string
	Port         string
	SQLiteDBPath string
	LogLevel     string
	LogFormat    string

	// JWTSecret enables bearer-token auth on the admin API and hub socket when set.
	JWTSecret         string
	JWTTokenExpirySec int

	DunePort         int
	DuneTimeoutMs    int
	PollIntervalMs   int
	FailureThreshold int
	// WakeDelayMs is how long "on" waits after the wake code before re-polling.
	WakeDelayMs int
	DevicesFile string

	DriverID      string
	DriverName    string
	DriverVersion string
	Developer     string
	MDNSEnabled   bool

	MQTT MQTTSettings

	AuditRetentionDays int
	AuditPruneSchedule string
}

// MQTTSettings configures the optional MQTT mirror. Broker empty disables it.
type MQTTSettings struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         int
}

// Enabled reports whether a broker was configured.
func (m MQTTSettings) Enabled() bool {
	return strings.TrimSpace(m.Broker) != ""
}

// String redacts the password so settings can be logged.
func (m MQTTSettings) String() string {
	password := ""
	if m.Password != "" {
		password = "[REDACTED]"
	}
	return fmt.Sprintf("broker=%s client_id=%s username=%s password=%s topic_prefix=%s qos=%d",
		m.Broker, m.ClientID, m.Username, password, m.TopicPrefix, m.QoS)
}

// DuneTimeout returns the per-request device timeout.
func (c Config) DuneTimeout() time.Duration {
	return time.Duration(c.DuneTimeoutMs) * time.Millisecond
}

// PollInterval returns the status poll interval.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// WakeDelay returns the pause between the wake code and the confirming re-poll.
func (c Config) WakeDelay() time.Duration {
	return time.Duration(c.WakeDelayMs) * time.Millisecond
}

// AuthEnabled reports whether JWT auth is turned on.
func (c Config) AuthEnabled() bool {
	return c.JWTSecret != ""
}

// Load reads configuration from defaults, an optional YAML file named by
// CONFIG_FILE, and environment variables, in increasing precedence.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", "9090")
	v.SetDefault("sqlite_db_path", "./data/dunehd-driver.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	v.SetDefault("jwt_secret", "")
	v.SetDefault("jwt_token_expiry_sec", 2592000)

	v.SetDefault("dune_port", 80)
	v.SetDefault("dune_timeout_ms", 5000)
	v.SetDefault("poll_interval_ms", 1000)
	v.SetDefault("failure_threshold", 3)
	v.SetDefault("wake_delay_ms", 2000)
	v.SetDefault("devices_file", "")

	v.SetDefault("driver_id", "dunehd")
	v.SetDefault("driver_name", "Dune-HD")
	v.SetDefault("driver_version", "1.0.0")
	v.SetDefault("developer", "dunehd-driver-go")
	v.SetDefault("mdns_enabled", true)

	v.SetDefault("mqtt_broker", "")
	v.SetDefault("mqtt_client_id", "dunehd-driver")
	v.SetDefault("mqtt_username", "")
	v.SetDefault("mqtt_password", "")
	v.SetDefault("mqtt_topic_prefix", "dunehd")
	v.SetDefault("mqtt_qos", 1)

	v.SetDefault("audit_retention_days", 30)
	v.SetDefault("audit_prune_schedule", "@daily")
}

func fromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		Host:               v.GetString("host"),
		Port:               v.GetString("port"),
		SQLiteDBPath:       v.GetString("sqlite_db_path"),
		LogLevel:           v.GetString("log_level"),
		LogFormat:          v.GetString("log_format"),
		JWTSecret:          strings.TrimSpace(v.GetString("jwt_secret")),
		JWTTokenExpirySec:  v.GetInt("jwt_token_expiry_sec"),
		DunePort:           v.GetInt("dune_port"),
		DuneTimeoutMs:      v.GetInt("dune_timeout_ms"),
		PollIntervalMs:     v.GetInt("poll_interval_ms"),
		FailureThreshold:   v.GetInt("failure_threshold"),
		WakeDelayMs:        v.GetInt("wake_delay_ms"),
		DevicesFile:        v.GetString("devices_file"),
		DriverID:           v.GetString("driver_id"),
		DriverName:         v.GetString("driver_name"),
		DriverVersion:      v.GetString("driver_version"),
		Developer:          v.GetString("developer"),
		MDNSEnabled:        v.GetBool("mdns_enabled"),
		AuditRetentionDays: v.GetInt("audit_retention_days"),
		AuditPruneSchedule: v.GetString("audit_prune_schedule"),
		MQTT: MQTTSettings{
			Broker:      v.GetString("mqtt_broker"),
			ClientID:    v.GetString("mqtt_client_id"),
			Username:    v.GetString("mqtt_username"),
			Password:    v.GetString("mqtt_password"),
			TopicPrefix: strings.Trim(v.GetString("mqtt_topic_prefix"), "/"),
			QoS:         v.GetInt("mqtt_qos"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges that would otherwise fail later at runtime.
func (c Config) Validate() error {
	var errs []error
	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 characters"))
	}
	if c.DunePort <= 0 || c.DunePort > 65535 {
		errs = append(errs, fmt.Errorf("DUNE_PORT out of range: %d", c.DunePort))
	}
	if c.DuneTimeoutMs <= 0 {
		errs = append(errs, errors.New("DUNE_TIMEOUT_MS must be positive"))
	}
	if c.PollIntervalMs <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL_MS must be positive"))
	}
	if c.FailureThreshold < 1 {
		errs = append(errs, errors.New("FAILURE_THRESHOLD must be at least 1"))
	}
	if c.WakeDelayMs < 0 {
		errs = append(errs, errors.New("WAKE_DELAY_MS must not be negative"))
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("MQTT_QOS must be 0, 1 or 2: %d", c.MQTT.QoS))
	}
	if c.AuditRetentionDays < 1 {
		errs = append(errs, errors.New("AUDIT_RETENTION_DAYS must be at least 1"))
	}
	return errors.Join(errs...)
}
