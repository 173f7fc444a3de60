package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the relay settings. It is read once at startup and never written by the relay itself.
type Config struct {
	// HomeAssistantURL is the Home Assistant base or WebSocket API URL.
	HomeAssistantURL string `yaml:"home_assistant_url"`
	// AccessToken is a long-lived Home Assistant access token.
	// When empty, the TokenEnv environment variable is used.
	AccessToken string `yaml:"access_token,omitempty"`
	// AlarmEntity is the watched alarm entity, e.g. "alarm_control_panel.home".
	AlarmEntity string `yaml:"alarm_entity"`
	// ESPHomeDevices lists display devices receiving alarm state and source.
	ESPHomeDevices []string `yaml:"esphome_devices"`
	// LookbackSeconds is how old an activation may be to still count as a trigger cause.
	LookbackSeconds int `yaml:"alarm_trigger_lookback_seconds"`
	// CacheCapacity bounds the number of remembered activations.
	CacheCapacity int `yaml:"trigger_cache_capacity"`
	// SensorDomains are entity domains whose state changes feed the trigger cache.
	SensorDomains []string `yaml:"sensor_domains"`
	// ListenAddress is the optional gRPC status API address.
	ListenAddress string `yaml:"listen_addr,omitempty"`
	// MetricsAddress is the optional Prometheus endpoint address.
	MetricsAddress string `yaml:"metrics_addr,omitempty"`
	// StateFile is the path to the JSON file storing the last attribution.
	StateFile string `yaml:"state_file"`
	// Timeout bounds Home Assistant requests and RPC calls.
	Timeout time.Duration `yaml:"timeout"`
	// CallRate is the sustained number of remote actions per second.
	CallRate float64 `yaml:"call_rate"`
	// CallBurst is the remote action burst size.
	CallBurst int `yaml:"call_burst"`
	// ServiceCacheTTL is how long the list of registered services is trusted.
	ServiceCacheTTL time.Duration `yaml:"service_cache_ttl"`
}

const (
	// DefaultConfigFilename is the default filename for relay settings.
	DefaultConfigFilename = "alarm-relay-settings.yaml"

	// DefaultStateFilename is the default filename for the last attribution JSON.
	DefaultStateFilename = "alarm-relay-state.json"

	// DefaultTimeout is the default duration for network operations.
	DefaultTimeout = 5 * time.Second

	// DefaultLookbackSeconds is used when alarm_trigger_lookback_seconds is absent or zero.
	DefaultLookbackSeconds = 60

	// DefaultCacheCapacity bounds the trigger cache when not configured.
	DefaultCacheCapacity = 300

	// DefaultCallRate is the default sustained remote action rate per second.
	DefaultCallRate = 20

	// DefaultCallBurst is the default remote action burst.
	DefaultCallBurst = 10

	// DefaultServiceCacheTTL is the default lifetime of the cached service list.
	DefaultServiceCacheTTL = 30 * time.Second

	// DefaultSensorDomain is the entity domain tracked when none is configured.
	DefaultSensorDomain = "binary_sensor"

	// TokenEnv is the environment variable consulted when access_token is empty.
	TokenEnv = "HASS_TOKEN"

	// DefaultFilePermissions is the default file permission for config and state files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errHomeAssistantURLRequired is returned when the Home Assistant URL is missing.
	errHomeAssistantURLRequired = errors.New("home assistant url must be provided")
	// errUnsupportedScheme is returned for URLs other than http(s) or ws(s).
	errUnsupportedScheme = errors.New("unsupported url scheme")
	// errAlarmEntityRequired is returned when the alarm entity is missing.
	errAlarmEntityRequired = errors.New("alarm entity must be provided")
	// errInvalidEntityID is returned for identifiers without a domain part.
	errInvalidEntityID = errors.New("entity id must look like domain.object")
	// errNegativeSetting is returned when a numeric setting is negative.
	errNegativeSetting = errors.New("setting must not be negative")
)

// Load reads configuration from the provided path and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes Config to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions, the file may hold an access token.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks required fields and fills defaults for optional ones.
//
//nolint:cyclop // A flat list of field checks reads better than helpers.
func Validate(settings *Config) error {
	if settings == nil {
		return errConfigIsNotSet
	}

	if settings.HomeAssistantURL == "" {
		return errHomeAssistantURLRequired
	}

	if _, err := WebSocketURL(settings.HomeAssistantURL); err != nil {
		return err
	}

	if settings.AlarmEntity == "" {
		return errAlarmEntityRequired
	}

	if !isEntityID(settings.AlarmEntity) {
		return fmt.Errorf("alarm entity %q: %w", settings.AlarmEntity, errInvalidEntityID)
	}

	if settings.LookbackSeconds < 0 || settings.CacheCapacity < 0 || settings.CallRate < 0 || settings.CallBurst < 0 {
		return errNegativeSetting
	}

	for _, address := range []string{settings.ListenAddress, settings.MetricsAddress} {
		if address == "" {
			continue
		}

		if _, _, err := net.SplitHostPort(address); err != nil {
			return fmt.Errorf("invalid listen address %q: %w", address, err)
		}
	}

	// Zero means "not set" for every numeric field.
	if settings.LookbackSeconds == 0 {
		settings.LookbackSeconds = DefaultLookbackSeconds
	}

	if settings.CacheCapacity == 0 {
		settings.CacheCapacity = DefaultCacheCapacity
	}

	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}

	if settings.CallRate == 0 {
		settings.CallRate = DefaultCallRate
	}

	if settings.CallBurst == 0 {
		settings.CallBurst = DefaultCallBurst
	}

	if settings.ServiceCacheTTL <= 0 {
		settings.ServiceCacheTTL = DefaultServiceCacheTTL
	}

	if settings.StateFile == "" {
		settings.StateFile = DefaultStateFilename
	}

	if len(settings.SensorDomains) == 0 {
		settings.SensorDomains = []string{DefaultSensorDomain}
	}

	return nil
}

// Lookback returns the activation lookback window.
func (c *Config) Lookback() time.Duration {
	return time.Duration(c.LookbackSeconds) * time.Second
}

// Token returns the configured access token or the TokenEnv value.
func (c *Config) Token() string {
	if c.AccessToken != "" {
		return c.AccessToken
	}

	return strings.TrimSpace(os.Getenv(TokenEnv))
}

// WebSocketURL turns a Home Assistant base URL into its WebSocket API URL.
// "http://ha.local:8123" becomes "ws://ha.local:8123/api/websocket"; ws(s) URLs are kept as is.
func WebSocketURL(raw string) (string, error) {
	parsed, err := url.ParseRequestURI(raw)
	if err != nil {
		return "", fmt.Errorf("invalid home assistant url: %w", err)
	}

	switch parsed.Scheme {
	case "ws", "wss":
		return parsed.String(), nil
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedScheme, parsed.Scheme)
	}

	parsed.Path = strings.TrimSuffix(parsed.Path, "/") + "/api/websocket"

	return parsed.String(), nil
}

// isEntityID reports whether id has non-empty domain and object parts.
func isEntityID(id string) bool {
	domain, object, found := strings.Cut(id, ".")

	return found && domain != "" && object != ""
}
