package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestValidate checks required fields and format validations.
func TestValidate(t *testing.T) {
	t.Parallel()

	require.Error(t, Validate(nil))

	// Missing URL.
	require.ErrorIs(t, Validate(new(Config)), errHomeAssistantURLRequired)

	// Bad scheme.
	settings := &Config{
		HomeAssistantURL: "ftp://ha.local",
		AlarmEntity:      "alarm_control_panel.home",
	}
	require.ErrorIs(t, Validate(settings), errUnsupportedScheme)

	// Missing alarm entity.
	settings = &Config{HomeAssistantURL: "http://ha.local:8123"}
	require.ErrorIs(t, Validate(settings), errAlarmEntityRequired)

	// Entity without domain.
	settings = &Config{HomeAssistantURL: "http://ha.local:8123", AlarmEntity: "home"}
	require.ErrorIs(t, Validate(settings), errInvalidEntityID)

	// Negative lookback.
	settings = &Config{
		HomeAssistantURL: "http://ha.local:8123",
		AlarmEntity:      "alarm_control_panel.home",
		LookbackSeconds:  -1,
	}
	require.ErrorIs(t, Validate(settings), errNegativeSetting)

	// Bad listen address.
	settings = &Config{
		HomeAssistantURL: "http://ha.local:8123",
		AlarmEntity:      "alarm_control_panel.home",
		ListenAddress:    "no-port",
	}
	require.Error(t, Validate(settings))
}

// TestValidate_Defaults ensures zero values are replaced by defaults.
func TestValidate_Defaults(t *testing.T) {
	t.Parallel()

	settings := &Config{
		HomeAssistantURL: "http://ha.local:8123",
		AlarmEntity:      "alarm_control_panel.home",
	}

	require.NoError(t, Validate(settings))
	require.Equal(t, DefaultLookbackSeconds, settings.LookbackSeconds)
	require.Equal(t, 60*time.Second, settings.Lookback())
	require.Equal(t, DefaultCacheCapacity, settings.CacheCapacity)
	require.Equal(t, DefaultTimeout, settings.Timeout)
	require.Equal(t, DefaultStateFilename, settings.StateFile)
	require.Equal(t, []string{DefaultSensorDomain}, settings.SensorDomains)
	require.InDelta(t, DefaultCallRate, settings.CallRate, 0)
	require.Equal(t, DefaultCallBurst, settings.CallBurst)
	require.Equal(t, DefaultServiceCacheTTL, settings.ServiceCacheTTL)
	require.Empty(t, settings.ESPHomeDevices)
}

// TestWebSocketURL covers scheme translation.
func TestWebSocketURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"http://ha.local:8123":              "ws://ha.local:8123/api/websocket",
		"https://ha.example.com/":           "wss://ha.example.com/api/websocket",
		"ws://127.0.0.1:8123/api/websocket": "ws://127.0.0.1:8123/api/websocket",
	}

	for in, want := range cases {
		got, err := WebSocketURL(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got)
	}

	_, err := WebSocketURL("not a url")
	require.Error(t, err)
}

// TestToken prefers the configured token over the environment.
func TestToken(t *testing.T) {
	t.Setenv(TokenEnv, " from-env ")

	require.Equal(t, "from-env", new(Config).Token())
	require.Equal(t, "from-file", (&Config{AccessToken: "from-file"}).Token())
}

// TestSaveLoadRoundtrip ensures settings are persisted and loaded back correctly.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")

	settings := &Config{
		HomeAssistantURL: "http://127.0.0.1:8123",
		AlarmEntity:      "alarm_control_panel.home",
		ESPHomeDevices:   []string{"esphome.vibealarm_wohnzimmer", "esphome.panel-flur"},
		LookbackSeconds:  45,
		ListenAddress:    "127.0.0.1:50051",
	}

	require.NoError(t, Save(path, settings))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, settings.HomeAssistantURL, loaded.HomeAssistantURL)
	require.Equal(t, settings.AlarmEntity, loaded.AlarmEntity)
	require.Equal(t, settings.ESPHomeDevices, loaded.ESPHomeDevices)
	require.Equal(t, 45, loaded.LookbackSeconds)
	require.Equal(t, settings.ListenAddress, loaded.ListenAddress)

	// File exists.
	_, err = os.Stat(path)
	require.NoError(t, err)
}

// TestLoad_Missing reports a read error for absent files.
func TestLoad_Missing(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
