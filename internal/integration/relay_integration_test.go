package integration

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-relay/internal/config"
	"github.com/oshokin/alarm-relay/internal/homeassistant/hatest"
	repository "github.com/oshokin/alarm-relay/internal/repository/state"
	"github.com/oshokin/alarm-relay/internal/service/common"
	"github.com/oshokin/alarm-relay/internal/service/relay"
)

const (
	testToken   = "integration-token"
	alarmEntity = "alarm_control_panel.home"
	frontDoor   = "binary_sensor.front_door"
)

// startRelay runs the relay against srv with a temporary config.
// It returns the bound addresses and a stop function waiting for Run to return.
func startRelay(t *testing.T, srv *hatest.Server, statePath string) (relay.Addresses, func()) {
	t.Helper()

	// Create cancellable context for relay lifecycle.
	ctx, cancel := context.WithCancel(context.Background())
	cfgPath := filepath.Join(t.TempDir(), "settings.yaml")

	// Create temporary configuration file.
	require.NoError(t, config.Save(cfgPath, &config.Config{
		HomeAssistantURL: srv.BaseURL(),
		AccessToken:      testToken,
		AlarmEntity:      alarmEntity,
		ESPHomeDevices:   []string{"esphome.panel_hall"},
		ListenAddress:    "127.0.0.1:0",
		MetricsAddress:   "127.0.0.1:0",
		StateFile:        statePath,
		Timeout:          2 * time.Second,
	}))

	ready := make(chan relay.Addresses, 1)
	done := make(chan error, 1)

	// Start relay in background goroutine.
	go func() {
		done <- relay.Run(ctx, &relay.Options{
			ConfigPath:    cfgPath,
			AllowMultiple: true,
			Ready: func(addresses relay.Addresses) {
				ready <- addresses
			},
		})
	}()

	var addresses relay.Addresses

	select {
	case addresses = <-ready:
	case err := <-done:
		cancel()
		t.Fatalf("relay stopped early: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("relay did not start")
	}

	return addresses, func() {
		cancel()

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("relay did not stop")
		}
	}
}

// newFakeHome prepares a Home Assistant fake with an alarm, a door sensor and one display.
func newFakeHome() *hatest.Server {
	srv := hatest.NewServer(testToken)

	srv.SetState(hatest.State{
		EntityID:   alarmEntity,
		State:      "armed_away",
		Attributes: map[string]any{"friendly_name": "Haus Alarm"},
	})
	srv.SetState(hatest.State{
		EntityID:   frontDoor,
		State:      "off",
		Attributes: map[string]any{"device_class": "door", "friendly_name": "Front Door"},
	})

	for _, service := range []string{
		"panel_hall_set_alarm_state",
		"panel_hall_set_alarm_source",
		"panel_hall_set_alarm_panel_name",
	} {
		srv.RegisterService("esphome", service)
	}

	return srv
}

// TestRelay_AttributesTrigger runs the full path: sensor activation, alarm trigger,
// pushes to the display, status API, metrics and persistence across restarts.
func TestRelay_AttributesTrigger(t *testing.T) {
	t.Parallel()

	srv := newFakeHome()
	defer srv.Close()

	statePath := filepath.Join(t.TempDir(), "state.json")
	addresses, stop := startRelay(t, srv, statePath)

	// The initial state push sends the state and the panel name.
	calls := srv.WaitCalls(2, 5*time.Second)
	require.Len(t, calls, 2)
	require.Equal(t, hatest.ServiceCall{
		Domain:  "esphome",
		Service: "panel_hall_set_alarm_state",
		Data:    map[string]any{"state": "armed_away"},
	}, calls[0])
	require.Equal(t, map[string]any{"name": "Haus Alarm"}, calls[1].Data)

	srv.ChangeState(hatest.State{
		EntityID:   frontDoor,
		State:      "on",
		Attributes: map[string]any{"device_class": "door", "friendly_name": "Front Door"},
	})
	srv.ChangeState(hatest.State{
		EntityID:   alarmEntity,
		State:      "triggered",
		Attributes: map[string]any{"friendly_name": "Haus Alarm"},
	})

	calls = srv.WaitCalls(6, 5*time.Second)
	require.Len(t, calls, 6)
	require.Equal(t, map[string]any{"state": "triggered"}, calls[2].Data)
	require.Equal(t, "panel_hall_set_alarm_source", calls[4].Service)
	require.Equal(t, map[string]any{"source": "Front Door"}, calls[4].Data)

	ctx := context.Background()

	client, err := common.Dial(ctx, addresses.Status,
		common.WithCallTimeout(3*time.Second),
		common.WithActor(&common.Actor{Hostname: "test-hostname", Username: "test-user"}))
	require.NoError(t, err)

	defer func() {
		_ = client.Close()
	}()

	require.Eventually(t, func() bool {
		last, lastErr := client.GetLastAttribution(ctx)

		return lastErr == nil && last != nil && last.Source == "Front Door"
	}, 5*time.Second, 20*time.Millisecond)

	activations, err := client.ListRecentActivations(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 1, activations.CacheSize)
	require.Equal(t, frontDoor, activations.Records[0].EntityID)

	metrics := scrape(t, addresses.Metrics)
	require.Contains(t, metrics, `alarm_relay_attributions_total{tier="sensor"} 1`)
	require.Contains(t, metrics, `alarm_relay_home_assistant_connected 1`)
	require.Contains(t, metrics, `alarm_relay_trigger_cache_size 1`)

	stop()

	// Verify the attribution was persisted to disk.
	saved, err := repository.NewFileRepository(statePath).Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "Front Door", saved.Source)
	require.Equal(t, frontDoor, saved.EntityID)

	// A restarted relay reports the persisted attribution.
	addresses, stop = startRelay(t, srv, statePath)
	defer stop()

	restarted, err := common.Dial(ctx, addresses.Status, common.WithCallTimeout(3*time.Second))
	require.NoError(t, err)

	defer func() {
		_ = restarted.Close()
	}()

	last, err := restarted.GetLastAttribution(ctx)
	require.NoError(t, err)
	require.Equal(t, "Front Door", last.Source)
}

// TestRelay_ReconnectsAndFallsBack pushes the state again after a lost connection
// and falls back to the alarm's source attribute without a recent sensor.
func TestRelay_ReconnectsAndFallsBack(t *testing.T) {
	t.Parallel()

	srv := newFakeHome()
	defer srv.Close()

	_, stop := startRelay(t, srv, filepath.Join(t.TempDir(), "state.json"))
	defer stop()

	require.Len(t, srv.WaitCalls(2, 5*time.Second), 2)

	srv.DropConnections()

	// Reconnect repeats the initial push.
	require.Len(t, srv.WaitCalls(4, 10*time.Second), 4)

	require.Eventually(t, func() bool {
		return srv.Subscribed("state_changed")
	}, 5*time.Second, 20*time.Millisecond)

	srv.ChangeState(hatest.State{
		EntityID:   alarmEntity,
		State:      "triggered",
		Attributes: map[string]any{"friendly_name": "Haus Alarm", "source": "Keypad"},
	})

	calls := srv.WaitCalls(8, 5*time.Second)
	require.Len(t, calls, 8)
	require.Equal(t, map[string]any{"source": "Keypad"}, calls[6].Data)
}

// TestRelay_RejectsBadToken fails startup when Home Assistant refuses the token.
func TestRelay_RejectsBadToken(t *testing.T) {
	t.Parallel()

	srv := hatest.NewServer("another-token")
	defer srv.Close()

	cfgPath := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, config.Save(cfgPath, &config.Config{
		HomeAssistantURL: srv.BaseURL(),
		AccessToken:      testToken,
		AlarmEntity:      alarmEntity,
		StateFile:        filepath.Join(t.TempDir(), "state.json"),
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := relay.Run(ctx, &relay.Options{ConfigPath: cfgPath, AllowMultiple: true})
	require.Error(t, err)
	require.Contains(t, err.Error(), "rejected the access token")
}

func scrape(t *testing.T, address string) string {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "http://"+address+"/metrics", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return strings.TrimSpace(string(body))
}
