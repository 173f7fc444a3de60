package attribution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	domain "github.com/oshokin/alarm-relay/internal/domain/alarm"
	pb "github.com/oshokin/alarm-relay/internal/pb/v1"
	repo "github.com/oshokin/alarm-relay/internal/repository/state"
)

// fakeService implements the Service interface for unit testing the transport.
type fakeService struct {
	// last is returned by LastAttribution.
	last *domain.Attribution
	// records are returned by RecentActivations.
	records []domain.ActivationRecord
	// window is the last window passed to RecentActivations.
	window time.Duration
}

func (f *fakeService) LastAttribution(context.Context) *domain.Attribution { return f.last }

func (f *fakeService) RecentActivations(_ context.Context, window time.Duration) []domain.ActivationRecord {
	f.window = window

	return f.records
}

func (f *fakeService) CacheSize() int { return len(f.records) }

// TestServer_GetLastAttribution returns an empty struct before any trigger and the fields after one.
func TestServer_GetLastAttribution(t *testing.T) {
	t.Parallel()

	svc := new(fakeService)
	s := NewServer(svc)

	response, err := s.GetLastAttribution(context.Background(), new(emptypb.Empty))
	require.NoError(t, err)
	require.Empty(t, response.GetFields())

	at := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	svc.last = &domain.Attribution{
		Source:     "Back Window",
		EntityID:   "binary_sensor.back_window",
		Category:   "window",
		Tier:       "sensor",
		AlarmState: domain.StateTriggered,
		Timestamp:  at,
	}

	response, err = s.GetLastAttribution(context.Background(), new(emptypb.Empty))
	require.NoError(t, err)
	require.Equal(t, "Back Window", response.GetFields()[repo.FieldSource].GetStringValue())
	require.Equal(t, "sensor", response.GetFields()[repo.FieldTier].GetStringValue())
	require.Equal(t, svc.last, repo.FromProto(response))
}

// TestServer_ListRecentActivations converts records and forwards the window.
func TestServer_ListRecentActivations(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	svc := &fakeService{records: []domain.ActivationRecord{
		{Timestamp: at, EntityID: "binary_sensor.front_door", DisplayName: "Front Door", Category: "door", State: "on"},
		{Timestamp: at.Add(-time.Second), EntityID: "binary_sensor.hall", DisplayName: "Hall", Category: "motion", State: "on"},
	}}
	s := NewServer(svc)

	request, err := structpb.NewStruct(map[string]any{pb.FieldWindowSeconds: 30})
	require.NoError(t, err)

	response, err := s.ListRecentActivations(context.Background(), request)
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, svc.window)
	require.InDelta(t, 2, response.GetFields()[pb.FieldCacheSize].GetNumberValue(), 0)

	activations := response.GetFields()[pb.FieldActivations].GetListValue().GetValues()
	require.Len(t, activations, 2)

	first := activations[0].GetStructValue().GetFields()
	require.Equal(t, "binary_sensor.front_door", first[repo.FieldEntityID].GetStringValue())
	require.Equal(t, "Front Door", first[pb.FieldDisplayName].GetStringValue())
	require.Equal(t, at.Format(time.RFC3339Nano), first[repo.FieldTimestamp].GetStringValue())
}

// TestServer_ListRecentActivations_Validation rejects negative and non-numeric windows.
func TestServer_ListRecentActivations_Validation(t *testing.T) {
	t.Parallel()

	s := NewServer(new(fakeService))

	for _, window := range []any{-1, "soon"} {
		request, err := structpb.NewStruct(map[string]any{pb.FieldWindowSeconds: window})
		require.NoError(t, err)

		_, err = s.ListRecentActivations(context.Background(), request)
		require.Equal(t, codes.InvalidArgument, status.Code(err))
	}

	// A nil request lists everything.
	_, err := s.ListRecentActivations(context.Background(), nil)
	require.NoError(t, err)
}
