package attribution

import (
	"context"
	"math"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	domain "github.com/oshokin/alarm-relay/internal/domain/alarm"
	pb "github.com/oshokin/alarm-relay/internal/pb/v1"
	repo "github.com/oshokin/alarm-relay/internal/repository/state"
)

// Service abstracts the engine operations the transport layer depends on.
type Service interface {
	LastAttribution(ctx context.Context) *domain.Attribution
	RecentActivations(ctx context.Context, window time.Duration) []domain.ActivationRecord
	CacheSize() int
}

// Server implements the AttributionService gRPC API.
type Server struct {
	pb.UnimplementedAttributionServiceServer

	// service provides the attribution state.
	service Service
}

// NewServer wires the provided service implementation into a gRPC handler.
func NewServer(service Service) *Server {
	return &Server{
		service: service,
	}
}

// GetLastAttribution returns the last attributed trigger.
func (s *Server) GetLastAttribution(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	response, err := repo.ToProto(s.service.LastAttribution(ctx))
	if err != nil {
		return nil, status.Error(codes.Internal, "unable to encode attribution")
	}

	return response, nil
}

// ListRecentActivations returns remembered activations, newest first.
// An absent or zero window_seconds lists the whole cache.
func (s *Server) ListRecentActivations(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	window, err := windowFromRequest(req)
	if err != nil {
		return nil, err
	}

	records := s.service.RecentActivations(ctx, window)

	activations := make([]any, 0, len(records))
	for _, record := range records {
		activations = append(activations, activationToMap(record))
	}

	response, err := structpb.NewStruct(map[string]any{
		pb.FieldActivations: activations,
		pb.FieldCacheSize:   s.service.CacheSize(),
	})
	if err != nil {
		return nil, status.Error(codes.Internal, "unable to encode activations")
	}

	return response, nil
}

// windowFromRequest reads window_seconds, rejecting negative or non-numeric values.
func windowFromRequest(req *structpb.Struct) (time.Duration, error) {
	value, ok := req.GetFields()[pb.FieldWindowSeconds]
	if !ok {
		return 0, nil
	}

	number, isNumber := value.GetKind().(*structpb.Value_NumberValue)
	if !isNumber || number.NumberValue < 0 || math.IsNaN(number.NumberValue) || math.IsInf(number.NumberValue, 0) {
		return 0, status.Error(codes.InvalidArgument, "window_seconds must be a non-negative number")
	}

	return time.Duration(number.NumberValue * float64(time.Second)), nil
}

// activationToMap converts an activation into a Struct-compatible map.
func activationToMap(record domain.ActivationRecord) map[string]any {
	return map[string]any{
		repo.FieldEntityID:  record.EntityID,
		pb.FieldDisplayName: record.DisplayName,
		repo.FieldCategory:  record.Category,
		pb.FieldState:       record.State,
		repo.FieldTimestamp: record.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}
