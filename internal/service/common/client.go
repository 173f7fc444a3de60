//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/alarm-relay/internal/config"
	domain "github.com/oshokin/alarm-relay/internal/domain/alarm"
	pb "github.com/oshokin/alarm-relay/internal/pb/v1"
	repo "github.com/oshokin/alarm-relay/internal/repository/state"
)

// Client wraps the gRPC AttributionService client with convenience helpers.
type Client struct {
	// conn is the underlying gRPC connection to the relay.
	conn *grpc.ClientConn
	// api is the AttributionService client stub.
	api pb.AttributionServiceClient
	// actor is sent with every call, may be nil.
	actor *Actor

	// callTimeout is the default timeout for individual RPC calls.
	callTimeout time.Duration
}

// Activations is the ListRecentActivations response.
type Activations struct {
	// Records are the activations, newest first.
	Records []domain.ActivationRecord
	// CacheSize is the total number of remembered activations.
	CacheSize int
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for service calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// WithActor attaches actor metadata to every call.
func WithActor(actor *Actor) Option {
	return func(c *Client) {
		c.actor = actor
	}
}

// errAddressRequired is returned when a required address value is missing.
var errAddressRequired = errors.New("address must be provided")

// Dial establishes a gRPC connection to the relay status API.
// Note: this uses insecure transport credentials; deploy on a trusted network
// or terminate TLS in a proxy until native TLS is added.
func Dial(_ context.Context, address string, opts ...Option) (*Client, error) {
	if address == "" {
		return nil, errAddressRequired
	}

	// Use the non-context NewClient API recommended by grpc-go
	// (DialContext is deprecated as of grpc-go v1.60+).
	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	client := &Client{
		conn:        conn,
		api:         pb.NewAttributionServiceClient(conn),
		callTimeout: config.DefaultTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}

	return c.conn.Close()
}

// GetLastAttribution retrieves the last attributed trigger, nil if nothing was attributed yet.
func (c *Client) GetLastAttribution(ctx context.Context) (*domain.Attribution, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	resp, err := c.api.GetLastAttribution(callCtx, new(emptypb.Empty))
	if err != nil {
		return nil, fmt.Errorf("get last attribution: %w", err)
	}

	if len(resp.GetFields()) == 0 {
		return nil, nil //nolint:nilnil // Absence of an attribution is not an error.
	}

	return repo.FromProto(resp), nil
}

// ListRecentActivations retrieves activations younger than window, all of them when window is zero.
func (c *Client) ListRecentActivations(ctx context.Context, window time.Duration) (*Activations, error) {
	request, err := structpb.NewStruct(map[string]any{
		pb.FieldWindowSeconds: window.Seconds(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	resp, err := c.api.ListRecentActivations(callCtx, request)
	if err != nil {
		return nil, fmt.Errorf("list recent activations: %w", err)
	}

	values := resp.GetFields()[pb.FieldActivations].GetListValue().GetValues()

	result := &Activations{
		Records:   make([]domain.ActivationRecord, 0, len(values)),
		CacheSize: int(resp.GetFields()[pb.FieldCacheSize].GetNumberValue()),
	}

	for _, value := range values {
		result.Records = append(result.Records, activationFromStruct(value.GetStructValue()))
	}

	return result, nil
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline. The actor, if any,
// is attached as metadata.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = c.actor.AppendToOutgoingContext(ctx)

	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}

func activationFromStruct(s *structpb.Struct) domain.ActivationRecord {
	fields := s.GetFields()

	record := domain.ActivationRecord{
		EntityID:    fields[repo.FieldEntityID].GetStringValue(),
		DisplayName: fields[pb.FieldDisplayName].GetStringValue(),
		Category:    fields[repo.FieldCategory].GetStringValue(),
		State:       fields[pb.FieldState].GetStringValue(),
	}

	if ts, err := time.Parse(time.RFC3339Nano, fields[repo.FieldTimestamp].GetStringValue()); err == nil {
		record.Timestamp = ts
	}

	return record
}
