package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/alarm-relay/internal/config"
	domain "github.com/oshokin/alarm-relay/internal/domain/alarm"
)

// Repository defines persistence operations for the last attribution.
type Repository interface {
	Load(ctx context.Context) (*domain.Attribution, error)
	Save(ctx context.Context, attribution *domain.Attribution) error
}

// FileRepository persists the last attribution to a JSON file on disk.
// JSON is produced and consumed via protojson so the file matches what the
// status API returns.
type FileRepository struct {
	// path is the filesystem location of the JSON state file.
	path string
	// mu protects concurrent access to the state file.
	mu sync.Mutex
}

// Field names shared by the state file and the status API.
const (
	FieldSource     = "source"
	FieldEntityID   = "entity_id"
	FieldCategory   = "category"
	FieldTier       = "tier"
	FieldAlarmState = "alarm_state"
	FieldTimestamp  = "timestamp"
)

// ErrNotFound is returned when the state file does not exist yet.
var ErrNotFound = errors.New("state not found")

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Load reads the last attribution from disk.
func (r *FileRepository) Load(_ context.Context) (*domain.Attribution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read state file: %w", err)
	}

	var protoState structpb.Struct
	if err = protojson.Unmarshal(contents, &protoState); err != nil {
		return nil, fmt.Errorf("decode state file: %w", err)
	}

	return FromProto(&protoState), nil
}

// Save writes the attribution to disk using JSON representation.
func (r *FileRepository) Save(_ context.Context, attribution *domain.Attribution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	protoState, err := ToProto(attribution)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	marshalOptions := protojson.MarshalOptions{
		Multiline: true,
	}

	data, err := marshalOptions.Marshal(protoState)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	if err = os.WriteFile(r.path, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}

	return nil
}

// FromProto converts a protobuf Struct into the domain Attribution.
func FromProto(protoState *structpb.Struct) *domain.Attribution {
	fields := protoState.GetFields()

	text := func(key string) string {
		return fields[key].GetStringValue()
	}

	var timestamp time.Time
	if raw := text(FieldTimestamp); raw != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			timestamp = parsed
		}
	}

	return &domain.Attribution{
		Source:     text(FieldSource),
		EntityID:   text(FieldEntityID),
		Category:   text(FieldCategory),
		Tier:       text(FieldTier),
		AlarmState: text(FieldAlarmState),
		Timestamp:  timestamp,
	}
}

// ToProto converts the domain Attribution into a protobuf Struct.
// A nil attribution yields an empty Struct.
func ToProto(attribution *domain.Attribution) (*structpb.Struct, error) {
	if attribution == nil {
		return &structpb.Struct{Fields: map[string]*structpb.Value{}}, nil
	}

	var timestamp string
	if !attribution.Timestamp.IsZero() {
		timestamp = attribution.Timestamp.UTC().Format(time.RFC3339Nano)
	}

	return structpb.NewStruct(map[string]any{
		FieldSource:     attribution.Source,
		FieldEntityID:   attribution.EntityID,
		FieldCategory:   attribution.Category,
		FieldTier:       attribution.Tier,
		FieldAlarmState: attribution.AlarmState,
		FieldTimestamp:  timestamp,
	})
}
