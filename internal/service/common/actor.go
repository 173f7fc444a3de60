//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"fmt"
	"os"
	"os/user"

	"google.golang.org/grpc/metadata"
)

// Metadata keys carrying the requesting actor.
const (
	MetadataHostname = "x-actor-hostname"
	MetadataUsername = "x-actor-username"
)

// Actor identifies the host and user issuing a request.
type Actor struct {
	Hostname string
	Username string
}

// DetectActor gathers host and user information for audit trail.
func DetectActor() (*Actor, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("hostname: %w", err)
	}

	currentUser, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("current user: %w", err)
	}

	return &Actor{
		Hostname: hostname,
		Username: currentUser.Username,
	}, nil
}

// String formats the actor as user@host.
func (a *Actor) String() string {
	if a == nil {
		return ""
	}

	return a.Username + "@" + a.Hostname
}

// AppendToOutgoingContext attaches the actor to outgoing gRPC metadata.
func (a *Actor) AppendToOutgoingContext(ctx context.Context) context.Context {
	if a == nil {
		return ctx
	}

	return metadata.AppendToOutgoingContext(ctx, MetadataHostname, a.Hostname, MetadataUsername, a.Username)
}

// ActorFromIncomingContext reads the actor sent by a client, nil if absent.
func ActorFromIncomingContext(ctx context.Context) *Actor {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil
	}

	first := func(key string) string {
		if values := md.Get(key); len(values) > 0 {
			return values[0]
		}

		return ""
	}

	actor := &Actor{
		Hostname: first(MetadataHostname),
		Username: first(MetadataUsername),
	}

	if actor.Hostname == "" && actor.Username == "" {
		return nil
	}

	return actor
}
