//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/metadata"
)

// TestDetectActor ensures hostname and username are detected and non-empty.
func TestDetectActor(t *testing.T) {
	t.Parallel()

	a, err := DetectActor()
	require.NoError(t, err)
	require.NotEmpty(t, a.Hostname)
	require.NotEmpty(t, a.Username)
}

// TestActor_Metadata moves the actor through gRPC metadata.
func TestActor_Metadata(t *testing.T) {
	t.Parallel()

	actor := &Actor{Hostname: "kitchen-pc", Username: "o.shokin"}
	require.Equal(t, "o.shokin@kitchen-pc", actor.String())

	outgoing := actor.AppendToOutgoingContext(context.Background())

	md, ok := metadata.FromOutgoingContext(outgoing)
	require.True(t, ok)

	incoming := metadata.NewIncomingContext(context.Background(), md)
	require.Equal(t, actor, ActorFromIncomingContext(incoming))

	require.Nil(t, ActorFromIncomingContext(context.Background()))
	require.Equal(t, context.Background(), (*Actor)(nil).AppendToOutgoingContext(context.Background()))
}
