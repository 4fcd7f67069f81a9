package identity

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromContext_UnboundReturnsDefault(t *testing.T) {
	ctx := context.Background()
	require.False(t, Bound(ctx))
	require.Equal(t, Default, FromContext(ctx))
}

func TestWith_BindsWithoutTouchingParent(t *testing.T) {
	parent := context.Background()
	ctx := With(parent, Identity{Subject: "alice"})

	require.Equal(t, "alice", FromContext(ctx).Subject)
	require.True(t, Bound(ctx))

	require.False(t, Bound(parent))
	require.Equal(t, Default, FromContext(parent))
}

func TestWith_InnerBindingShadowsOuter(t *testing.T) {
	outer := With(context.Background(), Identity{Subject: "outer"})
	inner := With(outer, Identity{Subject: "inner"})

	require.Equal(t, "inner", FromContext(inner).Subject)
	require.Equal(t, "outer", FromContext(outer).Subject)
}

func TestWith_ConcurrentBindingsAreIsolated(t *testing.T) {
	base := context.Background()

	var wg sync.WaitGroup
	for _, subject := range []string{"alice", "bob", "carol"} {
		wg.Add(1)
		go func(subject string) {
			defer wg.Done()
			ctx := With(base, Identity{Subject: subject})
			for i := 0; i < 100; i++ {
				require.Equal(t, subject, FromContext(ctx).Subject)
			}
		}(subject)
	}
	wg.Wait()
}
