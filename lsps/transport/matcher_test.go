package transport

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Blockstream/cln-lsps/lsps/common"
)

const testPeer = "02eec7245d6b7d2ccb30380bfbe2a3648cd7a942653f5aa340edcea1f283686619"

func TestMatcher_ResolvePending(t *testing.T) {
	m := NewMatcher()
	id := NewRequestID(testPeer, common.StringId("req-1"))

	pending := m.Register(id)
	require.Equal(t, 1, m.PendingCount())

	require.True(t, m.Resolve(id, json.RawMessage(`{"result":"ok"}`)))
	require.Equal(t, 0, m.PendingCount())

	resp, err := pending.Wait(context.Background())
	require.NoError(t, err)
	require.JSONEq(t, `{"result":"ok"}`, string(resp))
}

func TestMatcher_ResolveBeforeWait(t *testing.T) {
	m := NewMatcher()
	id := NewRequestID(testPeer, common.StringId("req-1"))

	pending := m.Register(id)
	require.True(t, m.Resolve(id, json.RawMessage(`1`)))

	// The response was buffered; a late waiter still receives it.
	resp, err := pending.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, json.RawMessage(`1`), resp)
}

func TestMatcher_GhostResponse(t *testing.T) {
	m := NewMatcher()

	require.False(t, m.Resolve(NewRequestID(testPeer, common.StringId("nobody")), json.RawMessage(`{}`)))
	require.Equal(t, 0, m.PendingCount())
}

func TestMatcher_ResolveAtMostOnce(t *testing.T) {
	m := NewMatcher()
	id := NewRequestID(testPeer, common.StringId("req-1"))

	m.Register(id)
	require.True(t, m.Resolve(id, json.RawMessage(`"first"`)))
	// Duplicate delivery of the same response is a no-op.
	require.False(t, m.Resolve(id, json.RawMessage(`"second"`)))
}

func TestMatcher_OutOfOrderResolution(t *testing.T) {
	m := NewMatcher()

	ids := []RequestID{
		NewRequestID(testPeer, common.StringId("r1")),
		NewRequestID(testPeer, common.StringId("r2")),
		NewRequestID(testPeer, common.StringId("r3")),
	}
	pendings := make([]*PendingRequest, len(ids))
	for i, id := range ids {
		pendings[i] = m.Register(id)
	}

	// Resolve r3, r1, r2; each waiter gets its own value.
	require.True(t, m.Resolve(ids[2], json.RawMessage(`"v3"`)))
	require.True(t, m.Resolve(ids[0], json.RawMessage(`"v1"`)))
	require.True(t, m.Resolve(ids[1], json.RawMessage(`"v2"`)))

	for i, want := range []string{`"v1"`, `"v2"`, `"v3"`} {
		resp, err := pendings[i].Wait(context.Background())
		require.NoError(t, err)
		require.Equal(t, want, string(resp))
	}
}

func TestMatcher_CancelledWaitCleansUp(t *testing.T) {
	m := NewMatcher()
	id := NewRequestID(testPeer, common.StringId("req-1"))

	pending := m.Register(id)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := pending.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 0, m.PendingCount())

	// A response arriving after the timeout is a ghost.
	require.False(t, m.Resolve(id, json.RawMessage(`{}`)))
}

func TestMatcher_DistinctPeersSameId(t *testing.T) {
	m := NewMatcher()
	otherPeer := "03f060953bef5b777dc77e44afa3859d022fc1a77c499b2f38712feea838da21b1"

	id1 := NewRequestID(testPeer, common.StringId("same"))
	id2 := NewRequestID(otherPeer, common.StringId("same"))

	p1 := m.Register(id1)
	p2 := m.Register(id2)

	require.True(t, m.Resolve(id2, json.RawMessage(`"two"`)))
	require.True(t, m.Resolve(id1, json.RawMessage(`"one"`)))

	resp, err := p1.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, `"one"`, string(resp))

	resp, err = p2.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, `"two"`, string(resp))
}

func TestMatcher_ConcurrentAccess(t *testing.T) {
	m := NewMatcher()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := NewRequestID(testPeer, common.NumberId(int64(n)))
			pending := m.Register(id)
			go m.Resolve(id, json.RawMessage(`true`))
			_, err := pending.Wait(context.Background())
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()

	require.Equal(t, 0, m.PendingCount())
}
