package lnd

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

// fakeOpenStream serves updates from a channel so tests control when Recv
// unblocks.
type fakeOpenStream struct {
	grpc.ClientStream
	updates chan *lnrpc.OpenStatusUpdate
}

func (f *fakeOpenStream) Recv() (*lnrpc.OpenStatusUpdate, error) {
	update, ok := <-f.updates
	if !ok {
		return nil, context.Canceled
	}
	return update, nil
}

func TestRecvUpdate_DeliversUpdate(t *testing.T) {
	stream := &fakeOpenStream{updates: make(chan *lnrpc.OpenStatusUpdate, 1)}
	stream.updates <- &lnrpc.OpenStatusUpdate{}

	parked := &fundingStream{stream: stream, cancel: func() {}}
	update, err := recvUpdate(context.Background(), parked)
	require.NoError(t, err)
	require.NotNil(t, update)
}

func TestRecvUpdate_HonorsCallerDeadline(t *testing.T) {
	// The peer acked the shim and then went silent: Recv never returns.
	stream := &fakeOpenStream{updates: make(chan *lnrpc.OpenStatusUpdate)}

	var cancelled atomic.Bool
	parked := &fundingStream{stream: stream, cancel: func() { cancelled.Store(true) }}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := recvUpdate(ctx, parked)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.True(t, cancelled.Load(), "a timed-out wait must tear the stream down")

	close(stream.updates)
}
