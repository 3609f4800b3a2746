package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Blockstream/cln-lsps/lsps/common"
)

type fakeTransport struct {
	mu      sync.Mutex
	sent    []CustomMessage
	sendErr error
	msgs    chan CustomMessage
	errs    chan error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		msgs: make(chan CustomMessage, 10),
		errs: make(chan error, 1),
	}
}

func (f *fakeTransport) SendCustomMessage(ctx context.Context, peerPubkey string, msgType uint32, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, CustomMessage{PeerPubkey: peerPubkey, Type: msgType, Data: data})
	return nil
}

func (f *fakeTransport) SubscribeCustomMessages(ctx context.Context) (<-chan CustomMessage, <-chan error, error) {
	return f.msgs, f.errs, nil
}

func (f *fakeTransport) lastSent(t *testing.T) CustomMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

// sentRequest decodes the last message sent through the fake transport. The
// payload is pure JSON; the type travels out of band.
func (f *fakeTransport) sentRequest(t *testing.T) *common.JsonRpcRequest {
	msg := f.lastSent(t)
	require.Equal(t, LSPSMessageType, msg.Type)
	require.True(t, json.Valid(msg.Data))

	var req common.JsonRpcRequest
	require.NoError(t, json.Unmarshal(msg.Data, &req))
	return &req
}

func TestCaller_CallMatchesResponse(t *testing.T) {
	tr := newFakeTransport()
	caller := NewCaller(tr)

	type result struct {
		Protocols []int `json:"protocols"`
	}

	done := make(chan error, 1)
	var got result
	go func() {
		done <- caller.Call(context.Background(), testPeer, "lsps0.list_protocols", common.NoParams{}, &got)
	}()

	// Wait for the request to be registered and sent.
	require.Eventually(t, func() bool {
		return caller.PendingCount() == 1
	}, time.Second, time.Millisecond)

	req := tr.sentRequest(t)
	require.Equal(t, "lsps0.list_protocols", req.Method)
	require.JSONEq(t, `{}`, string(req.Params))

	response := fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"result":{"protocols":[1]}}`, req.Id.Key())
	require.True(t, caller.HandleResponse(testPeer, json.RawMessage(response)))

	require.NoError(t, <-done)
	require.Equal(t, []int{1}, got.Protocols)
	require.Equal(t, 0, caller.PendingCount())
}

func TestCaller_ErrorResponse(t *testing.T) {
	tr := newFakeTransport()
	caller := NewCaller(tr)

	done := make(chan error, 1)
	go func() {
		done <- caller.Call(context.Background(), testPeer, "lsps1.get_order", map[string]string{"order_id": "x"}, nil)
	}()

	require.Eventually(t, func() bool {
		return caller.PendingCount() == 1
	}, time.Second, time.Millisecond)

	req := tr.sentRequest(t)
	response := fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"error":{"code":101,"message":"Order not found"}}`, req.Id.Key())
	require.True(t, caller.HandleResponse(testPeer, json.RawMessage(response)))

	err := <-done
	var errData *common.ErrorData
	require.ErrorAs(t, err, &errData)
	require.Equal(t, common.CodeOrderNotFound, errData.Code)
}

func TestCaller_SendFailureCleansUp(t *testing.T) {
	tr := newFakeTransport()
	tr.sendErr = errors.New("peer offline")
	caller := NewCaller(tr)

	err := caller.Call(context.Background(), testPeer, "lsps1.get_info", common.NoParams{}, nil)
	require.Error(t, err)
	require.Equal(t, 0, caller.PendingCount())
}

func TestCaller_TimeoutCleansUp(t *testing.T) {
	tr := newFakeTransport()
	caller := NewCaller(tr)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := caller.Call(ctx, testPeer, "lsps1.get_info", common.NoParams{}, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 0, caller.PendingCount())
}

func TestCaller_UnmatchedResponseIgnored(t *testing.T) {
	tr := newFakeTransport()
	caller := NewCaller(tr)

	require.False(t, caller.HandleResponse(testPeer, json.RawMessage(`{"jsonrpc":"2.0","id":"ghost","result":{}}`)))
}
