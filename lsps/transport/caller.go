package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Blockstream/cln-lsps/lsps/common"
)

// Caller issues JSON-RPC requests over the transport and waits for the
// matched response. Responses are fed in by whoever owns the message loop
// via HandleResponse.
type Caller struct {
	transport Transport
	matcher   *Matcher
}

func NewCaller(transport Transport) *Caller {
	return &Caller{
		transport: transport,
		matcher:   NewMatcher(),
	}
}

// Call sends a request to peer and decodes the matched response result into
// result. A JSON-RPC error response is returned as *common.ErrorData. The
// pending entry is registered before the message leaves so a fast response
// cannot be lost, and cleaned up on cancellation.
func (c *Caller) Call(ctx context.Context, peer string, method string, params any, result any) error {
	req, err := common.NewRequest(method, params)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	pending := c.matcher.Register(NewRequestID(peer, req.Id))

	if err := c.transport.SendCustomMessage(ctx, peer, LSPSMessageType, payload); err != nil {
		pending.Cancel()
		return fmt.Errorf("failed to send request: %w", err)
	}

	raw, err := pending.Wait(ctx)
	if err != nil {
		return err
	}

	var resp common.JsonRpcResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if result != nil {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("failed to decode result: %w", err)
		}
	}
	return nil
}

// HandleResponse routes a raw response envelope to the pending request it
// answers. Unmatched responses are reported as false and must be ignored by
// the caller.
func (c *Caller) HandleResponse(peer string, raw json.RawMessage) bool {
	var probe struct {
		Id common.JsonRpcId `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return c.matcher.Resolve(NewRequestID(peer, probe.Id), raw)
}

// PendingCount exposes the number of in-flight requests.
func (c *Caller) PendingCount() int {
	return c.matcher.PendingCount()
}
