package lsps0

import (
	"context"

	"github.com/Blockstream/cln-lsps/lsps/common"
	"github.com/Blockstream/cln-lsps/lsps/transport"
)

// ClientHandler issues LSPS0 requests to a remote LSP.
type ClientHandler struct {
	caller *transport.Caller
}

// NewClientHandler creates a new LSPS0 client handler.
func NewClientHandler(caller *transport.Caller) *ClientHandler {
	return &ClientHandler{caller: caller}
}

// ListProtocols requests the list of supported protocols from the LSP.
func (h *ClientHandler) ListProtocols(ctx context.Context, peerPubkey string) ([]int, error) {
	var result ListProtocolsResponse
	err := h.caller.Call(ctx, peerPubkey, MethodListProtocols, common.NoParams{}, &result)
	if err != nil {
		return nil, err
	}
	return result.Protocols, nil
}
