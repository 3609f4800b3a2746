package lsps0

import (
	"context"
	"encoding/json"

	"github.com/Blockstream/cln-lsps/lsps/common"
)

// ServiceHandler answers LSPS0 requests from clients.
type ServiceHandler struct {
	protocols []int
}

// NewServiceHandler creates a handler advertising the given protocol numbers.
func NewServiceHandler(protocols []int) *ServiceHandler {
	return &ServiceHandler{protocols: protocols}
}

// HandleListProtocols answers lsps0.list_protocols. The params must be an
// empty object.
func (h *ServiceHandler) HandleListProtocols(ctx context.Context, peer common.NodeID, params json.RawMessage) (any, *common.ErrorData) {
	var noParams common.NoParams
	if errData := common.DecodeParams(params, &noParams); errData != nil {
		return nil, errData
	}
	protocols := h.protocols
	if protocols == nil {
		protocols = []int{}
	}
	return &ListProtocolsResponse{Protocols: protocols}, nil
}
