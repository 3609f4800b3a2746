// Package lsps0 implements the LSPS0 base protocol: protocol discovery over
// the shared JSON-RPC custom-message channel.
package lsps0

// Method names for LSPS0.
const (
	MethodListProtocols = "lsps0.list_protocols"
)

// ListProtocolsResponse contains the list of supported LSPS protocols.
type ListProtocolsResponse struct {
	Protocols []int `json:"protocols"`
}
