// Package transport moves LSPS messages over Lightning Network custom
// messages and matches responses to in-flight requests.
package transport

import (
	"context"
	"fmt"

	"github.com/Blockstream/cln-lsps/lnclient"
)

// CustomMessage is a BOLT8 custom message as delivered by the node backend.
// Type is the BOLT8 message type and Data the bare payload; for LSPS traffic
// Data is pure JSON with no type prefix.
type CustomMessage struct {
	PeerPubkey string
	Type       uint32
	Data       []byte
}

// MessageSender sends custom messages to peers.
type MessageSender interface {
	SendCustomMessage(ctx context.Context, peerPubkey string, msgType uint32, data []byte) error
}

// MessageReceiver receives custom messages from peers.
type MessageReceiver interface {
	SubscribeCustomMessages(ctx context.Context) (<-chan CustomMessage, <-chan error, error)
}

// Transport combines sending and receiving capabilities.
type Transport interface {
	MessageSender
	MessageReceiver
}

// LNDTransport implements Transport on top of an lnclient.LNClient.
type LNDTransport struct {
	lnClient lnclient.LNClient
}

func NewLNDTransport(lnClient lnclient.LNClient) *LNDTransport {
	return &LNDTransport{
		lnClient: lnClient,
	}
}

func (t *LNDTransport) SendCustomMessage(ctx context.Context, peerPubkey string, msgType uint32, data []byte) error {
	if len(data) > 65535 {
		return fmt.Errorf("message too large: %d bytes (max 65535)", len(data))
	}
	return t.lnClient.SendCustomMessage(ctx, peerPubkey, msgType, data)
}

func (t *LNDTransport) SubscribeCustomMessages(ctx context.Context) (<-chan CustomMessage, <-chan error, error) {
	msgChan, errChan, err := t.lnClient.SubscribeCustomMessages(ctx)
	if err != nil {
		return nil, nil, err
	}

	transportMsgChan := make(chan CustomMessage, 100)

	go func() {
		defer close(transportMsgChan)
		for {
			select {
			case msg, ok := <-msgChan:
				if !ok {
					return
				}
				transportMsgChan <- CustomMessage{
					PeerPubkey: msg.PeerPubkey,
					Type:       msg.Type,
					Data:       msg.Data,
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return transportMsgChan, errChan, nil
}

// InbandTransport adapts a backend whose wire payload carries the two-byte
// message type inline (CLN's custommsg API works this way) to the
// out-of-band CustomMessage contract the rest of the stack speaks. Outbound
// payloads get the type prepended; inbound frames are split so consumers see
// the type in CustomMessage.Type and pure JSON in Data. Frames too short to
// carry a type are dropped.
type InbandTransport struct {
	inner Transport
}

func NewInbandTransport(inner Transport) *InbandTransport {
	return &InbandTransport{inner: inner}
}

func (t *InbandTransport) SendCustomMessage(ctx context.Context, peerPubkey string, msgType uint32, data []byte) error {
	return t.inner.SendCustomMessage(ctx, peerPubkey, msgType, EncodeFrame(msgType, data))
}

func (t *InbandTransport) SubscribeCustomMessages(ctx context.Context) (<-chan CustomMessage, <-chan error, error) {
	msgChan, errChan, err := t.inner.SubscribeCustomMessages(ctx)
	if err != nil {
		return nil, nil, err
	}

	framedChan := make(chan CustomMessage, 100)

	go func() {
		defer close(framedChan)
		for {
			select {
			case msg, ok := <-msgChan:
				if !ok {
					return
				}
				msgType, payload, err := DecodeFrame(msg.Data)
				if err != nil {
					continue
				}
				framedChan <- CustomMessage{
					PeerPubkey: msg.PeerPubkey,
					Type:       msgType,
					Data:       payload,
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return framedChan, errChan, nil
}
