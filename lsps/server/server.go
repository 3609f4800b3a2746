// Package server runs the LSPS message loop: it decodes inbound custom
// messages, dispatches requests to registered method handlers and routes
// responses back to their waiting callers.
package server

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/Blockstream/cln-lsps/logger"
	"github.com/Blockstream/cln-lsps/lsps/common"
	"github.com/Blockstream/cln-lsps/lsps/transport"
)

// HandlerFunc answers a single JSON-RPC method. It returns either a result
// or an error payload, never both.
type HandlerFunc func(ctx context.Context, peer common.NodeID, params json.RawMessage) (any, *common.ErrorData)

// Server owns the inbound message loop. Every valid request produces exactly
// one response; frames that are not ours are dropped without a reply.
type Server struct {
	transport transport.Transport
	caller    *transport.Caller

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewServer creates a server. caller may be nil when the node never issues
// outbound requests of its own.
func NewServer(tr transport.Transport, caller *transport.Caller) *Server {
	return &Server{
		transport: tr,
		caller:    caller,
		handlers:  make(map[string]HandlerFunc),
	}
}

// RegisterMethod binds a handler to a JSON-RPC method name.
func (s *Server) RegisterMethod(method string, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = handler
}

func (s *Server) lookup(method string) (HandlerFunc, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handlers[method]
	return h, ok
}

// Run consumes custom messages until ctx is cancelled. Each message is
// handled on its own goroutine so a slow handler cannot stall the loop.
func (s *Server) Run(ctx context.Context) error {
	msgs, errs, err := s.transport.SubscribeCustomMessages(ctx)
	if err != nil {
		return err
	}

	logger.Logger.Info().Msg("LSPS message loop started")

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			go s.handleMessage(ctx, msg)
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// HandleMessage processes one raw custom message synchronously. Exposed for
// tests; Run calls it through a goroutine.
func (s *Server) HandleMessage(ctx context.Context, msg transport.CustomMessage) {
	s.handleMessage(ctx, msg)
}

func (s *Server) handleMessage(ctx context.Context, msg transport.CustomMessage) {
	// Other protocol extensions share this channel. Not ours, not our
	// business.
	if !transport.IsLSPSFrame(msg.Type) {
		return
	}

	payload := msg.Data
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(payload, &envelope); err != nil {
		s.sendError(ctx, msg.PeerPubkey, common.NullId, common.ParseError("Invalid JSON"))
		return
	}

	if _, isRequest := envelope["method"]; !isRequest {
		// A response; hand it to the matcher. Unmatched responses are
		// duplicates or ghosts and must be ignored.
		if s.caller == nil || !s.caller.HandleResponse(msg.PeerPubkey, payload) {
			logger.Logger.Debug().
				Str("peer", msg.PeerPubkey).
				Msg("Dropping unmatched response")
		}
		return
	}

	s.handleRequest(ctx, msg.PeerPubkey, payload, envelope)
}

func (s *Server) handleRequest(ctx context.Context, peerPubkey string, payload []byte, envelope map[string]json.RawMessage) {
	// Best-effort id recovery: error responses echo back whatever id we
	// can find, null only when none is recoverable.
	var id common.JsonRpcId
	rawId, hasId := envelope["id"]
	if hasId {
		if err := json.Unmarshal(rawId, &id); err != nil {
			s.sendError(ctx, peerPubkey, common.NullId, common.InvalidRequest("id must be a string, number or null"))
			return
		}
	}

	var req common.JsonRpcRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(ctx, peerPubkey, id, common.InvalidRequest(err.Error()))
		return
	}
	if !hasId {
		s.sendError(ctx, peerPubkey, common.NullId, common.InvalidRequest("missing id"))
		return
	}
	if req.Jsonrpc != "2.0" {
		s.sendError(ctx, peerPubkey, id, common.InvalidRequest("jsonrpc must be \"2.0\""))
		return
	}

	peer, err := common.ParseNodeID(peerPubkey)
	if err != nil {
		logger.Logger.Warn().Err(err).
			Str("peer", peerPubkey).
			Msg("Request from peer with unparseable identity")
		s.sendError(ctx, peerPubkey, id, common.InternalError())
		return
	}

	handler, ok := s.lookup(req.Method)
	if !ok {
		s.sendError(ctx, peerPubkey, id, common.MethodNotFound(req.Method))
		return
	}

	logger.Logger.Debug().
		Str("peer", peerPubkey).
		Str("method", req.Method).
		Str("id", id.String()).
		Msg("Dispatching request")

	result, errData := handler(ctx, peer, req.Params)
	if errData != nil {
		s.sendError(ctx, peerPubkey, id, errData)
		return
	}

	resp, err := common.OkResponse(id, result)
	if err != nil {
		logger.Logger.Error().Err(err).
			Str("method", req.Method).
			Msg("Failed to marshal handler result")
		s.sendError(ctx, peerPubkey, id, common.InternalError())
		return
	}
	s.sendResponse(ctx, peerPubkey, resp)
}

func (s *Server) sendError(ctx context.Context, peerPubkey string, id common.JsonRpcId, errData *common.ErrorData) {
	s.sendResponse(ctx, peerPubkey, common.ErrResponse(id, errData))
}

func (s *Server) sendResponse(ctx context.Context, peerPubkey string, resp *common.JsonRpcResponse) {
	payload, err := json.Marshal(resp)
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to marshal response")
		return
	}
	if err := s.transport.SendCustomMessage(ctx, peerPubkey, transport.LSPSMessageType, payload); err != nil {
		logger.Logger.Error().Err(err).
			Str("peer", peerPubkey).
			Msg("Failed to send response")
	}
}
