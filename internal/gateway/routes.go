package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/KevenMor/repensare-sub001/internal/domain"
	"github.com/KevenMor/repensare-sub001/internal/ingest"
	"github.com/KevenMor/repensare-sub001/internal/store"
)

// rpcTimeout bounds store work done on behalf of a feed client.
const rpcTimeout = 10 * time.Second

// defaultListLimit caps conversation listings when the caller gives no limit.
const defaultListLimit = 50

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /webhook", s.handleWebhook)

	mux.HandleFunc("GET /conversations", s.requireAuth(s.handleListConversations))
	mux.HandleFunc("GET /conversations/{contactId}", s.requireAuth(s.handleGetConversation))
	mux.HandleFunc("POST /conversations/{contactId}/stage", s.requireAuth(s.handleSetStage))
	mux.HandleFunc("POST /conversations/{contactId}/ai", s.requireAuth(s.handleSetAI))

	if s.media != nil {
		mux.Handle("GET /media/", s.media)
	}

	mux.HandleFunc("GET /ws", s.handleWebSocket)

	// Catch-all for unknown routes
	mux.HandleFunc("/", handleNotFound)
}

// registerRPCHandlers sets up all JSON-RPC method handlers.
func (s *Server) registerRPCHandlers() {
	s.Handle("health", s.rpcHealth)
	s.Handle("feed.subscribe", s.rpcFeedSubscribe)
	if s.convs == nil {
		return
	}
	s.Handle("conversations.get", s.rpcConversationGet)
	s.Handle("conversations.setStage", s.rpcSetStage)
	s.Handle("conversations.setAI", s.rpcSetAI)
	if s.lister != nil {
		s.Handle("conversations.list", s.rpcConversationList)
	}
}

// Built-in RPC handlers

func (s *Server) rpcHealth(rc *RequestContext) {
	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	defer cancel()
	rc.Respond(s.health(ctx, true))
}

type subscribeParams struct {
	ContactIDs []string `json:"contactIds"`
}

// rpcFeedSubscribe narrows the caller's feed to some conversations; an empty
// list follows all of them again.
func (s *Server) rpcFeedSubscribe(rc *RequestContext) {
	var p subscribeParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	rc.Client.Follow(p.ContactIDs)
	rc.Respond(map[string]any{"contactIds": p.ContactIDs})
}

type conversationParams struct {
	ContactID string `json:"contactId"`
}

func (s *Server) rpcConversationGet(rc *RequestContext) {
	var p conversationParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if p.ContactID == "" {
		rc.RespondError("invalid_params", "contactId is required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	defer cancel()
	conv, err := s.convs.Get(ctx, p.ContactID)
	if err != nil {
		rc.RespondError(errorCode(err), err.Error())
		return
	}
	rc.Respond(conv)
}

type listParams struct {
	Limit int `json:"limit,omitempty"`
}

func (s *Server) rpcConversationList(rc *RequestContext) {
	var p listParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	defer cancel()
	convs, err := s.lister.ListConversations(ctx, listLimit(p.Limit))
	if err != nil {
		rc.RespondError(errorCode(err), err.Error())
		return
	}
	rc.Respond(map[string]any{"conversations": convs})
}

type setStageParams struct {
	ContactID string       `json:"contactId"`
	Stage     domain.Stage `json:"stage"`
}

func (s *Server) rpcSetStage(rc *RequestContext) {
	var p setStageParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if p.ContactID == "" {
		rc.RespondError("invalid_params", "contactId is required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	defer cancel()
	conv, err := s.convs.SetStage(ctx, p.ContactID, p.Stage)
	if err != nil {
		rc.RespondError(errorCode(err), err.Error())
		return
	}
	rc.Respond(conv)
}

type setAIParams struct {
	ContactID string `json:"contactId"`
	Enabled   *bool  `json:"enabled,omitempty"`
	Paused    *bool  `json:"paused,omitempty"`
}

func (s *Server) rpcSetAI(rc *RequestContext) {
	var p setAIParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if p.ContactID == "" {
		rc.RespondError("invalid_params", "contactId is required")
		return
	}
	if p.Enabled == nil && p.Paused == nil {
		rc.RespondError("invalid_params", "enabled or paused is required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	defer cancel()
	conv, err := s.convs.SetAI(ctx, p.ContactID, p.Enabled, p.Paused)
	if err != nil {
		rc.RespondError(errorCode(err), err.Error())
		return
	}
	rc.Respond(conv)
}

// errorCode maps service errors onto RPC error codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, ingest.ErrInvalidStage), errors.Is(err, ingest.ErrInvalidStatus):
		return "invalid_params"
	default:
		return "internal_error"
	}
}

// httpStatus maps service errors onto HTTP status codes.
func httpStatus(err error) int {
	switch errorCode(err) {
	case "not_found":
		return http.StatusNotFound
	case "invalid_params":
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func listLimit(n int) int {
	if n <= 0 || n > 500 {
		return defaultListLimit
	}
	return n
}
