package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/KevenMor/repensare-sub001/internal/domain"
	"github.com/KevenMor/repensare-sub001/internal/ingest"
)

// maxWebhookBody caps a webhook delivery. Media arrives by URL, so bodies are small.
const maxWebhookBody = 1 << 20

// HealthResponse is returned by health endpoints. The public HTTP endpoint
// only populates Status; the authenticated RPC handler populates all fields.
type HealthResponse struct {
	Status  string `json:"status"`
	Store   string `json:"store,omitempty"`
	Version string `json:"version,omitempty"`
	Clients int    `json:"clients,omitempty"`
	Uptime  string `json:"uptime,omitempty"`
}

func (s *Server) health(ctx context.Context, detailed bool) HealthResponse {
	resp := HealthResponse{Status: "ok"}
	if s.store != nil {
		resp.Store = "ok"
		if err := s.store.Ping(ctx); err != nil {
			s.log.Warn().Err(err).Msg("store ping failed")
			resp.Status = "degraded"
			resp.Store = "unreachable"
		}
	}
	if detailed {
		resp.Version = s.version
		resp.Clients = s.clients.Count()
		if !s.startedAt.IsZero() {
			resp.Uptime = time.Since(s.startedAt).Round(time.Second).String()
		}
	}
	return resp
}

// handleHealth returns the server health status. Only status is exposed
// publicly; detailed info is available via the authenticated RPC health method.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := s.health(r.Context(), false)
	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// webhookResponse is the body acknowledging a delivery.
type webhookResponse struct {
	Success   bool                     `json:"success,omitempty"`
	Ignored   bool                     `json:"ignored,omitempty"`
	Duplicate bool                     `json:"duplicate,omitempty"`
	Reason    string                   `json:"reason,omitempty"`
	MessageID string                   `json:"messageId,omitempty"`
	Reaction  *ingest.ReactionResult   `json:"reaction,omitempty"`
	AutoReply *ingest.AutoReplyOutcome `json:"autoReply,omitempty"`
}

// handleWebhook accepts one gateway delivery. Anything that was handled,
// including events deliberately dropped, is acknowledged with 200 so the
// gateway does not redeliver; only persistence failures return 500.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.webhook == nil {
		writeError(w, http.StatusServiceUnavailable, "webhook processing not configured")
		return
	}
	if !s.authLimiter.allow(r.RemoteAddr) {
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "reading body: "+err.Error())
		return
	}

	if res := VerifyWebhook(s.auth, r, body); !res.OK {
		s.authLimiter.recordFailure(r.RemoteAddr)
		s.log.Warn().Str("remote", r.RemoteAddr).Str("reason", res.Reason).Msg("webhook rejected")
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	out, err := s.webhook.Handle(r.Context(), body)
	if err != nil {
		s.log.Error().Err(err).Str("contact", out.ContactID).Str("requestId", RequestID(r.Context())).Msg("webhook processing failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, webhookResponseFor(out))
}

func webhookResponseFor(out ingest.Outcome) webhookResponse {
	switch out.State {
	case ingest.StateIgnored, ingest.StateSkipped:
		return webhookResponse{Ignored: true, Reason: out.Reason}
	case ingest.StateDeduped:
		return webhookResponse{Success: true, Duplicate: true, MessageID: out.MessageID}
	case ingest.StateReaction:
		return webhookResponse{Success: true, MessageID: out.MessageID, Reaction: out.Reaction}
	default:
		return webhookResponse{Success: true, MessageID: out.MessageID, AutoReply: out.AutoReply}
	}
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	if s.lister == nil {
		writeError(w, http.StatusServiceUnavailable, "conversations not configured")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	convs, err := s.lister.ListConversations(r.Context(), listLimit(limit))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if convs == nil {
		convs = []*domain.Conversation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	if s.convs == nil {
		writeError(w, http.StatusServiceUnavailable, "conversations not configured")
		return
	}
	conv, err := s.convs.Get(r.Context(), r.PathValue("contactId"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleSetStage(w http.ResponseWriter, r *http.Request) {
	if s.convs == nil {
		writeError(w, http.StatusServiceUnavailable, "conversations not configured")
		return
	}
	var body struct {
		Stage domain.Stage `json:"stage"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	conv, err := s.convs.SetStage(r.Context(), r.PathValue("contactId"), body.Stage)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleSetAI(w http.ResponseWriter, r *http.Request) {
	if s.convs == nil {
		writeError(w, http.StatusServiceUnavailable, "conversations not configured")
		return
	}
	var body struct {
		Enabled *bool `json:"enabled"`
		Paused  *bool `json:"paused"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Enabled == nil && body.Paused == nil {
		writeError(w, http.StatusBadRequest, "enabled or paused is required")
		return
	}
	conv, err := s.convs.SetAI(r.Context(), r.PathValue("contactId"), body.Enabled, body.Paused)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// requireAuth rejects requests without a valid bearer token.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authLimiter.allow(r.RemoteAddr) {
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		if res := AuthorizeRequest(s.auth, r); !res.OK {
			s.authLimiter.recordFailure(r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, res.Reason)
			return
		}
		next(w, r)
	}
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	status := httpStatus(err)
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("conversation request failed")
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	if err := dec.Decode(target); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "not found",
		"path":  r.URL.Path,
	})
}

// RequestHandler processes an incoming RPC request frame from a client.
type RequestHandler func(ctx *RequestContext)

// RequestContext carries everything a handler needs.
type RequestContext struct {
	Client *Client
	Frame  Frame
	Server *Server
}

// Respond sends a success response.
func (rc *RequestContext) Respond(payload any) {
	if err := rc.Client.Respond(rc.Frame.ID, payload); err != nil {
		rc.Server.log.Warn().Err(err).Str("method", rc.Frame.Method).Msg("failed to send response")
	}
}

// RespondError sends an error response.
func (rc *RequestContext) RespondError(code, message string) {
	rc.Client.RespondError(rc.Frame.ID, ErrorShape{
		Code:    code,
		Message: message,
	})
}

// Params unmarshals the request params into the given target.
func (rc *RequestContext) Params(target any) error {
	if rc.Frame.Params == nil {
		return nil
	}
	return json.Unmarshal(rc.Frame.Params, target)
}
