package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/KevenMor/repensare-sub001/internal/config"
	"github.com/KevenMor/repensare-sub001/internal/domain"
	"github.com/KevenMor/repensare-sub001/internal/hooks"
	"github.com/KevenMor/repensare-sub001/internal/ingest"
	"github.com/KevenMor/repensare-sub001/internal/logging"
	"github.com/KevenMor/repensare-sub001/internal/version"
)

var ErrClientClosed = errors.New("client connection closed")

// WebhookHandler processes one raw webhook body.
type WebhookHandler interface {
	Handle(ctx context.Context, raw []byte) (ingest.Outcome, error)
}

// ConversationService runs the conversation control actions.
type ConversationService interface {
	Get(ctx context.Context, contactID string) (*domain.Conversation, error)
	SetStage(ctx context.Context, contactID string, stage domain.Stage) (*domain.Conversation, error)
	SetAI(ctx context.Context, contactID string, enabled, paused *bool) (*domain.Conversation, error)
}

// ConversationLister lists conversations, most recent first.
type ConversationLister interface {
	ListConversations(ctx context.Context, limit int) ([]*domain.Conversation, error)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the repensare HTTP + WebSocket server.
type Server struct {
	cfg      config.ServerConfig
	auth     ResolvedAuth
	log      *logging.Logger
	clients  *ClientRegistry
	handlers map[string]RequestHandler
	version  string
	eventSeq atomic.Int64

	webhook WebhookHandler
	convs   ConversationService
	lister  ConversationLister
	store   Pinger
	media   http.Handler
	hooks   *hooks.Manager

	startedAt   time.Time
	httpServer  *http.Server
	upgrader    websocket.Upgrader
	authLimiter *authRateLimiter
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithWebhook sets the handler behind POST /webhook.
func WithWebhook(h WebhookHandler) ServerOption {
	return func(s *Server) {
		s.webhook = h
	}
}

// WithConversations enables the conversation control endpoints.
func WithConversations(svc ConversationService, lister ConversationLister) ServerOption {
	return func(s *Server) {
		s.convs = svc
		s.lister = lister
	}
}

// WithStore lets /health check the durable store.
func WithStore(p Pinger) ServerOption {
	return func(s *Server) {
		s.store = p
	}
}

// WithMedia serves locally stored media files under /media/.
func WithMedia(h http.Handler) ServerOption {
	return func(s *Server) {
		s.media = h
	}
}

// WithHooks sets the hook manager; its events are relayed to live feed clients.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) {
		s.hooks = hm
	}
}

// New creates a new server.
func New(cfg config.ServerConfig, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:         cfg,
		auth:        ResolveAuth(cfg),
		log:         log.Sub("gateway"),
		clients:     NewClientRegistry(log.Sub("clients")),
		handlers:    make(map[string]RequestHandler),
		version:     version.Version,
		authLimiter: newAuthRateLimiter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.AllowedOrigins),
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	s.registerRPCHandlers()
	if s.hooks != nil {
		s.hooks.OnAll("gateway.feed", s.relayHookEvent)
	}
	return s
}

// checkWebSocketOrigin returns a function that validates WebSocket Origin headers.
// If no origins are configured, only same-origin (no Origin header) or non-browser
// clients are allowed. If origins are configured, the Origin must match one of them.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Same-origin or non-browser clients
		}
		return isOriginAllowed(origin, allowed)
	}
}

// Handle registers an RPC method handler.
func (s *Server) Handle(method string, handler RequestHandler) {
	s.handlers[method] = handler
}

// Methods returns the list of registered RPC method names.
func (s *Server) Methods() []string {
	methods := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		methods = append(methods, m)
	}
	return methods
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.ServerConfig) string {
	switch cfg.Bind {
	case "loopback":
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	case "lan":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return fmt.Sprintf("%s:%d", host, cfg.Port)
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Handler returns the full HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)
	return withMiddleware(mux, s.log, s.cfg.AllowedOrigins)
}

// Start begins listening for HTTP and WebSocket connections.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Webhook responses wait for the auto-reply round trip.
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(l net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.startedAt = time.Now()

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Bind).
		Bool("webhookSecret", s.auth.WebhookSecret != "").
		Bool("media", s.media != nil).
		Int("methods", len(s.handlers)).
		Msg("server ready")

	if s.hooks != nil {
		s.hooks.Emit(ctx, hooks.EventServerStart, map[string]any{
			"addr": ln.Addr().String(),
		})
	}

	// Shutdown when context is cancelled
	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down server")
		if s.hooks != nil {
			s.hooks.Emit(context.Background(), hooks.EventServerStop, nil)
			s.hooks.OffAll("gateway.feed")
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.clients.CloseAll()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the server's listen address, or empty string if not started.
func (s *Server) Addr() string {
	if s.httpServer != nil {
		return s.httpServer.Addr
	}
	return ""
}

// relayHookEvent forwards a hook event to the feed clients following its
// conversation.
func (s *Server) relayHookEvent(_ context.Context, p hooks.Payload) error {
	if s.clients.Count() == 0 {
		return nil
	}
	s.clients.Publish(feedEventName(p.Event), p.ContactID(), p.Data, s.eventSeq.Add(1))
	return nil
}

// handleWebSocket upgrades HTTP to WebSocket and runs the connection loop.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Rate-limit connection attempts per IP
	if !s.authLimiter.allow(r.RemoteAddr) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("rate limited: too many failed auth attempts")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn.SetReadLimit(maxFramePayload)

	s.log.Debug().Str("remote", r.RemoteAddr).Msg("new websocket connection")

	client, err := s.handshake(conn)
	if err != nil {
		s.log.Warn().Err(err).Msg("handshake failed")
		s.authLimiter.recordFailure(r.RemoteAddr)
		conn.Close()
		return
	}

	s.clients.Add(client)
	defer func() {
		s.clients.Remove(client.ConnID)
		client.Close()
	}()

	s.readLoop(client)
}

// handshake performs the WebSocket authentication handshake.
// Flow: server sends challenge, client sends connect, server validates and sends hello-ok.
func (s *Server) handshake(conn *websocket.Conn) (*Client, error) {
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	nonce := uuid.New().String()
	challenge, err := NewEvent(EventConnectChallenge, map[string]any{
		"nonce": nonce,
		"ts":    time.Now().UnixMilli(),
	}, 0)
	if err != nil {
		return nil, fmt.Errorf("creating challenge: %w", err)
	}
	if err := conn.WriteJSON(challenge); err != nil {
		return nil, fmt.Errorf("sending challenge: %w", err)
	}

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("reading connect: %w", err)
	}

	var frame Frame
	if err := json.Unmarshal(msg, &frame); err != nil {
		return nil, fmt.Errorf("parsing connect frame: %w", err)
	}

	if frame.Type != FrameTypeRequest || frame.Method != "connect" {
		sendErrorAndClose(conn, frame.ID, "protocol_error", "expected connect request")
		return nil, fmt.Errorf("expected connect request, got type=%s method=%s", frame.Type, frame.Method)
	}

	var params ConnectParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		sendErrorAndClose(conn, frame.ID, "invalid_params", "invalid connect params")
		return nil, fmt.Errorf("parsing connect params: %w", err)
	}

	authResult := Authorize(s.auth, params.Auth)
	if !authResult.OK {
		sendErrorAndClose(conn, frame.ID, "unauthorized", authResult.Reason)
		return nil, fmt.Errorf("auth failed: %s", authResult.Reason)
	}

	conn.SetReadDeadline(time.Time{})

	client := NewClient(conn, params.Client, authResult)

	hello := HelloOK{
		Protocol: ProtocolVersion,
		Server: ServerInfo{
			Version: s.version,
			Commit:  version.Commit,
			ConnID:  client.ConnID,
		},
		Features: Features{
			Methods: s.Methods(),
			Events:  FeedEvents(),
		},
		Policy: ServerPolicy{
			MaxPayload:     maxFramePayload,
			TickIntervalMs: 30000,
		},
	}

	resp, err := NewResponse(frame.ID, hello)
	if err != nil {
		return nil, fmt.Errorf("creating hello response: %w", err)
	}
	if err := conn.WriteJSON(resp); err != nil {
		return nil, fmt.Errorf("sending hello: %w", err)
	}

	s.log.Info().
		Str("connId", client.ConnID).
		Str("clientId", params.Client.ID).
		Str("clientVersion", params.Client.Version).
		Msg("feed client authenticated")

	return client, nil
}

// readLoop processes incoming frames from an authenticated client.
func (s *Server) readLoop(client *Client) {
	for {
		frame, err := client.ReadFrame()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Str("connId", client.ConnID).Msg("client closed connection")
			} else {
				s.log.Warn().Err(err).Str("connId", client.ConnID).Msg("read error")
			}
			return
		}

		if frame.Type != FrameTypeRequest {
			s.log.Debug().Str("type", frame.Type).Msg("ignoring non-request frame")
			continue
		}

		s.dispatch(client, frame)
	}
}

// dispatch routes a request frame to the appropriate handler.
func (s *Server) dispatch(client *Client, frame Frame) {
	handler, ok := s.handlers[frame.Method]
	if !ok {
		client.RespondError(frame.ID, ErrorShape{
			Code:    "method_not_found",
			Message: "unknown method: " + frame.Method,
		})
		return
	}

	handler(&RequestContext{
		Client: client,
		Frame:  frame,
		Server: s,
	})
}

// sendErrorAndClose sends an error response and closes the connection.
func sendErrorAndClose(conn *websocket.Conn, reqID, code, message string) {
	conn.WriteJSON(NewErrorResponse(reqID, ErrorShape{
		Code:    code,
		Message: message,
	}))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, message))
}
