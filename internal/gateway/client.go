package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/KevenMor/repensare-sub001/internal/logging"
)

// writeTimeout bounds a single frame write so a stalled panel cannot block
// delivery to the others.
const writeTimeout = 10 * time.Second

// Client is an authenticated live feed connection, usually a CRM panel tab.
type Client struct {
	ConnID      string
	Info        ClientInfo
	Socket      *websocket.Conn
	AuthResult  AuthResult
	ConnectedAt time.Time

	mu       sync.Mutex
	closed   bool
	contacts map[string]struct{} // nil: every conversation
}

func NewClient(conn *websocket.Conn, info ClientInfo, authResult AuthResult) *Client {
	return &Client{
		ConnID:      uuid.NewString(),
		Info:        info,
		Socket:      conn,
		AuthResult:  authResult,
		ConnectedAt: time.Now(),
	}
}

// Follow limits the feed to the given conversations. An empty list restores
// the full feed.
func (c *Client) Follow(contactIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(contactIDs) == 0 {
		c.contacts = nil
		return
	}
	c.contacts = make(map[string]struct{}, len(contactIDs))
	for _, id := range contactIDs {
		c.contacts[id] = struct{}{}
	}
}

// Wants reports whether an event about contactID should reach this client.
// Events without a contact (server lifecycle) go to everyone.
func (c *Client) Wants(contactID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.contacts == nil || contactID == "" {
		return true
	}
	_, ok := c.contacts[contactID]
	return ok
}

// Send writes one frame. Safe for concurrent use.
func (c *Client) Send(frame Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	c.Socket.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.Socket.WriteJSON(frame)
}

func (c *Client) SendEvent(event string, payload any, seq int64) error {
	f, err := NewEvent(event, payload, seq)
	if err != nil {
		return err
	}
	return c.Send(f)
}

func (c *Client) Respond(reqID string, payload any) error {
	f, err := NewResponse(reqID, payload)
	if err != nil {
		return err
	}
	return c.Send(f)
}

func (c *Client) RespondError(reqID string, errShape ErrorShape) error {
	return c.Send(NewErrorResponse(reqID, errShape))
}

// ReadFrame blocks for the next frame from the panel.
func (c *Client) ReadFrame() (Frame, error) {
	_, msg, err := c.Socket.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Close is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.Socket == nil {
		return nil
	}
	return c.Socket.Close()
}

// ClientRegistry tracks live feed connections by connection id.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     *logging.Logger
}

func NewClientRegistry(log *logging.Logger) *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*Client),
		log:     log,
	}
}

func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	r.clients[c.ConnID] = c
	r.mu.Unlock()
	r.log.Info().Str("connId", c.ConnID).Str("client", c.Info.ID).Msg("feed client connected")
}

func (r *ClientRegistry) Remove(connID string) {
	r.mu.Lock()
	_, ok := r.clients[connID]
	delete(r.clients, connID)
	r.mu.Unlock()
	if ok {
		r.log.Info().Str("connId", connID).Msg("feed client disconnected")
	}
}

func (r *ClientRegistry) Get(connID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[connID]
	return c, ok
}

func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// snapshot copies the client list so writes happen without the registry lock.
func (r *ClientRegistry) snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// Publish sends an event about contactID to every client following it and
// returns how many received it. A client whose write fails is dropped; its
// read loop then ends and the panel reconnects.
func (r *ClientRegistry) Publish(event, contactID string, payload any, seq int64) int {
	sent := 0
	for _, c := range r.snapshot() {
		if !c.Wants(contactID) {
			continue
		}
		if err := c.SendEvent(event, payload, seq); err != nil {
			r.log.Warn().Err(err).Str("connId", c.ConnID).Str("event", event).Msg("feed send failed, dropping client")
			c.Close()
			r.Remove(c.ConnID)
			continue
		}
		sent++
	}
	return sent
}

func (r *ClientRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.clients {
		c.Close()
		delete(r.clients, id)
	}
}
