// Package whatsapp is a client for the hosted WhatsApp gateway HTTP API.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/KevenMor/repensare-sub001/internal/domain"
	"github.com/KevenMor/repensare-sub001/internal/logging"
)

// ErrMissingCredentials is returned when the instance id or token is unset.
var ErrMissingCredentials = errors.New("whatsapp: gateway credentials incomplete")

// APIError is a non-2xx answer from the gateway.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whatsapp: API error (%d): %s", e.Status, e.Body)
}

// SendResult identifies a message accepted by the gateway.
type SendResult struct {
	MessageID string `json:"messageId"`
	ZaapID    string `json:"zaapId,omitempty"`
}

// Status is the connection state of the gateway instance.
type Status struct {
	Connected           bool   `json:"connected"`
	SmartphoneConnected bool   `json:"smartphoneConnected"`
	Error               string `json:"error,omitempty"`
}

// Sender relays text to a contact.
type Sender interface {
	SendText(ctx context.Context, phone, text string) (SendResult, error)
}

// Options tunes gateway clients.
type Options struct {
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
}

// Client talks to one gateway instance.
type Client struct {
	endpoint    string
	clientToken string
	http        *http.Client
	limiter     *rate.Limiter
	log         *logging.Logger
}

// New creates a client for the instance named by creds.
func New(creds domain.GatewayCredentials, opts Options, log *logging.Logger) (*Client, error) {
	return newClient(creds, opts, newLimiter(opts), log)
}

func newClient(creds domain.GatewayCredentials, opts Options, limiter *rate.Limiter, log *logging.Logger) (*Client, error) {
	if !creds.Complete() {
		return nil, ErrMissingCredentials
	}
	base := creds.BaseURL
	if base == "" {
		base = opts.BaseURL
	}
	if base == "" {
		base = "https://api.z-api.io"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		endpoint: fmt.Sprintf("%s/instances/%s/token/%s",
			strings.TrimRight(base, "/"), url.PathEscape(creds.Instance), url.PathEscape(creds.Token)),
		clientToken: creds.ClientToken,
		http:        &http.Client{Timeout: timeout},
		limiter:     limiter,
		log:         log.Sub("whatsapp"),
	}, nil
}

func newLimiter(opts Options) *rate.Limiter {
	if opts.RatePerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
}

// Factory builds a Sender from the credentials current at call time.
type Factory func(creds domain.GatewayCredentials) (Sender, error)

// NewFactory returns a Factory whose clients share one send limiter.
func NewFactory(opts Options, log *logging.Logger) Factory {
	limiter := newLimiter(opts)
	return func(creds domain.GatewayCredentials) (Sender, error) {
		return newClient(creds, opts, limiter, log)
	}
}

// SendText sends a plain text message to phone.
func (c *Client) SendText(ctx context.Context, phone, text string) (SendResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return SendResult{}, fmt.Errorf("rate limit wait: %w", err)
	}

	payload, err := json.Marshal(map[string]string{"phone": phone, "message": text})
	if err != nil {
		return SendResult{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	var out struct {
		ZaapID    string `json:"zaapId"`
		MessageID string `json:"messageId"`
		ID        string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/send-text", payload, &out); err != nil {
		return SendResult{}, err
	}

	res := SendResult{MessageID: out.MessageID, ZaapID: out.ZaapID}
	if res.MessageID == "" {
		res.MessageID = out.ID
	}
	c.log.Debug().Str("phone", phone).Str("messageId", res.MessageID).Msg("text sent")
	return res, nil
}

// Status reports the instance connection state.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.do(ctx, http.MethodGet, "/status", nil, &st)
	return st, err
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.clientToken != "" {
		req.Header.Set("Client-Token", c.clientToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Body: string(respBody)}
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
