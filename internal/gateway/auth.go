package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/KevenMor/repensare-sub001/internal/config"
)

// AuthResult is the outcome of an authentication attempt.
type AuthResult struct {
	OK     bool   `json:"ok"`
	Method string `json:"method,omitempty"` // "token"
	Reason string `json:"reason,omitempty"`
}

// ResolvedAuth holds the secrets the server checks callers against.
type ResolvedAuth struct {
	Token         string
	WebhookSecret string
}

// ResolveAuth extracts the auth secrets from config. Environment overrides
// have already been applied by the config loader.
func ResolveAuth(cfg config.ServerConfig) ResolvedAuth {
	return ResolvedAuth{
		Token:         cfg.Auth.Token,
		WebhookSecret: cfg.WebhookSecret,
	}
}

// Authorize checks the credentials of a live feed connect request.
func Authorize(serverAuth ResolvedAuth, clientAuth *ConnectAuth) AuthResult {
	if clientAuth == nil {
		return AuthResult{OK: false, Reason: "no credentials provided"}
	}
	return checkToken(serverAuth, clientAuth.Token)
}

// AuthorizeRequest checks the bearer token of an HTTP control request.
func AuthorizeRequest(serverAuth ResolvedAuth, r *http.Request) AuthResult {
	return checkToken(serverAuth, bearerToken(r))
}

func checkToken(serverAuth ResolvedAuth, token string) AuthResult {
	if serverAuth.Token == "" {
		return AuthResult{OK: false, Reason: "server token not configured"}
	}
	if token == "" {
		return AuthResult{OK: false, Reason: "token required"}
	}
	if !safeEqual(token, serverAuth.Token) {
		return AuthResult{OK: false, Reason: "token_mismatch"}
	}
	return AuthResult{OK: true, Method: "token"}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// VerifyWebhook accepts a delivery when no secret is configured, when
// X-Webhook-Token equals the secret, or when X-Hub-Signature-256 carries the
// HMAC-SHA256 of body keyed by the secret.
func VerifyWebhook(serverAuth ResolvedAuth, r *http.Request, body []byte) AuthResult {
	secret := serverAuth.WebhookSecret
	if secret == "" {
		return AuthResult{OK: true, Method: "none"}
	}

	if tok := r.Header.Get("X-Webhook-Token"); tok != "" {
		if safeEqual(tok, secret) {
			return AuthResult{OK: true, Method: "token"}
		}
		return AuthResult{OK: false, Reason: "token_mismatch"}
	}

	sig := r.Header.Get("X-Hub-Signature-256")
	if sig == "" {
		return AuthResult{OK: false, Reason: "signature required"}
	}
	got, err := hex.DecodeString(strings.TrimPrefix(sig, "sha256="))
	if err != nil {
		return AuthResult{OK: false, Reason: "malformed signature"}
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return AuthResult{OK: false, Reason: "signature_mismatch"}
	}
	return AuthResult{OK: true, Method: "signature"}
}

// safeEqual performs a constant-time string comparison to prevent timing attacks.
// It avoids early-return on length mismatch to prevent leaking secret length via timing.
func safeEqual(a, b string) bool {
	lenMatch := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	cmp := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(lenMatch, cmp, 0) == 1
}
