package ingest

import "errors"

// Failure classes of the ingestion and auto-reply paths. Only ErrStoreWrite
// is fatal to a webhook delivery; the rest degrade or skip.
var (
	ErrMalformedEvent  = errors.New("malformed event")
	ErrDuplicateEvent  = errors.New("duplicate event")
	ErrMediaFetch      = errors.New("media fetch failed")
	ErrReplyLookupMiss = errors.New("quoted message not found")
	ErrConfigMissing   = errors.New("auto-reply configuration missing")
	ErrCompletion      = errors.New("completion failed")
	ErrGatewayRelay    = errors.New("gateway relay failed")
	ErrStoreWrite      = errors.New("store write failed")
)
