package storage

import (
	"context"
	"regexp"
	"strings"
	"time"
)

// PutInput describes one raw gateway payload to retain for audit.
type PutInput struct {
	Provider   string
	EventID    string
	ReceivedAt time.Time
	Body       []byte
}

type PutResult struct {
	Key string
	URL string
}

// Archive retains raw webhook payloads outside the database so disputes can
// be settled against what the gateway actually sent. Archival is best effort
// and never gates event processing.
type Archive interface {
	Put(ctx context.Context, in PutInput) (PutResult, error)
	Delete(ctx context.Context, key string) error
}

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// objectKey lays payloads out as provider/YYYY/MM/DD/event-id.json so a
// bucket listing reads chronologically per provider.
func objectKey(in PutInput) string {
	provider := unsafeKeyChars.ReplaceAllString(in.Provider, "_")
	event := unsafeKeyChars.ReplaceAllString(in.EventID, "_")
	if provider == "" {
		provider = "unknown"
	}
	if event == "" {
		event = "event"
	}
	ts := in.ReceivedAt.UTC()
	return strings.Join([]string{
		provider,
		ts.Format("2006/01/02"),
		event + ".json",
	}, "/")
}
