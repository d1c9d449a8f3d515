package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher performs exactly one HTTP GET without following redirects.
// A non-nil error means a transport-level failure; any response, whatever its
// status code, is returned as a Page.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (Page, error)
}

// Ingester turns a 200 page into domain records and reports the next page URL.
// An empty next URL means pagination has ended.
type Ingester interface {
	Ingest(ctx context.Context, page Page) (next string, err error)
}

// LiveStore persists speakers and lives.
type LiveStore interface {
	UpsertSpeaker(ctx context.Context, speaker Speaker) error
	UpsertLive(ctx context.Context, live Live) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes ingestion events to Pub/Sub, Kafka, or similar.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for archive keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces crawl run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// RunRecorder persists crawl run summaries.
type RunRecorder interface {
	RecordRun(ctx context.Context, run RunSummary) error
}
