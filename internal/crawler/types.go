package crawler

import (
	"net/http"
	"time"
)

// FetchTask is one unit of frontier work. It is created when a URL is enqueued
// and consumed exactly once by a worker.
type FetchTask struct {
	URL string
	// RedirectBudget travels with the task and is handed unchanged to any URL the
	// task discovers. It is not decremented.
	RedirectBudget int
}

// FetchRequest captures everything needed for a single GET attempt.
type FetchRequest struct {
	URL     string
	Attempt int
}

// Page is the response of a single fetch attempt. The body has already been
// read in full and the underlying connection released.
type Page struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// ClientConfig is the HTTP configuration produced by the session bootstrap.
// It is built once before crawling and shared read-only by every worker.
type ClientConfig struct {
	Headers   http.Header
	Transport http.RoundTripper
	Timeout   time.Duration
}

// Speaker is the flattened author of a live.
type Speaker struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Headline  string    `json:"headline"`
	AvatarURL string    `json:"avatar_url"`
	URLToken  string    `json:"url_token"`
	Gender    int       `json:"gender"`
	Bio       string    `json:"bio"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Suggestion is a weighted completion input derived from a live's text fields.
type Suggestion struct {
	Input  []string `json:"input"`
	Weight int      `json:"weight"`
}

// Live is the flattened record persisted for each Zhihu Live.
type Live struct {
	ID          string       `json:"id"`
	Subject     string       `json:"subject"`
	Outline     string       `json:"outline"`
	SpeakerID   string       `json:"speaker_id"`
	SpeakerName string       `json:"speaker_name"`
	Topics      []string     `json:"topics"`
	TopicNames  string       `json:"topic_names"`
	TagNames    string       `json:"tag_names"`
	SeatsTaken  int          `json:"seats_taken"`
	Amount      float64      `json:"amount"`
	Public      bool         `json:"public"`
	StartsAt    time.Time    `json:"starts_at"`
	Suggestions []Suggestion `json:"live_suggest"`
	RunID       string       `json:"run_id"`
	FetchedAt   time.Time    `json:"fetched_at"`
}

// Run statuses recorded for a crawl.
const (
	RunRunning     = "running"
	RunSucceeded   = "succeeded"
	RunInterrupted = "interrupted"
)

// RunSummary is the persisted record of one crawl run.
type RunSummary struct {
	RunID      string     `json:"run_id"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Seeds      int        `json:"seeds"`
	Enqueued   int        `json:"enqueued"`
	Completed  int        `json:"completed"`
	Duplicates int        `json:"duplicates"`
}
