// Package ingest turns Zhihu Live list pages into stored speakers and lives.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/zhihu-live-crawler/internal/crawler"
	"github.com/JakeFAU/zhihu-live-crawler/internal/metrics"
	"github.com/JakeFAU/zhihu-live-crawler/internal/suggest"
)

// EventLiveIngested is the event type published for every stored live.
const EventLiveIngested = "live.ingested"

// Config controls archive layout and event routing.
type Config struct {
	RunID      string
	BlobPrefix string
	Topic      string
}

// LiveIngestedEvent is published after a live is stored.
type LiveIngestedEvent struct {
	Type       string    `json:"type"`
	RunID      string    `json:"run_id"`
	LiveID     string    `json:"live_id"`
	SpeakerID  string    `json:"speaker_id"`
	Subject    string    `json:"subject"`
	SourceURL  string    `json:"source_url"`
	ArchiveURI string    `json:"archive_uri,omitempty"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// EventKey partitions events by live.
func (e LiveIngestedEvent) EventKey() string {
	return e.LiveID
}

// Ingester implements crawler.Ingester. Blob store and publisher are optional.
type Ingester struct {
	store     crawler.LiveStore
	blobs     crawler.BlobStore
	publisher crawler.Publisher
	hasher    crawler.Hasher
	clock     crawler.Clock
	analyzer  suggest.Analyzer
	cfg       Config
	logger    *zap.Logger
}

// New constructs an Ingester.
func New(
	store crawler.LiveStore,
	blobs crawler.BlobStore,
	publisher crawler.Publisher,
	hasher crawler.Hasher,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Ingester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingester{
		store:     store,
		blobs:     blobs,
		publisher: publisher,
		hasher:    hasher,
		clock:     clock,
		analyzer:  suggest.DefaultAnalyzer{},
		cfg:       cfg,
		logger:    logger,
	}
}

// Ingest stores every live on the page and returns the next page URL, or ""
// when the page is the last one.
func (i *Ingester) Ingest(ctx context.Context, page crawler.Page) (string, error) {
	var payload listPage
	if err := json.Unmarshal(page.Body, &payload); err != nil {
		return "", fmt.Errorf("decode live page: %w", err)
	}
	if i.store == nil {
		return "", errors.New("no live store configured")
	}

	fetchedAt := i.clock.Now()
	archiveURI, err := i.archive(ctx, page.Body)
	if err != nil {
		return "", err
	}

	for _, raw := range payload.Data {
		speaker := flattenSpeaker(raw.Speaker, fetchedAt)
		if speaker.ID == "" {
			return "", fmt.Errorf("live %s has no speaker id", raw.ID)
		}
		if err := i.store.UpsertSpeaker(ctx, speaker); err != nil {
			return "", fmt.Errorf("upsert speaker %s: %w", speaker.ID, err)
		}

		live := i.flattenLive(raw, speaker, fetchedAt)
		if err := i.store.UpsertLive(ctx, live); err != nil {
			return "", fmt.Errorf("upsert live %s: %w", live.ID, err)
		}

		if err := i.publish(ctx, live, page.URL, archiveURI); err != nil {
			return "", err
		}
	}
	metrics.AddLivesIngested(len(payload.Data))
	i.logger.Debug("page ingested",
		zap.String("url", page.URL),
		zap.Int("lives", len(payload.Data)),
		zap.Bool("is_end", payload.Paging.IsEnd),
	)

	if payload.Paging.IsEnd {
		return "", nil
	}
	return payload.Paging.Next, nil
}

func (i *Ingester) archive(ctx context.Context, body []byte) (string, error) {
	if i.blobs == nil || i.hasher == nil {
		return "", nil
	}
	hash, err := i.hasher.Hash(body)
	if err != nil {
		return "", fmt.Errorf("hash page: %w", err)
	}
	uri, err := i.blobs.PutObject(ctx, i.buildBlobPath(hash), "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("archive page: %w", err)
	}
	return uri, nil
}

func (i *Ingester) publish(ctx context.Context, live crawler.Live, sourceURL, archiveURI string) error {
	if i.publisher == nil || i.cfg.Topic == "" {
		return nil
	}
	event := LiveIngestedEvent{
		Type:       EventLiveIngested,
		RunID:      i.cfg.RunID,
		LiveID:     live.ID,
		SpeakerID:  live.SpeakerID,
		Subject:    live.Subject,
		SourceURL:  sourceURL,
		ArchiveURI: archiveURI,
		FetchedAt:  live.FetchedAt,
	}
	if _, err := i.publisher.Publish(ctx, i.cfg.Topic, event); err != nil {
		return fmt.Errorf("publish live %s: %w", live.ID, err)
	}
	return nil
}

func (i *Ingester) buildBlobPath(hash string) string {
	prefix := strings.Trim(i.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.json", i.cfg.RunID, hash)
	}
	return fmt.Sprintf("%s/%s/%s.json", prefix, i.cfg.RunID, hash)
}

func flattenSpeaker(raw rawSpeaker, now time.Time) crawler.Speaker {
	return crawler.Speaker{
		ID:        string(raw.Member.ID),
		Name:      raw.Member.Name,
		Headline:  raw.Member.Headline,
		AvatarURL: raw.Member.AvatarURL,
		URLToken:  raw.Member.URLToken,
		Gender:    raw.Member.Gender,
		Bio:       raw.Bio,
		UpdatedAt: now,
	}
}

func (i *Ingester) flattenLive(raw rawLive, speaker crawler.Speaker, now time.Time) crawler.Live {
	topics := make([]string, 0, len(raw.Topics))
	for _, t := range raw.Topics {
		topics = append(topics, t.Name)
	}
	topicNames := strings.Join(topics, " ")
	tagNames := joinTags(raw.Tags)

	return crawler.Live{
		ID:          string(raw.ID),
		Subject:     raw.Subject,
		Outline:     raw.Outline,
		SpeakerID:   speaker.ID,
		SpeakerName: speaker.Name,
		Topics:      topics,
		TopicNames:  topicNames,
		TagNames:    tagNames,
		SeatsTaken:  raw.Seats.Taken,
		Amount:      raw.Fee.Amount / 100,
		Public:      raw.Status == "public",
		StartsAt:    time.Unix(raw.StartsAt, 0).UTC(),
		Suggestions: suggest.Generate(i.analyzer, suggest.Fields{
			Topics:  topicNames,
			Subject: raw.Subject,
			Outline: raw.Outline,
			Tags:    tagNames,
			Speaker: speaker.Name,
		}),
		RunID:     i.cfg.RunID,
		FetchedAt: now,
	}
}

// joinTags merges tag names and short names into one space-separated, deduped string.
func joinTags(tags []rawTag) string {
	set := make(map[string]struct{}, len(tags)*2)
	for _, t := range tags {
		for _, name := range []string{t.Name, t.ShortName} {
			if name = strings.TrimSpace(name); name != "" {
				set[name] = struct{}{}
			}
		}
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, " ")
}
