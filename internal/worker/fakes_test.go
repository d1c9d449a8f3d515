package worker

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/JakeFAU/zhihu-live-crawler/internal/crawler"
)

var errTransport = errors.New("connection reset")

type fetchResult struct {
	status int
	err    error
}

type scriptedFetcher struct {
	mu       sync.Mutex
	scripts  map[string][]fetchResult
	attempts map[string]int
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{
		scripts:  make(map[string][]fetchResult),
		attempts: make(map[string]int),
	}
}

func (f *scriptedFetcher) script(url string, results ...fetchResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[url] = results
}

// Fetch replays the scripted results for a URL; the last entry repeats and an
// unscripted URL answers 200.
func (f *scriptedFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.attempts[req.URL]
	f.attempts[req.URL] = n + 1

	res := fetchResult{status: http.StatusOK}
	if script := f.scripts[req.URL]; len(script) > 0 {
		if n >= len(script) {
			n = len(script) - 1
		}
		res = script[n]
	}
	if res.err != nil {
		return crawler.Page{}, res.err
	}
	return crawler.Page{URL: req.URL, StatusCode: res.status, Body: []byte(req.URL)}, nil
}

func (f *scriptedFetcher) attemptsFor(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[url]
}

type fakeIngester struct {
	mu       sync.Mutex
	next     map[string]string
	failures map[string]error
	ingested []string
}

func newFakeIngester() *fakeIngester {
	return &fakeIngester{
		next:     make(map[string]string),
		failures: make(map[string]error),
	}
}

func (i *fakeIngester) Ingest(_ context.Context, page crawler.Page) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.failures[page.URL]; err != nil {
		return "", err
	}
	i.ingested = append(i.ingested, page.URL)
	return i.next[page.URL], nil
}

func (i *fakeIngester) ingestedURLs() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.ingested...)
}

type addCall struct {
	url    string
	budget int
}

type recordingSink struct {
	mu    sync.Mutex
	added []addCall
	done  int
}

func (s *recordingSink) AddURL(_ context.Context, url string, budget int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.added = append(s.added, addCall{url: url, budget: budget})
	return true, nil
}

func (s *recordingSink) MarkDone() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done++
	return nil
}

func (s *recordingSink) snapshot() ([]addCall, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]addCall(nil), s.added...), s.done
}

type countingLimiter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (l *countingLimiter) Wait(_ context.Context, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.err
}
