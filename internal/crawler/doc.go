// Package crawler defines the core types and interfaces shared by the crawl
// scheduler: fetch tasks, fetched pages, the retry policy, and the collaborator
// contracts for fetching, ingestion, persistence, and publishing.
package crawler
