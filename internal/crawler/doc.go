// Package crawler holds the domain model shared by the ingestion pipeline:
// crawl jobs and their lifecycle, queue messages, authors, articles with
// typed metadata, similarity candidates, and the system configuration
// document. It also declares the storage, broker, and utility interfaces the
// rest of the service is wired against, plus the error taxonomy used to
// decide between redelivery and permanent failure.
package crawler
