// Package cmd hosts the scholar-ingest entrypoint commands.
//
// Architecture overview:
//   - HTTP API (serve): internal/api.Server validates job requests, persists a pending job through the
//     JobStore and publishes a QueueMessage on broker.queue. Similarity candidates and the system document
//     are reviewed through the same API.
//   - Consumer (consume, or serve with consumer.enabled): subscribes to broker.queue, serializes jobs per
//     author or year, drives the scholar scraper or the bibliographic client, upserts articles and runs
//     duplicate detection after each bibliographic fetch. Transient failures are redelivered up to
//     consumer.max_attempts, then the job is failed and copied to broker.dead_letter_queue.
//   - Scheduler (schedule, or serve with scheduler.enabled): once per scheduler.interval_hours, enqueues a
//     scholar job for each author whose recrawl interval divides the days since it was added.
//   - Persistence: Postgres via pgx when database.dsn is set, in-memory stores otherwise. Raw pages and API
//     responses are archived to storage.backend (none/memory/local/gcs).
//
// Quick checklist:
//   - Configure env vars: SCHOLAR_DATABASE_DSN, SCHOLAR_BROKER_BACKEND=pubsub with SCHOLAR_BROKER_PROJECT_ID,
//     SCHOLAR_BIBLIOGRAPHIC_API_KEY and SCHOLAR_BIBLIOGRAPHIC_COUNTRY.
//   - Run locally: go run . serve --config config.yaml
//   - Apply the schema: go run . migrate
package cmd
