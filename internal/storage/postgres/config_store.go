package postgres

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/scholar-ingest/internal/crawler"
)

// GetSystemConfig returns the stored document or ErrNotFound.
func (s *Store) GetSystemConfig(ctx context.Context) (crawler.SystemConfig, error) {
	var cfg crawler.SystemConfig
	err := s.pool.QueryRow(ctx, `
SELECT string_matching_threshold, string_not_matching_threshold, default_query, updated_at
FROM system_config WHERE key = $1`, crawler.SystemConfigKey).
		Scan(&cfg.MatchingThreshold, &cfg.NotMatchingThreshold, &cfg.DefaultQuery, &cfg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.SystemConfig{}, crawler.NotFoundf("config %s", crawler.SystemConfigKey)
	}
	if err != nil {
		return crawler.SystemConfig{}, errors.Wrap(err, "get system config")
	}
	return cfg, nil
}

// EnsureSystemConfig seeds defaults when absent and returns the stored document.
func (s *Store) EnsureSystemConfig(
	ctx context.Context,
	defaults crawler.SystemConfig,
) (crawler.SystemConfig, error) {
	_, err := s.pool.Exec(ctx, `
INSERT INTO system_config (key, string_matching_threshold, string_not_matching_threshold, default_query, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (key) DO NOTHING`,
		crawler.SystemConfigKey,
		defaults.MatchingThreshold,
		defaults.NotMatchingThreshold,
		defaults.DefaultQuery,
		defaults.UpdatedAt,
	)
	if err != nil {
		return crawler.SystemConfig{}, errors.Wrap(err, "seed system config")
	}
	return s.GetSystemConfig(ctx)
}

// SaveSystemConfig replaces the document.
func (s *Store) SaveSystemConfig(ctx context.Context, cfg crawler.SystemConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO system_config (key, string_matching_threshold, string_not_matching_threshold, default_query, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (key) DO UPDATE SET
	string_matching_threshold = EXCLUDED.string_matching_threshold,
	string_not_matching_threshold = EXCLUDED.string_not_matching_threshold,
	default_query = EXCLUDED.default_query,
	updated_at = EXCLUDED.updated_at`,
		crawler.SystemConfigKey,
		cfg.MatchingThreshold,
		cfg.NotMatchingThreshold,
		cfg.DefaultQuery,
		cfg.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "save system config")
	}
	return nil
}
