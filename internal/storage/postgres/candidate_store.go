package postgres

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/scholar-ingest/internal/crawler"
)

const candidateColumns = `id, article_id, external_id, title, similarity_score, created_at`

// UpsertCandidate replaces the article's open candidate or inserts a new one.
func (s *Store) UpsertCandidate(
	ctx context.Context,
	candidate crawler.SimilarityCandidate,
) (crawler.SimilarityCandidate, error) {
	if candidate.ArticleID == "" {
		return crawler.SimilarityCandidate{}, crawler.Validationf("candidate article id is required")
	}
	if candidate.ID == "" {
		return crawler.SimilarityCandidate{}, crawler.Validationf("candidate id is required")
	}
	err := s.pool.QueryRow(ctx, `
INSERT INTO similarity_candidates (`+candidateColumns+`)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (article_id) DO UPDATE SET
	external_id = EXCLUDED.external_id,
	title = EXCLUDED.title,
	similarity_score = EXCLUDED.similarity_score,
	created_at = EXCLUDED.created_at
RETURNING id`,
		candidate.ID,
		candidate.ArticleID,
		candidate.SimilarTo.ExternalID,
		candidate.SimilarTo.Title,
		candidate.SimilarTo.Score,
		candidate.CreatedAt,
	).Scan(&candidate.ID)
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return crawler.SimilarityCandidate{}, crawler.NotFoundf("article %s", candidate.ArticleID)
		}
		return crawler.SimilarityCandidate{}, errors.Wrapf(err, "upsert candidate for %s", candidate.ArticleID)
	}
	return candidate, nil
}

// GetCandidate fetches a candidate by ID.
func (s *Store) GetCandidate(ctx context.Context, candidateID string) (crawler.SimilarityCandidate, error) {
	c, err := scanCandidate(s.pool.QueryRow(ctx,
		`SELECT `+candidateColumns+` FROM similarity_candidates WHERE id = $1`, candidateID))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.SimilarityCandidate{}, crawler.NotFoundf("similarity candidate %s", candidateID)
	}
	if err != nil {
		return crawler.SimilarityCandidate{}, errors.Wrapf(err, "get candidate %s", candidateID)
	}
	return c, nil
}

// ListCandidates returns open candidates, highest score first.
func (s *Store) ListCandidates(ctx context.Context) ([]crawler.SimilarityCandidate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+candidateColumns+` FROM similarity_candidates ORDER BY similarity_score DESC, id`)
	if err != nil {
		return nil, errors.Wrap(err, "list candidates")
	}
	defer rows.Close()
	var out []crawler.SimilarityCandidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan candidate")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteCandidate removes a candidate.
func (s *Store) DeleteCandidate(ctx context.Context, candidateID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM similarity_candidates WHERE id = $1`, candidateID)
	if err != nil {
		return errors.Wrapf(err, "delete candidate %s", candidateID)
	}
	if tag.RowsAffected() == 0 {
		return crawler.NotFoundf("similarity candidate %s", candidateID)
	}
	return nil
}

// DeleteCandidatesForArticle drops the article's open candidate, if any.
func (s *Store) DeleteCandidatesForArticle(ctx context.Context, articleID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM similarity_candidates WHERE article_id = $1`, articleID); err != nil {
		return errors.Wrapf(err, "delete candidates for %s", articleID)
	}
	return nil
}

func scanCandidate(row pgx.Row) (crawler.SimilarityCandidate, error) {
	var c crawler.SimilarityCandidate
	err := row.Scan(&c.ID, &c.ArticleID, &c.SimilarTo.ExternalID, &c.SimilarTo.Title, &c.SimilarTo.Score, &c.CreatedAt)
	return c, err
}
