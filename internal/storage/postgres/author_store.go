package postgres

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/scholar-ingest/internal/crawler"
)

const authorSelect = `
SELECT a.id, a.name, a.scholar_url, a.scopus_id, COALESCE(a.recrawl_days, 0), a.created_at,
	COALESCE(
		array_agg(aa.article_id ORDER BY aa.linked_at, aa.article_id) FILTER (WHERE aa.article_id IS NOT NULL),
		'{}'
	)
FROM authors a
LEFT JOIN author_articles aa ON aa.author_id = a.id`

// ListAuthors returns all authors ordered by creation time.
func (s *Store) ListAuthors(ctx context.Context) ([]crawler.Author, error) {
	rows, err := s.pool.Query(ctx, authorSelect+`
GROUP BY a.id
ORDER BY a.created_at, a.id`)
	if err != nil {
		return nil, errors.Wrap(err, "list authors")
	}
	defer rows.Close()
	var out []crawler.Author
	for rows.Next() {
		author, err := scanAuthor(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan author")
		}
		out = append(out, author)
	}
	return out, rows.Err()
}

// GetAuthor fetches an author with its linked article ids.
func (s *Store) GetAuthor(ctx context.Context, authorID string) (crawler.Author, error) {
	author, err := scanAuthor(s.pool.QueryRow(ctx, authorSelect+`
WHERE a.id = $1
GROUP BY a.id`, authorID))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Author{}, crawler.NotFoundf("author %s", authorID)
	}
	if err != nil {
		return crawler.Author{}, errors.Wrapf(err, "get author %s", authorID)
	}
	return author, nil
}

// AddArticles links article ids to the author; existing links are left alone.
func (s *Store) AddArticles(ctx context.Context, authorID string, articleIDs []string) error {
	if len(articleIDs) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin link articles")
	}
	for _, articleID := range articleIDs {
		if articleID == "" {
			continue
		}
		_, err := tx.Exec(ctx, `
INSERT INTO author_articles (author_id, article_id)
VALUES ($1, $2)
ON CONFLICT (author_id, article_id) DO NOTHING`, authorID, articleID)
		if err != nil {
			_ = tx.Rollback(ctx)
			if pgCode(err) == pgForeignKeyViolation {
				return crawler.NotFoundf("author %s or article %s", authorID, articleID)
			}
			return errors.Wrapf(err, "link article %s to author %s", articleID, authorID)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit link articles")
	}
	return nil
}

// RemoveArticle unlinks the article from every author.
func (s *Store) RemoveArticle(ctx context.Context, articleID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM author_articles WHERE article_id = $1`, articleID)
	if err != nil {
		return 0, errors.Wrapf(err, "unlink article %s", articleID)
	}
	return int(tag.RowsAffected()), nil
}

func scanAuthor(row pgx.Row) (crawler.Author, error) {
	var a crawler.Author
	err := row.Scan(&a.ID, &a.Name, &a.ScholarURL, &a.ScopusID, &a.RecrawlDays, &a.CreatedAt, &a.ArticleIDs)
	return a, err
}
