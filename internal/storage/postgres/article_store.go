package postgres

import (
	"context"
	"encoding/json"

	sq "github.com/Masterminds/squirrel"
	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/scholar-ingest/internal/crawler"
)

var articleColumns = []string{
	"id", "source", "external_id", "title", "link", "metadata", "index_status", "created_at", "updated_at",
}

// UpsertArticle inserts the article or refreshes the row sharing its source and title.
func (s *Store) UpsertArticle(ctx context.Context, article crawler.Article) (crawler.Article, error) {
	if article.Title == "" {
		return crawler.Article{}, crawler.Validationf("article title is required")
	}
	if article.ID == "" {
		return crawler.Article{}, crawler.Validationf("article id is required")
	}
	metadata, err := json.Marshal(article.Metadata)
	if err != nil {
		return crawler.Article{}, errors.Wrap(err, "marshal metadata")
	}
	var indexRaw []byte
	err = s.pool.QueryRow(ctx, `
INSERT INTO articles (id, source, external_id, title, link, metadata, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (source, title) DO UPDATE SET
	external_id = EXCLUDED.external_id,
	link = EXCLUDED.link,
	metadata = EXCLUDED.metadata,
	updated_at = EXCLUDED.updated_at
RETURNING id, created_at, index_status`,
		article.ID,
		string(article.Source),
		article.ExternalID,
		article.Title,
		article.Link,
		metadata,
		article.CreatedAt,
		article.UpdatedAt,
	).Scan(&article.ID, &article.CreatedAt, &indexRaw)
	if err != nil {
		return crawler.Article{}, errors.Wrapf(err, "upsert article %q", article.Title)
	}
	article.Index, err = decodeIndex(indexRaw)
	if err != nil {
		return crawler.Article{}, err
	}
	return article, nil
}

// GetArticle fetches an article by ID.
func (s *Store) GetArticle(ctx context.Context, articleID string) (crawler.Article, error) {
	sqlStr, args, err := s.sb.Select(articleColumns...).
		From("articles").
		Where(sq.Eq{"id": articleID}).
		ToSql()
	if err != nil {
		return crawler.Article{}, errors.Wrap(err, "build get article query")
	}
	article, err := scanArticle(s.pool.QueryRow(ctx, sqlStr, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Article{}, crawler.NotFoundf("article %s", articleID)
	}
	if err != nil {
		return crawler.Article{}, errors.Wrapf(err, "get article %s", articleID)
	}
	return article, nil
}

// ListArticles returns articles ordered by title.
func (s *Store) ListArticles(ctx context.Context, filter crawler.ArticleFilter) ([]crawler.Article, error) {
	q := s.sb.Select(articleColumns...).From("articles").OrderBy("title")
	if filter.Source != "" {
		q = q.Where(sq.Eq{"source": string(filter.Source)})
	}
	if filter.Title != "" {
		q = q.Where(sq.Eq{"title": filter.Title})
	}
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build list articles query")
	}
	rows, err := s.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list articles")
	}
	defer rows.Close()
	var out []crawler.Article
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan article")
		}
		out = append(out, article)
	}
	return out, rows.Err()
}

// SetIndexStatus overwrites the article's index evidence.
func (s *Store) SetIndexStatus(ctx context.Context, articleID string, status crawler.IndexStatus) error {
	raw, err := json.Marshal(status)
	if err != nil {
		return errors.Wrap(err, "marshal index status")
	}
	tag, err := s.pool.Exec(ctx, `UPDATE articles SET index_status = $2 WHERE id = $1`, articleID, raw)
	if err != nil {
		return errors.Wrapf(err, "set index status %s", articleID)
	}
	if tag.RowsAffected() == 0 {
		return crawler.NotFoundf("article %s", articleID)
	}
	return nil
}

// DeleteArticle removes an article. Author links and candidates cascade.
func (s *Store) DeleteArticle(ctx context.Context, articleID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM articles WHERE id = $1`, articleID)
	if err != nil {
		return errors.Wrapf(err, "delete article %s", articleID)
	}
	if tag.RowsAffected() == 0 {
		return crawler.NotFoundf("article %s", articleID)
	}
	return nil
}

func scanArticle(row pgx.Row) (crawler.Article, error) {
	var (
		article  crawler.Article
		source   string
		metadata []byte
		indexRaw []byte
	)
	err := row.Scan(
		&article.ID,
		&source,
		&article.ExternalID,
		&article.Title,
		&article.Link,
		&metadata,
		&indexRaw,
		&article.CreatedAt,
		&article.UpdatedAt,
	)
	if err != nil {
		return crawler.Article{}, err
	}
	article.Source = crawler.Source(source)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &article.Metadata); err != nil {
			return crawler.Article{}, errors.Wrapf(err, "decode metadata for %s", article.ID)
		}
	}
	if article.Index, err = decodeIndex(indexRaw); err != nil {
		return crawler.Article{}, err
	}
	return article, nil
}

func decodeIndex(raw []byte) (*crawler.IndexStatus, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var st crawler.IndexStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, errors.Wrap(err, "decode index status")
	}
	return &st, nil
}
