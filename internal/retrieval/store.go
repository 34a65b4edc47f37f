package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"vocab-agent/internal/config"
	"vocab-agent/internal/domain"
)

const tracerName = "vocab-agent/retrieval"

const searchSQL = `SELECT content, metadata, embedding::real[]
FROM vocabulary_documents
ORDER BY embedding <=> $1::vector
LIMIT $2`

const upsertSQL = `INSERT INTO vocabulary_documents (source, topic, content, metadata, embedding)
VALUES ($1, $2, $3, $4, $5::vector)
ON CONFLICT (source) DO UPDATE
SET topic = EXCLUDED.topic,
    content = EXCLUDED.content,
    metadata = EXCLUDED.metadata,
    embedding = EXCLUDED.embedding,
    updated_at = now()`

// DB is the subset of *pgxpool.Pool used by the index.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store searches and writes the vocabulary_documents table.
type Store struct {
	db         DB
	embedder   Embedder
	searchType string
	k          int
	fetchK     int
	lambda     float64
	timeout    time.Duration
}

func NewStore(db DB, embedder Embedder, cfg config.Retriever) (*Store, error) {
	if db == nil {
		return nil, errors.New("retrieval: db must not be nil")
	}
	if embedder == nil {
		return nil, errors.New("retrieval: embedder must not be nil")
	}
	if cfg.K <= 0 {
		return nil, errors.New("retrieval: k must be positive")
	}
	switch cfg.SearchType {
	case SearchSimilarity, SearchMMR:
	default:
		return nil, fmt.Errorf("retrieval: unsupported search type %q", cfg.SearchType)
	}
	return &Store{
		db:         db,
		embedder:   embedder,
		searchType: cfg.SearchType,
		k:          cfg.K,
		fetchK:     max(cfg.FetchK, cfg.K),
		lambda:     cfg.MMRLambda,
		timeout:    cfg.QueryTimeout,
	}, nil
}

// Retrieve embeds query and returns up to k documents using the configured
// search mode.
func (s *Store) Retrieve(ctx context.Context, query string) (docs []domain.Document, err error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "retrieval.search")
	span.SetAttributes(
		attribute.String("retrieval.search_type", s.searchType),
		attribute.Int("retrieval.k", s.k),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Int("retrieval.results", len(docs)))
		span.End()
	}()

	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("retrieval: embed query: got %d vectors", len(vecs))
	}
	qv := vecs[0]

	limit := s.k
	if s.searchType == SearchMMR {
		limit = s.fetchK
	}
	candidates, vectors, err := s.nearest(ctx, qv, limit)
	if err != nil {
		return nil, err
	}
	if s.searchType == SearchSimilarity {
		return candidates, nil
	}

	picked := maximalMarginalRelevance(qv, vectors, s.k, s.lambda)
	docs = make([]domain.Document, 0, len(picked))
	for _, i := range picked {
		docs = append(docs, candidates[i])
	}
	return docs, nil
}

func (s *Store) nearest(ctx context.Context, qv []float32, limit int) ([]domain.Document, [][]float32, error) {
	rows, err := s.db.Query(ctx, searchSQL, vectorLiteral(qv), limit)
	if err != nil {
		return nil, nil, fmt.Errorf("retrieval: query: %w", err)
	}
	defer rows.Close()

	var (
		docs    []domain.Document
		vectors [][]float32
	)
	for rows.Next() {
		var (
			content string
			rawMeta []byte
			vec     []float32
		)
		if err := rows.Scan(&content, &rawMeta, &vec); err != nil {
			return nil, nil, fmt.Errorf("retrieval: scan: %w", err)
		}
		meta := map[string]string{}
		if len(rawMeta) > 0 {
			if err := json.Unmarshal(rawMeta, &meta); err != nil {
				return nil, nil, fmt.Errorf("retrieval: decode metadata: %w", err)
			}
		}
		docs = append(docs, domain.Document{Text: content, Metadata: meta})
		vectors = append(vectors, vec)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("retrieval: rows: %w", err)
	}
	return docs, vectors, nil
}

// Upsert writes a document and its embedding keyed by the "source" metadata.
func (s *Store) Upsert(ctx context.Context, doc domain.Document, embedding []float32) error {
	source := doc.Metadata["source"]
	if source == "" {
		return errors.New("retrieval: upsert: document has no source")
	}
	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("retrieval: upsert: encode metadata: %w", err)
	}
	if _, err := s.db.Exec(ctx, upsertSQL, source, doc.Topic(), doc.Text, meta, vectorLiteral(embedding)); err != nil {
		return fmt.Errorf("retrieval: upsert %s: %w", source, err)
	}
	return nil
}

// vectorLiteral renders v in pgvector's text input format.
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.Grow(len(v)*10 + 2)
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
