package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"vocab-agent/internal/domain"
)

// Upserter persists a document with its embedding.
type Upserter interface {
	Upsert(ctx context.Context, doc domain.Document, embedding []float32) error
}

// TopicFromFilename derives a topic label from a vocabulary file name:
// "food_and_dining.txt" becomes "Food And Dining".
func TopicFromFilename(name string) string {
	stem := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	stem = strings.TrimSpace(strings.ReplaceAll(stem, "_", " "))
	return cases.Title(language.English).String(stem)
}

// NewVocabularyDocument builds an index document for one vocabulary file.
func NewVocabularyDocument(name, content string) domain.Document {
	var lineCount, vocabCount int
	for _, l := range strings.Split(content, "\n") {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		lineCount++
		if strings.Contains(l, "-") {
			vocabCount++
		}
	}
	hasHeader := strings.Contains(content, "主題：") || strings.Contains(content, "Topic:")

	return domain.Document{
		Text: content,
		Metadata: map[string]string{
			"source":                filepath.Base(name),
			"topic":                 TopicFromFilename(name),
			"content_type":          "vocabulary",
			"language":              "en-zh",
			"estimated_vocab_count": strconv.Itoa(vocabCount),
			"total_lines":           strconv.Itoa(lineCount),
			"has_topic_header":      strconv.FormatBool(hasHeader),
		},
	}
}

// LoadVocabularyFiles reads every *.txt file in dir, sorted by name.
// Files with only whitespace are skipped.
func LoadVocabularyFiles(dir string) ([]domain.Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("retrieval: read dir %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".txt") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	docs := make([]domain.Document, 0, len(names))
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(dir, name)) //nolint:gosec // G304: operator-supplied directory
		if err != nil {
			return nil, fmt.Errorf("retrieval: read %s: %w", name, err)
		}
		content := strings.TrimSpace(string(raw))
		if content == "" {
			slog.Warn("skipping empty vocabulary file", "file", name)
			continue
		}
		docs = append(docs, NewVocabularyDocument(name, content))
	}
	return docs, nil
}

// Ingester embeds documents in batches and writes them to the index.
type Ingester struct {
	embedder    Embedder
	store       Upserter
	batchSize   int
	concurrency int
}

func NewIngester(embedder Embedder, store Upserter, batchSize, concurrency int) (*Ingester, error) {
	if embedder == nil {
		return nil, errors.New("retrieval: embedder must not be nil")
	}
	if store == nil {
		return nil, errors.New("retrieval: store must not be nil")
	}
	if batchSize <= 0 {
		batchSize = 16
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Ingester{embedder: embedder, store: store, batchSize: batchSize, concurrency: concurrency}, nil
}

// Ingest writes every document and returns how many were stored. The first
// failing batch cancels the rest.
func (in *Ingester) Ingest(ctx context.Context, docs []domain.Document) (int, error) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(in.concurrency)

	for start := 0; start < len(docs); start += in.batchSize {
		batch := docs[start:min(start+in.batchSize, len(docs))]
		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, d := range batch {
				texts[i] = d.Text
			}
			vecs, err := in.embedder.Embed(ctx, texts)
			if err != nil {
				return fmt.Errorf("retrieval: embed batch: %w", err)
			}
			if len(vecs) != len(batch) {
				return fmt.Errorf("retrieval: embed batch: expected %d vectors, got %d", len(batch), len(vecs))
			}
			for i, d := range batch {
				if err := in.store.Upsert(ctx, d, vecs[i]); err != nil {
					return err
				}
				slog.Debug("indexed vocabulary document", "source", d.Metadata["source"], "topic", d.Topic())
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(docs), nil
}
