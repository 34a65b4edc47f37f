package retrieval

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"vocab-agent/internal/domain"
)

type recordingUpserter struct {
	mu   sync.Mutex
	docs []domain.Document
	err  error
}

func (r *recordingUpserter) Upsert(_ context.Context, doc domain.Document, _ []float32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.docs = append(r.docs, doc)
	return nil
}

func TestTopicFromFilename(t *testing.T) {
	cases := map[string]string{
		"food_and_dining.txt":    "Food And Dining",
		"/data/fintech.txt":      "Fintech",
		"sustainable_living.TXT": "Sustainable Living",
		"information_technology": "Information Technology",
	}
	for in, want := range cases {
		require.Equal(t, want, TopicFromFilename(in), in)
	}
}

func TestNewVocabularyDocument_Metadata(t *testing.T) {
	content := "主題：旅遊\n\nitinerary - 行程\nboarding pass - 登機證\n   \nnote\n"
	doc := NewVocabularyDocument("travel_tips.txt", content)

	require.Equal(t, content, doc.Text)
	require.Equal(t, map[string]string{
		"source":                "travel_tips.txt",
		"topic":                 "Travel Tips",
		"content_type":          "vocabulary",
		"language":              "en-zh",
		"estimated_vocab_count": "2",
		"total_lines":           "4",
		"has_topic_header":      "true",
	}, doc.Metadata)
}

func TestLoadVocabularyFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b_topic.txt"), []byte("Topic: B\nword - 字"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a_topic.txt"), []byte("alpha - 阿法\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.txt"), []byte("  \n\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("ignored"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.txt"), 0o755))

	docs, err := LoadVocabularyFiles(dir)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, "A Topic", docs[0].Topic())
	require.Equal(t, "alpha - 阿法", docs[0].Text)
	require.Equal(t, "true", docs[1].Metadata["has_topic_header"])
}

func TestLoadVocabularyFiles_MissingDir(t *testing.T) {
	_, err := LoadVocabularyFiles(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}

func TestIngester_BatchesAndStoresAll(t *testing.T) {
	docs := make([]domain.Document, 7)
	for i := range docs {
		docs[i] = NewVocabularyDocument(string(rune('a'+i))+".txt", "w - 字")
	}
	emb := &syncEmbedder{vec: []float32{1, 0}}
	up := &recordingUpserter{}

	in, err := NewIngester(emb, up, 3, 2)
	require.NoError(t, err)
	n, err := in.Ingest(context.Background(), docs)
	require.NoError(t, err)
	require.Equal(t, 7, n)
	require.Len(t, up.docs, 7)

	sizes := emb.batchSizes()
	sort.Ints(sizes)
	require.Equal(t, []int{1, 3, 3}, sizes)
}

func TestIngester_PropagatesErrors(t *testing.T) {
	docs := []domain.Document{NewVocabularyDocument("a.txt", "x - y")}

	in, err := NewIngester(&syncEmbedder{err: errors.New("quota")}, &recordingUpserter{}, 1, 1)
	require.NoError(t, err)
	_, err = in.Ingest(context.Background(), docs)
	require.ErrorContains(t, err, "quota")

	in, err = NewIngester(&syncEmbedder{vec: []float32{1}}, &recordingUpserter{err: errors.New("pg down")}, 1, 1)
	require.NoError(t, err)
	_, err = in.Ingest(context.Background(), docs)
	require.ErrorContains(t, err, "pg down")
}

func TestNewIngester_Validation(t *testing.T) {
	_, err := NewIngester(nil, &recordingUpserter{}, 1, 1)
	require.Error(t, err)
	_, err = NewIngester(&syncEmbedder{}, nil, 1, 1)
	require.Error(t, err)

	in, err := NewIngester(&syncEmbedder{}, &recordingUpserter{}, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 16, in.batchSize)
	require.Equal(t, 1, in.concurrency)
}

// syncEmbedder is safe for the ingester's concurrent batches.
type syncEmbedder struct {
	mu    sync.Mutex
	vec   []float32
	err   error
	sizes []int
}

func (s *syncEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sizes = append(s.sizes, len(texts))
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = s.vec
	}
	return out, nil
}

func (s *syncEmbedder) batchSizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.sizes...)
}
