package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	calls [][]string
	err   error
}

func (c *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	c.calls = append(c.calls, append([]string(nil), texts...))
	if c.err != nil {
		return nil, c.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func TestCachedEmbedder_ReusesVectors(t *testing.T) {
	next := &countingEmbedder{}
	c, err := NewCachedEmbedder(next, 1<<20, time.Minute)
	require.NoError(t, err)
	defer c.Close()

	first, err := c.Embed(context.Background(), []string{"travel", "food"})
	require.NoError(t, err)
	require.Equal(t, [][]float32{{6}, {4}}, first)

	second, err := c.Embed(context.Background(), []string{"food", "finance"})
	require.NoError(t, err)
	require.Equal(t, [][]float32{{4}, {7}}, second)

	require.Len(t, next.calls, 2)
	require.Equal(t, []string{"finance"}, next.calls[1])
}

func TestCachedEmbedder_Errors(t *testing.T) {
	_, err := NewCachedEmbedder(nil, 1, time.Minute)
	require.Error(t, err)
	_, err = NewCachedEmbedder(&countingEmbedder{}, 0, time.Minute)
	require.Error(t, err)

	c, err := NewCachedEmbedder(&countingEmbedder{err: errors.New("upstream")}, 1<<20, time.Minute)
	require.NoError(t, err)
	defer c.Close()
	_, err = c.Embed(context.Background(), []string{"x"})
	require.ErrorContains(t, err, "upstream")
}
