package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder returns a fixed vector, or err when set. calls counts Embed
// invocations and batch records the size of the last batch.
type fakeEmbedder struct {
	err   error
	calls int
	batch int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	f.batch = len(texts)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

// fakeSearcher returns a scripted list of positions, truncated to k.
type fakeSearcher struct {
	positions []int64
	err       error
	gotK      int
}

func (f *fakeSearcher) Search(_ context.Context, _ []float32, k int) ([]int64, error) {
	f.gotK = k
	if f.err != nil {
		return nil, f.err
	}
	if len(f.positions) > k {
		return f.positions[:k], nil
	}
	return f.positions, nil
}

func newTestRetriever(t *testing.T, emb Embedder, s Searcher, docs []string, indexSize int) *DefaultRetriever {
	t.Helper()
	r, err := NewRetriever(context.Background(), emb, s, docs, indexSize, 0)
	require.NoError(t, err)
	return r
}

func TestNewRetriever_NilDeps(t *testing.T) {
	t.Parallel()
	_, err := NewRetriever(context.Background(), nil, &fakeSearcher{}, nil, 0, 3)
	require.Error(t, err)
	_, err = NewRetriever(context.Background(), &fakeEmbedder{}, nil, nil, 0, 3)
	require.Error(t, err)
}

func TestRetrieve_JoinsTopK(t *testing.T) {
	t.Parallel()

	emb := &fakeEmbedder{}
	s := &fakeSearcher{positions: []int64{2, 0, 1, 3}}
	docs := []string{"paddy irrigation", "coconut pests", "urea dosage", "banana wilt"}
	r := newTestRetriever(t, emb, s, docs, len(docs))

	got, err := r.Retrieve(context.Background(), "how much urea", 0)
	require.NoError(t, err)
	assert.Equal(t, "urea dosage"+Separator+"paddy irrigation"+Separator+"coconut pests", got)
	assert.Equal(t, DefaultTopK, s.gotK)
	assert.Equal(t, 1, emb.calls)
	assert.Equal(t, 1, emb.batch, "query must be embedded in a single batched call")
}

func TestRetrieve_DropsOutOfRangePositions(t *testing.T) {
	t.Parallel()

	// Ten vectors but only eight documents: hits at 8 and 9 have no text.
	s := &fakeSearcher{positions: []int64{9, 1, -1, 8, 7}}
	docs := make([]string, 8)
	for i := range docs {
		docs[i] = "doc" + string(rune('0'+i))
	}
	r := newTestRetriever(t, &fakeEmbedder{}, s, docs, 10)

	got, err := r.Retrieve(context.Background(), "q", 5)
	require.NoError(t, err)
	parts := strings.Split(got, Separator)
	assert.Equal(t, []string{"doc1", "doc7"}, parts)
	assert.LessOrEqual(t, len(parts), 5)
}

func TestRetrieve_DoesNotDeduplicate(t *testing.T) {
	t.Parallel()

	s := &fakeSearcher{positions: []int64{0, 1}}
	r := newTestRetriever(t, &fakeEmbedder{}, s, []string{"same", "same"}, 2)

	got, err := r.Retrieve(context.Background(), "q", 2)
	require.NoError(t, err)
	assert.Equal(t, "same"+Separator+"same", got)
}

func TestRetrieve_EmbedderFailure(t *testing.T) {
	t.Parallel()

	r := newTestRetriever(t, &fakeEmbedder{err: errors.New("quota exceeded")}, &fakeSearcher{}, []string{"a"}, 1)

	got, err := r.Retrieve(context.Background(), "q", 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetrieval)
	assert.Equal(t, RetrievalFailed, got)
}

func TestRetrieve_SearchFailure(t *testing.T) {
	t.Parallel()

	r := newTestRetriever(t, &fakeEmbedder{}, &fakeSearcher{err: errors.New("boom")}, []string{"a"}, 1)

	got, err := r.Retrieve(context.Background(), "q", 3)
	assert.ErrorIs(t, err, ErrRetrieval)
	assert.Equal(t, RetrievalFailed, got)
}

func TestRetrieve_NoHitsIsEmptyContext(t *testing.T) {
	t.Parallel()

	r := newTestRetriever(t, &fakeEmbedder{}, &fakeSearcher{}, []string{"a"}, 1)

	got, err := r.Retrieve(context.Background(), "q", 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}
