package rag

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQdrant records requests and answers Query with scripted points. When
// block is set, Query waits for the context instead.
type fakeQdrant struct {
	points   []*qdrant.ScoredPoint
	exists   bool
	block    bool
	query    *qdrant.QueryPoints
	upserts  []*qdrant.UpsertPoints
	created  *qdrant.CreateCollection
	count    uint64
	queryErr error
}

func (f *fakeQdrant) CollectionExists(context.Context, string) (bool, error) { return f.exists, nil }

func (f *fakeQdrant) CreateCollection(_ context.Context, req *qdrant.CreateCollection) error {
	f.created = req
	return nil
}

func (f *fakeQdrant) Upsert(_ context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	f.upserts = append(f.upserts, req)
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeQdrant) Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	f.query = req
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.points, f.queryErr
}

func (f *fakeQdrant) Count(context.Context, *qdrant.CountPoints) (uint64, error) { return f.count, nil }

func (f *fakeQdrant) HealthCheck(context.Context) (*qdrant.HealthCheckReply, error) {
	return &qdrant.HealthCheckReply{}, nil
}

func (f *fakeQdrant) Close() error { return nil }

func TestQdrantStore_SearchMapsIDs(t *testing.T) {
	t.Parallel()

	fq := &fakeQdrant{points: []*qdrant.ScoredPoint{
		{Id: qdrant.NewIDNum(4)},
		{Id: qdrant.NewIDUUID("5c56c793-69f3-4fbf-87e6-c4bf54c28c26")},
		{Id: qdrant.NewIDNum(0)},
	}}
	s := newQdrantStoreWithClient(fq, &QdrantConfig{Collection: "kb"})

	got, err := s.Search(context.Background(), []float32{0.1, 0.2}, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, -1, 0}, got)
	assert.Equal(t, "kb", fq.query.GetCollectionName())
	assert.Equal(t, uint64(3), fq.query.GetLimit())
}

func TestQdrantStore_UUIDHitsAreDroppedByRetriever(t *testing.T) {
	t.Parallel()

	fq := &fakeQdrant{points: []*qdrant.ScoredPoint{
		{Id: qdrant.NewIDUUID("5c56c793-69f3-4fbf-87e6-c4bf54c28c26")},
		{Id: qdrant.NewIDNum(1)},
	}}
	s := newQdrantStoreWithClient(fq, &QdrantConfig{Collection: "kb"})
	r := newTestRetriever(t, &fakeEmbedder{}, s, []string{"zero", "one"}, 2)

	got, err := r.Retrieve(context.Background(), "paddy blast", 2)
	require.NoError(t, err)
	assert.Equal(t, "one", got)
}

func TestQdrantStore_SearchTimeout(t *testing.T) {
	t.Parallel()

	s := newQdrantStoreWithClient(&fakeQdrant{block: true}, &QdrantConfig{Collection: "kb", Timeout: 20 * time.Millisecond})

	_, err := s.Search(context.Background(), []float32{1}, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQdrantStore_SearchError(t *testing.T) {
	t.Parallel()

	s := newQdrantStoreWithClient(&fakeQdrant{queryErr: errors.New("unavailable")}, &QdrantConfig{Collection: "kb"})
	_, err := s.Search(context.Background(), []float32{1}, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unavailable")
}

func TestQdrantStore_UpsertPositions(t *testing.T) {
	t.Parallel()

	fq := &fakeQdrant{}
	s := newQdrantStoreWithClient(fq, &QdrantConfig{Collection: "kb"})

	require.NoError(t, s.Upsert(context.Background(), 32, []string{"a", "b"}, [][]float32{{1}, {2}}))
	require.Len(t, fq.upserts, 1)
	points := fq.upserts[0].GetPoints()
	require.Len(t, points, 2)
	assert.Equal(t, uint64(32), points[0].GetId().GetNum())
	assert.Equal(t, uint64(33), points[1].GetId().GetNum())

	assert.Error(t, s.Upsert(context.Background(), 0, []string{"a"}, nil))
}

func TestQdrantStore_EnsureCollection(t *testing.T) {
	t.Parallel()

	fq := &fakeQdrant{}
	s := newQdrantStoreWithClient(fq, &QdrantConfig{Collection: "kb", VectorSize: 768})
	require.NoError(t, s.ensureCollection(context.Background()))
	require.NotNil(t, fq.created)
	assert.Equal(t, "kb", fq.created.GetCollectionName())

	missing := newQdrantStoreWithClient(&fakeQdrant{}, &QdrantConfig{Collection: "kb"})
	assert.Error(t, missing.ensureCollection(context.Background()))

	existing := &fakeQdrant{exists: true}
	require.NoError(t, newQdrantStoreWithClient(existing, &QdrantConfig{Collection: "kb"}).ensureCollection(context.Background()))
	assert.Nil(t, existing.created)
}
