package index

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/krishisakhi-go/internal/rag"
)

// Compile-time check: the flat index plugs straight into the retriever.
var _ rag.Searcher = (*FlatIndex)(nil)

func mustFlat(t *testing.T, metric Metric, vectors ...[]float32) *FlatIndex {
	t.Helper()
	x, err := NewFlat(len(vectors[0]), metric)
	require.NoError(t, err)
	require.NoError(t, x.Add(vectors...))
	return x
}

// -----------------------------------------------------------------------------
// Search
// -----------------------------------------------------------------------------

func TestSearch_L2NearestFirst(t *testing.T) {
	t.Parallel()

	x := mustFlat(t, MetricL2,
		[]float32{10, 10},
		[]float32{1, 0},
		[]float32{0, 0},
	)
	got, err := x.Search(context.Background(), []float32{0.1, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1}, got)
}

func TestSearch_InnerProductHighestFirst(t *testing.T) {
	t.Parallel()

	x := mustFlat(t, MetricInnerProduct,
		[]float32{0, 1},
		[]float32{1, 0},
		[]float32{0.7, 0.7},
	)
	got, err := x.Search(context.Background(), []float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 0}, got)
}

func TestSearch_KLargerThanIndex(t *testing.T) {
	t.Parallel()

	x := mustFlat(t, MetricL2, []float32{1}, []float32{2})
	got, err := x.Search(context.Background(), []float32{0}, 5)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestSearch_DimensionMismatch(t *testing.T) {
	t.Parallel()

	x := mustFlat(t, MetricL2, []float32{1, 2, 3})
	_, err := x.Search(context.Background(), []float32{1, 2}, 1)
	require.Error(t, err)
}

func TestAdd_DimensionMismatch(t *testing.T) {
	t.Parallel()

	x, err := NewFlat(2, MetricL2)
	require.NoError(t, err)
	require.Error(t, x.Add([]float32{1, 2}, []float32{1}))
	assert.Equal(t, 0, x.Len(), "a rejected batch must not be partially added")
}

// -----------------------------------------------------------------------------
// FAISS serialization
// -----------------------------------------------------------------------------

func TestWriteReadFlat(t *testing.T) {
	t.Parallel()

	for _, metric := range []Metric{MetricL2, MetricInnerProduct} {
		x := mustFlat(t, metric, []float32{0.5, -1.25, 3}, []float32{7, 8, 9})

		var buf bytes.Buffer
		require.NoError(t, WriteFlat(&buf, x))
		// fourcc + 33-byte header + uint64 count + 6 floats
		assert.Equal(t, 4+33+8+6*4, buf.Len())

		got, err := ReadFlat(&buf)
		require.NoError(t, err)
		assert.Equal(t, 3, got.Dim())
		assert.Equal(t, 2, got.Len())
		assert.Equal(t, metric, got.Metric())
		assert.Equal(t, []float32{7, 8, 9}, got.Vector(1))
	}
}

func TestWriteFlat_FourCC(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteFlat(&buf, mustFlat(t, MetricL2, []float32{1})))
	assert.Equal(t, "IxF2", buf.String()[:4])

	buf.Reset()
	require.NoError(t, WriteFlat(&buf, mustFlat(t, MetricInnerProduct, []float32{1})))
	assert.Equal(t, "IxFI", buf.String()[:4])
}

func TestReadFlat_RejectsOtherIndexTypes(t *testing.T) {
	t.Parallel()

	// IVF flat header, which this package does not understand.
	_, err := ReadFlat(bytes.NewReader([]byte("IwFl\x00\x00\x00\x00")))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedIndex)
}

func TestReadFlat_Truncated(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteFlat(&buf, mustFlat(t, MetricL2, []float32{1, 2}, []float32{3, 4})))
	trunc := buf.Bytes()[:buf.Len()-3]

	_, err := ReadFlat(bytes.NewReader(trunc))
	require.Error(t, err)
}

func TestReadFlat_CountMismatch(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	buf.WriteString("IxF2")
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, faissHeader{
		Dim: 2, NTotal: 3, Dummy1: faissDummy, Dummy2: faissDummy, IsTrained: 1, Metric: int32(MetricL2),
	}))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint64(4)))
	buf.Write(make([]byte, 16))

	_, err := ReadFlat(&buf)
	require.Error(t, err)
}

// flatHeader encodes a flat L2 header claiming n vectors of dimension dim
// followed by the given vector data size.
func flatHeader(t *testing.T, dim int32, n int64, count uint64) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("IxF2")
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, faissHeader{
		Dim: dim, NTotal: n, Dummy1: faissDummy, Dummy2: faissDummy, IsTrained: 1, Metric: int32(MetricL2),
	}))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, count))
	return buf.Bytes()
}

func TestReadFlat_CorruptHeader(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		dim   int32
		n     int64
		count uint64
	}{
		{name: "huge dimension", dim: 1 << 20, n: 1 << 33, count: 1 << 53},
		{name: "zero dimension", dim: 0, n: 1, count: 0},
		{name: "negative count", dim: 4, n: -1, count: 0},
		{name: "product overflows", dim: MaxDim, n: 1 << 62, count: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var x *FlatIndex
			var err error
			require.NotPanics(t, func() {
				x, err = ReadFlat(bytes.NewReader(flatHeader(t, tt.dim, tt.n, tt.count)))
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrCorruptIndex)
			assert.Nil(t, x)
		})
	}
}

func TestReadFlat_OverstatedStream(t *testing.T) {
	t.Parallel()

	// A plausible header whose data never arrives fails on read.
	hdr := flatHeader(t, 768, 1<<24, uint64(768)<<24)
	var err error
	require.NotPanics(t, func() {
		_, err = ReadFlat(bytes.NewReader(append(hdr, make([]byte, 64)...)))
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCorruptIndex)
}

func TestReadFlatFile_HeaderExceedsFileSize(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "corrupt.index")
	hdr := flatHeader(t, 768, 1<<24, uint64(768)<<24)
	require.NoError(t, os.WriteFile(path, append(hdr, make([]byte, 64)...), 0o600))

	_, err := ReadFlatFile(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorruptIndex)
}

func TestReadFlat_MultiChunk(t *testing.T) {
	t.Parallel()

	vectors := make([][]float32, 3)
	for i := range vectors {
		vectors[i] = make([]float32, readChunk/2+1)
		vectors[i][0] = float32(i)
	}
	var buf bytes.Buffer
	require.NoError(t, WriteFlat(&buf, mustFlat(t, MetricL2, vectors...)))

	got, err := ReadFlat(&buf)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Len())
	assert.Equal(t, float32(2), got.data[2*(readChunk/2+1)])
}

func TestFlatFile_RoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "faiss_index.index")
	require.NoError(t, WriteFlatFile(path, mustFlat(t, MetricL2, []float32{1, 1})))

	got, err := ReadFlatFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Len())

	_, err = ReadFlatFile(filepath.Join(t.TempDir(), "missing.index"))
	require.Error(t, err)
}

// -----------------------------------------------------------------------------
// Documents file
// -----------------------------------------------------------------------------

func TestSplitDocs(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"a", "b\nc", "d"}, SplitDocs("a\n---\nb\nc\n---\nd"))
	assert.Nil(t, SplitDocs(""))
}

func TestWriteLoadDocs(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "docs.txt")
	docs := []string{"Paddy needs standing water.", "Apply urea in split doses."}
	require.NoError(t, WriteDocs(path, docs))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Paddy needs standing water.\n---\nApply urea in split doses.", string(raw))

	got, err := LoadDocs(path)
	require.NoError(t, err)
	assert.Equal(t, docs, got)
}

func TestWriteDocs_RejectsSeparator(t *testing.T) {
	t.Parallel()

	err := WriteDocs(filepath.Join(t.TempDir(), "docs.txt"), []string{"one\n---\ntwo"})
	require.Error(t, err)
}

// -----------------------------------------------------------------------------
// Retriever over a flat index
// -----------------------------------------------------------------------------

type unitEmbedder struct{ vec []float32 }

func (u unitEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = u.vec
	}
	return out, nil
}

func TestRetriever_TenVectorsEightDocs(t *testing.T) {
	t.Parallel()

	// Vectors 8 and 9 sit closest to the query but have no document.
	vectors := make([][]float32, 10)
	for i := range vectors {
		vectors[i] = []float32{float32(i), 0}
	}
	x := mustFlat(t, MetricL2, vectors...)
	docs := []string{"d0", "d1", "d2", "d3", "d4", "d5", "d6", "d7"}

	r, err := rag.NewRetriever(context.Background(), unitEmbedder{vec: []float32{9, 0}}, x, docs, x.Len(), 3)
	require.NoError(t, err)

	got, err := r.Retrieve(context.Background(), "q", 3)
	require.NoError(t, err)
	assert.Equal(t, "d7", got, "positions 9 and 8 are dropped; only d7 survives of the top 3")
}
