package index

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// FAISS fourcc codes for the flat index family. Only the metric-specific
// flat variants are understood; anything else is rejected.
const (
	fourccFlatL2 = "IxF2"
	fourccFlatIP = "IxFI"
)

// ErrUnsupportedIndex is returned when the file holds a FAISS index type
// other than a flat L2 or inner-product index.
var ErrUnsupportedIndex = errors.New("index: unsupported FAISS index type")

// ErrCorruptIndex is returned when a flat index header describes more data
// than the file can hold.
var ErrCorruptIndex = errors.New("index: corrupt FAISS index")

// MaxDim is the largest vector dimension ReadFlat accepts.
const MaxDim = 1 << 16

// readChunk is the number of floats decoded per read.
const readChunk = 1 << 16

// faissDummy is the placeholder FAISS writes for two legacy header fields.
const faissDummy int64 = 1 << 20

// faissHeader mirrors the fixed part of a FAISS index header that follows
// the fourcc.
type faissHeader struct {
	Dim       int32
	NTotal    int64
	Dummy1    int64
	Dummy2    int64
	IsTrained uint8
	Metric    int32
}

// ReadFlat decodes a FAISS flat index from r.
func ReadFlat(r io.Reader) (*FlatIndex, error) {
	return readFlat(r, -1)
}

// readFlat decodes a flat index. When size is non-negative it is the total
// byte length of the encoded index, and a header claiming more is rejected
// before anything is allocated.
func readFlat(r io.Reader, size int64) (*FlatIndex, error) {
	var fourcc [4]byte
	if _, err := io.ReadFull(r, fourcc[:]); err != nil {
		return nil, fmt.Errorf("index: read fourcc: %w", err)
	}
	switch string(fourcc[:]) {
	case fourccFlatL2, fourccFlatIP:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedIndex, string(fourcc[:]))
	}

	var h faissHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("index: read header: %w", err)
	}
	consumed := int64(len(fourcc)) + int64(binary.Size(h)) + 8
	if h.Metric > 1 {
		var arg float32
		if err := binary.Read(r, binary.LittleEndian, &arg); err != nil {
			return nil, fmt.Errorf("index: read metric arg: %w", err)
		}
		consumed += 4
	}
	if h.Dim <= 0 || h.Dim > MaxDim {
		return nil, fmt.Errorf("%w: dimension %d outside 1..%d", ErrCorruptIndex, h.Dim, MaxDim)
	}
	if h.NTotal < 0 || h.NTotal > math.MaxInt64/4/int64(h.Dim) {
		return nil, fmt.Errorf("%w: vector count %d", ErrCorruptIndex, h.NTotal)
	}

	metric := Metric(h.Metric)
	if string(fourcc[:]) == fourccFlatL2 && metric != MetricL2 ||
		string(fourcc[:]) == fourccFlatIP && metric != MetricInnerProduct {
		return nil, fmt.Errorf("index: fourcc %q disagrees with metric %s", string(fourcc[:]), metric)
	}

	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("index: read vector data size: %w", err)
	}
	want := h.NTotal * int64(h.Dim)
	if count != uint64(want) {
		return nil, fmt.Errorf("index: vector data holds %d floats, header implies %d", count, want)
	}
	if size >= 0 && want*4 > size-consumed {
		return nil, fmt.Errorf("%w: %d vectors of dimension %d need %d bytes, file has %d",
			ErrCorruptIndex, h.NTotal, h.Dim, want*4, max(size-consumed, 0))
	}
	if want > math.MaxInt/4 {
		return nil, fmt.Errorf("%w: %d floats exceed addressable memory", ErrCorruptIndex, want)
	}

	// Decode in chunks so a header that overstates a stream fails on read
	// instead of allocating the claimed size.
	data := make([]float32, 0, min(want, readChunk))
	buf := make([]byte, 4*min(want, readChunk))
	for remaining := want; remaining > 0; {
		n := min(remaining, readChunk)
		chunk := buf[:4*n]
		if _, err := io.ReadFull(r, chunk); err != nil {
			return nil, fmt.Errorf("index: read vector data: %w", err)
		}
		for i := range n {
			data = append(data, math.Float32frombits(binary.LittleEndian.Uint32(chunk[4*i:])))
		}
		remaining -= n
	}

	return &FlatIndex{dim: int(h.Dim), metric: metric, data: data}, nil
}

// WriteFlat encodes x in the FAISS flat layout.
func WriteFlat(w io.Writer, x *FlatIndex) error {
	fourcc := fourccFlatL2
	if x.metric == MetricInnerProduct {
		fourcc = fourccFlatIP
	}
	if _, err := io.WriteString(w, fourcc); err != nil {
		return fmt.Errorf("index: write fourcc: %w", err)
	}
	h := faissHeader{
		Dim:       int32(x.dim),
		NTotal:    int64(x.Len()),
		Dummy1:    faissDummy,
		Dummy2:    faissDummy,
		IsTrained: 1,
		Metric:    int32(x.metric),
	}
	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("index: write header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(x.data))); err != nil {
		return fmt.Errorf("index: write vector data size: %w", err)
	}
	buf := make([]byte, 4*len(x.data))
	for i, f := range x.data {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("index: write vector data: %w", err)
	}
	return nil
}

// ReadFlatFile loads a FAISS flat index from path.
func ReadFlatFile(path string) (*FlatIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("index: open %s: %w", path, err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("index: stat %s: %w", path, err)
	}
	x, err := readFlat(bufio.NewReader(f), st.Size())
	if err != nil {
		return nil, fmt.Errorf("index: load %s: %w", path, err)
	}
	return x, nil
}

// WriteFlatFile writes x to path, replacing any existing file.
func WriteFlatFile(path string, x *FlatIndex) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("index: create %s: %w", path, err)
	}
	bw := bufio.NewWriter(f)
	if err := WriteFlat(bw, x); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("index: flush %s: %w", path, err)
	}
	return f.Close()
}
