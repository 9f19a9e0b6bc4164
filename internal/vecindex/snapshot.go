package vecindex

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/charmbracelet/log"

	"github.com/nickcecere/framegrep/internal/errdefs"
)

// Snapshot layout, little-endian:
//
//	magic "FGIX" | u16 version | u8 metric | u8 reserved | u32 dim | u64 count
//	count x (i64 id, dim x f32)
//	u64 xxhash64 of every preceding byte
const (
	snapshotMagic   = "FGIX"
	snapshotVersion = 1
	headerSize      = 4 + 2 + 1 + 1 + 4 + 8
)

const (
	metricCodeL2     byte = 0
	metricCodeCosine byte = 1
)

// Persist writes the index in snapshot format.
func (f *Flat) Persist(w io.Writer) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	digest := xxhash.New()
	bw := bufio.NewWriter(io.MultiWriter(w, digest))

	header := make([]byte, headerSize)
	copy(header, snapshotMagic)
	binary.LittleEndian.PutUint16(header[4:], snapshotVersion)
	header[6] = metricCode(f.metric)
	binary.LittleEndian.PutUint32(header[8:], uint32(f.dim))
	binary.LittleEndian.PutUint64(header[12:], uint64(len(f.ids)))
	if _, err := bw.Write(header); err != nil {
		return fmt.Errorf("failed to write snapshot header: %w", err)
	}

	record := make([]byte, 8+4*f.dim)
	for p, id := range f.ids {
		binary.LittleEndian.PutUint64(record, uint64(id))
		for i, v := range f.data[p*f.dim : (p+1)*f.dim] {
			binary.LittleEndian.PutUint32(record[8+4*i:], math.Float32bits(v))
		}
		if _, err := bw.Write(record); err != nil {
			return fmt.Errorf("failed to write snapshot record: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	sum := make([]byte, 8)
	binary.LittleEndian.PutUint64(sum, digest.Sum64())
	if _, err := w.Write(sum); err != nil {
		return fmt.Errorf("failed to write snapshot checksum: %w", err)
	}
	return nil
}

// Load reads a snapshot. When expectedDim is positive the snapshot's
// dimension must match it.
func Load(r io.Reader, expectedDim int) (*Flat, error) {
	digest := xxhash.New()
	br := bufio.NewReader(r)
	tr := io.TeeReader(br, digest)

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(tr, header); err != nil {
		return nil, loadErr("truncated header", err)
	}
	if string(header[:4]) != snapshotMagic {
		return nil, loadErr("bad magic", nil)
	}
	if v := binary.LittleEndian.Uint16(header[4:]); v != snapshotVersion {
		return nil, loadErr(fmt.Sprintf("unsupported version %d", v), nil)
	}
	metric, err := metricFromCode(header[6])
	if err != nil {
		return nil, loadErr(err.Error(), nil)
	}
	dim := int(binary.LittleEndian.Uint32(header[8:]))
	count := binary.LittleEndian.Uint64(header[12:])

	if dim <= 0 {
		return nil, loadErr("zero dimension", nil)
	}
	if expectedDim > 0 && dim != expectedDim {
		return nil, fmt.Errorf("%w: snapshot dimension %d, expected %d", errdefs.ErrIndexLoad, dim, expectedDim)
	}

	idx, err := NewFlat(dim, metric)
	if err != nil {
		return nil, loadErr(err.Error(), nil)
	}
	// The header count is untrusted until the checksum is verified.
	capHint := int(min(count, 1<<16))
	idx.ids = make([]int64, 0, capHint)
	idx.data = make([]float32, 0, capHint*dim)

	record := make([]byte, 8+4*dim)
	for n := uint64(0); n < count; n++ {
		if _, err := io.ReadFull(tr, record); err != nil {
			return nil, loadErr(fmt.Sprintf("truncated at record %d", n), err)
		}
		id := int64(binary.LittleEndian.Uint64(record))
		if _, dup := idx.pos[id]; dup {
			return nil, loadErr(fmt.Sprintf("duplicate id %d", id), nil)
		}
		idx.pos[id] = len(idx.ids)
		idx.ids = append(idx.ids, id)
		for i := 0; i < dim; i++ {
			idx.data = append(idx.data, math.Float32frombits(binary.LittleEndian.Uint32(record[8+4*i:])))
		}
	}

	want := digest.Sum64()
	sum := make([]byte, 8)
	if _, err := io.ReadFull(br, sum); err != nil {
		return nil, loadErr("missing checksum", err)
	}
	if got := binary.LittleEndian.Uint64(sum); got != want {
		return nil, loadErr("checksum mismatch", nil)
	}
	if _, err := br.ReadByte(); err != io.EOF {
		return nil, loadErr("trailing data after checksum", nil)
	}

	return idx, nil
}

// SaveFile writes the snapshot to path atomically.
func (f *Flat) SaveFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := f.Persist(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to install snapshot: %w", err)
	}

	log.Debug("Saved index snapshot", "path", path, "vectors", f.Len(), "dimension", f.dim)
	return nil
}

// LoadFile reads a snapshot from path.
func LoadFile(path string, expectedDim int) (*Flat, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errdefs.ErrIndexLoad, err)
	}
	defer file.Close()

	idx, err := Load(file, expectedDim)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	log.Debug("Loaded index snapshot", "path", path, "vectors", idx.Len(), "dimension", idx.dim, "metric", idx.metric)
	return idx, nil
}

func loadErr(msg string, cause error) error {
	if cause != nil && !errors.Is(cause, io.EOF) && !errors.Is(cause, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %s: %v", errdefs.ErrIndexLoad, msg, cause)
	}
	return fmt.Errorf("%w: %s", errdefs.ErrIndexLoad, msg)
}

func metricCode(m Metric) byte {
	if m == MetricCosine {
		return metricCodeCosine
	}
	return metricCodeL2
}

func metricFromCode(b byte) (Metric, error) {
	switch b {
	case metricCodeL2:
		return MetricL2, nil
	case metricCodeCosine:
		return MetricCosine, nil
	default:
		return "", fmt.Errorf("unknown metric code %d", b)
	}
}
