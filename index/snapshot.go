package index

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/jrgochan/bookbrain/codec"
	"github.com/jrgochan/bookbrain/distance"
)

// Snapshot file layout (big-endian):
//
//	magic      uint32
//	version    uint8
//	compress   uint8
//	codecLen   uint8, codec name bytes
//	payloadLen uint64
//	checksum   uint32 (CRC32-C of the compressed payload)
//	payload    compressed codec-encoded body
//
// The header names the codec and compression used, so a reader needs no
// out-of-band configuration to load a snapshot.
const (
	snapshotMagic   = uint32(0x424B4258) // "BKBX"
	snapshotVersion = uint8(1)

	// maxSnapshotPayload bounds the payload length declared in the
	// header. A flipped bit in that field must not drive allocation.
	maxSnapshotPayload = uint64(1) << 32
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Compression selects the snapshot payload compression.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionZstd
	CompressionLZ4
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return "unknown"
	}
}

// SnapshotOptions configure Save.
type SnapshotOptions struct {
	// Codec encodes the snapshot body.
	Codec codec.Codec

	// Compression compresses the encoded body. Chunk text compresses
	// well; float32 vectors less so, but zstd still wins on real indexes.
	Compression Compression
}

// DefaultSnapshotOptions are the options used when none are overridden.
var DefaultSnapshotOptions = SnapshotOptions{
	Codec:       codec.Default,
	Compression: CompressionZstd,
}

// snapshotBody is the codec-encoded persistent form of a Flat index.
type snapshotBody struct {
	Dimension int             `json:"dimension"`
	Metric    distance.Metric `json:"metric"`
	Texts     []string        `json:"texts"`
	BookIDs   []int64         `json:"book_ids"`
	Vectors   [][]float32     `json:"vectors"`
}

// Save writes the index to w in the snapshot format.
func (f *Flat) Save(w io.Writer, optFns ...func(o *SnapshotOptions)) error {
	opts := DefaultSnapshotOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	f.mu.RLock()
	body := snapshotBody{
		Dimension: f.dimension,
		Metric:    f.metric,
		Texts:     f.texts,
		BookIDs:   f.bookIDs,
		Vectors:   f.vectors,
	}
	encoded, err := opts.Codec.Marshal(body)
	f.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	payload, err := compress(encoded, opts.Compression)
	if err != nil {
		return fmt.Errorf("compress snapshot: %w", err)
	}

	codecName := opts.Codec.Name()
	if len(codecName) > 255 {
		return fmt.Errorf("codec name too long: %q", codecName)
	}

	var header bytes.Buffer
	binary.Write(&header, binary.BigEndian, snapshotMagic)
	header.WriteByte(snapshotVersion)
	header.WriteByte(byte(opts.Compression))
	header.WriteByte(byte(len(codecName)))
	header.WriteString(codecName)
	binary.Write(&header, binary.BigEndian, uint64(len(payload)))
	binary.Write(&header, binary.BigEndian, crc32.Checksum(payload, crcTable))

	if _, err := w.Write(header.Bytes()); err != nil {
		return fmt.Errorf("write snapshot header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write snapshot payload: %w", err)
	}
	return nil
}

// Load reads a snapshot written by Save and reconstructs the index. Any
// structural damage (truncation, bit rot, unknown codec) is reported as
// *ErrCorruptSnapshot so callers can quarantine the file.
func Load(r io.Reader) (*Flat, error) {
	var magic uint32
	if err := binary.Read(r, binary.BigEndian, &magic); err != nil {
		return nil, &ErrCorruptSnapshot{Reason: "short header", Err: err}
	}
	if magic != snapshotMagic {
		return nil, &ErrCorruptSnapshot{Reason: fmt.Sprintf("bad magic 0x%08X", magic)}
	}

	var fixed [3]byte // version, compression, codec name length
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return nil, &ErrCorruptSnapshot{Reason: "short header", Err: err}
	}
	if fixed[0] != snapshotVersion {
		return nil, &ErrCorruptSnapshot{Reason: fmt.Sprintf("unsupported version %d", fixed[0])}
	}
	compression := Compression(fixed[1])

	codecName := make([]byte, fixed[2])
	if _, err := io.ReadFull(r, codecName); err != nil {
		return nil, &ErrCorruptSnapshot{Reason: "short codec name", Err: err}
	}
	cdc, ok := codec.ByName(string(codecName))
	if !ok {
		return nil, &ErrCorruptSnapshot{Reason: fmt.Sprintf("unknown codec %q", codecName)}
	}

	var payloadLen uint64
	if err := binary.Read(r, binary.BigEndian, &payloadLen); err != nil {
		return nil, &ErrCorruptSnapshot{Reason: "short header", Err: err}
	}
	var checksum uint32
	if err := binary.Read(r, binary.BigEndian, &checksum); err != nil {
		return nil, &ErrCorruptSnapshot{Reason: "short header", Err: err}
	}

	if payloadLen > maxSnapshotPayload {
		return nil, &ErrCorruptSnapshot{Reason: fmt.Sprintf("implausible payload length %d", payloadLen)}
	}

	// ReadAll over a limited reader grows with the data actually present,
	// so a damaged length field cannot force a huge upfront allocation.
	payload, err := io.ReadAll(io.LimitReader(r, int64(payloadLen)))
	if err != nil {
		return nil, &ErrCorruptSnapshot{Reason: "read payload", Err: err}
	}
	if uint64(len(payload)) != payloadLen {
		return nil, &ErrCorruptSnapshot{Reason: fmt.Sprintf(
			"truncated payload: got %d bytes, header declares %d", len(payload), payloadLen)}
	}
	if got := crc32.Checksum(payload, crcTable); got != checksum {
		return nil, &ErrCorruptSnapshot{Reason: fmt.Sprintf("checksum mismatch: stored 0x%08X, computed 0x%08X", checksum, got)}
	}

	encoded, err := decompress(payload, compression)
	if err != nil {
		return nil, &ErrCorruptSnapshot{Reason: "decompress payload", Err: err}
	}

	var body snapshotBody
	if err := cdc.Unmarshal(encoded, &body); err != nil {
		return nil, &ErrCorruptSnapshot{Reason: "decode body", Err: err}
	}

	return fromBody(body)
}

// fromBody validates the decoded body and rebuilds the in-memory index,
// including the per-book row bitmaps.
func fromBody(body snapshotBody) (*Flat, error) {
	if len(body.Texts) != len(body.BookIDs) || len(body.Texts) != len(body.Vectors) {
		return nil, &ErrCorruptSnapshot{Reason: fmt.Sprintf(
			"inconsistent lengths: %d texts, %d book ids, %d vectors",
			len(body.Texts), len(body.BookIDs), len(body.Vectors))}
	}

	f, err := New(body.Dimension, func(o *Options) { o.Metric = body.Metric })
	if err != nil {
		return nil, &ErrCorruptSnapshot{Reason: "invalid index parameters", Err: err}
	}

	for row, vec := range body.Vectors {
		if len(vec) != body.Dimension {
			return nil, &ErrCorruptSnapshot{Reason: fmt.Sprintf(
				"vector %d has dimension %d, want %d", row, len(vec), body.Dimension)}
		}
	}

	f.texts = body.Texts
	f.bookIDs = body.BookIDs
	f.vectors = body.Vectors
	for row, id := range body.BookIDs {
		bm, ok := f.books[id]
		if !ok {
			bm = roaring.New()
			f.books[id] = bm
		}
		bm.Add(uint32(row))
	}
	return f, nil
}

func compress(data []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
	case CompressionLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown compression %d", c)
	}
}

func decompress(data []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return dec.DecodeAll(data, nil)
	case CompressionLZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	default:
		return nil, fmt.Errorf("unknown compression %d", c)
	}
}
