package fingerprint

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"slices"
	"sync"

	"github.com/OneOfOne/xxhash"
	"github.com/klauspost/compress/zstd"
)

// Index blob layout, little endian:
//
//	magic "EPFP" | u16 version | u16 flags | u64 xxhash64(body) | u32 len(body) | body
//
// body is the payload, zstd-compressed when flagCompressed is set:
//
//	u32 sr | u32 hop | u32 window | u16 K | u16 F | u16 dmin | u16 dmax |
//	uvarint nHashes | { uvarint hashDelta | uvarint nFrames | uvarint frameDelta... }
//
// Hashes and frames are written ascending.
const (
	FormatVersion uint16 = 1

	flagCompressed uint16 = 1 << 0

	headerSize  = 20
	maxBodySize = 1 << 30
)

var magic = [4]byte{'E', 'P', 'F', 'P'}

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func codecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxBodySize))
	})
	return zstdEnc, zstdDec, zstdErr
}

// Header is the fixed prefix of an index blob.
type Header struct {
	Version    uint16
	Compressed bool
	Checksum   uint64
	BodyLen    uint32
}

// MarshalIndex serializes idx. Output is deterministic for a given index.
func MarshalIndex(idx *Index, compress bool) ([]byte, error) {
	if idx == nil {
		return nil, fmt.Errorf("marshal index: nil index")
	}
	payload, err := encodePayload(idx)
	if err != nil {
		return nil, err
	}

	body := payload
	var flags uint16
	if compress {
		enc, _, err := codecs()
		if err != nil {
			return nil, fmt.Errorf("zstd init: %w", err)
		}
		body = enc.EncodeAll(payload, nil)
		flags |= flagCompressed
	}
	if len(body) > maxBodySize {
		return nil, fmt.Errorf("marshal index: body of %d bytes too large", len(body))
	}

	out := make([]byte, headerSize, headerSize+len(body))
	copy(out[0:4], magic[:])
	binary.LittleEndian.PutUint16(out[4:6], FormatVersion)
	binary.LittleEndian.PutUint16(out[6:8], flags)
	binary.LittleEndian.PutUint64(out[8:16], xxhash.Checksum64(body))
	binary.LittleEndian.PutUint32(out[16:20], uint32(len(body)))
	return append(out, body...), nil
}

// ReadHeader validates magic and version and returns the header fields.
func ReadHeader(data []byte) (Header, error) {
	if len(data) < 6 {
		return Header{}, fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorruptIndex, len(data))
	}
	if !bytes.Equal(data[0:4], magic[:]) {
		return Header{}, fmt.Errorf("%w: bad magic %q", ErrCorruptIndex, data[0:4])
	}
	version := binary.LittleEndian.Uint16(data[4:6])
	if version != FormatVersion {
		return Header{}, fmt.Errorf("%w: got version %d, want %d", ErrVersionMismatch, version, FormatVersion)
	}
	if len(data) < headerSize {
		return Header{}, fmt.Errorf("%w: truncated header", ErrCorruptIndex)
	}
	return Header{
		Version:    version,
		Compressed: binary.LittleEndian.Uint16(data[6:8])&flagCompressed != 0,
		Checksum:   binary.LittleEndian.Uint64(data[8:16]),
		BodyLen:    binary.LittleEndian.Uint32(data[16:20]),
	}, nil
}

// UnmarshalIndex parses a blob written by MarshalIndex. Every failure wraps
// ErrIndexUnavailable.
func UnmarshalIndex(data []byte) (*Index, error) {
	hdr, err := ReadHeader(data)
	if err != nil {
		return nil, err
	}

	body := data[headerSize:]
	if uint64(len(body)) != uint64(hdr.BodyLen) {
		return nil, fmt.Errorf("%w: body is %d bytes, header says %d", ErrCorruptIndex, len(body), hdr.BodyLen)
	}
	if sum := xxhash.Checksum64(body); sum != hdr.Checksum {
		return nil, fmt.Errorf("%w: checksum %016x, header says %016x", ErrCorruptIndex, sum, hdr.Checksum)
	}

	payload := body
	if hdr.Compressed {
		_, dec, err := codecs()
		if err != nil {
			return nil, fmt.Errorf("%w: zstd init: %v", ErrCorruptIndex, err)
		}
		payload, err = dec.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrCorruptIndex, err)
		}
	}

	return decodePayload(payload)
}

// Encode writes the compressed blob for idx to w.
func (idx *Index) Encode(w io.Writer) error {
	data, err := MarshalIndex(idx, true)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// DecodeIndex reads a whole blob from r.
func DecodeIndex(r io.Reader) (*Index, error) {
	data, err := io.ReadAll(io.LimitReader(r, headerSize+maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	return UnmarshalIndex(data)
}

func encodePayload(idx *Index) ([]byte, error) {
	p := idx.Params
	if idx.SampleRate <= 0 || uint64(idx.SampleRate) > math.MaxUint32 {
		return nil, fmt.Errorf("marshal index: %w: %d", ErrInvalidSampleRate, idx.SampleRate)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("marshal index: %w", err)
	}
	if p.TopK > math.MaxUint16 || p.FanOut > math.MaxUint16 {
		return nil, fmt.Errorf("marshal index: %w: top-k/fan-out exceed 16 bits", ErrInvalidParams)
	}

	var buf bytes.Buffer
	fixed := make([]byte, 20)
	binary.LittleEndian.PutUint32(fixed[0:4], uint32(idx.SampleRate))
	binary.LittleEndian.PutUint32(fixed[4:8], uint32(p.HopSize))
	binary.LittleEndian.PutUint32(fixed[8:12], uint32(p.WindowSize))
	binary.LittleEndian.PutUint16(fixed[12:14], uint16(p.TopK))
	binary.LittleEndian.PutUint16(fixed[14:16], uint16(p.FanOut))
	binary.LittleEndian.PutUint16(fixed[16:18], uint16(p.MinDelta))
	binary.LittleEndian.PutUint16(fixed[18:20], uint16(p.MaxDelta))
	buf.Write(fixed)

	var scratch [binary.MaxVarintLen64]byte
	putUvarint := func(v uint64) {
		n := binary.PutUvarint(scratch[:], v)
		buf.Write(scratch[:n])
	}

	hashes := idx.SortedHashes()
	putUvarint(uint64(len(hashes)))

	var prevHash Hash
	for _, h := range hashes {
		putUvarint(uint64(h - prevHash))
		prevHash = h

		frames := slices.Clone(idx.Hashes[h])
		slices.Sort(frames)
		putUvarint(uint64(len(frames)))

		var prev uint32
		for _, f := range frames {
			putUvarint(uint64(f - prev))
			prev = f
		}
	}
	return buf.Bytes(), nil
}

func decodePayload(payload []byte) (*Index, error) {
	if len(payload) < 20 {
		return nil, fmt.Errorf("%w: truncated payload", ErrCorruptIndex)
	}

	idx := &Index{
		SampleRate: int(binary.LittleEndian.Uint32(payload[0:4])),
		Params: Params{
			HopSize:    int(binary.LittleEndian.Uint32(payload[4:8])),
			WindowSize: int(binary.LittleEndian.Uint32(payload[8:12])),
			TopK:       int(binary.LittleEndian.Uint16(payload[12:14])),
			FanOut:     int(binary.LittleEndian.Uint16(payload[14:16])),
			MinDelta:   int(binary.LittleEndian.Uint16(payload[16:18])),
			MaxDelta:   int(binary.LittleEndian.Uint16(payload[18:20])),
		},
	}
	if idx.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d", ErrCorruptIndex, idx.SampleRate)
	}
	if err := idx.Params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
	}

	r := bytes.NewReader(payload[20:])
	readUvarint := func(what string) (uint64, error) {
		v, err := binary.ReadUvarint(r)
		if err != nil {
			return 0, fmt.Errorf("%w: reading %s: %v", ErrCorruptIndex, what, err)
		}
		return v, nil
	}

	nHashes, err := readUvarint("hash count")
	if err != nil {
		return nil, err
	}
	// every hash needs at least two bytes, which bounds the allocation
	if nHashes > uint64(r.Len()) {
		return nil, fmt.Errorf("%w: %d hashes in %d bytes", ErrCorruptIndex, nHashes, r.Len())
	}
	idx.Hashes = make(map[Hash][]uint32, nHashes)

	var hash uint64
	for i := uint64(0); i < nHashes; i++ {
		delta, err := readUvarint("hash")
		if err != nil {
			return nil, err
		}
		if i > 0 && delta == 0 {
			return nil, fmt.Errorf("%w: duplicate hash", ErrCorruptIndex)
		}
		hash += delta
		if hash > math.MaxUint32 {
			return nil, fmt.Errorf("%w: hash out of range", ErrCorruptIndex)
		}

		nFrames, err := readUvarint("frame count")
		if err != nil {
			return nil, err
		}
		if nFrames == 0 || nFrames > uint64(r.Len()) {
			return nil, fmt.Errorf("%w: bad frame count %d", ErrCorruptIndex, nFrames)
		}

		frames := make([]uint32, nFrames)
		var frame uint64
		for j := range frames {
			fd, err := readUvarint("frame")
			if err != nil {
				return nil, err
			}
			frame += fd
			if frame > math.MaxUint32 {
				return nil, fmt.Errorf("%w: frame out of range", ErrCorruptIndex)
			}
			frames[j] = uint32(frame)
		}
		idx.Hashes[Hash(hash)] = frames
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorruptIndex, r.Len())
	}
	return idx, nil
}
