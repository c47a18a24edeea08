package repair

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
)

const (
	archiveMagic   = "RPAR"
	archiveVersion = uint16(1)

	stageFrameSizes = "frame_sizes"
	stageFrameKinds = "frame_kinds"
	stageFrames     = "frames"
	stageChecksums  = "frame_checksums"

	stageFramesParamRaw   = uint8(1) // uvarint length + payload per frame
	stageFramesParamFlate = uint8(2) // flate(raw frames payload)
	stageFramesParamZstd  = uint8(3) // zstd(raw frames payload)

	frameKindStored  = uint8(0) // payload is the input chunk itself
	frameKindGrammar = uint8(1) // payload is a compressed frame

	maxArchiveStages     = 64
	maxStagePayloadBytes = 1 << 30 // 1 GiB
	maxArchiveFrames     = maxStagePayloadBytes / FrameMax
)

// ErrChecksum indicates a decoded frame whose hash differs from the one
// recorded in the archive.
var ErrChecksum = fmt.Errorf("%w: checksum mismatch", ErrCorrupt)

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxStagePayloadBytes))
)

// Wire format (version 1):
//
//	magic[4] = "RPAR"
//	version  = uint16 little-endian
//	stageCnt = uint16 little-endian
//	repeat stageCnt times:
//	  nameLen  = uint8
//	  paramLen = uint16 little-endian
//	  dataLen  = uint32 little-endian
//	  name     = nameLen bytes
//	  params   = paramLen bytes
//	  payload  = dataLen bytes
//
// Required stage names:
//
//	frame_sizes, frame_kinds, frames
//
// Optional stage names:
//
//	frame_checksums (xxhash64 of each decoded frame, uint64 little-endian)
//
// Unknown stages are skipped via dataLen framing.
type wireStageHeader struct {
	name     string
	paramLen uint16
	dataLen  uint32
}

func writeBytes(w io.Writer, b []byte) (int64, error) {
	n, err := w.Write(b)
	if err != nil {
		return int64(n), err
	}
	if n != len(b) {
		return int64(n), io.ErrShortWrite
	}
	return int64(n), nil
}

func writeStage(w io.Writer, name string, params []byte, payload []byte) (int64, error) {
	if len(name) == 0 || len(name) > 255 {
		return 0, fmt.Errorf("invalid stage name length: %d", len(name))
	}
	if len(params) > int(^uint16(0)) {
		return 0, fmt.Errorf("stage params too large for %q: %d", name, len(params))
	}
	if len(payload) > maxStagePayloadBytes {
		return 0, fmt.Errorf("stage payload too large for %q: %d", name, len(payload))
	}

	var header [7]byte
	header[0] = uint8(len(name))
	binary.LittleEndian.PutUint16(header[1:3], uint16(len(params)))
	binary.LittleEndian.PutUint32(header[3:7], uint32(len(payload)))

	var total int64
	for _, part := range [][]byte{header[:], []byte(name), params, payload} {
		n, err := writeBytes(w, part)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func readStageHeader(r io.Reader) (wireStageHeader, int64, error) {
	var header [7]byte
	n, err := io.ReadFull(r, header[:])
	total := int64(n)
	if err != nil {
		return wireStageHeader{}, total, err
	}
	nameLen := header[0]
	if nameLen == 0 {
		return wireStageHeader{}, total, fmt.Errorf("stage name length must be > 0")
	}
	dataLen := binary.LittleEndian.Uint32(header[3:7])
	if dataLen > uint32(maxStagePayloadBytes) {
		return wireStageHeader{}, total, fmt.Errorf("stage payload too large: %d", dataLen)
	}

	nameBytes := make([]byte, int(nameLen))
	n, err = io.ReadFull(r, nameBytes)
	total += int64(n)
	if err != nil {
		return wireStageHeader{}, total, err
	}

	return wireStageHeader{
		name:     string(nameBytes),
		paramLen: binary.LittleEndian.Uint16(header[1:3]),
		dataLen:  dataLen,
	}, total, nil
}

// Archive holds a sequence of independently compressed frames covering an
// input of any length.
type Archive struct {
	Sizes     []int    // Decoded size of each frame
	Kinds     []uint8  // Storage kind of each frame
	Frames    [][]byte // Payload of each frame
	Checksums []uint64 // xxhash64 of each decoded frame; optional
}

// Pack splits data into FrameMax chunks and compresses each one. Chunks too
// short for grammar induction, or that would not shrink, are stored as is.
func Pack(data []byte, opts ...Option) (*Archive, error) {
	enc := NewEncoder(opts...)
	a := &Archive{}
	for off := 0; off < len(data); off += FrameMax {
		chunk := data[off:min(off+FrameMax, len(data))]

		kind, payload := frameKindStored, chunk
		if len(chunk) >= MinFrame {
			out, err := enc.Compress(chunk)
			if err != nil {
				return nil, fmt.Errorf("frame %d at offset %d: %w", len(a.Frames), off, err)
			}
			if len(out) < len(chunk) {
				kind, payload = frameKindGrammar, out
			}
		}
		a.Sizes = append(a.Sizes, len(chunk))
		a.Kinds = append(a.Kinds, kind)
		a.Frames = append(a.Frames, bytes.Clone(payload))
		a.Checksums = append(a.Checksums, xxhash.Sum64(chunk))
	}
	enc.logger.Debugw("archive packed", "input", len(data), "frames", len(a.Frames), "size", a.SpaceUsed())
	return a, nil
}

// Len returns the number of frames.
func (a *Archive) Len() int {
	return len(a.Frames)
}

// DecodedLen returns the total decoded size.
func (a *Archive) DecodedLen() int {
	n := 0
	for _, size := range a.Sizes {
		n += size
	}
	return n
}

// SpaceUsed returns the total payload size in bytes.
func (a *Archive) SpaceUsed() int {
	n := 0
	for _, f := range a.Frames {
		n += len(f)
	}
	return n
}

// AppendFrame appends the decoded frame at index to dst, verifying its
// checksum when the archive carries them.
func (a *Archive) AppendFrame(dst []byte, index int) ([]byte, error) {
	start := len(dst)
	out, err := a.appendFrame(dst, index)
	if err != nil || index >= len(a.Checksums) {
		return out, err
	}
	if sum := xxhash.Sum64(out[start:]); sum != a.Checksums[index] {
		return dst, fmt.Errorf("%w: frame %d hashes to %016x, want %016x", ErrChecksum, index, sum, a.Checksums[index])
	}
	return out, nil
}

func (a *Archive) appendFrame(dst []byte, index int) ([]byte, error) {
	if index < 0 || index >= a.Len() {
		return dst, fmt.Errorf("index out of bounds: %d", index)
	}
	payload := a.Frames[index]
	switch a.Kinds[index] {
	case frameKindStored:
		if len(payload) != a.Sizes[index] {
			return dst, fmt.Errorf("stored frame %d holds %d bytes, want %d", index, len(payload), a.Sizes[index])
		}
		return append(dst, payload...), nil
	case frameKindGrammar:
		start := len(dst)
		out, err := AppendExpand(dst, payload)
		if err != nil {
			return dst, fmt.Errorf("frame %d: %w", index, err)
		}
		if got := len(out) - start; got != a.Sizes[index] {
			return dst, fmt.Errorf("%w: frame %d expands to %d bytes, want %d", ErrCorrupt, index, got, a.Sizes[index])
		}
		return out, nil
	default:
		return dst, fmt.Errorf("frame %d: unknown kind %d", index, a.Kinds[index])
	}
}

// Frame returns the decoded frame at index.
func (a *Archive) Frame(index int) ([]byte, error) {
	if index < 0 || index >= a.Len() {
		return nil, fmt.Errorf("index out of bounds: %d", index)
	}
	return a.AppendFrame(make([]byte, 0, a.Sizes[index]), index)
}

// AppendAll appends every decoded frame to dst.
func (a *Archive) AppendAll(dst []byte) ([]byte, error) {
	var err error
	for i := range a.Frames {
		if dst, err = a.AppendFrame(dst, i); err != nil {
			return dst, err
		}
	}
	return dst, nil
}

// Unpack returns the decoded content of the archive.
func (a *Archive) Unpack() ([]byte, error) {
	return a.AppendAll(make([]byte, 0, a.DecodedLen()))
}

func encodeFrameSizesStage(a *Archive) []byte {
	buf := make([]byte, 0, len(a.Sizes)*3)
	for _, size := range a.Sizes {
		buf = binary.AppendUvarint(buf, uint64(size))
	}
	return buf
}

func decodeFrameSizesStage(dst *Archive, payload []byte) error {
	var sizes []int
	for off := 0; off < len(payload); {
		v, n := binary.Uvarint(payload[off:])
		if n <= 0 {
			return fmt.Errorf("invalid frame size varint at byte %d", off)
		}
		if v > FrameMax {
			return fmt.Errorf("frame size %d exceeds %d", v, FrameMax)
		}
		if len(sizes) >= maxArchiveFrames {
			return fmt.Errorf("too many frames")
		}
		sizes = append(sizes, int(v))
		off += n
	}
	dst.Sizes = sizes
	return nil
}

func encodeFramesStage(a *Archive) ([]byte, uint8, error) {
	raw := make([]byte, 0, a.SpaceUsed()+len(a.Frames)*3)
	for _, f := range a.Frames {
		raw = binary.AppendUvarint(raw, uint64(len(f)))
		raw = append(raw, f...)
	}

	best, param := raw, stageFramesParamRaw
	packed, err := encodeFlatePayload(raw)
	if err != nil {
		return nil, 0, err
	}
	if len(packed) < len(best) {
		best, param = packed, stageFramesParamFlate
	}
	if packed := zstdEncoder.EncodeAll(raw, nil); len(packed) < len(best) {
		best, param = packed, stageFramesParamZstd
	}
	return best, param, nil
}

func decodeFramesStage(dst *Archive, params []byte, payload []byte) error {
	if len(params) != 1 {
		return fmt.Errorf("frames stage expects 1 param byte, got %d", len(params))
	}
	raw := payload
	switch params[0] {
	case stageFramesParamRaw:
	case stageFramesParamFlate:
		var err error
		if raw, err = decodeFlatePayload(payload); err != nil {
			return fmt.Errorf("frames flate payload: %w", err)
		}
	case stageFramesParamZstd:
		var err error
		if raw, err = zstdDecoder.DecodeAll(payload, nil); err != nil {
			return fmt.Errorf("frames zstd payload: %w", err)
		}
		if len(raw) > maxStagePayloadBytes {
			return fmt.Errorf("zstd payload expands beyond limit")
		}
	default:
		return fmt.Errorf("unsupported frames param: %d", params[0])
	}

	var frames [][]byte
	for off := 0; off < len(raw); {
		v, n := binary.Uvarint(raw[off:])
		if n <= 0 {
			return fmt.Errorf("invalid frame length varint at byte %d", off)
		}
		off += n
		if v > uint64(len(raw)-off) {
			return fmt.Errorf("frame %d length %d exceeds remaining %d bytes", len(frames), v, len(raw)-off)
		}
		if len(frames) >= maxArchiveFrames {
			return fmt.Errorf("too many frames")
		}
		frames = append(frames, bytes.Clone(raw[off:off+int(v)]))
		off += int(v)
	}
	dst.Frames = frames
	return nil
}

func encodeChecksumsStage(a *Archive) []byte {
	buf := make([]byte, 0, len(a.Checksums)*8)
	for _, sum := range a.Checksums {
		buf = binary.LittleEndian.AppendUint64(buf, sum)
	}
	return buf
}

func decodeChecksumsStage(dst *Archive, payload []byte) error {
	if len(payload)%8 != 0 {
		return fmt.Errorf("checksums payload of %d bytes is not a multiple of 8", len(payload))
	}
	sums := make([]uint64, 0, len(payload)/8)
	for off := 0; off < len(payload); off += 8 {
		sums = append(sums, binary.LittleEndian.Uint64(payload[off:]))
	}
	dst.Checksums = sums
	return nil
}

func encodeFlatePayload(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeFlatePayload(payload []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(payload))
	defer r.Close()

	limited := io.LimitReader(r, maxStagePayloadBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if len(raw) > maxStagePayloadBytes {
		return nil, fmt.Errorf("flate payload expands beyond limit")
	}
	return raw, nil
}

func validateArchiveStructure(a *Archive) error {
	if len(a.Sizes) != len(a.Frames) || len(a.Kinds) != len(a.Frames) {
		return fmt.Errorf("frame tables disagree: %d sizes, %d kinds, %d frames", len(a.Sizes), len(a.Kinds), len(a.Frames))
	}
	if len(a.Checksums) != 0 && len(a.Checksums) != len(a.Frames) {
		return fmt.Errorf("%d checksums for %d frames", len(a.Checksums), len(a.Frames))
	}
	for i, kind := range a.Kinds {
		switch kind {
		case frameKindStored:
			if len(a.Frames[i]) != a.Sizes[i] {
				return fmt.Errorf("stored frame %d holds %d bytes, want %d", i, len(a.Frames[i]), a.Sizes[i])
			}
		case frameKindGrammar:
			if a.Sizes[i] < MinFrame {
				return fmt.Errorf("compressed frame %d decodes to %d bytes", i, a.Sizes[i])
			}
		default:
			return fmt.Errorf("frame %d: unknown kind %d", i, kind)
		}
		if a.Sizes[i] > FrameMax {
			return fmt.Errorf("frame %d size %d exceeds %d", i, a.Sizes[i], FrameMax)
		}
	}
	return nil
}

// WriteTo serializes the Archive to an io.Writer.
func (a *Archive) WriteTo(w io.Writer) (int64, error) {
	if err := validateArchiveStructure(a); err != nil {
		return 0, fmt.Errorf("invalid archive: %w", err)
	}

	framesPayload, framesParam, err := encodeFramesStage(a)
	if err != nil {
		return 0, err
	}

	stages := []struct {
		name    string
		params  []byte
		payload []byte
	}{
		{name: stageFrameSizes, payload: encodeFrameSizesStage(a)},
		{name: stageFrameKinds, payload: a.Kinds},
		{name: stageFrames, params: []byte{framesParam}, payload: framesPayload},
	}
	if len(a.Checksums) > 0 {
		stages = append(stages, struct {
			name    string
			params  []byte
			payload []byte
		}{name: stageChecksums, payload: encodeChecksumsStage(a)})
	}

	var total int64
	var header [8]byte
	copy(header[:4], archiveMagic)
	binary.LittleEndian.PutUint16(header[4:6], archiveVersion)
	binary.LittleEndian.PutUint16(header[6:8], uint16(len(stages)))
	n, err := writeBytes(w, header[:])
	total += n
	if err != nil {
		return total, err
	}

	for _, stage := range stages {
		n, err := writeStage(w, stage.name, stage.params, stage.payload)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// ReadFrom deserializes an Archive from an io.Reader.
func (a *Archive) ReadFrom(r io.Reader) (int64, error) {
	var total int64
	var header [8]byte
	n, err := io.ReadFull(r, header[:])
	total += int64(n)
	if err != nil {
		return total, fmt.Errorf("read archive header at offset 0: %w", err)
	}
	if string(header[:4]) != archiveMagic {
		return total, fmt.Errorf("invalid archive magic at offset 0: %q", string(header[:4]))
	}
	if version := binary.LittleEndian.Uint16(header[4:6]); version != archiveVersion {
		return total, fmt.Errorf("unsupported archive version at offset 4: %d", version)
	}
	stageCount := binary.LittleEndian.Uint16(header[6:8])
	if stageCount == 0 || stageCount > maxArchiveStages {
		return total, fmt.Errorf("invalid stage count at offset 6: %d", stageCount)
	}

	var tmp Archive
	seenStages := make(map[string]bool, stageCount)
	for i := 0; i < int(stageCount); i++ {
		headerOffset := total
		stage, n, err := readStageHeader(r)
		total += n
		if err != nil {
			return total, fmt.Errorf("read stage header at offset %d (stage index %d): %w", headerOffset, i, err)
		}
		if seenStages[stage.name] {
			return total, fmt.Errorf("duplicate stage %q at stage index %d", stage.name, i)
		}

		params := make([]byte, int(stage.paramLen))
		nParams, err := io.ReadFull(r, params)
		total += int64(nParams)
		if err != nil {
			return total, fmt.Errorf("read stage %q params (stage index %d): %w", stage.name, i, err)
		}

		switch stage.name {
		case stageFrameSizes, stageFrameKinds, stageFrames, stageChecksums:
			// The buffer grows with the bytes actually read, not with dataLen.
			var buf bytes.Buffer
			payloadOffset := total
			nPayload, err := io.CopyN(&buf, r, int64(stage.dataLen))
			total += nPayload
			if err != nil {
				return total, fmt.Errorf("read stage %q payload at offset %d (stage index %d): %w", stage.name, payloadOffset, i, err)
			}
			payload := buf.Bytes()

			switch stage.name {
			case stageFrameSizes:
				err = decodeFrameSizesStage(&tmp, payload)
			case stageFrameKinds:
				tmp.Kinds = payload
			case stageFrames:
				err = decodeFramesStage(&tmp, params, payload)
			case stageChecksums:
				err = decodeChecksumsStage(&tmp, payload)
			}
			if err != nil {
				return total, fmt.Errorf("decode stage %q at offset %d (stage index %d): %w", stage.name, payloadOffset, i, err)
			}
			seenStages[stage.name] = true

		default:
			skipOffset := total
			skipped, err := io.CopyN(io.Discard, r, int64(stage.dataLen))
			total += skipped
			if err != nil {
				return total, fmt.Errorf("skip unknown stage %q at offset %d (stage index %d): %w", stage.name, skipOffset, i, err)
			}
		}
	}

	for _, name := range []string{stageFrameSizes, stageFrameKinds, stageFrames} {
		if !seenStages[name] {
			return total, fmt.Errorf("missing required stage %q", name)
		}
	}
	if err := validateArchiveStructure(&tmp); err != nil {
		return total, fmt.Errorf("invalid archive structure: %w", err)
	}

	*a = tmp
	return total, nil
}
