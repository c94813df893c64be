package store

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"

	htip "github.com/najmus-sakib-hossain/dx-www-runtime"
)

// patchMagic identifies a patch wire blob, the ASCII bytes "DXP1".
var patchMagic = [4]byte{'D', 'X', 'P', '1'}

// OpTag discriminates one Patch op.
type OpTag uint8

const (
	OpCopyRange OpTag = 1
	OpInsert    OpTag = 2
	OpReplace   OpTag = 3
)

// Op is one instruction in a Patch's op list. Exactly one shape applies,
// selected by Tag:
//   - CopyRange: Offset, Len index into the base.
//   - Insert: Bytes is injected verbatim, not sourced from the base.
//   - Replace: Offset, Len identify the base span being replaced; Bytes is
//     the new content (its own length need not match Len).
type Op struct {
	Tag    OpTag
	Offset uint32
	Len    uint32
	Bytes  []byte
}

// Patch is the reconstructable difference between two byte sequences,
// named by their content hashes.
type Patch struct {
	BaseHash   Hash
	TargetHash Hash
	Ops        []Op
}

// minMatch is the shortest run of equal bytes the rolling-hash matcher
// will emit as a CopyRange instead of folding it into a neighboring
// Insert/Replace span. Below this length the per-op overhead (9 bytes)
// outweighs the savings of not inlining the bytes.
const minMatch = 16

// rollingWindow is the block size the matcher hashes when indexing base.
const rollingWindow = 32

// MakePatch produces a Patch turning base into target using a rolling-
// hash diff: base is indexed by fixed-size windows, and a hash index is
// consulted as target is scanned left to right, greedily extending any
// hit into the longest equal run before falling back to literal bytes.
// This mirrors the matching strategy bsdiff/rsync use for finding shared
// spans without an O(n*m) byte-by-byte search; the wire shape in §6 is
// fixed but this matching strategy is not.
func MakePatch(base, target []byte) *Patch {
	p := &Patch{BaseHash: Sum(base), TargetHash: Sum(target)}

	index := indexWindows(base)

	var literal []byte
	flushLiteral := func() {
		if len(literal) == 0 {
			return
		}
		p.Ops = append(p.Ops, Op{Tag: OpInsert, Bytes: literal})
		literal = nil
	}

	i := 0
	for i < len(target) {
		matchOff, matchLen := bestMatch(index, base, target, i)
		if matchLen >= minMatch {
			flushLiteral()
			p.Ops = append(p.Ops, Op{Tag: OpCopyRange, Offset: uint32(matchOff), Len: uint32(matchLen)})
			i += matchLen
			continue
		}
		literal = append(literal, target[i])
		i++
	}
	flushLiteral()
	return p
}

// indexWindows builds a map from the contents of each rollingWindow-byte
// window of base to its first offset. A later occurrence of an equal
// window does not overwrite it, so the matcher always anchors on the
// earliest occurrence.
func indexWindows(base []byte) map[string]int {
	index := make(map[string]int)
	if len(base) < rollingWindow {
		if len(base) > 0 {
			index[string(base)] = 0
		}
		return index
	}
	for i := 0; i+rollingWindow <= len(base); i++ {
		key := string(base[i : i+rollingWindow])
		if _, ok := index[key]; !ok {
			index[key] = i
		}
	}
	return index
}

// bestMatch looks up the window starting at target[i] in index and, on a
// hit, greedily extends the match forward past the window, until base or
// target ends or the bytes differ, to find the full equal run.
func bestMatch(index map[string]int, base, target []byte, i int) (offset, length int) {
	if i+rollingWindow > len(target) {
		return 0, 0
	}
	key := string(target[i : i+rollingWindow])
	off, ok := index[key]
	if !ok {
		return 0, 0
	}
	length = rollingWindow
	for off+length < len(base) && i+length < len(target) && base[off+length] == target[i+length] {
		length++
	}
	return off, length
}

// ApplyPatch reconstructs target bytes from base and patch, verifying the
// result hashes to patch.TargetHash. A mismatch is ErrPatchCorrupt and the
// caller must fall back to a full stream rather than trusting the output.
func ApplyPatch(base []byte, patch *Patch) ([]byte, error) {
	if Sum(base) != patch.BaseHash {
		return nil, fmt.Errorf("htip store: base does not match patch.BaseHash: %w", htip.ErrPatchCorrupt)
	}

	var out []byte
	for _, op := range patch.Ops {
		switch op.Tag {
		case OpCopyRange:
			end := uint64(op.Offset) + uint64(op.Len)
			if end > uint64(len(base)) {
				return nil, fmt.Errorf("htip store: CopyRange out of bounds: %w", htip.ErrPatchCorrupt)
			}
			out = append(out, base[op.Offset:op.Offset+op.Len]...)
		case OpInsert:
			out = append(out, op.Bytes...)
		case OpReplace:
			end := uint64(op.Offset) + uint64(op.Len)
			if end > uint64(len(base)) {
				return nil, fmt.Errorf("htip store: Replace out of bounds: %w", htip.ErrPatchCorrupt)
			}
			out = append(out, op.Bytes...)
		default:
			return nil, fmt.Errorf("htip store: unknown patch op tag %d: %w", op.Tag, htip.ErrPatchCorrupt)
		}
	}

	if Sum(out) != patch.TargetHash {
		return nil, htip.ErrPatchCorrupt
	}
	return out, nil
}

// Encode serializes patch to the wire format: magic("DXP1") ‖ base_hash(32)
// ‖ target_hash(32) ‖ op_count(u32) ‖ ops.
func Encode(patch *Patch) []byte {
	var buf bytes.Buffer
	buf.Write(patchMagic[:])
	buf.Write(patch.BaseHash[:])
	buf.Write(patch.TargetHash[:])
	writeUint32(&buf, uint32(len(patch.Ops)))
	for _, op := range patch.Ops {
		buf.WriteByte(byte(op.Tag))
		switch op.Tag {
		case OpCopyRange:
			writeUint32(&buf, op.Offset)
			writeUint32(&buf, op.Len)
		case OpInsert:
			writeUint32(&buf, uint32(len(op.Bytes)))
			buf.Write(op.Bytes)
		case OpReplace:
			writeUint32(&buf, op.Offset)
			writeUint32(&buf, op.Len)
			writeUint32(&buf, uint32(len(op.Bytes)))
			buf.Write(op.Bytes)
		}
	}
	return buf.Bytes()
}

// Decode parses the wire format written by Encode.
func Decode(data []byte) (*Patch, error) {
	if len(data) < 4+32+32+4 {
		return nil, fmt.Errorf("htip store: patch truncated: %w", htip.ErrBufferTooSmall)
	}
	if [4]byte(data[0:4]) != patchMagic {
		return nil, fmt.Errorf("htip store: bad patch magic: %w", htip.ErrPatchCorrupt)
	}
	pos := 4
	var p Patch
	copy(p.BaseHash[:], data[pos:pos+32])
	pos += 32
	copy(p.TargetHash[:], data[pos:pos+32])
	pos += 32
	opCount := binary.LittleEndian.Uint32(data[pos : pos+4])
	pos += 4

	p.Ops = make([]Op, 0, opCount)
	for n := uint32(0); n < opCount; n++ {
		if pos+1 > len(data) {
			return nil, fmt.Errorf("htip store: patch truncated at op %d: %w", n, htip.ErrBufferTooSmall)
		}
		tag := OpTag(data[pos])
		pos++
		switch tag {
		case OpCopyRange:
			if pos+8 > len(data) {
				return nil, fmt.Errorf("htip store: patch truncated at op %d: %w", n, htip.ErrBufferTooSmall)
			}
			off := binary.LittleEndian.Uint32(data[pos : pos+4])
			l := binary.LittleEndian.Uint32(data[pos+4 : pos+8])
			pos += 8
			p.Ops = append(p.Ops, Op{Tag: OpCopyRange, Offset: off, Len: l})
		case OpInsert:
			if pos+4 > len(data) {
				return nil, fmt.Errorf("htip store: patch truncated at op %d: %w", n, htip.ErrBufferTooSmall)
			}
			l := binary.LittleEndian.Uint32(data[pos : pos+4])
			pos += 4
			if uint64(pos)+uint64(l) > uint64(len(data)) {
				return nil, fmt.Errorf("htip store: patch truncated at op %d: %w", n, htip.ErrBufferTooSmall)
			}
			b := make([]byte, l)
			copy(b, data[pos:pos+int(l)])
			pos += int(l)
			p.Ops = append(p.Ops, Op{Tag: OpInsert, Bytes: b})
		case OpReplace:
			if pos+12 > len(data) {
				return nil, fmt.Errorf("htip store: patch truncated at op %d: %w", n, htip.ErrBufferTooSmall)
			}
			off := binary.LittleEndian.Uint32(data[pos : pos+4])
			l := binary.LittleEndian.Uint32(data[pos+4 : pos+8])
			newLen := binary.LittleEndian.Uint32(data[pos+8 : pos+12])
			pos += 12
			if uint64(pos)+uint64(newLen) > uint64(len(data)) {
				return nil, fmt.Errorf("htip store: patch truncated at op %d: %w", n, htip.ErrBufferTooSmall)
			}
			b := make([]byte, newLen)
			copy(b, data[pos:pos+int(newLen)])
			pos += int(newLen)
			p.Ops = append(p.Ops, Op{Tag: OpReplace, Offset: off, Len: l, Bytes: b})
		default:
			return nil, fmt.Errorf("htip store: unknown patch op tag %d: %w", tag, htip.ErrPatchCorrupt)
		}
	}
	return &p, nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

// EncodeGzip wraps Encode's output in gzip. The wrapper is opaque to
// ApplyPatch/Decode; callers choose it purely to shrink bytes on the wire.
func EncodeGzip(patch *Patch) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(Encode(patch)); err != nil {
		return nil, fmt.Errorf("htip store: gzip patch: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("htip store: gzip patch: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeGzip reverses EncodeGzip.
func DecodeGzip(data []byte) (*Patch, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("htip store: ungzip patch: %w", err)
	}
	defer gr.Close()
	raw, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("htip store: ungzip patch: %w", err)
	}
	return Decode(raw)
}
