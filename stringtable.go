package htip

// stringEntry is the on-wire (offset, length) pair describing one string
// inside the shared blob.
type stringEntry struct {
	Offset uint32
	Length uint16
}

const stringEntrySize = 4 + 2 // offset:u32, length:u16

// StringBuilder interns byte strings at encode time, deduplicating by
// exact byte equality and assigning dense ids in order of first
// appearance. The zero value is ready to use.
type StringBuilder struct {
	index map[string]uint32
	order []string
}

// Intern returns the string id for s, allocating a new dense id the first
// time s (by byte value) is seen. Equal-byte inputs within the same
// StringBuilder always return the same id.
func (b *StringBuilder) Intern(s string) uint32 {
	if b.index == nil {
		b.index = make(map[string]uint32)
	}
	if id, ok := b.index[s]; ok {
		return id
	}
	id := uint32(len(b.order))
	b.index[s] = id
	b.order = append(b.order, s)
	return id
}

// Len returns the number of distinct interned strings.
func (b *StringBuilder) Len() int { return len(b.order) }

// Encode serializes the string table section: an array of (offset, length)
// entries followed by the contiguous UTF-8 blob. The section carries no
// count of its own; the entry count is the header's StringCount. Offsets
// in the emitted entries are relative to the start of the blob, not the
// start of the section.
func (b *StringBuilder) Encode() []byte {
	n := len(b.order)
	entriesSize := n * stringEntrySize
	blobSize := 0
	for _, s := range b.order {
		blobSize += len(s)
	}
	out := make([]byte, entriesSize+blobSize)

	var off uint32
	for i, s := range b.order {
		putUint32(out[i*stringEntrySize:], off)
		putUint16(out[i*stringEntrySize+4:], uint16(len(s)))
		off += uint32(len(s))
	}
	blob := out[entriesSize:]
	pos := 0
	for _, s := range b.order {
		copy(blob[pos:], s)
		pos += len(s)
	}
	return out
}

func putUint16(dst []byte, v uint16) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
}

func putUint32(dst []byte, v uint32) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
	dst[3] = byte(v >> 24)
}

// StringTable is the decoded, validated view of a string table section. It
// borrows its blob from the original stream buffer; Resolve never copies.
type StringTable struct {
	entries []stringEntry
	blob    []byte
}

// parseStringTable validates and constructs a StringTable from the section
// starting at data[0:]. It returns the table and the number of bytes the
// section occupied.
func parseStringTable(data []byte, count uint16, limits Limits) (StringTable, uint32, error) {
	if int(count) > limits.MaxStrings {
		return StringTable{}, 0, ErrResourceLimitExceeded
	}
	entriesSize := uint32(count) * stringEntrySize
	if uint64(entriesSize) > uint64(len(data)) {
		return StringTable{}, 0, ErrBufferTooSmall
	}
	entries := make([]stringEntry, count)
	var maxEnd uint32
	for i := range entries {
		base := uint32(i) * stringEntrySize
		off := leUint32(data[base : base+4])
		length := leUint16(data[base+4 : base+6])
		entries[i] = stringEntry{Offset: off, Length: length}
		end := off + uint32(length)
		if end < off {
			return StringTable{}, 0, ErrStringOutOfBounds
		}
		if end > maxEnd {
			maxEnd = end
		}
	}
	blobStart := entriesSize
	if uint64(blobStart)+uint64(maxEnd) > uint64(len(data)) {
		return StringTable{}, 0, ErrStringOutOfBounds
	}
	blob := data[blobStart : blobStart+maxEnd]
	for _, e := range entries {
		if uint64(e.Offset)+uint64(e.Length) > uint64(len(blob)) {
			return StringTable{}, 0, ErrStringOutOfBounds
		}
	}
	return StringTable{entries: entries, blob: blob}, blobStart + maxEnd, nil
}

// Len reports the number of strings in the table.
func (t StringTable) Len() int { return len(t.entries) }

// Resolve returns the bytes for string id, borrowed from the decode
// buffer. It never allocates.
func (t StringTable) Resolve(id uint32) ([]byte, error) {
	if id >= uint32(len(t.entries)) {
		return nil, ErrStringOutOfBounds
	}
	e := t.entries[id]
	return t.blob[e.Offset : e.Offset+uint32(e.Length)], nil
}

// ResolveString is a convenience wrapper around Resolve that copies into a
// string. Prefer Resolve on hot paths that can operate on []byte directly.
func (t StringTable) ResolveString(id uint32) (string, error) {
	b, err := t.Resolve(id)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func leUint16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
