// Package htip implements the HTIP (Hierarchical Template Instantiation
// Protocol) codec: a signed, self-describing binary wire format for
// describing and mutating a hierarchical UI tree, its encoder and decoder,
// and the host dispatcher that turns a decoded stream into calls against a
// node-registry capability.
package htip

import "encoding/binary"

// Magic identifies an HTIP stream. It is the ASCII bytes "DX" read as a
// little-endian u16.
const Magic uint16 = 0x4458

// Version is the only wire version this package decodes. Byte-level layout
// is frozen for this version: magic, header layout, opcode tags and
// PropertyValue tag bytes must never change under version 2.
const Version uint8 = 2

// HeaderSize is the size in bytes of the fixed header that follows the
// detached signature. It does not include the 64-byte signature prefix.
const HeaderSize = 16

// SignatureSize is the size in bytes of a detached Ed25519 signature.
const SignatureSize = 64

// Header is the fixed 16-byte section that immediately follows the
// detached signature in a stream. All multibyte fields are little-endian.
//
// An earlier iteration of this format folded a 64-byte signature directly
// into a single 77/88-byte header struct (see original_source's
// dx-binary/protocol.rs HtipHeader, padded to 88 bytes for alignment).
// That shape is not implemented here: version 2 keeps the signature
// detached and in front of the header so the signature pipeline can run
// outside the sandbox that decodes the payload (see Detach/Sign/Verify).
type Header struct {
	Magic         uint16
	Version       uint8
	Flags         uint8
	TemplateCount uint16
	StringCount   uint16
	OpcodeCount   uint32
	PayloadSize   uint32
}

// putHeader writes h in the wire layout to dst, which must be at least
// HeaderSize bytes.
func putHeader(dst []byte, h Header) {
	binary.LittleEndian.PutUint16(dst[0:2], h.Magic)
	dst[2] = h.Version
	dst[3] = h.Flags
	binary.LittleEndian.PutUint16(dst[4:6], h.TemplateCount)
	binary.LittleEndian.PutUint16(dst[6:8], h.StringCount)
	binary.LittleEndian.PutUint32(dst[8:12], h.OpcodeCount)
	binary.LittleEndian.PutUint32(dst[12:16], h.PayloadSize)
}

// parseHeader reads a Header from the first HeaderSize bytes of src.
// Callers must bounds-check len(src) >= HeaderSize first.
func parseHeader(src []byte) Header {
	return Header{
		Magic:         binary.LittleEndian.Uint16(src[0:2]),
		Version:       src[2],
		Flags:         src[3],
		TemplateCount: binary.LittleEndian.Uint16(src[4:6]),
		StringCount:   binary.LittleEndian.Uint16(src[6:8]),
		OpcodeCount:   binary.LittleEndian.Uint32(src[8:12]),
		PayloadSize:   binary.LittleEndian.Uint32(src[12:16]),
	}
}

// Tag is a one-byte opcode discriminant. The set of eleven tags is a
// stability contract: do not add, remove or renumber without bumping
// Version.
type Tag uint8

const (
	TagTemplateDef      Tag = 1
	TagInstantiate      Tag = 2
	TagPatchText        Tag = 3
	TagPatchAttr        Tag = 4
	TagPatchClassToggle Tag = 5
	TagAttachEvent      Tag = 6
	TagRemoveNode       Tag = 7
	TagBatchStart       Tag = 8
	TagBatchCommit      Tag = 9
	TagSetProperty      Tag = 10
	TagAppendChild      Tag = 11
)

func (t Tag) String() string {
	switch t {
	case TagTemplateDef:
		return "TemplateDef"
	case TagInstantiate:
		return "Instantiate"
	case TagPatchText:
		return "PatchText"
	case TagPatchAttr:
		return "PatchAttr"
	case TagPatchClassToggle:
		return "PatchClassToggle"
	case TagAttachEvent:
		return "AttachEvent"
	case TagRemoveNode:
		return "RemoveNode"
	case TagBatchStart:
		return "BatchStart"
	case TagBatchCommit:
		return "BatchCommit"
	case TagSetProperty:
		return "SetProperty"
	case TagAppendChild:
		return "AppendChild"
	default:
		return "Unknown"
	}
}

func validTag(t Tag) bool {
	return t >= TagTemplateDef && t <= TagAppendChild
}

// PropertyKind is the discriminant byte of a PropertyValue.
type PropertyKind uint8

const (
	PropertyString  PropertyKind = 0
	PropertyNumber  PropertyKind = 1
	PropertyBoolean PropertyKind = 2
	PropertyNull    PropertyKind = 3
)

// PropertyValue is the typed value carried by SetProperty. Exactly one of
// the fields is meaningful, selected by Kind.
type PropertyValue struct {
	Kind     PropertyKind
	StringID uint32
	Number   float64
	Bool     bool
}

// RootInstance is the reserved instance id that always exists and is never
// created by an Instantiate opcode; it is the implicit parent of any
// top-level instance.
const RootInstance uint32 = 0

// RootNode is the parent/child id relationship reserved for the host's
// pre-existing mount point.
const RootNode uint32 = 0
