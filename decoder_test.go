package htip

import (
	"testing"
)

func TestDecodeEmptyStream(t *testing.T) {
	pub, priv := testKeyPair(t)
	enc := NewEncoder()
	stream, err := enc.Encode(priv)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	ds, err := Decode(stream, pub, nil)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if ds.Header.TemplateCount != 0 || ds.Header.StringCount != 0 || ds.Header.OpcodeCount != 0 {
		t.Errorf("unexpected non-empty header: %+v", ds.Header)
	}
}

func TestDecodeDefineInstantiatePatchText(t *testing.T) {
	pub, priv := testKeyPair(t)
	enc := buildSimpleEncoder(t)
	stream, err := enc.Encode(priv)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	ds, err := Decode(stream, pub, nil)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(ds.Operations) != 3 {
		t.Fatalf("len(Operations) = %d, want 3", len(ds.Operations))
	}
	patch, ok := ds.Operations[2].(PatchTextOp)
	if !ok {
		t.Fatalf("Operations[2] = %T, want PatchTextOp", ds.Operations[2])
	}
	text, err := ds.Strings.Resolve(patch.StringID)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if string(text) != "hello" {
		t.Errorf("patched text = %q, want %q", text, "hello")
	}
}

func TestDecodeBatchedUpdatesCommitTogether(t *testing.T) {
	pub, priv := testKeyPair(t)
	enc := NewEncoder()
	htmlID := enc.Strings.Intern("<div></div>")
	if _, err := enc.Templates.Define(htmlID, []SlotDef{{SlotID: 0, Kind: SlotText, Path: []uint8{0}}}); err != nil {
		t.Fatalf("Define failed: %v", err)
	}
	enc.Emit(TemplateDefOp{TemplateID: 0})
	enc.Emit(BatchStartOp{BatchID: 9})
	enc.Emit(InstantiateOp{InstanceID: 1, TemplateID: 0, ParentID: RootNode})
	enc.Emit(PatchTextOp{InstanceID: 1, SlotID: 0, StringID: enc.Strings.Intern("one")})
	enc.Emit(BatchCommitOp{BatchID: 9})

	stream, err := enc.Encode(priv)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	ds, err := Decode(stream, pub, nil)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(ds.Operations) != 5 {
		t.Fatalf("len(Operations) = %d, want 5", len(ds.Operations))
	}
}

func TestParseOperationsRejectsDanglingBatchStart(t *testing.T) {
	// A lone BatchStart with no matching BatchCommit: pass-3's balance
	// check must catch this directly, independent of the encoder (which
	// would never emit such a stream itself).
	data := make([]byte, 5)
	data[0] = byte(TagBatchStart)
	putUint32(data[1:], 9)

	if _, err := parseOperations(data, 1, Dictionary{}, StringTable{}, DefaultLimits()); CodeOf(err) != CodeUnbalancedBatch {
		t.Errorf("parseOperations error = %v, want ErrUnbalancedBatch", err)
	}
}

func TestParseOperationsRejectsMismatchedBatchCommit(t *testing.T) {
	data := make([]byte, 10)
	data[0] = byte(TagBatchStart)
	putUint32(data[1:], 9)
	data[5] = byte(TagBatchCommit)
	putUint32(data[6:], 10)

	if _, err := parseOperations(data, 2, Dictionary{}, StringTable{}, DefaultLimits()); CodeOf(err) != CodeUnbalancedBatch {
		t.Errorf("parseOperations error = %v, want ErrUnbalancedBatch", err)
	}
}

func TestDecodeRejectsSignatureTamper(t *testing.T) {
	pub, priv := testKeyPair(t)
	enc := buildSimpleEncoder(t)
	stream, err := enc.Encode(priv)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	stream[SignatureSize+HeaderSize] ^= 0xff // flip a byte in the payload

	if _, err := Decode(stream, pub, nil); CodeOf(err) != CodeInvalidSignature {
		t.Errorf("Decode error = %v, want ErrInvalidSignature", err)
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	pub, priv := testKeyPair(t)

	// Build and sign a payload with the wrong magic directly, since the
	// encoder itself never emits one: this isolates pass-1's magic check
	// from the signature check ahead of it.
	payload := make([]byte, HeaderSize)
	putHeader(payload, Header{Magic: 0x1234, Version: Version})
	sig, err := Sign(priv, payload)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	stream := append(append([]byte{}, sig...), payload...)

	if _, err := Decode(stream, pub, nil); CodeOf(err) != CodeInvalidMagic {
		t.Errorf("Decode error = %v, want ErrInvalidMagic", err)
	}
}

func TestDecodeRejectsUnsupportedVersion(t *testing.T) {
	pub, priv := testKeyPair(t)
	payload := make([]byte, HeaderSize)
	putHeader(payload, Header{Magic: Magic, Version: 99})
	sig, err := Sign(priv, payload)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	stream := append(append([]byte{}, sig...), payload...)

	if _, err := Decode(stream, pub, nil); CodeOf(err) != CodeUnsupportedVersion {
		t.Errorf("Decode error = %v, want ErrUnsupportedVersion", err)
	}
}

func TestDecodeRespectsStreamSizeLimit(t *testing.T) {
	pub, priv := testKeyPair(t)
	enc := buildSimpleEncoder(t)
	stream, err := enc.Encode(priv)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	opts := &DecodeOptions{Limits: DefaultLimits()}
	opts.Limits.MaxStreamSize = len(stream) - 1
	if _, err := Decode(stream, pub, opts); CodeOf(err) != CodeResourceLimitExceeded {
		t.Errorf("Decode error = %v, want ErrResourceLimitExceeded", err)
	}
}

func TestParseOperationsRejectsInstanceIDReuseAfterRemove(t *testing.T) {
	var dict Dictionary
	if _, err := dict.Define(0, nil); err != nil {
		t.Fatalf("Define failed: %v", err)
	}

	// Instantiate(5, 0, root), RemoveNode(5), Instantiate(5, 0, root) again:
	// the second Instantiate must be rejected even though instance 5 was
	// retracted (not merely dangling) before it runs.
	data := make([]byte, 11+5+11)
	data[0] = byte(TagInstantiate)
	putUint32(data[1:5], 5)
	putUint16(data[5:7], 0)
	putUint32(data[7:11], 0)

	data[11] = byte(TagRemoveNode)
	putUint32(data[12:16], 5)

	data[16] = byte(TagInstantiate)
	putUint32(data[17:21], 5)
	putUint16(data[21:23], 0)
	putUint32(data[23:27], 0)

	if _, err := parseOperations(data, 3, dict, StringTable{}, DefaultLimits()); CodeOf(err) != CodeInvalidOpcode {
		t.Errorf("parseOperations error = %v, want ErrInvalidOpcode (instance id reuse)", err)
	}
}

func TestDecodeRejectsDanglingInstanceReference(t *testing.T) {
	pub, priv := testKeyPair(t)
	enc := NewEncoder()
	htmlID := enc.Strings.Intern("<div></div>")
	if _, err := enc.Templates.Define(htmlID, []SlotDef{{SlotID: 0, Kind: SlotText, Path: []uint8{0}}}); err != nil {
		t.Fatalf("Define failed: %v", err)
	}
	enc.Emit(TemplateDefOp{TemplateID: 0})
	enc.Emit(InstantiateOp{InstanceID: 1, TemplateID: 0, ParentID: RootNode})
	stream, err := enc.Encode(priv)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	// The decoder must independently enforce referential integrity even
	// though this particular stream was produced honestly; corrupt the
	// instance id referenced by re-deriving a hand-built operations pass
	// would require bit surgery, so instead assert decode succeeds and
	// then that a direct parseOperations call rejects a bad reference.
	if _, err := Decode(stream, pub, nil); err != nil {
		t.Fatalf("Decode of well-formed stream failed: %v", err)
	}

	badOp := []byte{byte(TagPatchText)}
	badOp = append(badOp, make([]byte, 10)...) // instance id 0 bytes -> references instance 99, but all zero here
	putUint32(badOp[1:], 99)
	if _, err := parseOperations(badOp, 1, Dictionary{}, StringTable{}, DefaultLimits()); CodeOf(err) != CodeNodeNotFound {
		t.Errorf("parseOperations error = %v, want ErrNodeNotFound", err)
	}
}
