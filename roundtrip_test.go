package htip

import (
	"testing"

	dxstore "github.com/najmus-sakib-hossain/dx-www-runtime/store"
)

// TestRoundTripEmptyStream exercises the full encode -> decode -> dispatch
// pipeline with nothing in it: a valid, signed, empty stream must survive
// unchanged through every stage.
func TestRoundTripEmptyStream(t *testing.T) {
	pub, priv := testKeyPair(t)
	stream, err := NewEncoder().Encode(priv)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	ds, err := Decode(stream, pub, nil)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	cap := &fakeCapability{}
	disp := NewDispatcher(cap, fakeNode{id: 0})
	if err := disp.Dispatch(ds); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(cap.calls) != 0 {
		t.Errorf("calls = %v, want none", cap.calls)
	}
}

// TestRoundTripDefineInstantiatePatchText exercises §8's canonical
// define-then-mutate scenario end to end.
func TestRoundTripDefineInstantiatePatchText(t *testing.T) {
	enc := buildSimpleEncoder(t)
	ds := decodeForDispatch(t, enc)

	cap := &fakeCapability{}
	disp := NewDispatcher(cap, fakeNode{id: 0})
	if err := disp.Dispatch(ds); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	want := []string{"RegisterTemplate", "CloneTemplate", "SetText"}
	for i, c := range want {
		if cap.calls[i] != c {
			t.Errorf("calls[%d] = %q, want %q", i, cap.calls[i], c)
		}
	}
}

// TestRoundTripBatchedUpdatesCommitTogether confirms a batch survives
// encode, decode, and dispatch as a single transactional unit.
func TestRoundTripBatchedUpdatesCommitTogether(t *testing.T) {
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
	ds := decodeForDispatch(t, enc)

	cap := &fakeCapability{}
	disp := NewDispatcher(cap, fakeNode{id: 0})
	if err := disp.Dispatch(ds); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	want := []string{"RegisterTemplate", "BeginBatch", "CloneTemplate", "SetText", "CommitBatch"}
	if len(cap.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", cap.calls, want)
	}
}

// TestRoundTripUnbalancedBatchRejectedAtEncode confirms an unbalanced
// batch never makes it off the encoder, so decode/dispatch are never even
// reached with a malformed stream of this shape.
func TestRoundTripUnbalancedBatchRejectedAtEncode(t *testing.T) {
	_, priv := testKeyPair(t)
	enc := NewEncoder()
	enc.Emit(BatchStartOp{BatchID: 1})
	if _, err := enc.Encode(priv); CodeOf(err) != CodeUnbalancedBatch {
		t.Errorf("Encode error = %v, want ErrUnbalancedBatch", err)
	}
}

// TestRoundTripSignatureTamperRejectedBeforeDecode confirms a tampered
// stream is rejected at the signature-verification stage, before any
// table or opcode parsing runs.
func TestRoundTripSignatureTamperRejectedBeforeDecode(t *testing.T) {
	pub, priv := testKeyPair(t)
	enc := buildSimpleEncoder(t)
	stream, err := enc.Encode(priv)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	stream[len(stream)-1] ^= 0xff

	if _, err := Decode(stream, pub, nil); CodeOf(err) != CodeInvalidSignature {
		t.Errorf("Decode error = %v, want ErrInvalidSignature", err)
	}
}

// TestRoundTripPatchUpgradeAcrossVersions exercises the version store:
// encode version one, put it in the store, encode a mutated version two,
// derive a patch between the two signed streams, and confirm applying the
// patch to version one's bytes reproduces version two's bytes exactly.
func TestRoundTripPatchUpgradeAcrossVersions(t *testing.T) {
	pub, priv := testKeyPair(t)

	encV1 := buildSimpleEncoder(t)
	streamV1, err := encV1.Encode(priv)
	if err != nil {
		t.Fatalf("Encode v1 failed: %v", err)
	}

	encV2 := NewEncoder()
	htmlID := encV2.Strings.Intern("<div></div>")
	if _, err := encV2.Templates.Define(htmlID, []SlotDef{{SlotID: 0, Kind: SlotText, Path: []uint8{0}}}); err != nil {
		t.Fatalf("Define failed: %v", err)
	}
	encV2.Emit(TemplateDefOp{TemplateID: 0})
	encV2.Emit(InstantiateOp{InstanceID: 1, TemplateID: 0, ParentID: RootNode})
	encV2.Emit(PatchTextOp{InstanceID: 1, SlotID: 0, StringID: encV2.Strings.Intern("hello world")})
	streamV2, err := encV2.Encode(priv)
	if err != nil {
		t.Fatalf("Encode v2 failed: %v", err)
	}

	s := dxstore.New(dxstore.DefaultCapacity, nil)
	baseHash := s.Put(streamV1)

	patch, ok := s.MakePatch(baseHash, streamV2)
	if !ok {
		t.Fatal("MakePatch reported base not found")
	}
	rebuilt, err := dxstore.ApplyPatch(streamV1, patch)
	if err != nil {
		t.Fatalf("ApplyPatch failed: %v", err)
	}

	ds, err := Decode(rebuilt, pub, nil)
	if err != nil {
		t.Fatalf("Decode of patch-rebuilt stream failed: %v", err)
	}
	patchOp, ok := ds.Operations[2].(PatchTextOp)
	if !ok {
		t.Fatalf("Operations[2] = %T, want PatchTextOp", ds.Operations[2])
	}
	text, err := ds.Strings.Resolve(patchOp.StringID)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if string(text) != "hello world" {
		t.Errorf("patch-rebuilt text = %q, want %q", text, "hello world")
	}
}

// FuzzDecode feeds arbitrary byte slices to Decode against a fixed
// keypair, guarding against panics on malformed input: every rejection
// must surface as an error, never a crash. Seeded with a handful of
// hand-crafted streams spanning the valid, truncated, and corrupted cases
// exercised elsewhere in this package.
func FuzzDecode(f *testing.F) {
	pub, priv := testKeyPair(f)
	enc := buildSimpleEncoder(f)
	valid, err := enc.Encode(priv)
	if err != nil {
		f.Fatalf("Encode failed: %v", err)
	}
	f.Add(valid)
	f.Add(valid[:len(valid)/2])
	f.Add(append([]byte{}, valid...))
	f.Add([]byte{})
	f.Add(make([]byte, HeaderSize))
	f.Add(make([]byte, SignatureSize+HeaderSize))

	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = Decode(data, pub, nil)
	})
}
