package store

import "testing"

func TestStorePutGet(t *testing.T) {
	s := New(DefaultCapacity, nil)
	h := s.Put([]byte("version one"))

	got, ok := s.Get(h)
	if !ok {
		t.Fatal("Get after Put not found")
	}
	if string(got) != "version one" {
		t.Errorf("Get = %q, want %q", got, "version one")
	}
}

func TestStorePutSameBytesIsIdempotent(t *testing.T) {
	s := New(DefaultCapacity, nil)
	h1 := s.Put([]byte("same"))
	h2 := s.Put([]byte("same"))
	if h1 != h2 {
		t.Errorf("Put(same bytes) hashes differ: %v != %v", h1, h2)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestStoreEvictsOldestBeyondCapacity(t *testing.T) {
	s := New(2, nil)
	h1 := s.Put([]byte("one"))
	s.Put([]byte("two"))
	s.Put([]byte("three"))

	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
	if _, ok := s.Get(h1); ok {
		t.Error("oldest version still resident after exceeding capacity")
	}
}

func TestStoreGetMissing(t *testing.T) {
	s := New(DefaultCapacity, nil)
	var h Hash
	if _, ok := s.Get(h); ok {
		t.Error("Get(zero hash) found, want not found")
	}
}

func TestStoreMakePatchMissingBase(t *testing.T) {
	s := New(DefaultCapacity, nil)
	var h Hash
	if _, ok := s.MakePatch(h, []byte("target")); ok {
		t.Error("MakePatch succeeded against an evicted/unknown base, want ok=false")
	}
}

func TestStoreMakePatchAppliesCleanly(t *testing.T) {
	s := New(DefaultCapacity, nil)
	base := []byte("the quick brown fox jumps over the lazy dog, repeatedly and often")
	h := s.Put(base)
	target := []byte("the quick brown fox jumps over the lazy cat, repeatedly and often")

	patch, ok := s.MakePatch(h, target)
	if !ok {
		t.Fatal("MakePatch reported base not found")
	}
	out, err := ApplyPatch(base, patch)
	if err != nil {
		t.Fatalf("ApplyPatch failed: %v", err)
	}
	if string(out) != string(target) {
		t.Errorf("ApplyPatch result = %q, want %q", out, target)
	}
}

func TestStoreSnapshotAndLoadManifestRoundTrip(t *testing.T) {
	s := New(DefaultCapacity, nil)
	s.Put([]byte("a"))
	s.Put([]byte("b"))

	var m Manifest
	s.Snapshot("widget", &m)

	entries, ok := m.Artifacts["widget"]
	if !ok {
		t.Fatal("Snapshot did not record artifact \"widget\"")
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}

	path := t.TempDir() + "/manifest.yaml"
	if err := SaveManifest(path, &m); err != nil {
		t.Fatalf("SaveManifest failed: %v", err)
	}
	loaded, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest failed: %v", err)
	}
	if len(loaded.Artifacts["widget"]) != 2 {
		t.Errorf("loaded entries = %d, want 2", len(loaded.Artifacts["widget"]))
	}
}
