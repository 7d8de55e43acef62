package bake

import "testing"

func TestRegionID_EmbedsTargetID(t *testing.T) {
	tid := NewTargetID()
	p := FileRegionPayload{TargetID: tid, LogIndex: 3, LogOffset: 4096, LogEntrySize: 8192}
	rid := NewFileRegionID(p)

	if got := rid.TargetID(); got != tid {
		t.Fatalf("TargetID() = %v, want %v", got, tid)
	}
	if rid.Tag() != BackendFile {
		t.Fatalf("Tag() = %v, want BackendFile", rid.Tag())
	}

	got := rid.FileRegionPayload()
	if got.LogIndex != p.LogIndex || got.LogOffset != p.LogOffset || got.LogEntrySize != p.LogEntrySize {
		t.Fatalf("FileRegionPayload() = %+v, want %+v", got, p)
	}
}

func TestRegionID_WireRoundTrip(t *testing.T) {
	tid := NewTargetID()
	rid := NewMemRegionID(MemRegionPayload{TargetID: tid, PoolUUIDLo: 7, Offset: 128, Size: 256})

	s := rid.String()
	back, err := ParseRegionID(s)
	if err != nil {
		t.Fatalf("ParseRegionID: %v", err)
	}
	if !back.Equal(rid) {
		t.Fatalf("round-trip mismatch: got %v, want %v", back, rid)
	}
}

func TestParseRegionID_WrongLength(t *testing.T) {
	if _, err := ParseRegionID("dG9vc2hvcnQ="); err == nil {
		t.Fatal("expected error for undersized region id")
	}
	if CodeOf(func() error { _, err := ParseRegionID("not-base64!!"); return err }()) != InvalidArg {
		t.Fatal("expected InvalidArg for malformed base64")
	}
}

func TestTargetID_ParseRoundTrip(t *testing.T) {
	tid := NewTargetID()
	back, err := ParseTargetID(tid.String())
	if err != nil {
		t.Fatalf("ParseTargetID: %v", err)
	}
	if back != tid {
		t.Fatalf("round-trip mismatch: got %v, want %v", back, tid)
	}
	if _, err := ParseTargetID("not-a-uuid"); err == nil {
		t.Fatal("expected error for malformed target id")
	}
}

func TestNilIDs(t *testing.T) {
	if !NilRegionID.IsNil() {
		t.Fatal("NilRegionID.IsNil() = false")
	}
	if !NilTargetID.IsNil() {
		t.Fatal("NilTargetID.IsNil() = false")
	}
	if NewTargetID().IsNil() {
		t.Fatal("freshly generated target id reported as nil")
	}
}
