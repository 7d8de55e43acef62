package filebackend

import (
	"testing"

	"github.com/bake-hpc/bake"
)

func TestSuperblock_MarshalUnmarshalRoundTrip(t *testing.T) {
	id := bake.NewTargetID()
	sb, err := newSuperblock(id, 3, 4096)
	if err != nil {
		t.Fatalf("newSuperblock: %v", err)
	}
	sb.NextFreeOffset[0] = 4096
	sb.NextFreeOffset[1] = 8192
	sb.NextFreeOffset[2] = 0

	block := make([]byte, SuperblockSize)
	sb.marshal(block)

	got, err := unmarshalSuperblock(block)
	if err != nil {
		t.Fatalf("unmarshalSuperblock: %v", err)
	}
	if got.TargetID != id {
		t.Fatalf("TargetID = %v, want %v", got.TargetID, id)
	}
	if got.LogCount != 3 || got.Alignment != 4096 {
		t.Fatalf("LogCount/Alignment = %d/%d, want 3/4096", got.LogCount, got.Alignment)
	}
	for i, want := range sb.NextFreeOffset {
		if got.NextFreeOffset[i] != want {
			t.Fatalf("NextFreeOffset[%d] = %d, want %d", i, got.NextFreeOffset[i], want)
		}
	}
}

func TestNewSuperblock_RejectsOutOfRangeLogCount(t *testing.T) {
	if _, err := newSuperblock(bake.NewTargetID(), 0, 4096); err == nil {
		t.Fatal("expected error for zero log count")
	}
	if _, err := newSuperblock(bake.NewTargetID(), maxLogsInSuperblock+1, 4096); err == nil {
		t.Fatal("expected error for log count beyond superblock capacity")
	}
}

func TestUnmarshalSuperblock_RejectsShortBlock(t *testing.T) {
	if _, err := unmarshalSuperblock(make([]byte, 10)); err == nil {
		t.Fatal("expected error unmarshaling a too-short block")
	}
}
