package filebackend

import (
	"encoding/binary"
	"fmt"

	"github.com/bake-hpc/bake"
)

// SuperblockSize is the fixed width of the on-disk header, a multiple of
// 4 KiB so it always works with direct I/O (§3, §6). It is not tunable.
const SuperblockSize = 4096

// superblock is the fixed-size header at offset 0 of a file-backend
// target's root file: {target_id[16], log_count: u32, alignment: u64,
// next_free_offset[log_count]: u64}, rest zero.
type superblock struct {
	TargetID       bake.TargetID
	LogCount       uint32
	Alignment      uint64
	NextFreeOffset []uint64
}

// maxLogsInSuperblock bounds LogCount so the offset array always fits
// within SuperblockSize: 16 (id) + 4 (log_count) + 8 (alignment) = 28
// bytes of fixed header, leaving (SuperblockSize-28)/8 slots.
const maxLogsInSuperblock = (SuperblockSize - 28) / 8

func newSuperblock(id bake.TargetID, logCount uint32, alignment uint64) (*superblock, error) {
	if logCount == 0 || logCount > maxLogsInSuperblock {
		return nil, bake.NewError(bake.InvalidArg, fmt.Errorf("log count %d out of range [1,%d]", logCount, maxLogsInSuperblock))
	}
	return &superblock{
		TargetID:       id,
		LogCount:       logCount,
		Alignment:      alignment,
		NextFreeOffset: make([]uint64, logCount),
	}, nil
}

// marshal encodes the superblock into a SuperblockSize-byte block.
func (s *superblock) marshal(block []byte) {
	for i := range block {
		block[i] = 0
	}
	copy(block[0:16], s.TargetID.Bytes())
	binary.BigEndian.PutUint32(block[16:20], s.LogCount)
	binary.BigEndian.PutUint64(block[20:28], s.Alignment)
	off := 28
	for _, v := range s.NextFreeOffset {
		binary.BigEndian.PutUint64(block[off:off+8], v)
		off += 8
	}
}

// unmarshalSuperblock decodes a superblock from a SuperblockSize-byte block.
func unmarshalSuperblock(block []byte) (*superblock, error) {
	if len(block) < 28 {
		return nil, bake.NewError(bake.IO, fmt.Errorf("superblock block too short: %d bytes", len(block)))
	}
	id, err := bake.TargetIDFromBytes(block[0:16])
	if err != nil {
		return nil, err
	}
	s := &superblock{
		TargetID:  id,
		LogCount:  binary.BigEndian.Uint32(block[16:20]),
		Alignment: binary.BigEndian.Uint64(block[20:28]),
	}
	if s.LogCount == 0 || s.LogCount > maxLogsInSuperblock {
		return nil, bake.NewError(bake.IO, fmt.Errorf("superblock log count %d out of range", s.LogCount))
	}
	need := 28 + int(s.LogCount)*8
	if len(block) < need {
		return nil, bake.NewError(bake.IO, fmt.Errorf("superblock block too short for %d logs", s.LogCount))
	}
	s.NextFreeOffset = make([]uint64, s.LogCount)
	off := 28
	for i := range s.NextFreeOffset {
		s.NextFreeOffset[i] = binary.BigEndian.Uint64(block[off : off+8])
		off += 8
	}
	return s, nil
}
