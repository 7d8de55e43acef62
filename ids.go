package bake

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TargetID is the opaque 16-byte unique identifier of a storage target.
// It is a thin wrapper over github.com/google/uuid.UUID so that the rest
// of the module stays decoupled from the external package's API surface.
type TargetID uuid.UUID

// NilTargetID is the zero-value target id; it never identifies a real
// target.
var NilTargetID TargetID

// NewTargetID returns a freshly generated, process-unique target id.
// Generation is retried a handful of times with a short backoff; it
// panics only if the platform's random source is exhausted across every
// attempt, which should not happen in practice.
func NewTargetID() TargetID {
	var err error
	for i := 0; i < 10; i++ {
		var id uuid.UUID
		id, err = uuid.NewRandom()
		if err == nil {
			return TargetID(id)
		}
		time.Sleep(time.Millisecond)
	}
	panic(fmt.Errorf("bake: could not generate target id: %w", err))
}

// ParseTargetID parses the canonical 36-character hyphenated form.
func ParseTargetID(s string) (TargetID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return NilTargetID, NewError(InvalidArg, err)
	}
	return TargetID(u), nil
}

// String renders the canonical hyphenated UUID form.
func (t TargetID) String() string {
	return uuid.UUID(t).String()
}

// IsNil reports whether t is the zero-value target id.
func (t TargetID) IsNil() bool {
	return t == NilTargetID
}

// Bytes returns the 16 raw identifier bytes.
func (t TargetID) Bytes() []byte {
	return t[:]
}

// TargetIDFromBytes reconstructs a TargetID from its 16 raw bytes.
func TargetIDFromBytes(b []byte) (TargetID, error) {
	if len(b) != 16 {
		return NilTargetID, NewError(InvalidArg, fmt.Errorf("target id must be 16 bytes, got %d", len(b)))
	}
	var t TargetID
	copy(t[:], b)
	return t, nil
}

// BackendTag discriminates the backend-specific payload carried inside a
// RegionID.
type BackendTag uint8

const (
	// BackendUnknown is the zero value; never a valid region id.
	BackendUnknown BackendTag = iota
	// BackendFile tags a region id produced by the file backend.
	BackendFile
	// BackendMem tags a region id produced by the persistent-memory backend.
	BackendMem
)

func (b BackendTag) String() string {
	switch b {
	case BackendFile:
		return "file"
	case BackendMem:
		return "mem"
	default:
		return "unknown"
	}
}

// regionIDSize is the fixed width of every region id's wire/storage form,
// chosen to be comfortably larger than the largest backend-specific
// descriptor (the memory backend's {pool_uuid_lo, offset, size} payload,
// 24 bytes, which with the tag byte and 16-byte target id encodes to 41).
const regionIDSize = 64

// RegionID is the fixed-width opaque token addressing a byte range inside
// a target. The first byte is a BackendTag discriminator; the remainder
// carries a backend-specific payload, zero-padded. Two RegionIDs compare
// equal with ==, so RegionID is safe to use as a map key.
type RegionID [regionIDSize]byte

// NilRegionID never identifies a live region.
var NilRegionID RegionID

// Tag returns the backend discriminator carried in the region id.
func (r RegionID) Tag() BackendTag {
	return BackendTag(r[0])
}

// IsNil reports whether r is the zero-value region id.
func (r RegionID) IsNil() bool {
	return r == NilRegionID
}

// TargetID returns the target id embedded in the region id. Per-region
// wire endpoints (write, read, persist, remove, get_size, get_data) carry
// no separate target_id field — the original protocol comments it out of
// the request structs entirely (see bake-rpc.h's bake_write_in_t) because
// the region id alone is enough for the dispatch layer to find the right
// target; this layout reproduces that.
func (r RegionID) TargetID() TargetID {
	var t TargetID
	copy(t[:], r[1:17])
	return t
}

// FileRegionPayload is the file backend's descriptor: which log shard the
// region lives in, its byte offset within that shard, and the size of the
// (alignment-rounded) extent reserved for it.
type FileRegionPayload struct {
	TargetID     TargetID
	LogIndex     uint32
	LogOffset    uint64
	LogEntrySize uint64
}

// NewFileRegionID encodes a FileRegionPayload into a RegionID.
func NewFileRegionID(p FileRegionPayload) RegionID {
	var r RegionID
	r[0] = byte(BackendFile)
	copy(r[1:17], p.TargetID[:])
	binary.BigEndian.PutUint32(r[17:21], p.LogIndex)
	binary.BigEndian.PutUint64(r[21:29], p.LogOffset)
	binary.BigEndian.PutUint64(r[29:37], p.LogEntrySize)
	return r
}

// FileRegionPayload decodes the file backend descriptor out of r. The
// caller must check Tag() == BackendFile first.
func (r RegionID) FileRegionPayload() FileRegionPayload {
	p := FileRegionPayload{
		LogIndex:     binary.BigEndian.Uint32(r[17:21]),
		LogOffset:    binary.BigEndian.Uint64(r[21:29]),
		LogEntrySize: binary.BigEndian.Uint64(r[29:37]),
	}
	copy(p.TargetID[:], r[1:17])
	return p
}

// MemRegionPayload is the persistent-memory backend's descriptor: the
// object handle returned by the pmem object allocator, expressed as the
// canonical {pool_uuid_lo, offset} pair.
type MemRegionPayload struct {
	TargetID   TargetID
	PoolUUIDLo uint64
	Offset     uint64
	Size       uint64
}

// NewMemRegionID encodes a MemRegionPayload into a RegionID.
func NewMemRegionID(p MemRegionPayload) RegionID {
	var r RegionID
	r[0] = byte(BackendMem)
	copy(r[1:17], p.TargetID[:])
	binary.BigEndian.PutUint64(r[17:25], p.PoolUUIDLo)
	binary.BigEndian.PutUint64(r[25:33], p.Offset)
	binary.BigEndian.PutUint64(r[33:41], p.Size)
	return r
}

// MemRegionPayload decodes the memory backend descriptor out of r. The
// caller must check Tag() == BackendMem first.
func (r RegionID) MemRegionPayload() MemRegionPayload {
	p := MemRegionPayload{
		PoolUUIDLo: binary.BigEndian.Uint64(r[17:25]),
		Offset:     binary.BigEndian.Uint64(r[25:33]),
		Size:       binary.BigEndian.Uint64(r[33:41]),
	}
	copy(p.TargetID[:], r[1:17])
	return p
}

// String renders the region id as base64, its external wire form.
func (r RegionID) String() string {
	return base64.StdEncoding.EncodeToString(r[:])
}

// ParseRegionID decodes the base64 external wire form back into a RegionID.
func ParseRegionID(s string) (RegionID, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return NilRegionID, NewError(InvalidArg, err)
	}
	if len(b) != regionIDSize {
		return NilRegionID, NewError(InvalidArg, fmt.Errorf("region id must decode to %d bytes, got %d", regionIDSize, len(b)))
	}
	var r RegionID
	copy(r[:], b)
	return r, nil
}

// Equal reports whether two region ids carry identical bytes.
func (r RegionID) Equal(other RegionID) bool {
	return bytes.Equal(r[:], other[:])
}
