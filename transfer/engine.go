package transfer

import (
	"context"
	"fmt"

	"github.com/bake-hpc/bake"
	"golang.org/x/sync/errgroup"
)

// Direction selects which way bytes flow between the network and the log.
type Direction int

const (
	// Pull moves bytes network -> log (a write).
	Pull Direction = iota
	// Push moves bytes log -> network (a read).
	Push
)

// LogIO is the local storage side of a transfer: block-aligned access to
// one log extent. Implementations submit these calls to the async-I/O
// pool so the calling goroutine never blocks on the syscall directly.
type LogIO interface {
	ReadAt(ctx context.Context, buf []byte, offset int64) (int, error)
	WriteAt(ctx context.Context, buf []byte, offset int64) (int, error)
}

// Request describes one bulk transfer: a remote bulk endpoint and a local
// log extent, plus the sub-range of the region being moved.
type Request struct {
	Log            LogIO
	Alignment      int
	LogEntryOffset uint64 // start of the region's extent within the log
	LogEntrySize   uint64 // size of the region's extent
	RegionOffset   uint64 // offset within the region where the transfer starts
	TransmitSize   uint64 // number of bytes to move
	Remote         bake.BulkEndpoint
	RemoteOffset   uint64 // offset within the remote bulk handle to start at
	Direction      Direction
}

// Engine splits a bulk I/O into chunks of at most the poolset's largest
// buffer size, spawns one worker
// per chunk, and joins on completion, per §4.3.
type Engine struct {
	pool *Poolset
}

// NewEngine returns a transfer Engine drawing staging buffers from pool.
func NewEngine(pool *Poolset) *Engine {
	return &Engine{pool: pool}
}

type chunk struct {
	logOffset     int64
	logSize       int
	transmitStart int // offset within the chunk where the transmitted window begins
	transmitSize  int // bytes of this chunk actually moved to/from the network
	remoteOffset  uint64
}

// Transfer runs req to completion, returning the number of bytes actually
// transferred. On the first worker failure, remaining workers observe it
// and stop issuing further chunks; already-issued I/O on other chunks is
// not rolled back (§4.8: callers must use remove to reclaim a region left
// in an unspecified state by a failed write).
func (e *Engine) Transfer(ctx context.Context, req Request) (uint64, error) {
	if req.RegionOffset+req.TransmitSize > req.LogEntrySize {
		return 0, bake.NewError(bake.OutOfBounds, fmt.Errorf(
			"region_offset %d + size %d exceeds region size %d", req.RegionOffset, req.TransmitSize, req.LogEntrySize))
	}
	if req.TransmitSize == 0 {
		return 0, nil
	}

	absStart := req.LogEntryOffset + req.RegionOffset
	absEnd := absStart + req.TransmitSize
	alignedStart := alignDown(absStart, uint64(req.Alignment))
	alignedEnd := alignUp(absEnd, uint64(req.Alignment))

	chunks := planChunks(alignedStart, alignedEnd, absStart, absEnd, e.pool.MaxBufferSize(), req.Alignment, req.RemoteOffset)

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range chunks {
		c := c
		g.Go(func() error {
			return e.runChunk(gctx, req, c)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return req.TransmitSize, nil
}

// planChunks computes, for the aligned extent [alignedStart, alignedEnd),
// the list of maxChunk-sized chunks (the last one possibly shorter), along with
// each chunk's transmit sub-window and remote offset. Bytes outside
// [absStart, absEnd) within the first/last chunk are read or written to
// the log but never transmitted (head/tail trim, §4.3).
func planChunks(alignedStart, alignedEnd, absStart, absEnd uint64, maxChunk int, alignment int, remoteBase uint64) []chunk {
	var chunks []chunk
	transmitted := uint64(0)
	for off := alignedStart; off < alignedEnd; {
		size := maxChunk
		// every chunk is maxChunk bytes except for a possibly shorter
		// final chunk.
		if uint64(size) > alignedEnd-off {
			size = int(alignedEnd - off)
		}
		chunkStart := off
		chunkEnd := off + uint64(size)

		winStart := chunkStart
		if absStart > winStart {
			winStart = absStart
		}
		winEnd := chunkEnd
		if absEnd < winEnd {
			winEnd = absEnd
		}
		transmitStart := int(winStart - chunkStart)
		transmitSize := int(winEnd - winStart)
		if transmitSize < 0 {
			transmitSize = 0
		}

		chunks = append(chunks, chunk{
			logOffset:     int64(chunkStart),
			logSize:       size,
			transmitStart: transmitStart,
			transmitSize:  transmitSize,
			remoteOffset:  remoteBase + transmitted,
		})
		transmitted += uint64(transmitSize)
		off = chunkEnd
	}
	return chunks
}

func (e *Engine) runChunk(ctx context.Context, req Request, c chunk) error {
	buf, err := e.pool.Acquire(ctx, c.logSize)
	if err != nil {
		return err
	}
	defer e.pool.Release(buf)
	data := buf.Bytes(c.logSize)

	switch req.Direction {
	case Pull:
		if c.transmitSize > 0 {
			if err := req.Remote.Pull(ctx, c.remoteOffset, data[c.transmitStart:c.transmitStart+c.transmitSize]); err != nil {
				return bake.NewError(bake.Mercury, err)
			}
		}
		if _, err := req.Log.WriteAt(ctx, data, c.logOffset); err != nil {
			return bake.NewError(bake.IO, err)
		}
	case Push:
		if _, err := req.Log.ReadAt(ctx, data, c.logOffset); err != nil {
			return bake.NewError(bake.IO, err)
		}
		if c.transmitSize > 0 {
			if err := req.Remote.Push(ctx, c.remoteOffset, data[c.transmitStart:c.transmitStart+c.transmitSize]); err != nil {
				return bake.NewError(bake.Mercury, err)
			}
		}
	}
	return nil
}

func alignDown(x, alignment uint64) uint64 {
	return x &^ (alignment - 1)
}

func alignUp(x, alignment uint64) uint64 {
	return (x + alignment - 1) &^ (alignment - 1)
}
