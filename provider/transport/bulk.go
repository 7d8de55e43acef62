package transport

import (
	"context"
	"fmt"

	"github.com/bake-hpc/bake"
)

// memBulkEndpoint adapts an in-memory byte slice to bake.BulkEndpoint,
// the transport layer's stand-in for a real RDMA bulk handle: Pull/Push
// copy to/from data at bulkOffset, the same role a Mercury bulk handle
// plays in the original wire protocol.
type memBulkEndpoint struct {
	data []byte
}

func (m *memBulkEndpoint) Pull(ctx context.Context, bulkOffset uint64, buf []byte) error {
	if bulkOffset+uint64(len(buf)) > uint64(len(m.data)) {
		return fmt.Errorf("bulk pull out of range: offset %d + %d > %d", bulkOffset, len(buf), len(m.data))
	}
	copy(buf, m.data[bulkOffset:])
	return nil
}

func (m *memBulkEndpoint) Push(ctx context.Context, bulkOffset uint64, buf []byte) error {
	if bulkOffset+uint64(len(buf)) > uint64(len(m.data)) {
		return fmt.Errorf("bulk push out of range: offset %d + %d > %d", bulkOffset, len(buf), len(m.data))
	}
	copy(m.data[bulkOffset:], buf)
	return nil
}

var _ bake.BulkEndpoint = (*memBulkEndpoint)(nil)
