// Package transport binds provider.Provider's dispatch methods to HTTP
// routes via gin, the concrete stand-in for the "pluggable RPC
// framework" of spec.md §6. Each operation in §6's wire table becomes one
// route under /providers/:id; request/response JSON bodies carry
// exactly the fields that table lists, with bulk transfers represented
// as base64-encoded bytes in place of a real RDMA bulk handle.
package transport

import (
	"github.com/bake-hpc/bake"
)

// errorResponse is the shape every handler falls back to on failure: the
// closed error code (§7) plus a human-readable message for local
// debugging. ret carries the numeric ErrorCode the way the original's
// int32 ret field does.
type errorResponse struct {
	Ret     int    `json:"ret"`
	Message string `json:"message,omitempty"`
}

func newErrorResponse(err error) errorResponse {
	return errorResponse{Ret: int(bake.CodeOf(err)), Message: err.Error()}
}

// probeRequest/probeResponse: §6 probe.
type probeRequest struct {
	MaxTargets uint64 `json:"max_targets"`
}

type probeResponse struct {
	Ret        int      `json:"ret"`
	NumTargets uint64   `json:"num_targets"`
	Targets    []string `json:"targets"`
}

// createRequest/createResponse: §6 create.
type createRequest struct {
	TargetID   string `json:"target_id"`
	RegionSize uint64 `json:"region_size"`
}

type createResponse struct {
	Ret int    `json:"ret"`
	RID string `json:"rid"`
}

// writeRequest/writeResponse: §6 write (bulk path). BulkData stands in
// for a real RDMA bulk handle/offset/size triple: the transport layer
// holds the bytes locally and wraps them in a bake.BulkEndpoint for the
// transfer engine.
type writeRequest struct {
	RID          string `json:"rid"`
	RegionOffset uint64 `json:"region_offset"`
	BulkOffset   uint64 `json:"bulk_offset"`
	BulkData     []byte `json:"bulk_data"`
	RemoteAddr   string `json:"remote_addr,omitempty"`
}

type writeResponse struct {
	Ret int `json:"ret"`
}

// eagerWriteRequest/eagerWriteResponse: §6 eager_write.
type eagerWriteRequest struct {
	RID          string `json:"rid"`
	RegionOffset uint64 `json:"region_offset"`
	Buffer       []byte `json:"buffer"`
}

type eagerWriteResponse struct {
	Ret int `json:"ret"`
}

// readRequest/readResponse: §6 read (bulk path).
type readRequest struct {
	RID          string `json:"rid"`
	RegionOffset uint64 `json:"region_offset"`
	BulkOffset   uint64 `json:"bulk_offset"`
	BulkSize     uint64 `json:"bulk_size"`
	RemoteAddr   string `json:"remote_addr,omitempty"`
}

type readResponse struct {
	Ret      int    `json:"ret"`
	Size     uint64 `json:"size"`
	BulkData []byte `json:"bulk_data"`
}

// eagerReadRequest/eagerReadResponse: §6 eager_read.
type eagerReadRequest struct {
	RID          string `json:"rid"`
	RegionOffset uint64 `json:"region_offset"`
	Size         uint32 `json:"size"`
}

type eagerReadResponse struct {
	Ret    int    `json:"ret"`
	Size   uint32 `json:"size"`
	Buffer []byte `json:"buffer"`
}

// persistRequest/persistResponse: §6 persist.
type persistRequest struct {
	RID    string `json:"rid"`
	Offset uint64 `json:"offset"`
	Size   uint64 `json:"size"`
}

type persistResponse struct {
	Ret int `json:"ret"`
}

// createWritePersistRequest/Response: §6 create_write_persist.
type createWritePersistRequest struct {
	TargetID     string `json:"target_id"`
	RegionSize   uint64 `json:"region_size"`
	RegionOffset uint64 `json:"region_offset"`
	BulkOffset   uint64 `json:"bulk_offset"`
	BulkData     []byte `json:"bulk_data"`
	RemoteAddr   string `json:"remote_addr,omitempty"`
}

type createWritePersistResponse struct {
	Ret int    `json:"ret"`
	RID string `json:"rid"`
}

// eagerCreateWritePersistRequest/Response: §6 eager_create_write_persist.
type eagerCreateWritePersistRequest struct {
	TargetID string `json:"target_id"`
	Buffer   []byte `json:"buffer"`
}

type eagerCreateWritePersistResponse struct {
	Ret int    `json:"ret"`
	RID string `json:"rid"`
}

// getSizeResponse: §6 get_size.
type getSizeResponse struct {
	Ret  int    `json:"ret"`
	Size uint64 `json:"size"`
}

// getDataResponse: §6 get_data — server-local only; non-loopback callers
// are refused (see the isLoopback check in http.go's getData).
type getDataResponse struct {
	Ret  int    `json:"ret"`
	Data []byte `json:"data"`
}

// removeResponse/noopResponse: §6 remove/noop.
type removeResponse struct {
	Ret int `json:"ret"`
}

type noopResponse struct {
	Ret int `json:"ret"`
}

// migrateRegionRequest/Response: §6 migrate_region.
type migrateRegionRequest struct {
	SourceRID      string `json:"source_rid"`
	RegionSize     uint64 `json:"region_size"`
	RemoveSrc      bool   `json:"remove_src"`
	DestAddr       string `json:"dest_addr"`
	DestProviderID uint16 `json:"dest_provider_id"`
	DestTargetID   string `json:"dest_target_id"`
}

type migrateRegionResponse struct {
	Ret    int    `json:"ret"`
	DestID string `json:"dest_rid"`
}

// migrateTargetRequest/Response: §6 migrate_target.
type migrateTargetRequest struct {
	TargetID          string `json:"target_id"`
	DestRemiAddr      string `json:"dest_remi_addr"`
	DestRemiProviderID uint16 `json:"dest_remi_provider_id"`
	DestRoot          string `json:"dest_root"`
	RemoveSrc         bool   `json:"remove_src"`
}

type migrateTargetResponse struct {
	Ret int `json:"ret"`
}
