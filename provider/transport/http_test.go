package transport

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/bake-hpc/bake"
	"github.com/bake-hpc/bake/membackend"
	"github.com/bake-hpc/bake/provider"
)

func newTestServer(t *testing.T) (*httptest.Server, bake.TargetID, uint16) {
	t.Helper()
	const providerID = uint16(7)

	p := provider.New(providerID, nil, nil, nil)
	targetID := bake.NewTargetID()
	if err := p.Attach(targetID, bake.BackendMem, membackend.New(targetID, 1<<16, true)); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	s := NewServer()
	s.Register(p)
	return httptest.NewServer(s.Handler()), targetID, providerID
}

func postJSON(t *testing.T, srv *httptest.Server, path string, body, out interface{}) int {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response from %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestTransport_EagerCreateWritePersistAndRead(t *testing.T) {
	srv, targetID, id := newTestServer(t)
	defer srv.Close()

	payload := []byte("hello over the wire")
	var cwp eagerCreateWritePersistResponse
	postJSON(t, srv, pathFor(id, "/eager_create_write_persist"), eagerCreateWritePersistRequest{
		TargetID: targetID.String(),
		Buffer:   payload,
	}, &cwp)
	if cwp.Ret != int(bake.Success) {
		t.Fatalf("eager_create_write_persist ret = %d, want Success", cwp.Ret)
	}

	var read eagerReadResponse
	postJSON(t, srv, pathFor(id, "/eager_read"), eagerReadRequest{
		RID:  cwp.RID,
		Size: uint32(len(payload)),
	}, &read)
	if string(read.Buffer) != string(payload) {
		t.Fatalf("eager_read buffer = %q, want %q", read.Buffer, payload)
	}

	var size getSizeResponse
	code := get(t, srv, pathFor(id, "/size/"+cwp.RID), &size)
	if code != http.StatusOK || size.Size != uint64(len(payload)) {
		t.Fatalf("get_size = (%d, %d), want (200, %d)", code, size.Size, len(payload))
	}
}

func TestTransport_ProbeListsAttachedTarget(t *testing.T) {
	srv, targetID, id := newTestServer(t)
	defer srv.Close()

	var probe probeResponse
	postJSON(t, srv, pathFor(id, "/probe"), probeRequest{}, &probe)
	if probe.NumTargets != 1 || probe.Targets[0] != targetID.String() {
		t.Fatalf("probe() = %+v, want one target %s", probe, targetID)
	}
}

func TestTransport_UnknownProviderID(t *testing.T) {
	srv, _, _ := newTestServer(t)
	defer srv.Close()

	var errResp errorResponse
	code := postJSON(t, srv, "/providers/999/noop", struct{}{}, &errResp)
	if code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", code)
	}
	if bake.ErrorCode(errResp.Ret) != bake.UnknownProvider {
		t.Fatalf("ret = %d, want UnknownProvider", errResp.Ret)
	}
}

func TestTransport_CreateOnUnknownTargetReturnsError(t *testing.T) {
	srv, _, id := newTestServer(t)
	defer srv.Close()

	var resp createResponse
	postJSON(t, srv, pathFor(id, "/create"), createRequest{
		TargetID:   bake.NewTargetID().String(),
		RegionSize: 64,
	}, &resp)
	if bake.ErrorCode(resp.Ret) != bake.UnknownTarget {
		t.Fatalf("create on unknown target ret = %d, want UnknownTarget", resp.Ret)
	}
}

func get(t *testing.T, srv *httptest.Server, path string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response from %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func pathFor(id uint16, suffix string) string {
	return "/providers/" + strconv.Itoa(int(id)) + suffix
}
