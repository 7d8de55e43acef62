package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/bake-hpc/bake"
)

// migrationEagerThreshold decides whether MigrateRegion uses the inline
// or bulk upload path, mirroring cmd/copy-to's client-side heuristic
// (§4.7 file_backend.eager_limit_bytes default).
const migrationEagerThreshold = 4096

// Client speaks the JSON-over-HTTP wire contract this package serves, to
// a remote provider. It is the concrete "provider/transport client" a
// backend's MigrateRegion uses to perform §4.4's "client-style
// create-write-persist to the destination" (contrast with MigrateTarget,
// which hands off to an external FileSetShipper instead).
type Client struct {
	HTTPClient *http.Client
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// MigrateRegion create-write-persists data as a fresh region on the
// provider/target named by dst, choosing the eager or bulk wire
// operation by size exactly as cmd/copy-to does, and returns the new
// region id.
func (c *Client) MigrateRegion(ctx context.Context, dst bake.MigrationTarget, data []byte) (bake.RegionID, error) {
	base := fmt.Sprintf("%s/providers/%d", dst.DestAddr, dst.DestProviderID)
	if len(data) <= migrationEagerThreshold {
		return c.eagerCreateWritePersist(ctx, base, dst.DestTargetID, data)
	}
	return c.createWritePersist(ctx, base, dst.DestTargetID, data)
}

func (c *Client) eagerCreateWritePersist(ctx context.Context, base string, targetID bake.TargetID, data []byte) (bake.RegionID, error) {
	var resp eagerCreateWritePersistResponse
	if err := c.postJSON(ctx, base+"/eager_create_write_persist", eagerCreateWritePersistRequest{
		TargetID: targetID.String(),
		Buffer:   data,
	}, &resp); err != nil {
		return bake.NilRegionID, bake.NewError(bake.Mercury, err)
	}
	if resp.Ret != int(bake.Success) {
		return bake.NilRegionID, bake.NewError(bake.ErrorCode(resp.Ret), fmt.Errorf("eager_create_write_persist on %s failed", base))
	}
	return bake.ParseRegionID(resp.RID)
}

func (c *Client) createWritePersist(ctx context.Context, base string, targetID bake.TargetID, data []byte) (bake.RegionID, error) {
	var resp createWritePersistResponse
	if err := c.postJSON(ctx, base+"/create_write_persist", createWritePersistRequest{
		TargetID:   targetID.String(),
		RegionSize: uint64(len(data)),
		BulkData:   data,
	}, &resp); err != nil {
		return bake.NilRegionID, bake.NewError(bake.Mercury, err)
	}
	if resp.Ret != int(bake.Success) {
		return bake.NilRegionID, bake.NewError(bake.ErrorCode(resp.Ret), fmt.Errorf("create_write_persist on %s failed", base))
	}
	return bake.ParseRegionID(resp.RID)
}

func (c *Client) postJSON(ctx context.Context, url string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}
