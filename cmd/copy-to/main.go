// Command copy-to reads a local file and stores it as a fresh region on
// a remote BAKE provider, the client-side counterpart to §1's "thin CLI
// wrapper" named copy-to. It speaks the same JSON-over-HTTP wire
// contract that provider/transport serves: eager_create_write_persist for
// small files and, for large ones, a single create_write_persist request
// carrying the whole file (no chunking).
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

// eagerThreshold decides whether copy-to uses the inline or bulk upload
// path; it mirrors the provider-side file_backend.eager_limit_bytes
// default (§4.7) but is a client-side heuristic only — the server does
// not check eager payloads against any size limit.
const eagerThreshold = 4096

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var addr string
	var providerID uint16
	var targetID string

	cmd := &cobra.Command{
		Use:   "copy-to <local-file>",
		Short: "Copy a local file into a fresh region on a remote BAKE target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			base := fmt.Sprintf("%s/providers/%d", addr, providerID)

			var rid string
			if len(data) <= eagerThreshold {
				rid, err = eagerCreateWritePersist(base, targetID, data)
			} else {
				rid, err = createWritePersist(base, targetID, data)
			}
			if err != nil {
				return err
			}
			fmt.Printf("stored %s as region %s on target %s\n", args[0], rid, targetID)
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "http://127.0.0.1:8080", "provider base address")
	cmd.Flags().Uint16Var(&providerID, "provider", 0, "destination provider id")
	cmd.Flags().StringVar(&targetID, "target", "", "destination target id")
	cmd.MarkFlagRequired("target")
	return cmd
}

type wireError struct {
	Ret     int    `json:"ret"`
	Message string `json:"message,omitempty"`
}

func postJSON(url string, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("%s: %w", url, err)
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

func eagerCreateWritePersist(base, targetID string, data []byte) (string, error) {
	req := struct {
		TargetID string `json:"target_id"`
		Buffer   []byte `json:"buffer"`
	}{TargetID: targetID, Buffer: data}
	var resp struct {
		wireError
		RID string `json:"rid"`
	}
	if err := postJSON(base+"/eager_create_write_persist", req, &resp); err != nil {
		return "", err
	}
	if resp.Ret != 0 {
		return "", fmt.Errorf("eager_create_write_persist: %s", resp.Message)
	}
	return resp.RID, nil
}

func createWritePersist(base, targetID string, data []byte) (string, error) {
	req := struct {
		TargetID     string `json:"target_id"`
		RegionSize   uint64 `json:"region_size"`
		RegionOffset uint64 `json:"region_offset"`
		BulkOffset   uint64 `json:"bulk_offset"`
		BulkData     []byte `json:"bulk_data"`
	}{TargetID: targetID, RegionSize: uint64(len(data)), BulkData: data}
	var resp struct {
		wireError
		RID string `json:"rid"`
	}
	if err := postJSON(base+"/create_write_persist", req, &resp); err != nil {
		return "", err
	}
	if resp.Ret != 0 {
		return "", fmt.Errorf("create_write_persist: %s", resp.Message)
	}
	return resp.RID, nil
}
