// Command bblatency is a latency microbenchmark against a running BAKE
// provider: it issues repeated noop and create+write+persist+read+remove
// cycles over the HTTP wire contract and reports percentile latencies
// (SUPPLEMENTED FEATURES #1, reproducing the original's bb-latency-bench
// tool, named as an out-of-scope external collaborator in §1).
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

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
	var iterations int
	var payloadSize int

	cmd := &cobra.Command{
		Use:   "bblatency",
		Short: "Measure BAKE operation latency against a running provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			base := fmt.Sprintf("%s/providers/%d", addr, providerID)
			payload := bytes.Repeat([]byte{0xaa}, payloadSize)

			noopLatencies := make([]time.Duration, 0, iterations)
			cycleLatencies := make([]time.Duration, 0, iterations)

			for i := 0; i < iterations; i++ {
				start := time.Now()
				if err := noop(base); err != nil {
					return err
				}
				noopLatencies = append(noopLatencies, time.Since(start))

				start = time.Now()
				if err := createWritePersistReadRemove(base, targetID, payload); err != nil {
					return err
				}
				cycleLatencies = append(cycleLatencies, time.Since(start))
			}

			report(cmd, "noop", noopLatencies)
			report(cmd, "create+write+persist+read+remove", cycleLatencies)
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "http://127.0.0.1:8080", "provider base address")
	cmd.Flags().Uint16Var(&providerID, "provider", 0, "provider id to benchmark")
	cmd.Flags().StringVar(&targetID, "target", "", "target id to benchmark against")
	cmd.Flags().IntVar(&iterations, "iterations", 1000, "number of cycles to run")
	cmd.Flags().IntVar(&payloadSize, "payload", 64, "payload size in bytes for the write half of the cycle")
	cmd.MarkFlagRequired("target")
	return cmd
}

func report(cmd *cobra.Command, label string, samples []time.Duration) {
	if len(samples) == 0 {
		return
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	fmt.Fprintf(cmd.OutOrStdout(), "%s: p50=%s p90=%s p99=%s max=%s (n=%d)\n",
		label,
		percentile(sorted, 0.50),
		percentile(sorted, 0.90),
		percentile(sorted, 0.99),
		sorted[len(sorted)-1],
		len(sorted),
	)
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

func noop(base string) error {
	resp, err := http.Post(base+"/noop", "application/json", bytes.NewReader([]byte("{}")))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

func createWritePersistReadRemove(base, targetID string, payload []byte) error {
	rid, err := eagerCreateWritePersist(base, targetID, payload)
	if err != nil {
		return err
	}
	if _, err := eagerRead(base, rid, uint32(len(payload))); err != nil {
		return err
	}
	return remove(base, rid)
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

type wireError struct {
	Ret     int    `json:"ret"`
	Message string `json:"message,omitempty"`
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

func eagerRead(base, rid string, size uint32) ([]byte, error) {
	req := struct {
		RID          string `json:"rid"`
		RegionOffset uint64 `json:"region_offset"`
		Size         uint32 `json:"size"`
	}{RID: rid, Size: size}
	var resp struct {
		wireError
		Buffer []byte `json:"buffer"`
	}
	if err := postJSON(base+"/eager_read", req, &resp); err != nil {
		return nil, err
	}
	if resp.Ret != 0 {
		return nil, fmt.Errorf("eager_read: %s", resp.Message)
	}
	return resp.Buffer, nil
}

func remove(base, rid string) error {
	req := struct {
		RID string `json:"rid"`
	}{RID: rid}
	var resp wireError
	if err := postJSON(base+"/remove", req, &resp); err != nil {
		return err
	}
	if resp.Ret != 0 {
		return fmt.Errorf("remove: %s", resp.Message)
	}
	return nil
}
