// Command mkpool prepares a BAKE target at a given path (§1's "thin CLI
// wrapper" named mkpool). With the file: prefix it creates a file-backed
// target; with the pmem: prefix it only creates the directory and does
// not create a memory-backed target. It does not attach the target for
// use, matching filebackend.CreateTarget's own contract.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bake-hpc/bake/config"
	"github.com/bake-hpc/bake/filebackend"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var sizeStr string
	var nlogs int
	var alignment int

	cmd := &cobra.Command{
		Use:   "mkpool [pmem:|file:]<path>",
		Short: "Create a fresh BAKE target",
		Long: "mkpool creates a new log-structured file-backed target at path " +
			"(file: prefix). With the pmem: prefix (the default) it only " +
			"creates the directory at path; no memory-backed target is created.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := parseSize(sizeStr)
			if err != nil {
				return err
			}
			tag, path := splitPrefix(args[0])
			switch tag {
			case "file":
				id, err := filebackend.CreateTarget(path, filebackend.Options{
					Alignment: uint64(alignment),
					LogCount:  uint32(nlogs),
				})
				if err != nil {
					return err
				}
				fmt.Printf("created file-backed target %s at %s\n", id, path)
			case "pmem":
				if err := os.MkdirAll(path, 0o755); err != nil {
					return err
				}
				fmt.Printf("pmem pool directory %s reserved for a %d-byte target; attach to create the object store\n", path, size)
			default:
				return fmt.Errorf("unrecognized backend prefix %q", tag)
			}
			return nil
		},
	}

	def := config.Default()
	cmd.Flags().StringVarP(&sizeStr, "size", "s", "1G", "pool size, e.g. 512M, 4G, 1T (pmem pools only)")
	cmd.Flags().IntVar(&nlogs, "nlogs", def.FileBackend.NLogs, "number of log shards (file-backed targets only)")
	cmd.Flags().IntVar(&alignment, "alignment", def.FileBackend.Alignment, "block alignment in bytes (file-backed targets only)")
	return cmd
}

// splitPrefix separates a pmem:/file: prefix from path, defaulting to
// pmem when no prefix is given.
func splitPrefix(arg string) (tag, path string) {
	if rest, ok := strings.CutPrefix(arg, "pmem:"); ok {
		return "pmem", rest
	}
	if rest, ok := strings.CutPrefix(arg, "file:"); ok {
		return "file", rest
	}
	return "pmem", arg
}

// parseSize parses a size string with an optional K/M/G/T/P suffix into
// bytes.
func parseSize(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	mult := int64(1)
	suffix := s[len(s)-1]
	numPart := s
	switch suffix {
	case 'K', 'k':
		mult = 1 << 10
		numPart = s[:len(s)-1]
	case 'M', 'm':
		mult = 1 << 20
		numPart = s[:len(s)-1]
	case 'G', 'g':
		mult = 1 << 30
		numPart = s[:len(s)-1]
	case 'T', 't':
		mult = 1 << 40
		numPart = s[:len(s)-1]
	case 'P', 'p':
		mult = 1 << 50
		numPart = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(numPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return n * mult, nil
}
