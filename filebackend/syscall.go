package filebackend

import (
	"context"
	"os"

	"golang.org/x/sys/unix"
)

// fdatasync issues the data-sync durability barrier backing both the
// allocator's post-allocation sync and Persist (§4.4 persist: "the
// backing log is data-sync'd in full"). Portable syncs cannot target a
// byte range, so every persist syncs the whole log file.
func fdatasync(f *os.File) error {
	return ioPool.Submit(context.Background(), func() error {
		return unix.Fdatasync(int(f.Fd()))
	})
}

// punchHole deallocates [offset, offset+size) within f without shrinking
// the file, the hole-punch remove described in §4.4 ("extent hole-punched
// ... with KEEP_SIZE so neighbors are unaffected").
func punchHole(f *os.File, offset, size int64) error {
	return ioPool.Submit(context.Background(), func() error {
		return unix.Fallocate(int(f.Fd()), unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, offset, size)
	})
}
