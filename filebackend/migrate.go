package filebackend

import (
	"context"
	"path/filepath"

	"github.com/bake-hpc/bake"
)

// MigrateTarget enumerates this target's files (the superblock plus
// every log shard) into a file set and hands it to shipper, the external
// file-set migration service collaborator (§4.4 migrate_target, the
// REMI service of §1/§7). On success, and if removeSrc, the target's
// resources are finalized and its directory contents left for the
// caller to reclaim — the file backend does not delete the directory
// itself, matching §4.8's "a backend that rolls back... is not
// required".
func (b *Backend) MigrateTarget(ctx context.Context, shipper bake.FileSetShipper, removeSrc bool, destAddr string, destProviderID uint16, destRoot string) error {
	files := make([]string, 0, len(b.logs)+1)
	files = append(files, filepath.Join(b.path, rootFileName))
	for i := range b.logs {
		files = append(files, filepath.Join(b.path, logFileName(uint32(i))))
	}

	if err := shipper.ShipFileSet(ctx, files, destAddr, destProviderID, destRoot); err != nil {
		return bake.NewError(bake.Remi, err)
	}
	if removeSrc {
		return b.Finalize(ctx)
	}
	return nil
}
