// Package changeset implements the Change Detector (spec.md §4.C): it
// joins filesystem scan output against the catalog's live-file snapshot
// for a tenant and emits a SyncPlan of FileChanges. Grounded on
// original_source/src/backend/services/sync_service.py's
// detect_file_changes map-diff, translated into the tagged-union
// FileChange spec.md §9 asks for in place of a class hierarchy.
package changeset

import (
	"github.com/fyrsmithlabs/ragserver/internal/catalog"
	"github.com/fyrsmithlabs/ragserver/internal/fsscan"
)

// Detect builds a SyncPlan from scanner records and the tenant's live
// catalog files. When forceFullSync is true, every live file is emitted
// as Updated regardless of hash match (spec.md §4.C, §9).
func Detect(tenantSlug string, scanned []fsscan.Record, live []catalog.File, forceFullSync bool) catalog.SyncPlan {
	fsMap := make(map[string]fsscan.Record, len(scanned))
	for _, r := range scanned {
		fsMap[r.RelativePath] = r
	}

	dbMap := make(map[string]catalog.File, len(live))
	for _, f := range live {
		dbMap[f.RelativePath] = f
	}

	var changes []catalog.FileChange

	for path, rec := range fsMap {
		dbFile, inDB := dbMap[path]
		switch {
		case !inDB:
			changes = append(changes, catalog.FileChange{
				Kind:         catalog.ChangeCreated,
				RelativePath: path,
				NewHash:      rec.ContentHash,
				Size:         rec.SizeBytes,
			})
		case forceFullSync || rec.ContentHash != dbFile.ContentHash:
			changes = append(changes, catalog.FileChange{
				Kind:         catalog.ChangeUpdated,
				RelativePath: path,
				FileID:       dbFile.ID,
				OldHash:      dbFile.ContentHash,
				NewHash:      rec.ContentHash,
				Size:         rec.SizeBytes,
			})
		}
		// Identical hash, not forced: no-op, omitted from the plan.
	}

	for path, dbFile := range dbMap {
		if _, stillPresent := fsMap[path]; !stillPresent {
			changes = append(changes, catalog.FileChange{
				Kind:         catalog.ChangeDeleted,
				RelativePath: path,
				FileID:       dbFile.ID,
				OldHash:      dbFile.ContentHash,
			})
		}
	}

	return catalog.SyncPlan{TenantSlug: tenantSlug, Changes: changes}
}
