package overlay

import "postkeeper/internal/model"

// Merge combines a remote snapshot with the overlays:
//  1. remote posts whose id is deleted are dropped;
//  2. remote posts with an updated entry are replaced by it wholesale;
//  3. created posts, newest first, go in front.
//
// The remote part keeps the remote order. The inputs are not modified.
func Merge(remote []model.Post, snap Snapshot) []model.Post {
	merged := make([]model.Post, 0, len(snap.Created)+len(remote))
	merged = append(merged, snap.Created...)
	for _, p := range remote {
		if snap.Deleted.Has(p.ID) {
			continue
		}
		if edited, ok := snap.Updated[p.ID]; ok {
			p = edited
		}
		merged = append(merged, p)
	}
	return merged
}
