package unit

import (
	"context"

	"github.com/prevant-go/prevant/internal/model"
)

// replicate implements step 1: if req.ReplicateFrom is set, fetch that
// app's current services and clone any not already present by name into
// the request set as ContainerTypeReplica entries, keeping only their
// Replicate-marked environment variables. Entries already present in the
// request win outright; they are never overridden by a replica.
func (b *Builder) replicate(ctx context.Context, req BuildRequest, entries []entry) ([]entry, error) {
	if req.ReplicateFrom == nil {
		return entries, nil
	}

	source, err := b.Backend.FetchApp(ctx, *req.ReplicateFrom)
	if err != nil {
		return nil, err
	}
	if source == nil {
		return entries, nil
	}

	present := make(map[string]bool, len(entries))
	for _, e := range entries {
		present[e.config.ServiceName] = true
	}

	for _, svc := range source.Services {
		if present[svc.ServiceName] {
			continue
		}
		clone := svc.Config.Clone()
		clone.ContainerType = model.ContainerTypeReplica
		clone.Environment = clone.Environment.Replicated()
		entries = append(entries, entry{config: clone})
		present[clone.ServiceName] = true
	}

	return entries, nil
}
