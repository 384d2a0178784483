package unit

import (
	"context"

	"github.com/prevant-go/prevant/internal/model"
)

// defaultDigestPort is the port a digest-referenced service keeps unless
// its ServiceConfig already specifies one explicitly.
const defaultDigestPort uint16 = 80

// resolveImages implements step 4: collect the union of images across
// entries, resolve them against the configured registries, and assign the
// resolved port/declared volumes back onto each matching entry.
func (b *Builder) resolveImages(ctx context.Context, entries []entry) ([]entry, error) {
	if b.Registry == nil || len(entries) == 0 {
		return entries, nil
	}

	seen := make(map[model.Image]bool)
	var images []model.Image
	for _, e := range entries {
		img := e.config.Image
		if seen[img] {
			continue
		}
		seen[img] = true
		images = append(images, img)
	}

	resolved, err := b.Registry.Resolve(ctx, images)
	if err != nil {
		return nil, err
	}

	for i := range entries {
		r, ok := resolved[entries[i].config.Image]
		if !ok {
			continue
		}
		if r.Digest {
			if entries[i].config.Port == 0 {
				entries[i].config.Port = defaultDigestPort
			}
			continue
		}
		if entries[i].config.Port == 0 {
			entries[i].config.Port = r.Port
		}
		entries[i].declaredVolumes = r.Volumes
	}

	return entries, nil
}
