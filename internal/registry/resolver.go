// Package registry resolves Named images to the port/volume metadata the
// deployment unit builder needs, by fetching their manifest and config blob
// from an OCI registry without pulling the image locally.
package registry

import (
	"context"
	"errors"
	"net"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/prevant-go/prevant/internal/apperr"
	"github.com/prevant-go/prevant/internal/model"
	"github.com/prevant-go/prevant/pkg/logging"
)

// Credentials are plain registry login credentials, configured per host.
type Credentials struct {
	Username string
	Password string
}

// ResolvedImage is what the builder needs back per distinct Image: the
// lowest exposed TCP/UDP port (if any) and the declared volume mount paths.
// Digest images resolve with Digest=true and no other fields populated,
// since there is no manifest reference to fetch without a registry+repo.
type ResolvedImage struct {
	Digest  bool
	Port    uint16
	Volumes []string
}

// Resolver fetches manifest/config metadata for a set of images concurrently.
type Resolver struct {
	registries  map[string]Credentials
	mirror      map[string]string
	maxInFlight int64
}

// New builds a Resolver. registries maps a registry host to its
// credentials; mirror maps a registry host to an alternate host to query
// instead.
func New(registries map[string]Credentials, mirror map[string]string) *Resolver {
	return &Resolver{registries: registries, mirror: mirror, maxInFlight: 8}
}

// Resolve fetches metadata for every distinct image in images concurrently,
// bounded to r.maxInFlight in-flight registry calls.
func (r *Resolver) Resolve(ctx context.Context, images []model.Image) (map[model.Image]ResolvedImage, error) {
	result := make(map[model.Image]ResolvedImage, len(images))
	var mu sync.Mutex

	sem := semaphore.NewWeighted(r.maxInFlight)
	g, ctx := errgroup.WithContext(ctx)

	for _, img := range images {
		img := img
		if img.Kind == model.ImageKindDigest {
			mu.Lock()
			result[img] = ResolvedImage{Digest: true}
			mu.Unlock()
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		g.Go(func() error {
			defer sem.Release(1)
			resolved, err := r.resolveOne(ctx, img)
			if err != nil {
				return err
			}
			mu.Lock()
			result[img] = resolved
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *Resolver) resolveOne(ctx context.Context, img model.Image) (ResolvedImage, error) {
	host := img.Registry()
	if mirrored, ok := r.mirror[host]; ok {
		host = mirrored
	}

	ref, err := name.ParseReference(host + "/" + img.User() + "/" + img.Repository() + ":" + img.Tag())
	if err != nil {
		return ResolvedImage{}, apperr.Infrastructure(err, "parsing image reference %s", img.Name())
	}

	opts := []remote.Option{remote.WithContext(ctx)}
	if creds, ok := r.registries[img.Registry()]; ok {
		opts = append(opts, remote.WithAuth(&authn.Basic{Username: creds.Username, Password: creds.Password}))
	}

	platform := v1.Platform{OS: runtime.GOOS, Architecture: runtime.GOARCH}
	desc, err := remote.Get(ref, append(append([]remote.Option{}, opts...), remote.WithPlatform(platform))...)
	if err != nil && isNoMatchingPlatform(err) {
		logging.Debug("registry", "no manifest for current platform, falling back to first entry: %s", img.Name())
		desc, err = remote.Get(ref, opts...)
	}
	if err != nil {
		return ResolvedImage{}, classifyError(img, err)
	}

	image, err := desc.Image()
	if err != nil {
		return ResolvedImage{}, apperr.Infrastructure(err, "reading image for %s", img.Name())
	}
	cfg, err := image.ConfigFile()
	if err != nil {
		return ResolvedImage{}, apperr.Infrastructure(err, "reading config for %s", img.Name())
	}

	return ResolvedImage{
		Port:    smallestExposedPort(cfg.Config.ExposedPorts),
		Volumes: volumePaths(cfg.Config.Volumes),
	}, nil
}

func smallestExposedPort(exposed map[string]struct{}) uint16 {
	var ports []int
	for k := range exposed {
		// Keys look like "80/tcp" or "53/udp".
		portStr := k
		if idx := strings.IndexByte(k, '/'); idx >= 0 {
			portStr = k[:idx]
		}
		if p, err := strconv.Atoi(portStr); err == nil {
			ports = append(ports, p)
		}
	}
	if len(ports) == 0 {
		return 0
	}
	sort.Ints(ports)
	return uint16(ports[0])
}

func volumePaths(volumes map[string]struct{}) []string {
	out := make([]string, 0, len(volumes))
	for path := range volumes {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

func isNoMatchingPlatform(err error) bool {
	return strings.Contains(err.Error(), "no child with platform")
}

func classifyError(img model.Image, err error) error {
	var terr *transport.Error
	if errors.As(err, &terr) {
		if terr.StatusCode == 401 || terr.StatusCode == 403 {
			return apperr.RegistryAuthFailure(img.Name(), terr.Error())
		}
		if terr.StatusCode == 404 {
			return apperr.ImageNotFound(img.Name())
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperr.Infrastructure(err, "timed out resolving %s", img.Name())
	}
	return apperr.Infrastructure(err, "resolving %s", img.Name())
}
