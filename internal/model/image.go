package model

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ImageKind discriminates the two shapes an image reference can take.
type ImageKind int

const (
	// ImageKindNamed identifies an image by registry/user/repository:tag.
	ImageKindNamed ImageKind = iota
	// ImageKindDigest identifies an image by a content digest only.
	ImageKindDigest
)

const (
	defaultRegistry = "docker.io"
	defaultUser     = "library"
	defaultTag      = "latest"
)

// Image is the sum type over the two ways PREvant references a container
// image: a named reference (registry/user/repo:tag, with defaults applied
// the same way Docker does) or a bare content digest.
type Image struct {
	Kind ImageKind

	// Named fields, valid when Kind == ImageKindNamed.
	registry         string
	user             string
	imageRepository  string
	tag              string

	// Digest field, valid when Kind == ImageKindDigest.
	hash string
}

var digestPattern = regexp.MustCompile(`^(sha256:)?[0-9a-fA-F]{64}$`)

// ParseImage parses a raw image reference string into an Image, applying
// Docker's implicit registry/user/tag defaults for named references.
func ParseImage(raw string) (Image, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Image{}, fmt.Errorf("empty image reference")
	}

	if digestPattern.MatchString(raw) {
		return NewDigestImage(raw), nil
	}

	// Split off an optional digest suffix (repo@sha256:...) by preferring
	// the digest form when present.
	if idx := strings.Index(raw, "@"); idx >= 0 {
		digest := raw[idx+1:]
		if digestPattern.MatchString(digest) {
			return NewDigestImage(digest), nil
		}
	}

	registry := defaultRegistry
	user := defaultUser
	repoAndTag := raw

	// A leading host segment is distinguished from a user/org segment by
	// containing a dot, colon, or being "localhost".
	if slash := strings.Index(repoAndTag, "/"); slash >= 0 {
		first := repoAndTag[:slash]
		if strings.ContainsAny(first, ".:") || first == "localhost" {
			registry = first
			repoAndTag = repoAndTag[slash+1:]
		}
	}

	if slash := strings.Index(repoAndTag, "/"); slash >= 0 {
		user = repoAndTag[:slash]
		repoAndTag = repoAndTag[slash+1:]
	}

	tag := defaultTag
	repo := repoAndTag
	if colon := strings.LastIndex(repoAndTag, ":"); colon >= 0 {
		repo = repoAndTag[:colon]
		tag = repoAndTag[colon+1:]
	}
	if repo == "" {
		return Image{}, fmt.Errorf("invalid image reference %q: missing repository", raw)
	}

	return NewNamedImage(registry, user, repo, tag), nil
}

// NewNamedImage builds a named Image, substituting Docker's defaults for any
// blank component.
func NewNamedImage(registry, user, repository, tag string) Image {
	if registry == "" {
		registry = defaultRegistry
	}
	if user == "" {
		user = defaultUser
	}
	if tag == "" {
		tag = defaultTag
	}
	return Image{
		Kind:            ImageKindNamed,
		registry:        registry,
		user:            user,
		imageRepository: repository,
		tag:             tag,
	}
}

// NewDigestImage builds a digest-only Image.
func NewDigestImage(hash string) Image {
	return Image{Kind: ImageKindDigest, hash: hash}
}

// Registry returns the registry host, defaulted to docker.io for named
// images; empty for digest images.
func (i Image) Registry() string {
	if i.Kind != ImageKindNamed {
		return ""
	}
	return i.registry
}

// User returns the registry namespace/user, defaulted to "library".
func (i Image) User() string {
	if i.Kind != ImageKindNamed {
		return ""
	}
	return i.user
}

// Repository returns the bare repository name without registry/user/tag.
func (i Image) Repository() string {
	if i.Kind != ImageKindNamed {
		return ""
	}
	return i.imageRepository
}

// Tag returns the image tag, defaulted to "latest".
func (i Image) Tag() string {
	if i.Kind != ImageKindNamed {
		return ""
	}
	return i.tag
}

// Digest returns the content digest for a digest image, empty otherwise.
func (i Image) Digest() string {
	if i.Kind != ImageKindDigest {
		return ""
	}
	return i.hash
}

// Name returns the canonical reference string, equivalent to what dockerd
// would resolve the same input to.
func (i Image) Name() string {
	switch i.Kind {
	case ImageKindDigest:
		return i.hash
	default:
		return fmt.Sprintf("%s/%s/%s:%s", i.registry, i.user, i.imageRepository, i.tag)
	}
}

func (i Image) String() string { return i.Name() }

// MarshalJSON serializes an Image to its canonical reference string, the
// shape both the deployment hook and the persisted task log expect.
func (i Image) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.Name())
}

// UnmarshalJSON parses a canonical reference string back into an Image.
func (i *Image) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == "" {
		*i = Image{}
		return nil
	}
	parsed, err := ParseImage(raw)
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Equal compares two images after normalizing defaulted fields, mirroring
// Docker's reference equivalence rules.
func (i Image) Equal(other Image) bool {
	if i.Kind != other.Kind {
		return false
	}
	if i.Kind == ImageKindDigest {
		return i.hash == other.hash
	}
	return i.registry == other.registry &&
		i.user == other.user &&
		i.imageRepository == other.imageRepository &&
		i.tag == other.tag
}
