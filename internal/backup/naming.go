package backup

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// ArtifactExt is appended to the artifact name to form its file name or key
const ArtifactExt = ".dump"

const nameTimestampLayout = "20060102150405"

// ArtifactName is the parsed form of <prefix>-<os>-<env>-<yyyyMMddHHmmss>
type ArtifactName struct {
	Prefix    string
	OSTag     string
	EnvTag    string
	CreatedAt time.Time
}

// String formats the name without extension
func (n ArtifactName) String() string {
	return strings.Join([]string{n.Prefix, n.OSTag, n.EnvTag, n.CreatedAt.UTC().Format(nameTimestampLayout)}, "-")
}

// FileName is the name with ArtifactExt appended
func (n ArtifactName) FileName() string {
	return n.String() + ArtifactExt
}

// NewArtifactName builds a name for a backup taken at now
func NewArtifactName(prefix, osTag, envTag string, now time.Time) ArtifactName {
	return ArtifactName{
		Prefix:    prefix,
		OSTag:     sanitizeTag(osTag),
		EnvTag:    sanitizeTag(envTag),
		CreatedAt: now.UTC().Truncate(time.Second),
	}
}

// ParseArtifactName parses a bare name or a file name ending in ArtifactExt.
// The prefix may itself contain dashes; the last three segments are fixed.
func ParseArtifactName(name string) (ArtifactName, error) {
	name = strings.TrimSuffix(name, ArtifactExt)
	parts := strings.Split(name, "-")
	if len(parts) < 4 {
		return ArtifactName{}, fmt.Errorf("%w: %q", ErrInvalidArtifactName, name)
	}

	n := len(parts)
	ts, err := time.Parse(nameTimestampLayout, parts[n-1])
	if err != nil || len(parts[n-1]) != len(nameTimestampLayout) {
		return ArtifactName{}, fmt.Errorf("%w: bad timestamp in %q", ErrInvalidArtifactName, name)
	}

	prefix := strings.Join(parts[:n-3], "-")
	if prefix == "" || parts[n-3] == "" || parts[n-2] == "" {
		return ArtifactName{}, fmt.Errorf("%w: %q", ErrInvalidArtifactName, name)
	}

	return ArtifactName{
		Prefix:    prefix,
		OSTag:     parts[n-3],
		EnvTag:    parts[n-2],
		CreatedAt: ts.UTC(),
	}, nil
}

// ResolveArtifactName accepts a bare name, a file name, a local path, an
// s3://bucket/key URL or an http(s) object URL and returns the parsed name.
func ResolveArtifactName(ref string) (ArtifactName, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ArtifactName{}, fmt.Errorf("%w: empty reference", ErrInvalidArtifactName)
	}

	var base string
	if u, err := url.Parse(ref); err == nil && u.Scheme != "" && u.Host != "" {
		base = path.Base(u.Path)
	} else {
		base = filepath.Base(ref)
	}

	return ParseArtifactName(base)
}

func sanitizeTag(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	tag = strings.ReplaceAll(tag, "-", "_")
	tag = strings.ReplaceAll(tag, "/", "_")
	if tag == "" {
		return "unknown"
	}
	return tag
}
