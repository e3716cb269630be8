package descriptor

import (
	"net/url"
	"path"
	"strings"
)

// isAbsolutePath reports whether p is an absolute path on either a
// POSIX host ("/a/b") or a Windows host ("C:\a\b", "C:/a/b"), since a
// Descriptor may be authored on one platform and consumed on another.
func isAbsolutePath(p string) bool {
	if strings.HasPrefix(p, "/") {
		return true
	}
	if len(p) >= 3 && isDriveLetter(p[0]) && p[1] == ':' && (p[2] == '\\' || p[2] == '/') {
		return true
	}
	return false
}

func isDriveLetter(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

// ResolveLayout fills in a FileMetadata's URI/Path from the
// Descriptor's base_uri/base_path and infers OS from the filename
// suffix, per spec.md §4.3. It does not resolve placeholders; callers
// resolve those first through a properties.Manager.
func ResolveLayout(base FileMetadata, baseURI, basePath string) FileMetadata {
	out := base
	out.URI = strings.TrimPrefix(out.URI, "/")

	switch {
	case out.Path == "" && out.URI != "":
		out.Path = deriveLocalPath(out.URI, baseURI, basePath)
	case out.URI == "" && out.Path != "":
		out.URI = deriveURI(out.Path, basePath, baseURI)
	}

	if out.OS == AnyOS {
		name := out.Path
		if name == "" {
			name = out.URI
		}
		out.OS = InferOS(path.Base(filepathToSlash(name)))
	}
	return out
}

func filepathToSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// deriveLocalPath mirrors spec.md §4.3: when uri is relative to
// base_uri, the local path inherits the full relative structure;
// otherwise only the last path segment is used.
func deriveLocalPath(uri, baseURI, basePath string) string {
	rel, ok := relativeTo(uri, baseURI)
	if !ok {
		rel = path.Base(uri)
	}
	if basePath == "" {
		return rel
	}
	return joinPath(basePath, rel)
}

// deriveURI is the symmetric rule for deriving a uri from a path.
func deriveURI(p, basePath, baseURI string) string {
	rel, ok := relativeTo(filepathToSlash(p), filepathToSlash(basePath))
	if !ok {
		rel = path.Base(p)
	}
	if baseURI == "" {
		return rel
	}
	return joinURI(baseURI, rel)
}

func relativeTo(candidate, base string) (string, bool) {
	if base == "" {
		return "", false
	}
	if !strings.HasPrefix(candidate, base) {
		return "", false
	}
	rel := strings.TrimPrefix(candidate, base)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		return "", false
	}
	return rel, true
}

func joinPath(basePath, rel string) string {
	if strings.HasSuffix(basePath, "/") || strings.HasSuffix(basePath, "\\") {
		return basePath + rel
	}
	return basePath + "/" + rel
}

func joinURI(baseURI, rel string) string {
	u, err := url.Parse(baseURI)
	if err != nil {
		return strings.TrimSuffix(baseURI, "/") + "/" + rel
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + rel
	return u.String()
}
