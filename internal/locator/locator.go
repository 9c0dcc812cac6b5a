// Package locator classifies job input locators into storage references,
// remote URLs, or invalid values.
package locator

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

type Kind int

const (
	Invalid Kind = iota
	StorageRef
	URLRef
)

func (k Kind) String() string {
	switch k {
	case StorageRef:
		return "storage"
	case URLRef:
		return "url"
	default:
		return "invalid"
	}
}

// StorageSchemes are the object-store schemes a locator may reference.
// "local" addresses a directory tree shared with a development dispatcher.
var StorageSchemes = []string{"gs", "s3", "local"}

// Locator is the parsed form of an input locator. Bucket and Object are only
// set for StorageRef; Reason is only set for Invalid.
type Locator struct {
	Kind   Kind
	Raw    string
	Scheme string
	Bucket string
	Object string
	Reason string
}

// Parse classifies raw. It never returns an error; malformed input yields an
// Invalid locator carrying the reason.
func Parse(raw string) Locator {
	loc := Locator{Raw: raw}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		loc.Reason = "empty locator"
		return loc
	}

	scheme, rest, ok := strings.Cut(trimmed, "://")
	if !ok {
		loc.Reason = "missing scheme"
		return loc
	}
	scheme = strings.ToLower(scheme)

	switch {
	case isStorageScheme(scheme):
		bucket, object, _ := strings.Cut(rest, "/")
		if bucket == "" || object == "" || strings.HasSuffix(object, "/") {
			loc.Reason = fmt.Sprintf("%s locator needs bucket and object", scheme)
			return loc
		}
		if base := path.Base(object); base == "." || base == ".." {
			loc.Reason = fmt.Sprintf("%s object %q does not name a file", scheme, object)
			return loc
		}
		loc.Kind = StorageRef
		loc.Scheme = scheme
		loc.Bucket = bucket
		loc.Object = object
	case scheme == "http" || scheme == "https":
		u, err := url.Parse(trimmed)
		if err != nil || u.Host == "" {
			loc.Reason = "malformed url"
			return loc
		}
		loc.Kind = URLRef
		loc.Scheme = scheme
	default:
		loc.Reason = fmt.Sprintf("unsupported scheme %q", scheme)
	}
	return loc
}

// BaseName is the file name a storage reference is downloaded under.
func (l Locator) BaseName() string {
	if l.Kind != StorageRef {
		return ""
	}
	return path.Base(l.Object)
}

func (l Locator) String() string {
	if l.Kind == StorageRef {
		return l.Scheme + "://" + l.Bucket + "/" + l.Object
	}
	return l.Raw
}

func isStorageScheme(s string) bool {
	for _, v := range StorageSchemes {
		if v == s {
			return true
		}
	}
	return false
}
