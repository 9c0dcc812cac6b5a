package dispatch

import (
	"path"
	"regexp"
	"strings"
	"time"
)

// JobIDTimeLayout is the timestamp suffix of every job id.
const JobIDTimeLayout = "20060102-150405"

const maxURLBaseLen = 50

// AllowedExtensions are the media types accepted for upload.
var AllowedExtensions = map[string]bool{
	"mp4": true, "mp3": true, "wav": true, "flac": true,
	"aac": true, "ogg": true, "webm": true, "m4a": true,
}

var (
	urlSchemeRe = regexp.MustCompile(`https?://`)
	unsafeRe    = regexp.MustCompile(`[^A-Za-z0-9_.-]`)
)

func AllowedFile(name string) bool {
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return false
	}
	return AllowedExtensions[strings.ToLower(name[i+1:])]
}

// SecureFilename reduces an uploaded file name to a safe single path
// segment: separators become spaces, runs of whitespace become "_", and
// anything outside [A-Za-z0-9_.-] is dropped along with leading and trailing
// dots and underscores.
func SecureFilename(name string) string {
	name = strings.NewReplacer("/", " ", `\`, " ").Replace(name)
	name = strings.Join(strings.Fields(name), "_")
	var b strings.Builder
	for _, r := range name {
		if isSafeRune(r) {
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "._")
}

func isSafeRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	return r == '_' || r == '.' || r == '-'
}

// FileBase is the job id base for an uploaded file: its secured name
// without the final extension.
func FileBase(filename string) string {
	secured := SecureFilename(filename)
	if i := strings.LastIndex(secured, "."); i > 0 {
		secured = secured[:i]
	}
	if secured == "" {
		return "untitled"
	}
	return secured
}

// URLBase is the job id base for a URL: scheme removed, unsafe characters
// replaced by "_", truncated to 50 characters.
func URLBase(rawURL string) string {
	base := urlSchemeRe.ReplaceAllString(rawURL, "")
	base = unsafeRe.ReplaceAllString(base, "_")
	if len(base) > maxURLBaseLen {
		base = base[:maxURLBaseLen]
	}
	if base == "" {
		return "untitled"
	}
	return base
}

func NewJobID(base string, now time.Time) string {
	return base + "_" + now.Format(JobIDTimeLayout)
}

// objectName is where an upload for jobID is stored in the bucket.
func objectName(jobID, filename string) string {
	name := SecureFilename(filename)
	if name == "" {
		name = "upload"
	}
	return path.Join(jobID, name)
}
