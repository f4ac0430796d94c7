package clinical

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var allowedExtensions = map[string]struct{}{
	"png":  {},
	"jpg":  {},
	"jpeg": {},
	"gif":  {},
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// AllowedFile reports whether name carries one of the accepted image
// extensions. The comparison is case-insensitive and only the text after the
// last dot is considered.
func AllowedFile(name string) bool {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return false
	}
	_, ok := allowedExtensions[strings.ToLower(name[i+1:])]
	return ok
}

// SecureFilename reduces a client supplied file name to a flat ASCII name that
// is safe to join onto the upload directory. Accents are folded, path
// separators and whitespace become underscores, everything outside
// [A-Za-z0-9_.-] is dropped, and leading or trailing dots and underscores are
// trimmed. The result may be empty.
func SecureFilename(name string) string {
	folded := norm.NFKD.String(name)
	var b strings.Builder
	for _, r := range folded {
		if r > unicode.MaxASCII {
			continue
		}
		if r == '/' || r == '\\' {
			r = ' '
		}
		b.WriteRune(r)
	}
	joined := strings.Join(strings.Fields(b.String()), "_")
	return strings.Trim(unsafeFilenameChars.ReplaceAllString(joined, ""), "._")
}
