package artifacts

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// windowsDeviceNames cannot be used as file names on Windows hosts that
// may mount the upload folder.
var windowsDeviceNames = map[string]bool{
	"CON": true, "AUX": true, "COM1": true, "COM2": true, "COM3": true, "COM4": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "PRN": true, "NUL": true,
}

// SecureFilename returns a version of name that is safe to store on a
// regular file system: path separators become spaces, the result is reduced
// to ASCII letters, digits, '_', '.' and '-', whitespace runs are joined
// with '_' and leading or trailing dots and underscores are removed.
// The result may be empty.
func SecureFilename(name string) string {
	name = norm.NFKD.String(name)
	name = strings.NewReplacer("/", " ", "\\", " ").Replace(name)

	var b strings.Builder
	for _, r := range name {
		switch {
		case r > unicode.MaxASCII:
			continue
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		case r == '_' || r == '.' || r == '-',
			r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		}
	}

	name = strings.Join(strings.Fields(b.String()), "_")
	name = strings.Trim(name, "._")

	if stem, _, _ := strings.Cut(name, "."); windowsDeviceNames[strings.ToUpper(stem)] {
		name = "_" + name
	}
	return name
}

// IsPlainName reports whether name is a single path element that stays
// inside the directory it is joined to.
func IsPlainName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}

// HasExt reports whether name ends in ext, ignoring case.
func HasExt(name, ext string) bool {
	return strings.HasSuffix(strings.ToLower(name), strings.ToLower(ext))
}
