// Package artifact derives archive slice names and inspects the slices an
// archiving engine left in a backup directory.
package artifact

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/BadgerOps/darbackup/internal/catalog"
)

// DefaultExtension is the slice file extension used by dar.
const DefaultExtension = "dar"

// DateLayout is the date component of every archive name.
const DateLayout = time.DateOnly

// BaseName returns "<definition>_<TYPE>_<YYYY-MM-DD>".
func BaseName(definition string, t catalog.BackupType, date time.Time) string {
	return fmt.Sprintf("%s_%s_%s", definition, t, date.Format(DateLayout))
}

// NameFor returns the file name of one slice:
// "<definition>_<TYPE>_<YYYY-MM-DD>.<slice>.<ext>".
func NameFor(definition string, t catalog.BackupType, date time.Time, slice int, ext string) string {
	return SliceName(BaseName(definition, t, date), slice, ext)
}

// SliceName appends the slice index and extension to a base name.
func SliceName(base string, slice int, ext string) string {
	if ext == "" {
		ext = DefaultExtension
	}
	return fmt.Sprintf("%s.%d.%s", base, slice, ext)
}

// Template is the output path handed to the archiving engine; the engine
// appends ".<slice>.<ext>" itself.
func Template(dir, base string) string {
	return filepath.Join(dir, base)
}

// Name is a parsed slice file name.
type Name struct {
	Definition string
	Type       catalog.BackupType
	Date       string
	Slice      int
}

// Base returns the archive base name the slice belongs to.
func (n Name) Base() string {
	return fmt.Sprintf("%s_%s_%s", n.Definition, n.Type, n.Date)
}

var namePattern = regexp.MustCompile(`^(.+)_(FULL|DIFF|INCR)_([0-9]{4}-[0-9]{2}-[0-9]{2})\.([0-9]+)\.([^.]+)$`)

// ParseName is the inverse of NameFor. It reports false for files that do not
// follow the convention or carry a different extension.
func ParseName(file, ext string) (Name, bool) {
	if ext == "" {
		ext = DefaultExtension
	}
	m := namePattern.FindStringSubmatch(file)
	if m == nil || m[5] != ext {
		return Name{}, false
	}
	if _, err := time.Parse(DateLayout, m[3]); err != nil {
		return Name{}, false
	}
	slice, err := strconv.Atoi(m[4])
	if err != nil || slice < 1 {
		return Name{}, false
	}
	return Name{
		Definition: m[1],
		Type:       catalog.BackupType(m[2]),
		Date:       m[3],
		Slice:      slice,
	}, true
}
