package catalog

import (
	"fmt"
	"strings"
	"time"
)

// BackupType is the position of an archive in a definition's chain.
type BackupType string

const (
	TypeFull BackupType = "FULL"
	TypeDiff BackupType = "DIFF"
	TypeIncr BackupType = "INCR"
)

// BackupTypes lists the valid types in chain order.
var BackupTypes = []BackupType{TypeFull, TypeDiff, TypeIncr}

// ParseBackupType accepts FULL, DIFF or INCR (case-insensitive).
func ParseBackupType(s string) (BackupType, error) {
	t := BackupType(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case TypeFull, TypeDiff, TypeIncr:
		return t, nil
	}
	return "", fmt.Errorf("invalid backup type %q: must be one of FULL, DIFF, INCR", s)
}

func (t BackupType) String() string { return string(t) }

// Record is one completed archive operation. Records are append-only.
type Record struct {
	ID            int64
	Ref           string // catalog reference id (UUID)
	Definition    string
	Type          BackupType
	Date          string    // YYYY-MM-DD, part of the artifact name
	CreatedAt     time.Time // ordering key within a definition
	ArchiveBase   string    // <definition>_<TYPE>_<date>
	SliceCount    int
	TotalSize     int64
	AntecedentRef string // empty for FULL
	Engine        string
	Slices        []Slice
}

// Slice is one file of a multi-slice archive.
type Slice struct {
	Index int
	Name  string
	Size  int64
}

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	Definition string
	Type       BackupType
	Limit      int
}

// AntecedentTypes returns the record types that can anchor a backup of type t.
// FULL is a chain root and has none.
func AntecedentTypes(t BackupType) []BackupType {
	switch t {
	case TypeDiff:
		return []BackupType{TypeFull}
	case TypeIncr:
		return []BackupType{TypeFull, TypeDiff}
	}
	return nil
}
