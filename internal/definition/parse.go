package definition

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	"github.com/BadgerOps/darbackup/internal/artifact"
)

// Compression is the parsed -z option of a definition.
type Compression struct {
	Algo  string
	Level int
}

// Enabled reports whether the definition asked for compression.
func (c Compression) Enabled() bool {
	return c.Algo != "" && c.Algo != "none"
}

func (c Compression) String() string {
	if !c.Enabled() {
		return "none"
	}
	return fmt.Sprintf("%s:%d", c.Algo, c.Level)
}

const (
	defaultCompressionAlgo  = "gzip"
	defaultCompressionLevel = 9
)

// maxLevel per algorithm; dar accepts 1-9 everywhere except zstd.
var compressionAlgos = map[string]int{
	"gzip":  9,
	"bzip2": 9,
	"lzo":   9,
	"xz":    9,
	"lzma":  9,
	"lz4":   9,
	"zstd":  22,
	"none":  0,
}

type flagKind int

const (
	kindSwitch flagKind = iota
	kindValue
	kindReserved
)

type flagSpec struct {
	short string
	long  string
	kind  flagKind
}

// Options the orchestrator owns (operation, reference, batch and
// configuration-file handling) are reserved.
var flagSpecs = []flagSpec{
	{"-R", "--fs-root", kindValue},
	{"-P", "--prune", kindValue},
	{"-s", "--slice", kindValue},
	{"-S", "--first-slice-size", kindValue},
	{"-X", "--exclude", kindValue},
	{"-I", "--include", kindValue},
	{"-g", "--go-into", kindValue},
	{"-]", "--exclude-from-file", kindValue},
	{"-[", "--include-from-file", kindValue},
	{"-Z", "--exclude-compression", kindValue},
	{"-Y", "--include-compression", kindValue},
	{"-m", "--mincompr", kindValue},
	{"-E", "--execute", kindValue},
	{"-K", "--key", kindValue},
	{"-c", "--create", kindReserved},
	{"-A", "--ref", kindReserved},
	{"-x", "--extract", kindReserved},
	{"-t", "--test", kindReserved},
	{"-l", "--list", kindReserved},
	{"-d", "--diff", kindReserved},
	{"-B", "--batch", kindReserved},
	{"-N", "--noconf", kindReserved},
}

func lookupFlag(name string) (flagSpec, bool) {
	for _, f := range flagSpecs {
		if name == f.short || name == f.long {
			return f, true
		}
	}
	return flagSpec{}, false
}

// ParseError describes a malformed line of a definition file.
type ParseError struct {
	Line   int
	Text   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d %q: %s", e.Line, e.Text, e.Reason)
}

// Is makes errors.Is(err, ErrInvalid) hold.
func (e *ParseError) Is(target error) bool {
	return target == ErrInvalid
}

// Parse reads option tokens, one option per line. Blank lines and lines
// starting with # are ignored. The returned definition has no name or path.
func Parse(r io.Reader) (*Definition, error) {
	def := &Definition{}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := def.parseLine(line); err != nil {
			return nil, &ParseError{Line: lineNo, Text: line, Reason: err.Error()}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading options: %w", ErrInvalid, err)
	}
	if len(def.Roots) == 0 {
		return nil, fmt.Errorf("%w: no source root (-R) given", ErrInvalid)
	}
	return def, nil
}

func (d *Definition) parseLine(line string) error {
	if !strings.HasPrefix(line, "-") || line == "-" || line == "--" {
		return errors.New("option must start with '-'")
	}

	flag, value, hasValue := splitOption(line)

	switch {
	case flag == "-z" || flag == "--compression":
		return d.setCompression(value, hasValue)
	case flag == "--cache-directory-tagging":
		if hasValue {
			return errors.New("--cache-directory-tagging takes no value")
		}
		d.CacheTagging = true
		d.Tokens = append(d.Tokens, flag)
		return nil
	}

	spec, known := lookupFlag(flag)
	switch {
	case known && spec.kind == kindReserved:
		return fmt.Errorf("option %s is managed by the orchestrator", flag)
	case known && spec.kind == kindValue:
		if !hasValue || value == "" {
			return fmt.Errorf("option %s requires a value", flag)
		}
		if err := d.setValue(spec, value); err != nil {
			return err
		}
		d.Tokens = append(d.Tokens, spec.canonical(flag), value)
		return nil
	}

	// Short switches with attached arguments (-am, -n, -w) and unknown long
	// options pass through untouched. A reserved letter leading a short
	// cluster is still rejected.
	if !strings.HasPrefix(flag, "--") && len(flag) > 2 {
		if spec, ok := lookupFlag(flag[:2]); ok && spec.kind == kindReserved {
			return fmt.Errorf("option %s is managed by the orchestrator", flag[:2])
		}
	}
	d.Tokens = append(d.Tokens, flag)
	if hasValue {
		d.Tokens = append(d.Tokens, value)
	}
	return nil
}

func (f flagSpec) canonical(used string) string {
	if strings.HasPrefix(used, "--") {
		return f.long
	}
	return f.short
}

// splitOption separates a line into its flag and value. It understands
// "--long value", "--long=value", "-x value" and "-xvalue" for short flags
// known to take values or -z.
func splitOption(line string) (flag, value string, hasValue bool) {
	if i := strings.IndexFunc(line, unicode.IsSpace); i > 0 {
		flag = line[:i]
		value = strings.TrimSpace(line[i:])
		hasValue = true
	} else {
		flag = line
	}

	if strings.HasPrefix(flag, "--") {
		if eq := strings.IndexByte(flag, '='); eq > 0 && !hasValue {
			return flag[:eq], flag[eq+1:], true
		}
		return flag, value, hasValue
	}

	if len(flag) > 2 && !hasValue {
		short := flag[:2]
		if spec, ok := lookupFlag(short); (ok && spec.kind == kindValue) || short == "-z" {
			return short, flag[2:], true
		}
	}
	return flag, value, hasValue
}

func (d *Definition) setValue(spec flagSpec, value string) error {
	switch spec.short {
	case "-R":
		d.Roots = append(d.Roots, value)
	case "-P":
		d.Prunes = append(d.Prunes, value)
	case "-X":
		d.Excludes = append(d.Excludes, value)
	case "-I":
		d.Includes = append(d.Includes, value)
	case "-s":
		size, err := artifact.ParseSize(value)
		if err != nil {
			return fmt.Errorf("invalid slice size: %w", err)
		}
		d.SliceSize = size
	case "-S":
		if _, err := artifact.ParseSize(value); err != nil {
			return fmt.Errorf("invalid first slice size: %w", err)
		}
	}
	return nil
}

// setCompression accepts -z, -zLEVEL, -zALGO and -zALGO:LEVEL as well as the
// --compression long form.
func (d *Definition) setCompression(value string, hasValue bool) error {
	c := Compression{Algo: defaultCompressionAlgo, Level: defaultCompressionLevel}
	if hasValue {
		if value == "" {
			return errors.New("empty compression spec")
		}
		algo, level, hasLevel := strings.Cut(value, ":")
		if n, err := strconv.Atoi(algo); err == nil && !hasLevel {
			c.Level = n
		} else {
			c.Algo = strings.ToLower(algo)
			if hasLevel {
				n, err := strconv.Atoi(level)
				if err != nil {
					return fmt.Errorf("invalid compression level %q", level)
				}
				c.Level = n
			}
		}
	}

	maxLevel, ok := compressionAlgos[c.Algo]
	if !ok {
		return fmt.Errorf("unknown compression algorithm %q", c.Algo)
	}
	if c.Algo == "none" {
		c.Level = 0
	} else if c.Level < 1 || c.Level > maxLevel {
		return fmt.Errorf("compression level %d out of range 1-%d for %s", c.Level, maxLevel, c.Algo)
	}

	d.Compression = c
	if hasValue {
		d.Tokens = append(d.Tokens, "-z"+value)
	} else {
		d.Tokens = append(d.Tokens, "-z")
	}
	return nil
}
