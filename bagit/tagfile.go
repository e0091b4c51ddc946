package bagit

import (
	"bufio"
	"bytes"
	"io"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// TagFile is a table from bag relative paths to a single value. Every
// manifest and bitstream tag file in a bag is one of these, serialized one
// line per entry as "<value>\t<path>\n".
type TagFile struct {
	entries map[string]string
}

// NewTagFile returns an empty table.
func NewTagFile() *TagFile {
	return &TagFile{entries: make(map[string]string)}
}

// Add records value for path. A path may only be added once. Neither may
// contain a newline, and the path may not contain a tab or carriage return.
func (t *TagFile) Add(path, value string) error {
	if strings.ContainsAny(path, "\t\n\r") || strings.Contains(value, "\n") {
		return errors.Wrapf(ErrMalformedLine, "%q", path)
	}
	if _, ok := t.entries[path]; ok {
		return errors.Wrap(ErrDuplicatePath, path)
	}
	t.entries[path] = value
	return nil
}

// Value returns the value recorded for path.
func (t *TagFile) Value(path string) (string, bool) {
	v, ok := t.entries[path]
	return v, ok
}

// HasEntries is true if anything has been added.
func (t *TagFile) HasEntries() bool {
	return len(t.entries) > 0
}

// Len returns the number of entries.
func (t *TagFile) Len() int {
	return len(t.entries)
}

// Paths returns every path in the table, sorted.
func (t *TagFile) Paths() []string {
	result := make([]string, 0, len(t.entries))
	for p := range t.entries {
		result = append(result, p)
	}
	sort.Strings(result)
	return result
}

// Serialize returns the table as text, sorted by path.
func (t *TagFile) Serialize() []byte {
	var buf bytes.Buffer
	for _, p := range t.Paths() {
		buf.WriteString(t.entries[p])
		buf.WriteByte('\t')
		buf.WriteString(p)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// ParseTagFile reads a table written by Serialize. Each line is split at its
// last tab. Blank lines are ignored.
func ParseTagFile(r io.Reader) (*TagFile, error) {
	t := NewTagFile()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, 1<<20)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		i := strings.LastIndexByte(line, '\t')
		if i < 0 {
			return nil, errors.Wrapf(ErrMalformedLine, "line %d", lineno)
		}
		if err := t.Add(line[i+1:], line[:i]); err != nil {
			return nil, errors.Wrapf(err, "line %d", lineno)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return t, nil
}
