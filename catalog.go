package lsyolo

// Class catalog: the mapping from label names to YOLO class IDs.

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// LabelCatalog assigns dense integer class IDs to label names in first-seen order, starting at 0.
// IDs are never reused or reassigned. The zero value is not usable, see NewLabelCatalog.
type LabelCatalog struct {
	ids   map[string]int
	names []string // Indexed by ID.
}

// NewLabelCatalog returns an empty catalog.
func NewLabelCatalog() *LabelCatalog {
	return &LabelCatalog{ids: make(map[string]int)}
}

// Clone returns an independent copy of c.
func (c *LabelCatalog) Clone() *LabelCatalog {
	clone := NewLabelCatalog()
	for _, name := range c.names {
		clone.ID(name)
	}
	return clone
}

// ID returns the class ID for name, allocating the next unused ID if name has not been seen.
func (c *LabelCatalog) ID(name string) int {
	if id, ok := c.ids[name]; ok {
		return id
	}
	id := len(c.names)
	c.ids[name] = id
	c.names = append(c.names, name)
	return id
}

// Lookup returns the class ID for name without allocating one.
func (c *LabelCatalog) Lookup(name string) (int, bool) {
	id, ok := c.ids[name]
	return id, ok
}

// Name returns the label name for a class ID.
func (c *LabelCatalog) Name(id int) (string, bool) {
	if id < 0 || id >= len(c.names) {
		return "", false
	}
	return c.names[id], true
}

// Len is the number of classes.
func (c *LabelCatalog) Len() int {
	return len(c.names)
}

// Names returns the label names ordered by ascending class ID. The slice is never nil.
func (c *LabelCatalog) Names() []string {
	names := make([]string, len(c.names))
	copy(names, c.names)
	return names
}

// WriteTo writes the class list, one "<id>: <name>" line per class in ascending ID order.
func (c *LabelCatalog) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for id, name := range c.names {
		n, err := fmt.Fprintf(w, "%d: %s\n", id, name)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// ParseCatalog reads a class list in the format written by WriteTo. Blank lines are ignored. The
// IDs must be unique and cover 0..n-1, in any order.
func ParseCatalog(r io.Reader) (*LabelCatalog, error) {
	byID := make(map[int]string)
	scanner := bufio.NewScanner(r)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		a := strings.SplitN(line, ": ", 2)
		if len(a) != 2 || a[1] == "" {
			return nil, fmt.Errorf("line %d: expected \"<id>: <name>\", got %q", lineNo, line)
		}
		id, err := strconv.Atoi(strings.TrimSpace(a[0]))
		if err != nil || id < 0 {
			return nil, fmt.Errorf("line %d: invalid class id %q", lineNo, a[0])
		}
		if _, dup := byID[id]; dup {
			return nil, fmt.Errorf("line %d: duplicate class id %d", lineNo, id)
		}
		byID[id] = a[1]
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	c := NewLabelCatalog()
	for id := 0; id < len(byID); id++ {
		name, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("class ids are not contiguous: missing id %d", id)
		}
		if _, dup := c.ids[name]; dup {
			return nil, fmt.Errorf("duplicate class name %q", name)
		}
		c.ID(name)
	}

	return c, nil
}

// LoadCatalog reads the class list file at path.
func LoadCatalog(fs afero.Fs, path string) (c *LabelCatalog, err error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer closeWithErrCheck(f, &err)

	c, err = ParseCatalog(f)
	if err != nil {
		return nil, fmt.Errorf("cannot parse class list %q: %w", path, err)
	}
	return c, nil
}
