package media

import (
	"fmt"
	"sort"
	"strings"
)

// Structure is one media type entry of a Caps, e.g. "video/x-h264, stream-format=byte-stream".
type Structure struct {
	Name   string
	Fields map[string]string
}

// Caps describes the formats a stream carries or a pad accepts.
// A Caps is either ANY, empty, or an ordered list of structures.
type Caps struct {
	any        bool
	structures []Structure
}

// NewAnyCaps returns caps that intersect with everything.
func NewAnyCaps() *Caps {
	return &Caps{any: true}
}

// NewEmptyCaps returns caps that intersect with nothing.
func NewEmptyCaps() *Caps {
	return &Caps{}
}

// NewCaps builds caps from structures.
func NewCaps(structures ...Structure) *Caps {
	c := &Caps{}
	for _, s := range structures {
		c.structures = append(c.structures, s.copy())
	}
	return c
}

// ParseCaps parses the textual caps form:
//
//	video/x-h264, stream-format=byte-stream; audio/x-opus
//
// Values may carry a "(type)" prefix which is ignored.
func ParseCaps(s string) (*Caps, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "ANY":
		return NewAnyCaps(), nil
	case "", "EMPTY", "NONE":
		return NewEmptyCaps(), nil
	}

	c := &Caps{}
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ",")
		name := strings.TrimSpace(fields[0])
		if name == "" || !strings.Contains(name, "/") {
			return nil, fmt.Errorf("invalid caps structure name %q", name)
		}
		st := Structure{Name: name, Fields: make(map[string]string)}
		for _, f := range fields[1:] {
			key, value, ok := strings.Cut(f, "=")
			if !ok {
				return nil, fmt.Errorf("invalid caps field %q in %q", strings.TrimSpace(f), name)
			}
			value = strings.TrimSpace(value)
			if strings.HasPrefix(value, "(") {
				if end := strings.Index(value, ")"); end > 0 {
					value = strings.TrimSpace(value[end+1:])
				}
			}
			st.Fields[strings.TrimSpace(key)] = strings.Trim(value, `"`)
		}
		c.structures = append(c.structures, st)
	}
	return c, nil
}

// MustParseCaps is like ParseCaps but panics on error.
func MustParseCaps(s string) *Caps {
	c, err := ParseCaps(s)
	if err != nil {
		panic(err)
	}
	return c
}

// IsAny reports whether the caps are ANY.
func (c *Caps) IsAny() bool {
	return c != nil && c.any
}

// IsEmpty reports whether the caps contain no structure.
func (c *Caps) IsEmpty() bool {
	return c == nil || (!c.any && len(c.structures) == 0)
}

// Structures returns a copy of the structures.
func (c *Caps) Structures() []Structure {
	if c == nil {
		return nil
	}
	out := make([]Structure, len(c.structures))
	for i, s := range c.structures {
		out[i] = s.copy()
	}
	return out
}

// Name returns the name of the first structure, or "" for ANY/empty caps.
func (c *Caps) Name() string {
	if c == nil || len(c.structures) == 0 {
		return ""
	}
	return c.structures[0].Name
}

// Field returns a field of the first structure.
func (c *Caps) Field(key string) (string, bool) {
	if c == nil || len(c.structures) == 0 {
		return "", false
	}
	v, ok := c.structures[0].Fields[key]
	return v, ok
}

// CanIntersect reports whether any structure of c is compatible with any structure of other.
// Two structures are compatible when their names match and every field present in both has
// the same value.
func (c *Caps) CanIntersect(other *Caps) bool {
	if c.IsEmpty() || other.IsEmpty() {
		return false
	}
	if c.any || other.any {
		return true
	}
	for _, a := range c.structures {
		for _, b := range other.structures {
			if a.compatible(b) {
				return true
			}
		}
	}
	return false
}

// Merge returns the union of c and other, skipping structures already present.
func (c *Caps) Merge(other *Caps) *Caps {
	if c.IsAny() || other.IsAny() {
		return NewAnyCaps()
	}
	out := NewCaps(c.Structures()...)
	for _, s := range other.Structures() {
		dup := false
		for _, have := range out.structures {
			if have.equal(s) {
				dup = true
				break
			}
		}
		if !dup {
			out.structures = append(out.structures, s)
		}
	}
	return out
}

// String renders caps in the textual form accepted by ParseCaps.
func (c *Caps) String() string {
	if c == nil {
		return "EMPTY"
	}
	if c.any {
		return "ANY"
	}
	if len(c.structures) == 0 {
		return "EMPTY"
	}
	parts := make([]string, len(c.structures))
	for i, s := range c.structures {
		parts[i] = s.String()
	}
	return strings.Join(parts, "; ")
}

// String renders the structure with its fields in key order.
func (s Structure) String() string {
	if len(s.Fields) == 0 {
		return s.Name
	}
	keys := make([]string, 0, len(s.Fields))
	for k := range s.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteString(s.Name)
	for _, k := range keys {
		sb.WriteString(", ")
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(s.Fields[k])
	}
	return sb.String()
}

func (s Structure) compatible(o Structure) bool {
	if s.Name != o.Name {
		return false
	}
	for k, v := range s.Fields {
		if ov, ok := o.Fields[k]; ok && ov != v {
			return false
		}
	}
	return true
}

func (s Structure) equal(o Structure) bool {
	if s.Name != o.Name || len(s.Fields) != len(o.Fields) {
		return false
	}
	for k, v := range s.Fields {
		if o.Fields[k] != v {
			return false
		}
	}
	return true
}

func (s Structure) copy() Structure {
	out := Structure{Name: s.Name, Fields: make(map[string]string, len(s.Fields))}
	for k, v := range s.Fields {
		out.Fields[k] = v
	}
	return out
}

// DefaultRawCaps are the formats that are exposed without decoding.
const DefaultRawCaps = "video/x-raw; audio/x-raw; text/x-raw; subpicture/x-dvd; subpicture/x-pgs"
