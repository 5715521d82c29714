package timingheader

import "strings"

// A Param is a `key=value` pair of a header entry. Value is kept as written,
// including quotes.
type Param struct {
	Key   string
	Value string
}

// An Entry is a metric as found in a header value.
type Entry struct {
	Name   string
	Params []Param
}

// Param returns the value of the first parameter named key.
func (e Entry) Param(key string) (string, bool) {
	for _, p := range e.Params {
		if p.Key == key {
			return p.Value, true
		}
	}

	return "", false
}

func (e Entry) String() string {
	var b strings.Builder

	b.WriteString(e.Name)
	for _, p := range e.Params {
		b.WriteByte(';')
		b.WriteString(p.Key)
		b.WriteByte('=')
		b.WriteString(p.Value)
	}

	return b.String()
}

// A Field is a parsed header value. Entries keep their order of appearance.
type Field struct {
	entries []Entry
}

// Parse reads a header value. It is lenient: malformed items are skipped.
// If a metric or a parameter appears more than once, only the first is
// considered, except that later parameters missing from the first entry of
// a metric are added to it.
func Parse(value string) Field {
	f := Field{}

	for _, item := range splitOutsideQuotes(value, ',') {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		parts := splitOutsideQuotes(item, ';')
		name := strings.TrimSpace(parts[0])
		if ValidateName(name) != nil {
			continue
		}

		entry := f.lookup(name)
		if entry == nil {
			f.entries = append(f.entries, Entry{Name: name})
			entry = &f.entries[len(f.entries)-1]
		}

		for _, raw := range parts[1:] {
			key, val, _ := strings.Cut(raw, "=")
			key = strings.TrimSpace(key)
			if key == "" {
				continue
			}

			if _, exists := entry.Param(key); exists {
				continue
			}

			entry.Params = append(entry.Params, Param{
				Key:   key,
				Value: strings.TrimSpace(val),
			})
		}
	}

	return f
}

func (f *Field) lookup(name string) *Entry {
	for i := range f.entries {
		if f.entries[i].Name == name {
			return &f.entries[i]
		}
	}

	return nil
}

// Entries returns the entries of the field.
func (f Field) Entries() []Entry {
	return f.entries
}

// Get returns the entry named name.
func (f Field) Get(name string) (Entry, bool) {
	if e := f.lookup(name); e != nil {
		return *e, true
	}

	return Entry{}, false
}

// Set replaces the entry with the same name as m, or appends m.
func (f *Field) Set(m Metric) {
	entry := Entry{Name: m.Name, Params: m.Params()}

	if e := f.lookup(m.Name); e != nil {
		*e = entry
		return
	}

	f.entries = append(f.entries, entry)
}

// String formats the field as a header value.
func (f Field) String() string {
	parts := make([]string, 0, len(f.entries))
	for _, e := range f.entries {
		parts = append(parts, e.String())
	}

	return strings.Join(parts, ", ")
}

func splitOutsideQuotes(s string, sep byte) []string {
	var (
		parts   []string
		inQuote bool
		escaped bool
		start   int
	)

	for i := 0; i < len(s); i++ {
		c := s[i]

		switch {
		case escaped:
			escaped = false
		case inQuote && c == '\\':
			escaped = true
		case c == '"':
			inQuote = !inQuote
		case c == sep && !inQuote:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}

	return append(parts, s[start:])
}
