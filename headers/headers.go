// Package headers provides an ordered, case-insensitive, multi-valued header
// container.
//
// Unlike http.Header, a HeaderSet remembers the exact order in which entries
// were added so that request headers can be written on the wire in caller
// order. Every entry for a given name serializes with the casing of the first
// occurrence of that name.
package headers

import (
	"strings"
)

// Entry is a single name/value pair.
type Entry struct {
	Name  string
	Value string
}

// HeaderSet is an ordered multi-map of header entries.
// A HeaderSet is not safe for concurrent mutation.
type HeaderSet struct {
	entries []Entry
}

// New returns an empty HeaderSet.
func New() *HeaderSet {
	return &HeaderSet{}
}

// canonicalName returns the casing already in use for name, or name itself
// when the set has no entry for it yet.
func (h *HeaderSet) canonicalName(name string) string {
	for _, e := range h.entries {
		if strings.EqualFold(e.Name, name) {
			return e.Name
		}
	}
	return name
}

// Append adds an entry at the end regardless of existing entries for name.
func (h *HeaderSet) Append(name, value string) {
	h.entries = append(h.entries, Entry{Name: h.canonicalName(name), Value: value})
}

// Set replaces all entries for name with a single entry. The entry takes the
// position of the first existing one, or is appended when name is absent.
func (h *HeaderSet) Set(name, value string) {
	first := -1
	kept := h.entries[:0]
	for _, e := range h.entries {
		if strings.EqualFold(e.Name, name) {
			if first >= 0 {
				continue
			}
			first = len(kept)
			e.Value = value
		}
		kept = append(kept, e)
	}
	h.entries = kept
	if first < 0 {
		h.entries = append(h.entries, Entry{Name: name, Value: value})
	}
}

// Get returns all values for name joined by ", ". The boolean is false when
// no entry exists.
func (h *HeaderSet) Get(name string) (string, bool) {
	values := h.Values(name)
	if len(values) == 0 {
		return "", false
	}
	return strings.Join(values, ", "), true
}

// Values returns the individual values for name in insertion order.
func (h *HeaderSet) Values(name string) []string {
	var values []string
	for _, e := range h.entries {
		if strings.EqualFold(e.Name, name) {
			values = append(values, e.Value)
		}
	}
	return values
}

// Has reports whether at least one entry exists for name.
func (h *HeaderSet) Has(name string) bool {
	for _, e := range h.entries {
		if strings.EqualFold(e.Name, name) {
			return true
		}
	}
	return false
}

// Delete removes every entry for name.
func (h *HeaderSet) Delete(name string) {
	kept := h.entries[:0]
	for _, e := range h.entries {
		if !strings.EqualFold(e.Name, name) {
			kept = append(kept, e)
		}
	}
	// clear the tail so dropped strings can be collected
	for i := len(kept); i < len(h.entries); i++ {
		h.entries[i] = Entry{}
	}
	h.entries = kept
}

// Entries returns a copy of all entries in insertion order.
func (h *HeaderSet) Entries() []Entry {
	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Names returns the distinct names in order of first occurrence.
func (h *HeaderSet) Names() []string {
	names := make([]string, 0, len(h.entries))
	for _, e := range h.entries {
		if !containsFold(names, e.Name) {
			names = append(names, e.Name)
		}
	}
	return names
}

// Len returns the number of entries.
func (h *HeaderSet) Len() int {
	if h == nil {
		return 0
	}
	return len(h.entries)
}

// Clone returns a deep copy.
func (h *HeaderSet) Clone() *HeaderSet {
	if h == nil {
		return New()
	}
	return &HeaderSet{entries: h.Entries()}
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
