package client

import (
	"slices"

	"github.com/sardanioss/cloakfetch/protocol"
)

// ProfileCatalog is the set of profile names the engine reported when the
// client was created.
type ProfileCatalog struct {
	names []string
	set   map[string]struct{}
}

// NewProfileCatalog snapshots src.ListProfiles().
func NewProfileCatalog(src protocol.ProfileSource) *ProfileCatalog {
	names := slices.Clone(src.ListProfiles())
	slices.Sort(names)
	names = slices.Compact(names)

	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return &ProfileCatalog{names: names, set: set}
}

// Names returns the profile names, sorted.
func (c *ProfileCatalog) Names() []string {
	return slices.Clone(c.names)
}

// Has reports whether name is a known profile.
func (c *ProfileCatalog) Has(name string) bool {
	_, ok := c.set[name]
	return ok
}

// Validate returns ErrInvalidProfile for a non-empty unknown name. The empty
// name selects the engine default.
func (c *ProfileCatalog) Validate(op, name string) error {
	if name == "" || c.Has(name) {
		return nil
	}
	return protocol.Errorf(protocol.KindValidation, op, "%w: %q", protocol.ErrInvalidProfile, name)
}
