package aiconfig

// Identity is the stable key plus attributes used to pick a config variation and to
// attribute telemetry. It is immutable once built.
type Identity struct {
	key   string
	attrs map[string]string
}

// NewIdentity builds an Identity. attrs is copied.
func NewIdentity(key string, attrs map[string]string) Identity {
	copied := make(map[string]string, len(attrs))
	for k, v := range attrs {
		copied[k] = v
	}
	return Identity{key: key, attrs: copied}
}

// Key returns the identity key.
func (i Identity) Key() string {
	return i.key
}

// Attribute returns a single attribute value.
func (i Identity) Attribute(name string) (string, bool) {
	v, ok := i.attrs[name]
	return v, ok
}

// Attributes returns a copy of all attributes.
func (i Identity) Attributes() map[string]string {
	copied := make(map[string]string, len(i.attrs))
	for k, v := range i.attrs {
		copied[k] = v
	}
	return copied
}
