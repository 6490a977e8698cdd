package policy

// Transform customises the default policy computed for a bucket. It must be
// pure: reconciliation calls it on every run and compares the result with the
// policy stored on the server.
type Transform func(Document) Document

// Registry maps a bucket name to its policy hook.
type Registry map[string]Transform

// Replace returns a hook that discards the default and installs doc.
func Replace(doc Document) Transform {
	return func(Document) Document {
		return doc.Clone()
	}
}

// Apply runs t on a copy of def. A nil transform leaves def in place and
// reports false.
func (t Transform) Apply(def Document) (Document, bool) {
	if t == nil {
		return def, false
	}
	return t(def.Clone()), true
}

// Merge returns a new registry holding r's hooks overridden by other's.
func (r Registry) Merge(other Registry) Registry {
	out := make(Registry, len(r)+len(other))
	for k, v := range r {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}
