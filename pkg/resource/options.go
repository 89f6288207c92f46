package resource

import "encoding/json"

// Options is the set of per-resource creation options serialized into a
// Resource's arguments column so that update can replay the same
// overrides a create was given, rather than re-deriving them from the
// CLI flags of a later invocation (spec.md: "arguments holds serialized
// options used at create time so update can replay them").
//
// Pointer fields distinguish "not set" (use the Platform's own spec) from
// an explicit zero/false override.
type Options struct {
	StripComponents *int  `json:"strip_components,omitempty"`
	Trusted         *bool `json:"trusted,omitempty"`
}

// EncodeOptions serializes o for storage in a Resource's arguments
// column. An all-nil Options encodes to the empty string, so a plain
// create with no overrides leaves arguments empty as before.
func EncodeOptions(o Options) (string, error) {
	if o.StripComponents == nil && o.Trusted == nil {
		return "", nil
	}
	b, err := json.Marshal(o)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeOptions parses a Resource's stored arguments back into Options.
// A malformed or empty string decodes to the zero value rather than an
// error: arguments is a best-effort replay aid, not a required field.
func decodeOptions(arguments string) Options {
	if arguments == "" {
		return Options{}
	}
	var o Options
	_ = json.Unmarshal([]byte(arguments), &o)
	return o
}

// apply overrides spec's StripComponents/Trusted with whichever of o's
// fields were explicitly set.
func (o Options) apply(stripComponents int, trusted bool) (int, bool) {
	if o.StripComponents != nil {
		stripComponents = *o.StripComponents
	}
	if o.Trusted != nil {
		trusted = *o.Trusted
	}
	return stripComponents, trusted
}
