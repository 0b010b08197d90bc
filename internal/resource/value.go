package resource

import (
	"fmt"
	"strings"
)

// EndpointRef points at a named endpoint of another resource.
type EndpointRef struct {
	Resource string `json:"resource"`
	Endpoint string `json:"endpoint"`
}

func (r EndpointRef) String() string {
	return "{" + r.Resource + "." + r.Endpoint + "}"
}

type segment struct {
	text string
	ref  *EndpointRef
}

// Value is a template of literal text and endpoint references, written as
// "{resource.endpoint}". Literal braces are escaped by doubling them.
type Value struct {
	segments []segment
}

// Literal returns a value with no references.
func Literal(s string) Value {
	if s == "" {
		return Value{}
	}
	return Value{segments: []segment{{text: s}}}
}

// Ref returns a value that resolves to the URL of an endpoint.
func Ref(resource, endpoint string) Value {
	return Value{segments: []segment{{ref: &EndpointRef{Resource: resource, Endpoint: endpoint}}}}
}

// Append returns a copy of v followed by literal text.
func (v Value) Append(text string) Value {
	out := Value{segments: append([]segment(nil), v.segments...)}
	if text != "" {
		out.segments = append(out.segments, segment{text: text})
	}
	return out
}

// Concat returns a copy of v followed by other.
func (v Value) Concat(other Value) Value {
	out := Value{segments: append([]segment(nil), v.segments...)}
	out.segments = append(out.segments, other.segments...)
	return out
}

// ParseValue parses a template string.
func ParseValue(s string) (Value, error) {
	var v Value
	var text strings.Builder
	flush := func() {
		if text.Len() > 0 {
			v.segments = append(v.segments, segment{text: text.String()})
			text.Reset()
		}
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '{' && i+1 < len(s) && s[i+1] == '{':
			text.WriteByte('{')
			i++
		case c == '}' && i+1 < len(s) && s[i+1] == '}':
			text.WriteByte('}')
			i++
		case c == '{':
			end := strings.IndexByte(s[i+1:], '}')
			if end < 0 {
				return Value{}, fmt.Errorf("unterminated reference in %q", s)
			}
			ref, err := parseRef(s[i+1 : i+1+end])
			if err != nil {
				return Value{}, fmt.Errorf("%w in %q", err, s)
			}
			flush()
			v.segments = append(v.segments, segment{ref: &ref})
			i += end + 1
		case c == '}':
			return Value{}, fmt.Errorf("unmatched '}' in %q", s)
		default:
			text.WriteByte(c)
		}
	}
	flush()
	return v, nil
}

// MustParseValue is ParseValue for static templates.
func MustParseValue(s string) Value {
	v, err := ParseValue(s)
	if err != nil {
		panic(err)
	}
	return v
}

func parseRef(body string) (EndpointRef, error) {
	name, endpoint, ok := strings.Cut(body, ".")
	if !ok || name == "" || endpoint == "" || strings.Contains(endpoint, ".") {
		return EndpointRef{}, fmt.Errorf("invalid reference {%s}: want {resource.endpoint}", body)
	}
	return EndpointRef{Resource: name, Endpoint: endpoint}, nil
}

// Refs lists the endpoint references in order of appearance.
func (v Value) Refs() []EndpointRef {
	var refs []EndpointRef
	for _, seg := range v.segments {
		if seg.ref != nil {
			refs = append(refs, *seg.ref)
		}
	}
	return refs
}

// IsLiteral reports whether v contains no references.
func (v Value) IsLiteral() bool {
	for _, seg := range v.segments {
		if seg.ref != nil {
			return false
		}
	}
	return true
}

// Render substitutes every reference using lookup.
func (v Value) Render(lookup func(EndpointRef) (string, error)) (string, error) {
	var b strings.Builder
	for _, seg := range v.segments {
		if seg.ref == nil {
			b.WriteString(seg.text)
			continue
		}
		s, err := lookup(*seg.ref)
		if err != nil {
			return "", err
		}
		b.WriteString(s)
	}
	return b.String(), nil
}

// String returns the template form of v.
func (v Value) String() string {
	var b strings.Builder
	for _, seg := range v.segments {
		if seg.ref != nil {
			b.WriteString(seg.ref.String())
			continue
		}
		escaped := strings.ReplaceAll(seg.text, "{", "{{")
		b.WriteString(strings.ReplaceAll(escaped, "}", "}}"))
	}
	return b.String()
}

// MarshalText encodes v in template form.
func (v Value) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText decodes a template.
func (v *Value) UnmarshalText(data []byte) error {
	parsed, err := ParseValue(string(data))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
