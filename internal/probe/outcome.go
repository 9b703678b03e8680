package probe

import "slices"

// sampleKey wraps non-JSON bodies so the sample field always holds JSON.
const sampleKey = "_sample"

// Outcome is the result of probing one candidate. It is owned by the worker
// that produced it until handed to the sinks, each of which gets a Clone.
type Outcome struct {
	OrigURL       string   `json:"orig_url"`
	FinalURL      string   `json:"final_url"`
	Status        int      `json:"status"`
	ContentType   *string  `json:"content_type,omitempty"`
	Server        *string  `json:"server,omitempty"`
	ContentLength *int64   `json:"content_length,omitempty"`
	ResponseMS    int64    `json:"response_ms"`
	TLSIssuer     *string  `json:"tls_issuer,omitempty"`
	IsGraphQL     bool     `json:"is_graphql"`
	JSONSample    any      `json:"json_sample,omitempty"`
	Score         int      `json:"score"`
	Notes         []string `json:"notes"`
}

// AddNote appends a free-text annotation.
func (o *Outcome) AddNote(note string) {
	o.Notes = append(o.Notes, note)
}

// HasJSON reports whether the sample holds a parsed JSON body rather than
// a wrapped text snippet.
func (o *Outcome) HasJSON() bool {
	if o.JSONSample == nil {
		return false
	}
	if m, ok := o.JSONSample.(map[string]any); ok && len(m) == 1 {
		if _, wrapped := m[sampleKey].(string); wrapped {
			return false
		}
	}
	return true
}

// TextSample returns the wrapped text snippet kept for non-JSON bodies.
func (o *Outcome) TextSample() (string, bool) {
	m, ok := o.JSONSample.(map[string]any)
	if !ok || len(m) != 1 {
		return "", false
	}
	s, ok := m[sampleKey].(string)
	return s, ok
}

// Clone returns a deep copy of o.
func (o *Outcome) Clone() *Outcome {
	if o == nil {
		return nil
	}
	c := *o
	c.ContentType = clonePtr(o.ContentType)
	c.Server = clonePtr(o.Server)
	c.ContentLength = clonePtr(o.ContentLength)
	c.TLSIssuer = clonePtr(o.TLSIssuer)
	c.JSONSample = cloneValue(o.JSONSample)
	c.Notes = slices.Clone(o.Notes)
	return &c
}

// Str returns the value of an optional string field, or "".
func Str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// cloneValue deep-copies a decoded JSON value.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = cloneValue(e)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}
		return s
	default:
		return v
	}
}
