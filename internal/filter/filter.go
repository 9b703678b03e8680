// Package filter decides which candidate URLs are worth probing.
package filter

// Filter rejects candidate URLs.
type Filter interface {
	Name() string
	Reject(rawURL string) bool
}

// Chain applies multiple filters in order, short-circuiting on the first match.
type Chain struct {
	filters []Filter
}

// NewChain returns a chain of the given filters.
func NewChain(filters ...Filter) *Chain {
	return &Chain{filters: filters}
}

// Add appends a filter to the chain.
func (c *Chain) Add(f Filter) {
	c.filters = append(c.filters, f)
}

// Apply runs every filter against the URL. Returns true and the filter
// name if the URL should be dropped.
func (c *Chain) Apply(rawURL string) (bool, string) {
	for _, f := range c.filters {
		if f.Reject(rawURL) {
			return true, f.Name()
		}
	}
	return false, ""
}

// Keep returns the URLs no filter rejects, in input order, together with
// the number dropped by each filter.
func (c *Chain) Keep(urls []string) ([]string, map[string]int) {
	kept := make([]string, 0, len(urls))
	dropped := make(map[string]int)
	for _, u := range urls {
		if reject, name := c.Apply(u); reject {
			dropped[name]++
			continue
		}
		kept = append(kept, u)
	}
	return kept, dropped
}
