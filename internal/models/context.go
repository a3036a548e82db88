package models

// AssembledContext is the bounded textual context handed to the generator.
// Included lists the candidates that made it in, in inclusion order
// (descending combined score). TotalChars never exceeds the configured
// budget; no excerpt is ever split across the boundary.
type AssembledContext struct {
	Included   []*RetrievalCandidate `json:"included"`
	Text       string                `json:"text"`
	TotalChars int                   `json:"total_chars"`
	Truncated  bool                  `json:"truncated"`
}

// SourceRefs returns attribution entries for the included candidates,
// in inclusion order.
func (c *AssembledContext) SourceRefs() []SourceRef {
	refs := make([]SourceRef, 0, len(c.Included))
	for _, cand := range c.Included {
		refs = append(refs, cand.Ref())
	}
	return refs
}
