package domain

// Document is a text chunk returned by the vocabulary index. Metadata
// carries at least a "topic" label.
type Document struct {
	Text     string
	Metadata map[string]string
}

// Topic returns the topic label, or "" when the document has none.
func (d Document) Topic() string {
	return d.Metadata["topic"]
}
