package bundle

import "strings"

// Document is an immutable host document.
type Document struct {
	text string
}

// NewDocument wraps text.
func NewDocument(text string) Document {
	return Document{text: text}
}

// Text returns the document content.
func (d Document) Text() string {
	return d.text
}

// Count returns the number of non-overlapping occurrences of s.
func (d Document) Count(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(d.text, s)
}

// Replace returns a document with every occurrence of old replaced by new,
// and the number of replacements.
func (d Document) Replace(old, new string) (Document, int) {
	n := d.Count(old)
	if n == 0 {
		return d, 0
	}
	return Document{text: strings.ReplaceAll(d.text, old, new)}, n
}
