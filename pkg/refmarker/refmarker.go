// Package refmarker builds and parses the inline reference markers that tie
// formatted tool output to store entities, e.g.
//
//	<REF path="project:V1StGXR8_Z5jdHi6B-myT">Website relaunch</REF>
package refmarker

import (
	"fmt"
	"regexp"
	"strings"
)

// Tag is the element name of a reference marker.
const Tag = "REF"

// Kind identifies the entity a marker points at.
type Kind string

const (
	KindProject  Kind = "project"
	KindTask     Kind = "task"
	KindDocument Kind = "document"
)

// Marker is one parsed reference.
type Marker struct {
	Kind  Kind
	ID    string
	Label string
}

var (
	escaper   = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	unescaper = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&quot;", `"`, "&amp;", "&")

	markerPattern = regexp.MustCompile(`<` + Tag + `\s+path="([a-z]+):([^"]*)"\s*>([^<]*)</` + Tag + `>`)
)

// String renders the marker.
func (m Marker) String() string {
	return fmt.Sprintf(`<%s path="%s:%s">%s</%s>`, Tag, m.Kind, escaper.Replace(m.ID), escaper.Replace(m.Label), Tag)
}

// Path returns the "kind:id" form used in the path attribute.
func (m Marker) Path() string {
	return string(m.Kind) + ":" + m.ID
}

// Build renders a marker for the given entity.
func Build(kind Kind, id, label string) string {
	return Marker{Kind: kind, ID: id, Label: label}.String()
}

// Parse extracts every well-formed marker from text, in order of appearance.
func Parse(text string) []Marker {
	matches := markerPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	markers := make([]Marker, 0, len(matches))
	for _, m := range matches {
		markers = append(markers, Marker{
			Kind:  Kind(m[1]),
			ID:    unescaper.Replace(m[2]),
			Label: unescaper.Replace(m[3]),
		})
	}
	return markers
}
