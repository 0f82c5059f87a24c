// Package didl implements a SAX-style DIDL-Lite parser: a
// streaming XML handler that turns a ContentDirectory-style result
// document into DirObject/Resource records plus a verbatim per-item
// fragment, used by PlaylistService both to check inserted metadata's
// content format and to build synthesized track metadata.
//
// The parser does not filter by object class; filtering, where wanted,
// is the caller's responsibility.
package didl

import (
	"encoding/xml"
	"strings"
)

// Kind tags a DirObject as a container or an item.
type Kind int

const (
	KindContainer Kind = iota
	KindItem
)

// Resource is one <res> element.
type Resource struct {
	URI        string
	Properties map[string]string
}

// DirObject is one parsed <container> or <item>. DidlFragment
// is populated only for items: the verbatim substring of the original
// input from the opening <item ...> tag through the closing </item> tag,
// inclusive, ready to be wrapped in a DIDL-Lite envelope on
// demand via WrapFragment.
type DirObject struct {
	Kind         Kind
	ItemClass    string
	ID           string
	ParentID     string
	Title        string
	Properties   map[string]string
	Resources    []Resource
	DidlFragment string
}

// Result is the output of Parse: every container and item found, in
// document order.
type Result struct {
	Containers []DirObject
	Items      []DirObject
}

type frame struct {
	name       string
	startByte  int64
	attrs      map[string]string
	chardata   strings.Builder
}

// Parse runs the SAX-style walk over input, producing a Result. Parsing
// stops at the first XML error, returning every object completed up to
// that point; input is not validated beyond well-formedness of what was
// consumed.
func Parse(input string) (Result, error) {
	decoder := xml.NewDecoder(strings.NewReader(input))

	var result Result
	var stack []*frame
	var current *DirObject

	for {
		startOffset := decoder.InputOffset()
		tok, err := decoder.Token()
		if err != nil {
			break
		}

		switch se := tok.(type) {
		case xml.StartElement:
			f := &frame{name: se.Name.Local, startByte: startOffset, attrs: attrMap(se.Attr)}
			stack = append(stack, f)

			if se.Name.Local == "container" || se.Name.Local == "item" {
				kind := KindContainer
				if se.Name.Local == "item" {
					kind = KindItem
				}
				current = &DirObject{
					Kind:       kind,
					ItemClass:  f.attrs["class"],
					ID:         f.attrs["id"],
					ParentID:   f.attrs["parentID"],
					Properties: make(map[string]string),
				}
			}

		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].chardata.Write(se)
			}

		case xml.EndElement:
			if len(stack) == 0 {
				continue
			}
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			endByte := decoder.InputOffset()
			text := strings.TrimSpace(f.chardata.String())

			switch se.Name.Local {
			case "container", "item":
				if current != nil {
					if se.Name.Local == "item" {
						current.DidlFragment = input[f.startByte:endByte]
						result.Items = append(result.Items, *current)
					} else {
						result.Containers = append(result.Containers, *current)
					}
				}
				current = nil

			default:
				if current != nil && parentIsObject(stack) {
					applyField(current, se.Name.Local, text, f.attrs)
				}
			}
		}
	}

	return result, nil
}

func parentIsObject(stack []*frame) bool {
	if len(stack) == 0 {
		return false
	}
	parent := stack[len(stack)-1].name
	return parent == "item" || parent == "container"
}

func applyField(obj *DirObject, name, text string, attrs map[string]string) {
	switch name {
	case "title":
		obj.Title = text
	case "class":
		obj.ItemClass = text
		obj.Properties[name] = text
	case "res":
		obj.Resources = append(obj.Resources, Resource{URI: text, Properties: attrs})
	default:
		obj.Properties[name] = text
	}
}

func attrMap(attrs []xml.Attr) map[string]string {
	m := make(map[string]string, len(attrs))
	for _, a := range attrs {
		m[a.Name.Local] = a.Value
	}
	return m
}

// didlHeader is the DIDL-Lite namespace envelope prefix.
const didlHeader = `<DIDL-Lite xmlns:dc="http://purl.org/dc/elements/1.1/" ` +
	`xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/" ` +
	`xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/">`

const didlFooter = `</DIDL-Lite>`

// WrapFragment wraps a single item's verbatim DidlFragment in the
// DIDL-Lite envelope, producing a complete, self-contained document for
// that one object.
func WrapFragment(fragment string) string {
	var b strings.Builder
	b.WriteString(didlHeader)
	b.WriteString(fragment)
	b.WriteString(didlFooter)
	return b.String()
}
