// Package xmldoc provides the minimal DOM-like document representation the
// pipeline moves through its pipes. It decodes a single top-level XML
// element off an xml.Decoder into an in-memory Element tree, the way the
// teacher's internal/stream helpers pull one stream-level token at a time
// off the wire, generalized here to pull the whole element (start through
// matching end) rather than a single token.
package xmldoc

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"go.xmppcore.dev/xmpp/internal/attr"
)

// ErrNotStartElement is returned by ReadFraming when the next token is not a
// start element. Read skips such tokens instead.
var ErrNotStartElement = errors.New("xmldoc: expected start element")

// Element is a DOM-like XML element: a name, its attributes, any character
// data directly under it, and its child elements in document order.
type Element struct {
	Name    xml.Name
	Attr    []xml.Attr
	Data    string
	Child   []*Element
}

// New constructs an Element with the given name and no content.
func New(space, local string) *Element {
	return &Element{Name: xml.Name{Space: space, Local: local}}
}

// Attribute returns the value of the named attribute (namespace-less, e.g.
// "id", "from", "to", "type") and whether it was present.
func (e *Element) Attribute(local string) (string, bool) {
	if e == nil {
		return "", false
	}
	idx, v := attr.Get(e.Attr, local)
	return v, idx >= 0
}

// SetAttribute sets (or replaces) the value of a namespace-less attribute.
func (e *Element) SetAttribute(local, value string) *Element {
	if idx, _ := attr.Get(e.Attr, local); idx >= 0 {
		e.Attr[idx].Value = value
		return e
	}
	e.Attr = append(e.Attr, xml.Attr{Name: xml.Name{Local: local}, Value: value})
	return e
}

// AddChild appends a child element and returns it for chaining.
func (e *Element) AddChild(child *Element) *Element {
	e.Child = append(e.Child, child)
	return e
}

// SetText sets the element's character data and returns e for chaining.
func (e *Element) SetText(s string) *Element {
	e.Data = s
	return e
}

// FirstChild returns the first child element, or nil if there are none.
func (e *Element) FirstChild() *Element {
	if e == nil || len(e.Child) == 0 {
		return nil
	}
	return e.Child[0]
}

// ChildNamed returns the first child with the given namespace and local
// name, or nil.
func (e *Element) ChildNamed(space, local string) *Element {
	if e == nil {
		return nil
	}
	for _, c := range e.Child {
		if c.Name.Space == space && c.Name.Local == local {
			return c
		}
	}
	return nil
}

// Is reports whether the element's name matches the given namespace and
// local name.
func (e *Element) Is(space, local string) bool {
	return e != nil && e.Name.Space == space && e.Name.Local == local
}

// Read decodes one complete top-level element (start token through its
// matching end token) from d into an Element tree.
func Read(d *xml.Decoder) (*Element, error) {
	for {
		tok, err := d.Token()
		if err != nil {
			return nil, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		return readElement(d, start)
	}
}

func readElement(d *xml.Decoder, start xml.StartElement) (*Element, error) {
	el := &Element{Name: start.Name, Attr: append([]xml.Attr(nil), start.Attr...)}
	var data bytes.Buffer
	for {
		tok, err := d.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := readElement(d, t)
			if err != nil {
				return nil, err
			}
			el.Child = append(el.Child, child)
		case xml.EndElement:
			if t.Name != start.Name {
				return nil, fmt.Errorf("xmldoc: mismatched end element %v for start %v", t.Name, start.Name)
			}
			el.Data = data.String()
			return el, nil
		case xml.CharData:
			data.Write(t)
		}
	}
}

// ReadFraming reads a single, possibly self-closing, top-level framing
// element such as <open/> or <close/> off d. Unlike Read it does not skip
// leading tokens: if the very next token is not a start element it returns
// ErrNotStartElement.
func ReadFraming(d *xml.Decoder) (*Element, error) {
	tok, err := d.Token()
	if err != nil {
		return nil, err
	}
	start, ok := tok.(xml.StartElement)
	if !ok {
		return nil, ErrNotStartElement
	}
	return readElement(d, start)
}

// Encode writes the element tree as XML to w.
func (e *Element) Encode(w io.Writer) error {
	enc := xml.NewEncoder(w)
	if err := e.encode(enc); err != nil {
		return err
	}
	return enc.Flush()
}

func (e *Element) encode(enc *xml.Encoder) error {
	start := xml.StartElement{Name: e.Name, Attr: e.Attr}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if e.Data != "" {
		if err := enc.EncodeToken(xml.CharData(e.Data)); err != nil {
			return err
		}
	}
	for _, c := range e.Child {
		if err := c.encode(enc); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

// String renders the element as an XML fragment for debugging and logging.
func (e *Element) String() string {
	var buf bytes.Buffer
	_ = e.Encode(&buf)
	return buf.String()
}
