package docstream

import "encoding/xml"

// EventKind distinguishes element open and close events.
type EventKind int

const (
	ElementOpened EventKind = iota
	ElementClosed
)

func (k EventKind) String() string {
	switch k {
	case ElementOpened:
		return "opened"
	case ElementClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is a single step of the forward pass over the document.
type Event struct {
	Kind    EventKind
	Element *Element
}

// Element is a buffered markup element. Its Children are filled in as the
// stream advances, so a closed element holds its complete subtree until
// Release is called.
type Element struct {
	Name     string
	Attrs    []xml.Attr
	Children []*Element
	Depth    int // 0 for the document root

	parent *Element
}

// Attr returns the value of the named attribute and whether it was present.
func (e *Element) Attr(name string) (string, bool) {
	for _, a := range e.Attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

// Release drops the buffered content of e and detaches it from its parent.
// It must be called once a closed element has been consumed, otherwise the
// retained tree grows with the document.
func (e *Element) Release() {
	e.Attrs = nil
	e.Children = nil
	if p := e.parent; p != nil {
		// A just-closed element is always its parent's last child.
		if n := len(p.Children); n > 0 && p.Children[n-1] == e {
			p.Children[n-1] = nil
			p.Children = p.Children[:n-1]
		}
		e.parent = nil
	}
}
