package dom

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// MutationType is the kind of a mutation record.
type MutationType string

const (
	ChildList  MutationType = "childList"
	Attributes MutationType = "attributes"
)

// MutationRecord describes one change to the document.
type MutationRecord struct {
	Type          MutationType
	Target        *Element
	AddedNodes    []*Element
	AttributeName string
	OldValue      string
}

// ObserveOptions selects which mutations an observer receives. Observers
// always watch the whole document subtree.
type ObserveOptions struct {
	ChildList       bool
	Attributes      bool
	AttributeFilter []string
}

// Event is a custom document event.
type Event struct {
	Type   string
	Detail map[string]any
}

// Listener handles a custom event.
type Listener func(Event)

// Document is a parsed HTML page with mutation observation.
type Document struct {
	root      *html.Node
	loop      *Loop
	observers []*Observer
	listeners map[string][]Listener
}

// Parse reads an HTML document bound to loop.
func Parse(r io.Reader, loop *Loop) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return &Document{
		root:      root,
		loop:      loop,
		listeners: make(map[string][]Listener),
	}, nil
}

// ParseString is Parse over a string.
func ParseString(s string, loop *Loop) (*Document, error) {
	return Parse(strings.NewReader(s), loop)
}

// Loop returns the event loop the document is bound to.
func (d *Document) Loop() *Loop {
	return d.loop
}

// Body returns the <body> element, or the document element if there is none.
func (d *Document) Body() *Element {
	var body, first *html.Node
	walk(d.root, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		if first == nil {
			first = n
		}
		if n.DataAtom == atom.Body {
			body = n
			return false
		}
		return true
	})
	if body != nil {
		return d.wrap(body)
	}
	if first != nil {
		return d.wrap(first)
	}
	return nil
}

// Elements returns every element matching match, in document order.
func (d *Document) Elements(match func(*Element) bool) []*Element {
	var out []*Element
	walk(d.root, func(n *html.Node) bool {
		if n.Type == html.ElementNode {
			if el := d.wrap(n); match == nil || match(el) {
				out = append(out, el)
			}
		}
		return true
	})
	return out
}

// CreateElement returns a detached element.
func (d *Document) CreateElement(tag string) *Element {
	tag = strings.ToLower(tag)
	return d.wrap(&html.Node{
		Type:     html.ElementNode,
		Data:     tag,
		DataAtom: atom.Lookup([]byte(tag)),
	})
}

// Render writes the document as HTML.
func (d *Document) Render(w io.Writer) error {
	return html.Render(w, d.root)
}

// String renders the document, returning an empty string on failure.
func (d *Document) String() string {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return ""
	}
	return buf.String()
}

// Observe registers a mutation observer. Records are batched and delivered
// in a microtask, after the task that produced them.
func (d *Document) Observe(opts ObserveOptions, cb func([]MutationRecord)) *Observer {
	o := &Observer{doc: d, opts: opts, cb: cb}
	d.observers = append(d.observers, o)
	return o
}

// AddEventListener subscribes fn to custom events named name.
func (d *Document) AddEventListener(name string, fn Listener) {
	d.listeners[name] = append(d.listeners[name], fn)
}

// Dispatch delivers ev synchronously to every listener.
func (d *Document) Dispatch(ev Event) {
	for _, fn := range d.listeners[ev.Type] {
		fn(ev)
	}
}

func (d *Document) wrap(n *html.Node) *Element {
	return &Element{node: n, doc: d}
}

func (d *Document) notify(rec MutationRecord) {
	for _, o := range d.observers {
		o.enqueue(rec)
	}
}

// Observer receives batched mutation records.
type Observer struct {
	doc          *Document
	opts         ObserveOptions
	cb           func([]MutationRecord)
	pending      []MutationRecord
	scheduled    bool
	disconnected bool
}

// Disconnect stops delivery and drops queued records.
func (o *Observer) Disconnect() {
	o.disconnected = true
	o.pending = nil
}

func (o *Observer) wants(rec MutationRecord) bool {
	switch rec.Type {
	case ChildList:
		return o.opts.ChildList
	case Attributes:
		if !o.opts.Attributes {
			return false
		}
		if len(o.opts.AttributeFilter) == 0 {
			return true
		}
		for _, name := range o.opts.AttributeFilter {
			if name == rec.AttributeName {
				return true
			}
		}
	}
	return false
}

func (o *Observer) enqueue(rec MutationRecord) {
	if o.disconnected || !o.wants(rec) {
		return
	}
	o.pending = append(o.pending, rec)
	if o.scheduled {
		return
	}
	o.scheduled = true
	o.doc.loop.QueueMicrotask(o.deliver)
}

func (o *Observer) deliver() {
	o.scheduled = false
	if o.disconnected || len(o.pending) == 0 {
		return
	}
	batch := o.pending
	o.pending = nil
	o.cb(batch)
}

// Element is a handle on an element node.
type Element struct {
	node *html.Node
	doc  *Document
}

// Tag returns the lower-case tag name.
func (e *Element) Tag() string {
	return strings.ToLower(e.node.Data)
}

// Same reports whether e and other refer to the same node.
func (e *Element) Same(other *Element) bool {
	return other != nil && e.node == other.node
}

// Attr returns an attribute value and whether it is present.
func (e *Element) Attr(key string) (string, bool) {
	for _, a := range e.node.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr sets an attribute and records an attribute mutation.
func (e *Element) SetAttr(key, val string) {
	key = strings.ToLower(key)
	old, _ := e.Attr(key)
	set := false
	for i, a := range e.node.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			e.node.Attr[i].Val = val
			set = true
			break
		}
	}
	if !set {
		e.node.Attr = append(e.node.Attr, html.Attribute{Key: key, Val: val})
	}
	if e.attached() {
		e.doc.notify(MutationRecord{
			Type:          Attributes,
			Target:        e,
			AttributeName: key,
			OldValue:      old,
		})
	}
}

// Data reads a data-* attribute.
func (e *Element) Data(name string) string {
	v, _ := e.Attr("data-" + name)
	return v
}

// SetData writes a data-* attribute.
func (e *Element) SetData(name, val string) {
	e.SetAttr("data-"+name, val)
}

// AppendChild attaches child as the last child of e and records a childList
// mutation when e is part of the document.
func (e *Element) AppendChild(child *Element) {
	if child.node.Parent != nil {
		child.node.Parent.RemoveChild(child.node)
	}
	e.node.AppendChild(child.node)
	if e.attached() {
		e.doc.notify(MutationRecord{
			Type:       ChildList,
			Target:     e,
			AddedNodes: []*Element{child},
		})
	}
}

// Find returns e or its first descendant matching match.
func (e *Element) Find(match func(*Element) bool) *Element {
	var found *Element
	walk(e.node, func(n *html.Node) bool {
		if found != nil {
			return false
		}
		if n.Type == html.ElementNode {
			if el := e.doc.wrap(n); match(el) {
				found = el
				return false
			}
		}
		return true
	})
	return found
}

func (e *Element) attached() bool {
	for n := e.node; n != nil; n = n.Parent {
		if n == e.doc.root {
			return true
		}
	}
	return false
}

// walk visits n and its descendants depth-first; fn returning false skips
// the node's children.
func walk(n *html.Node, fn func(*html.Node) bool) {
	if !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}
