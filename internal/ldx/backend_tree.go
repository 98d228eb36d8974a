package ldx

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"

	"github.com/beevik/etree"
)

// TreeBackend decodes and encodes through an etree DOM. It is the primary
// backend and the representation the patcher mutates.
type TreeBackend struct{}

func (TreeBackend) Name() string { return "tree" }

func (TreeBackend) Decode(data []byte) (*Document, error) {
	tree, err := ParseTree(data)
	if err != nil {
		return nil, err
	}
	return DocumentFromTree(tree)
}

func (TreeBackend) Encode(d *Document) ([]byte, error) {
	tree := etree.NewDocument()
	tree.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	emitDocument(&treeEmitter{doc: tree}, d)
	return SerializeTree(tree)
}

// ParseTree parses raw LDX bytes into a mutable tree.
func ParseTree(data []byte) (*etree.Document, error) {
	if err := checkWellFormed(data); err != nil {
		return nil, FormatError("parse xml: %v", err)
	}
	tree := etree.NewDocument()
	tree.ReadSettings.CharsetReader = passthroughCharset
	if err := tree.ReadFromBytes(data); err != nil {
		return nil, FormatError("parse xml: %v", err)
	}
	if tree.Root() == nil {
		return nil, FormatError("document has no root element")
	}
	return tree, nil
}

// checkWellFormed runs the strict decoder over data; it rejects unclosed
// and mismatched elements.
func checkWellFormed(data []byte) error {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = passthroughCharset
	for {
		_, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// SerializeTree writes tree with one-space indentation. Indenting replaces
// existing whitespace, so re-serializing an unchanged tree is stable.
func SerializeTree(tree *etree.Document) ([]byte, error) {
	tree.Indent(1)
	data, err := tree.WriteToBytes()
	if err != nil {
		return nil, IOError("serialize xml: %v", err)
	}
	return data, nil
}

// DocumentFromTree extracts the typed document from a raw tree.
func DocumentFromTree(tree *etree.Document) (*Document, error) {
	root := tree.Root()
	if root == nil {
		return nil, FormatError("document has no root element")
	}
	b := newBuilder()
	if err := b.root(elemGetter(root)); err != nil {
		return nil, err
	}
	for _, el := range root.FindElements(".//" + elemChannel) {
		math := ""
		if m := el.SelectElement(elemMath); m != nil {
			math = m.Text()
		}
		if err := b.channel(elemGetter(el), math); err != nil {
			return nil, err
		}
	}
	for _, el := range root.FindElements(".//" + elemWorksheet) {
		ws := worksheetFromAttrs(elemGetter(el))
		for _, ref := range el.SelectElements(elemChannelRef) {
			if name := ref.SelectAttrValue("Name", ""); name != "" {
				ws.Channels = append(ws.Channels, name)
			}
		}
		b.doc.Worksheets = append(b.doc.Worksheets, ws)
	}
	for _, el := range root.FindElements(PathDetailsString) {
		b.detail(elemGetter(el))
	}
	for _, el := range root.FindElements(".//" + elemMetadata + "/" + elemItem) {
		b.metadataItem(elemGetter(el))
	}
	for _, el := range root.FindElements(PathMathItem) {
		b.mathItem(elemGetter(el))
	}
	for _, el := range root.FindElements(PathDescriptor) {
		b.descriptor(elemGetter(el))
	}
	for _, el := range root.FindElements(".//" + elemMarkerGroup) {
		g := markerGroupFromAttrs(elemGetter(el))
		for _, m := range el.SelectElements(elemMarker) {
			g.Markers = append(g.Markers, markerFromAttrs(elemGetter(m)))
		}
		b.doc.MarkerGroups = append(b.doc.MarkerGroups, g)
	}
	return b.doc, nil
}

func elemGetter(el *etree.Element) attrGetter {
	return func(key string) (string, bool) {
		a := el.SelectAttr(key)
		if a == nil {
			return "", false
		}
		return a.Value, true
	}
}

type treeEmitter struct {
	doc   *etree.Document
	stack []*etree.Element
}

func (t *treeEmitter) start(name string, attrs []attr) {
	var el *etree.Element
	if len(t.stack) == 0 {
		el = t.doc.CreateElement(name)
	} else {
		el = t.stack[len(t.stack)-1].CreateElement(name)
	}
	for _, a := range attrs {
		el.CreateAttr(a.key, a.value)
	}
	t.stack = append(t.stack, el)
}

func (t *treeEmitter) text(s string) {
	t.stack[len(t.stack)-1].SetText(s)
}

func (t *treeEmitter) end() {
	t.stack = t.stack[:len(t.stack)-1]
}
