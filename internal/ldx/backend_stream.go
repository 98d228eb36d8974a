package ldx

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
)

// StreamBackend walks the token stream of encoding/xml without building a
// DOM. It serves as the fallback when the tree backend fails.
type StreamBackend struct{}

func (StreamBackend) Name() string { return "stream" }

type openChannel struct {
	attrs attrGetter
	math  bytes.Buffer
}

func (StreamBackend) Decode(data []byte) (*Document, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = passthroughCharset

	b := newBuilder()
	var (
		stack     []string
		channel   *openChannel
		worksheet *Worksheet
		group     *MarkerGroup
		sawRoot   bool
	)
	parent := func() string {
		if len(stack) == 0 {
			return ""
		}
		return stack[len(stack)-1]
	}
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, FormatError("parse xml: %v", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			get := startGetter(t)
			name := t.Name.Local
			if !sawRoot {
				sawRoot = true
				if err := b.root(get); err != nil {
					return nil, err
				}
			}
			switch {
			case name == elemChannel:
				channel = &openChannel{attrs: get}
			case name == elemWorksheet:
				ws := worksheetFromAttrs(get)
				worksheet = &ws
			case name == elemChannelRef && worksheet != nil:
				if ref, _ := get("Name"); ref != "" {
					worksheet.Channels = append(worksheet.Channels, ref)
				}
			case name == elemString && parent() == elemDetails:
				b.detail(get)
			case name == elemItem && parent() == elemMetadata:
				b.metadataItem(get)
			case name == elemMathScaleOffset && parent() == elemMathItems:
				b.mathItem(get)
			case name == elemDescriptor && parent() == elemDescriptors:
				b.descriptor(get)
			case name == elemMarkerGroup:
				g := markerGroupFromAttrs(get)
				group = &g
			case name == elemMarker && group != nil && parent() == elemMarkerGroup:
				group.Markers = append(group.Markers, markerFromAttrs(get))
			}
			stack = append(stack, name)
		case xml.CharData:
			if channel != nil && parent() == elemMath {
				channel.math.Write(t)
			}
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			switch t.Name.Local {
			case elemChannel:
				if channel != nil {
					if err := b.channel(channel.attrs, channel.math.String()); err != nil {
						return nil, err
					}
					channel = nil
				}
			case elemWorksheet:
				if worksheet != nil {
					b.doc.Worksheets = append(b.doc.Worksheets, *worksheet)
					worksheet = nil
				}
			case elemMarkerGroup:
				if group != nil {
					b.doc.MarkerGroups = append(b.doc.MarkerGroups, *group)
					group = nil
				}
			}
		}
	}
	if !sawRoot {
		return nil, FormatError("document has no root element")
	}
	return b.doc, nil
}

func (StreamBackend) Encode(d *Document) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", " ")
	se := &streamEmitter{enc: enc}
	emitDocument(se, d)
	if se.err != nil {
		return nil, IOError("encode xml: %v", se.err)
	}
	if err := enc.Flush(); err != nil {
		return nil, IOError("encode xml: %v", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func startGetter(se xml.StartElement) attrGetter {
	return func(key string) (string, bool) {
		for _, a := range se.Attr {
			if a.Name.Local == key {
				return a.Value, true
			}
		}
		return "", false
	}
}

type streamEmitter struct {
	enc   *xml.Encoder
	names []string
	err   error
}

func (s *streamEmitter) start(name string, attrs []attr) {
	if s.err != nil {
		return
	}
	se := xml.StartElement{Name: xml.Name{Local: name}}
	for _, a := range attrs {
		se.Attr = append(se.Attr, xml.Attr{Name: xml.Name{Local: a.key}, Value: a.value})
	}
	s.err = s.enc.EncodeToken(se)
	s.names = append(s.names, name)
}

func (s *streamEmitter) text(v string) {
	if s.err != nil {
		return
	}
	s.err = s.enc.EncodeToken(xml.CharData(v))
}

func (s *streamEmitter) end() {
	name := s.names[len(s.names)-1]
	s.names = s.names[:len(s.names)-1]
	if s.err != nil {
		return
	}
	s.err = s.enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: name}})
}
