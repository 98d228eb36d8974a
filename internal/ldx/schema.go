package ldx

import (
	"io"
	"strings"
	"time"

	"example.com/ldxsync/internal/common"
)

// Element and attribute names of the LDX dialect.
const (
	elemRoot            = "LDXFile"
	elemChannels        = "Channels"
	elemChannel         = "Channel"
	elemMath            = "Math"
	elemWorksheets      = "Worksheets"
	elemWorksheet       = "Worksheet"
	elemChannelRef      = "ChannelRef"
	elemLayers          = "Layers"
	elemLayer           = "Layer"
	elemMarkerBlock     = "MarkerBlock"
	elemMarkerGroup     = "MarkerGroup"
	elemMarker          = "Marker"
	elemRangeBlock      = "RangeBlock"
	elemDetails         = "Details"
	elemString          = "String"
	elemMaths           = "Maths"
	elemMathItems       = "MathItems"
	elemMathScaleOffset = "MathScaleOffset"
	elemDescriptors     = "Descriptors"
	elemDescriptor      = "Descriptor"
	elemMetadata        = "Metadata"
	elemItem            = "Item"
)

// Exported paths used by the patcher to locate nodes in a raw tree.
const (
	PathDetailsString = ".//" + elemDetails + "/" + elemString
	PathMathItem      = ".//" + elemMathItems + "/" + elemMathScaleOffset
	PathDescriptor    = ".//" + elemDescriptors + "/" + elemDescriptor
	PathLayers        = ".//" + elemLayers
	ElemLayers        = elemLayers
	ElemDetails       = elemDetails
	ElemString        = elemString
)

// Attribute names the patcher writes.
const (
	AttrID          = "Id"
	AttrValue       = "Value"
	AttrScale       = "Scale"
	AttrOffset      = "Offset"
	AttrDisplayDPS  = "DisplayDPS"
	AttrDisplayUnit = "DisplayUnit"
)

type attr struct {
	key   string
	value string
}

// attrGetter abstracts attribute lookup over both backends' node types.
type attrGetter func(key string) (string, bool)

func passthroughCharset(_ string, input io.Reader) (io.Reader, error) {
	return input, nil
}

// builder accumulates records while a backend walks the tree.
type builder struct {
	doc *Document
}

func newBuilder() *builder {
	return &builder{doc: &Document{
		MathItems:   map[string]MathItem{},
		Descriptors: map[string]Descriptor{},
	}}
}

func (b *builder) root(get attrGetter) error {
	d := b.doc
	d.Locale, _ = get("Locale")
	d.DefaultLocale, _ = get("DefaultLocale")
	d.Version, _ = get("Version")
	if name, ok := get("Workspace"); ok {
		d.WorkspaceName = name
	} else {
		d.WorkspaceName, _ = get("Name")
	}
	d.ProjectName, _ = get("Project")
	d.CarName, _ = get("Car")
	var err error
	if d.Created, err = timeAttr(get, "Created"); err != nil {
		return err
	}
	if d.Modified, err = timeAttr(get, "Modified"); err != nil {
		return err
	}
	return nil
}

func timeAttr(get attrGetter, key string) (*time.Time, error) {
	raw, ok := get(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(raw))
	if err != nil {
		return nil, FormatError("root attribute %s: %v", key, err)
	}
	return &t, nil
}

func (b *builder) channel(get attrGetter, math string) error {
	name, _ := get("Name")
	if strings.TrimSpace(name) == "" {
		return FormatError("channel without Name")
	}
	rawSource, _ := get("Source")
	source, ok := ParseSource(rawSource)
	if !ok {
		return FormatError("channel %s: unknown source %q", name, rawSource)
	}
	units, _ := get("Units")
	scaling, _ := get("Scaling")
	b.doc.Channels = append(b.doc.Channels, Channel{
		Name:    name,
		Units:   units,
		Source:  source,
		Scaling: scaling,
		Math:    strings.TrimSpace(math),
	})
	return nil
}

func (b *builder) detail(get attrGetter) {
	id, _ := get(AttrID)
	if id == "" {
		common.Logf("ldx: skipping Details/String without Id")
		return
	}
	value, _ := get(AttrValue)
	b.doc.SetDetail(id, value)
}

// metadataItem folds legacy Metadata/Item pairs into details.
func (b *builder) metadataItem(get attrGetter) {
	key, _ := get("Key")
	if key == "" {
		return
	}
	if _, exists := b.doc.Detail(key); exists {
		return
	}
	value, _ := get(AttrValue)
	b.doc.SetDetail(key, value)
}

func (b *builder) mathItem(get attrGetter) {
	id, _ := get(AttrID)
	if id == "" {
		common.Logf("ldx: skipping MathScaleOffset without Id")
		return
	}
	item := MathItem{Scale: DefaultScale, Offset: DefaultOffset}
	if v, ok := get(AttrScale); ok && v != "" {
		item.Scale = v
	}
	if v, ok := get(AttrOffset); ok && v != "" {
		item.Offset = v
	}
	item.Unit, _ = get("Unit")
	b.doc.MathItems[id] = item
}

func (b *builder) descriptor(get attrGetter) {
	id, _ := get(AttrID)
	if id == "" {
		common.Logf("ldx: skipping Descriptor without Id")
		return
	}
	var desc Descriptor
	desc.DisplayUnit, _ = get(AttrDisplayUnit)
	desc.DisplayDPS, _ = get(AttrDisplayDPS)
	b.doc.Descriptors[id] = desc
}

func markerFromAttrs(get attrGetter) Marker {
	var m Marker
	m.Name, _ = get("Name")
	m.Version, _ = get("Version")
	m.ClassName, _ = get("ClassName")
	m.Flags, _ = get("Flags")
	m.Time, _ = get("Time")
	return m
}

func markerGroupFromAttrs(get attrGetter) MarkerGroup {
	var g MarkerGroup
	g.Name, _ = get("Name")
	g.Index, _ = get("Index")
	return g
}

func worksheetFromAttrs(get attrGetter) Worksheet {
	var ws Worksheet
	ws.Name, _ = get("Name")
	ws.Type, _ = get("Type")
	return ws
}

// Attribute lists for encoding. Order is fixed so output is deterministic.

func rootAttrs(d *Document) []attr {
	attrs := []attr{
		{"Locale", d.Locale},
		{"DefaultLocale", d.DefaultLocale},
		{"Version", d.Version},
		{"Workspace", d.WorkspaceName},
	}
	if d.ProjectName != "" {
		attrs = append(attrs, attr{"Project", d.ProjectName})
	}
	if d.CarName != "" {
		attrs = append(attrs, attr{"Car", d.CarName})
	}
	if d.Created != nil {
		attrs = append(attrs, attr{"Created", d.Created.Format(time.RFC3339Nano)})
	}
	if d.Modified != nil {
		attrs = append(attrs, attr{"Modified", d.Modified.Format(time.RFC3339Nano)})
	}
	return attrs
}

func channelAttrs(c Channel) []attr {
	source := c.Source
	if source == "" {
		source = SourceCAN
	}
	attrs := []attr{{"Name", c.Name}, {"Units", c.Units}, {"Source", string(source)}}
	if c.Scaling != "" {
		attrs = append(attrs, attr{"Scaling", c.Scaling})
	}
	return attrs
}

func worksheetAttrs(ws Worksheet) []attr {
	return []attr{{"Name", ws.Name}, {"Type", ws.Type}}
}

func markerGroupAttrs(g MarkerGroup) []attr {
	return []attr{{"Name", g.Name}, {"Index", g.Index}}
}

func markerAttrs(m Marker) []attr {
	version := m.Version
	if version == "" {
		version = DefaultMarkerVersion
	}
	return []attr{
		{"Version", version},
		{"ClassName", m.ClassName},
		{"Name", m.Name},
		{"Flags", m.Flags},
		{"Time", m.Time},
	}
}

func detailAttrs(det Detail) []attr {
	return []attr{{AttrID, det.ID}, {AttrValue, det.Value}}
}

func mathsAttrs() []attr {
	return []attr{{AttrID, "Local"}, {"Flags", "1208"}}
}

func mathItemAttrs(id string, m MathItem) []attr {
	return []attr{
		{AttrID, id},
		{"SampleRate", "0"},
		{"Unit", m.Unit},
		{"EngineFlags", "7"},
		{AttrScale, m.Scale},
		{AttrOffset, m.Offset},
	}
}

func descriptorAttrs(id string, d Descriptor) []attr {
	return []attr{
		{AttrID, id},
		{AttrDisplayUnit, d.DisplayUnit},
		{AttrDisplayDPS, d.DisplayDPS},
		{"DisplayColorIndex", "2"},
		{"Interpolate", "1"},
	}
}
