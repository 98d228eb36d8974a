package ldx

// emitter receives the element stream of a document in output order.
type emitter interface {
	start(name string, attrs []attr)
	text(s string)
	end()
}

func leaf(e emitter, name string, attrs []attr) {
	e.start(name, attrs)
	e.end()
}

// emitDocument walks d in the canonical element order. Math items and
// descriptors go out sorted by id; details keep insertion order.
func emitDocument(e emitter, d *Document) {
	e.start(elemRoot, rootAttrs(d))

	if len(d.Channels) > 0 {
		e.start(elemChannels, nil)
		for _, ch := range d.Channels {
			e.start(elemChannel, channelAttrs(ch))
			if ch.Math != "" {
				e.start(elemMath, nil)
				e.text(ch.Math)
				e.end()
			}
			e.end()
		}
		e.end()
	}

	if len(d.Worksheets) > 0 {
		e.start(elemWorksheets, nil)
		for _, ws := range d.Worksheets {
			e.start(elemWorksheet, worksheetAttrs(ws))
			for _, ref := range ws.Channels {
				leaf(e, elemChannelRef, []attr{{"Name", ref}})
			}
			e.end()
		}
		e.end()
	}

	e.start(elemLayers, nil)
	e.start(elemLayer, nil)
	if len(d.MarkerGroups) > 0 {
		e.start(elemMarkerBlock, nil)
		for _, g := range d.MarkerGroups {
			e.start(elemMarkerGroup, markerGroupAttrs(g))
			for _, m := range g.Markers {
				leaf(e, elemMarker, markerAttrs(m))
			}
			e.end()
		}
		e.end()
	}
	leaf(e, elemRangeBlock, nil)
	e.end()
	if len(d.Details) > 0 {
		e.start(elemDetails, nil)
		for _, det := range d.Details {
			leaf(e, elemString, detailAttrs(det))
		}
		e.end()
	}
	e.end()

	if len(d.MathItems) > 0 {
		e.start(elemMaths, mathsAttrs())
		e.start(elemMathItems, nil)
		for _, id := range d.MathIDs() {
			leaf(e, elemMathScaleOffset, mathItemAttrs(id, d.MathItems[id]))
		}
		e.end()
		e.end()
	}

	if len(d.Descriptors) > 0 {
		e.start(elemDescriptors, nil)
		for _, id := range d.DescriptorIDs() {
			leaf(e, elemDescriptor, descriptorAttrs(id, d.Descriptors[id]))
		}
		e.end()
	}

	e.end()
}
