package translate

import (
	"fmt"
	"sort"
	"strings"

	"example.com/ldxsync/internal/ldx"
)

// Record is one named parameter extracted from, or destined for, an LDX
// document.
type Record struct {
	Name       string   `json:"parameterName"`
	Value      string   `json:"currentValue"`
	Kind       ldx.Kind `json:"sourceKind"`
	OriginalID string   `json:"originalId,omitempty"`
	Unit       string   `json:"unit,omitempty"`
}

type Options struct {
	IncludeDetails   bool
	IncludeMathItems bool
}

var DefaultOptions = Options{IncludeDetails: true, IncludeMathItems: true}

// ToParameters flattens doc into records. Descriptors carrying a DPS value
// are always included.
func ToParameters(doc *ldx.Document, opts Options) []Record {
	if doc == nil {
		return nil
	}
	var out []Record
	if opts.IncludeDetails {
		for _, det := range doc.Details {
			out = append(out, Record{
				Name:       ldx.DetailsParameterName(det.ID),
				Value:      det.Value,
				Kind:       ldx.KindDetails,
				OriginalID: det.ID,
			})
		}
	}
	if opts.IncludeMathItems {
		for _, id := range doc.MathIDs() {
			item := doc.MathItems[id]
			out = append(out,
				Record{
					Name:       ldx.MathParameterName(id, ldx.FieldScale),
					Value:      item.Scale,
					Kind:       ldx.KindMathScale,
					OriginalID: id,
					Unit:       item.Unit,
				},
				Record{
					Name:       ldx.MathParameterName(id, ldx.FieldOffset),
					Value:      item.Offset,
					Kind:       ldx.KindMathOffset,
					OriginalID: id,
					Unit:       item.Unit,
				})
		}
	}
	for _, id := range doc.DescriptorIDs() {
		desc := doc.Descriptors[id]
		if desc.DisplayDPS == "" {
			continue
		}
		out = append(out, Record{
			Name:       ldx.DescriptorParameterName(id),
			Value:      desc.DisplayDPS,
			Kind:       ldx.KindDescriptorDPS,
			OriginalID: id,
			Unit:       desc.DisplayUnit,
		})
	}
	return out
}

// Strategy selects how Merge resolves conflicts between a template document
// and a record set.
type Strategy string

const (
	// ParametersOverride builds the document purely from records. The
	// template only lends its locale, version and workspace identity.
	ParametersOverride Strategy = "parameters_override"
	// LdxOverride keeps template values on conflicting ids.
	LdxOverride Strategy = "ldx_override"
	// MergeRecords lets records win and keeps everything else from the
	// template, markers included.
	MergeRecords Strategy = "merge"
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case ParametersOverride, "":
		return ParametersOverride, nil
	case LdxOverride:
		return LdxOverride, nil
	case MergeRecords:
		return MergeRecords, nil
	}
	return "", ldx.ValidationError("unknown merge strategy %q", s)
}

// Merge combines template (which may be nil) with records.
func Merge(template *ldx.Document, records []Record, strategy Strategy) (*ldx.Document, error) {
	var base *ldx.Document
	switch strategy {
	case ParametersOverride:
		base = identityOf(template)
	case LdxOverride, MergeRecords:
		if template != nil {
			base = template.Clone()
		} else {
			base = identityOf(nil)
		}
	default:
		return nil, ldx.ValidationError("unknown merge strategy %q", strategy)
	}
	o, err := collect(records)
	if err != nil {
		return nil, err
	}
	o.apply(base, strategy != LdxOverride)
	return base, nil
}

func identityOf(template *ldx.Document) *ldx.Document {
	doc := ldx.New("Default")
	if template == nil {
		return doc
	}
	if template.WorkspaceName != "" {
		doc.WorkspaceName = template.WorkspaceName
	}
	doc.ProjectName = template.ProjectName
	doc.CarName = template.CarName
	if template.Locale != "" {
		doc.Locale = template.Locale
	}
	if template.DefaultLocale != "" {
		doc.DefaultLocale = template.DefaultLocale
	}
	if template.Version != "" {
		doc.Version = template.Version
	}
	return doc
}

type mathPatch struct {
	scale, offset *string
	unit          string
}

type descPatch struct {
	dps, unit *string
}

// overlay is a record set grouped by target section, in record order.
type overlay struct {
	details []ldx.Detail
	mathIDs []string
	math    map[string]*mathPatch
	descIDs []string
	descs   map[string]*descPatch
}

func collect(records []Record) (*overlay, error) {
	o := &overlay{math: map[string]*mathPatch{}, descs: map[string]*descPatch{}}
	for _, rec := range records {
		parsed := ldx.ParseParameterName(rec.Name)
		kind := rec.Kind
		if kind == "" {
			kind = parsed.Kind
		}
		id := rec.OriginalID
		if id == "" && kind.Structural() {
			id = ldx.BothForms(parsed.ID).Spaced
		}
		value := rec.Value
		switch kind {
		case ldx.KindDetails:
			if id == "" {
				return nil, ldx.ValidationError("details record %q has no id", rec.Name)
			}
			o.details = append(o.details, ldx.Detail{ID: id, Value: value})
		case ldx.KindMathScale, ldx.KindMathOffset:
			p := o.mathFor(id)
			if kind == ldx.KindMathScale {
				p.scale = &value
			} else {
				p.offset = &value
			}
			if rec.Unit != "" {
				p.unit = rec.Unit
			}
		case ldx.KindDescriptorDPS, ldx.KindDescriptorUnit:
			p := o.descFor(id)
			if kind == ldx.KindDescriptorDPS {
				p.dps = &value
				if rec.Unit != "" {
					unit := rec.Unit
					p.unit = &unit
				}
			} else {
				p.unit = &value
			}
		case ldx.KindGeneric:
			o.details = append(o.details, ldx.Detail{ID: ldx.TitleCase(rec.Name), Value: value})
		default:
			return nil, ldx.ValidationError("record %q has unknown kind %q", rec.Name, kind)
		}
	}
	return o, nil
}

func (o *overlay) mathFor(id string) *mathPatch {
	if p, ok := o.math[id]; ok {
		return p
	}
	p := &mathPatch{}
	o.math[id] = p
	o.mathIDs = append(o.mathIDs, id)
	return p
}

func (o *overlay) descFor(id string) *descPatch {
	if p, ok := o.descs[id]; ok {
		return p
	}
	p := &descPatch{}
	o.descs[id] = p
	o.descIDs = append(o.descIDs, id)
	return p
}

// apply writes the overlay into doc. When recordsWin is false, ids already
// present in doc keep their template values.
func (o *overlay) apply(doc *ldx.Document, recordsWin bool) {
	for _, det := range o.details {
		key := matchKey(det.ID, detailIDs(doc))
		if _, exists := doc.Detail(key); exists && !recordsWin {
			continue
		}
		doc.SetDetail(key, det.Value)
	}
	for _, id := range o.mathIDs {
		p := o.math[id]
		key := matchKey(id, doc.MathIDs())
		item, exists := doc.MathItems[key]
		if exists && !recordsWin {
			continue
		}
		if !exists {
			item = ldx.MathItem{Scale: ldx.DefaultScale, Offset: ldx.DefaultOffset}
		}
		if p.scale != nil {
			item.Scale = *p.scale
		}
		if p.offset != nil {
			item.Offset = *p.offset
		}
		if p.unit != "" {
			item.Unit = p.unit
		}
		doc.SetMathItem(key, item)
	}
	for _, id := range o.descIDs {
		p := o.descs[id]
		key := matchKey(id, doc.DescriptorIDs())
		desc, exists := doc.Descriptors[key]
		if exists && !recordsWin {
			continue
		}
		if !exists {
			desc = ldx.Descriptor{DisplayDPS: ldx.DefaultDisplayDPS}
		}
		if p.dps != nil {
			desc.DisplayDPS = *p.dps
		}
		if p.unit != nil {
			desc.DisplayUnit = *p.unit
		}
		doc.SetDescriptor(key, desc)
	}
}

// matchKey returns the existing key matching id in either spelling, or id.
func matchKey(id string, existing []string) string {
	forms := ldx.BothForms(id)
	for _, k := range existing {
		if k == id {
			return k
		}
	}
	for _, k := range existing {
		if forms.Match(k) {
			return k
		}
	}
	for _, k := range existing {
		if forms.MatchEncoded(k) {
			return k
		}
	}
	return id
}

func detailIDs(doc *ldx.Document) []string {
	ids := make([]string, len(doc.Details))
	for i, det := range doc.Details {
		ids[i] = det.ID
	}
	return ids
}

// RecordsFromValues builds records from a plain name/value map, classifying
// each name by its prefix.
func RecordsFromValues(values map[string]string) []Record {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Record, 0, len(names))
	for _, name := range names {
		out = append(out, Record{Name: name, Value: values[name], Kind: ldx.ParseParameterName(name).Kind})
	}
	return out
}

func (r Record) String() string {
	return fmt.Sprintf("%s=%s", r.Name, r.Value)
}
