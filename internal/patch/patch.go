package patch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/natefinch/atomic"

	"example.com/ldxsync/internal/common"
	"example.com/ldxsync/internal/ldx"
)

const (
	BackupSuffix = ".bak"
	TempSuffix   = ".tmp"
)

// Catalog resolves documentation parameters to a display name and unit.
type Catalog interface {
	DisplayInfo(name string) (displayName, unit string, ok bool)
}

// VerifyPolicy decides what a failed post-write verification does.
type VerifyPolicy string

const (
	// VerifyDiagnostic logs a mismatch and commits anyway.
	VerifyDiagnostic VerifyPolicy = "diagnostic"
	// VerifyStrict aborts the commit on mismatch.
	VerifyStrict VerifyPolicy = "strict"
)

func ParseVerifyPolicy(s string) (VerifyPolicy, error) {
	switch VerifyPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", VerifyDiagnostic:
		return VerifyDiagnostic, nil
	case VerifyStrict:
		return VerifyStrict, nil
	}
	return "", fmt.Errorf("unknown verify policy %q", s)
}

type Options struct {
	Catalog Catalog
	Verify  VerifyPolicy
	// RequireCatalogEntry turns an uncatalogued documentation parameter
	// into a NotFoundError instead of a title-cased details entry.
	RequireCatalogEntry bool
	AuditLog            *common.PatchLog
	Metrics             *common.Metrics
}

// Patcher updates single parameters inside LDX files on disk. It does not
// serialize concurrent writers to the same path; callers hold a per-file
// lock when that can happen.
type Patcher struct {
	opts      Options
	writeTemp func(path string, data []byte, perm os.FileMode) error
	copyFile  func(src, dst string) error
}

func New(opts Options) *Patcher {
	if opts.Verify == "" {
		opts.Verify = VerifyDiagnostic
	}
	return &Patcher{opts: opts, writeTemp: writeSynced, copyFile: common.CopyFile}
}

// target is a located node and the attribute to set on it.
type target struct {
	kind      ldx.Kind
	nodeID    string
	attr      string
	unit      string
	elem      *etree.Element
	forms     ldx.Forms
	sectionOf string
}

// Apply runs Locate, Mutate, Backup, StageWrite, Verify and Commit for one
// parameter. At every instant path holds either the old or the new file.
func (p *Patcher) Apply(path, name, value, comment string) error {
	r := &run{path: resolve(path), name: name, start: time.Now()}
	err := p.apply(r, value, comment)
	if err != nil {
		r.enter(Aborted)
		p.opts.Metrics.PatchAborted()
		common.Logf("patch %s %s: aborted in %s: %v", filepath.Base(r.path), name, r.failedIn, err)
	} else {
		r.enter(Committed)
		p.opts.Metrics.PatchCommitted()
		common.Logf("patch %s %s: committed %q -> %q (%s -> %s) in %s", filepath.Base(r.path), name,
			r.before, r.after, common.ShortHash(r.beforeSha), common.ShortHash(r.afterSha), time.Since(r.start).Round(time.Millisecond))
	}
	p.audit(r, err)
	return err
}

func (p *Patcher) apply(r *run, value, comment string) error {
	r.enter(Locate)
	data, err := os.ReadFile(r.path)
	if err != nil {
		return ldx.IOError("read %s: %w", r.path, err)
	}
	info, err := os.Stat(r.path)
	if err != nil {
		return ldx.IOError("stat %s: %w", r.path, err)
	}
	r.beforeSha = common.Sha256OfBytes(data)
	tree, err := ldx.ParseTree(data)
	if err != nil {
		return err
	}
	t, err := p.locate(tree.Root(), r.name, true)
	if err != nil {
		return err
	}
	r.kind = t.kind
	r.nodeID = t.nodeID

	r.enter(Mutate)
	r.before = t.elem.SelectAttrValue(t.attr, "")
	r.after = value
	if t.kind == ldx.KindGeneric {
		r.after = documentValue(value, t.unit, comment)
	}
	t.elem.CreateAttr(t.attr, r.after)
	out, err := ldx.SerializeTree(tree)
	if err != nil {
		return err
	}
	r.afterSha = common.Sha256OfBytes(out)

	r.enter(Backup)
	if err := p.backup(r.path); err != nil {
		return err
	}

	r.enter(StageWrite)
	tmp := r.path + TempSuffix
	if err := p.writeTemp(tmp, out, info.Mode().Perm()); err != nil {
		os.Remove(tmp)
		return ldx.IOError("stage %s: %w", tmp, err)
	}

	r.enter(Verify)
	if err := p.verify(tmp, r.name, r.after); err != nil {
		p.opts.Metrics.VerifyMismatch()
		f := false
		r.verified = &f
		if p.opts.Verify == VerifyStrict {
			os.Remove(tmp)
			return err
		}
		common.Logf("patch %s %s: verification mismatch, committing anyway: %v", filepath.Base(r.path), r.name, err)
	} else {
		ok := true
		r.verified = &ok
	}

	r.enter(Commit)
	if err := atomic.ReplaceFile(tmp, r.path); err != nil {
		os.Remove(tmp)
		return ldx.IOError("replace %s: %w", r.path, err)
	}
	return nil
}

// backup keeps the first pre-mutation copy of path. An existing backup is
// never refreshed; a backup path that is not a regular file fails the patch.
func (p *Patcher) backup(path string) error {
	backup := path + BackupSuffix
	info, err := os.Stat(backup)
	switch {
	case err == nil && !info.Mode().IsRegular():
		return ldx.IOError("backup %s is not a regular file", backup)
	case err == nil:
		return nil
	case !errors.Is(err, os.ErrNotExist):
		return ldx.IOError("stat backup %s: %w", backup, err)
	}
	if err := p.copyFile(path, backup); err != nil {
		os.Remove(backup)
		return ldx.IOError("backup %s: %w", backup, err)
	}
	common.Logf("patch %s: backup created at %s", filepath.Base(path), backup)
	return nil
}

// verify re-reads the staged file and compares the target value.
func (p *Patcher) verify(tmp, name, want string) error {
	data, err := os.ReadFile(tmp)
	if err != nil {
		return ldx.ValidationError("re-read staged file: %v", err)
	}
	tree, err := ldx.ParseTree(data)
	if err != nil {
		return ldx.ValidationError("re-parse staged file: %v", err)
	}
	t, err := p.locate(tree.Root(), name, false)
	if err != nil {
		return ldx.ValidationError("staged file lost target: %v", err)
	}
	if got := t.elem.SelectAttrValue(t.attr, ""); got != want {
		return ldx.ValidationError("staged value %q, want %q", got, want)
	}
	return nil
}

// Contains reports whether applying name to path would find a target
// without creating anything.
func (p *Patcher) Contains(path, name string) (bool, error) {
	data, err := os.ReadFile(resolve(path))
	if err != nil {
		return false, ldx.IOError("read %s: %w", path, err)
	}
	tree, err := ldx.ParseTree(data)
	if err != nil {
		return false, err
	}
	parsed := ldx.ParseParameterName(name)
	if parsed.Kind == ldx.KindGeneric {
		if p.opts.Catalog == nil {
			return false, nil
		}
		_, _, ok := p.opts.Catalog.DisplayInfo(name)
		return ok, nil
	}
	_, err = p.locate(tree.Root(), name, false)
	if errors.Is(err, ldx.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (p *Patcher) locate(root *etree.Element, name string, create bool) (*target, error) {
	parsed := ldx.ParseParameterName(name)
	t := &target{kind: parsed.Kind, forms: ldx.BothForms(parsed.ID)}
	switch parsed.Kind {
	case ldx.KindDetails:
		t.sectionOf, t.attr = ldx.PathDetailsString, ldx.AttrValue
	case ldx.KindMathScale:
		t.sectionOf, t.attr = ldx.PathMathItem, ldx.AttrScale
	case ldx.KindMathOffset:
		t.sectionOf, t.attr = ldx.PathMathItem, ldx.AttrOffset
	case ldx.KindDescriptorDPS:
		t.sectionOf, t.attr = ldx.PathDescriptor, ldx.AttrDisplayDPS
	case ldx.KindDescriptorUnit:
		t.sectionOf, t.attr = ldx.PathDescriptor, ldx.AttrDisplayUnit
	default:
		return p.locateDocumentation(root, name, t, create)
	}
	candidates := root.FindElements(t.sectionOf)
	for _, id := range t.forms.Candidates() {
		for _, el := range candidates {
			if el.SelectAttrValue(ldx.AttrID, "") == id {
				t.elem, t.nodeID = el, id
				return t, nil
			}
		}
	}
	for _, el := range candidates {
		if id := el.SelectAttrValue(ldx.AttrID, ""); t.forms.MatchEncoded(id) {
			t.elem, t.nodeID = el, id
			return t, nil
		}
	}
	return nil, ldx.NotFoundError("%s: no %s node with Id %q or %q", name, parsed.Kind, t.forms.Underscored, t.forms.Spaced)
}

// locateDocumentation finds or creates Layers/Details/String for a
// parameter with no structural home.
func (p *Patcher) locateDocumentation(root *etree.Element, name string, t *target, create bool) (*target, error) {
	display, unit, ok := "", "", false
	if p.opts.Catalog != nil {
		display, unit, ok = p.opts.Catalog.DisplayInfo(name)
	}
	if !ok && p.opts.RequireCatalogEntry {
		return nil, ldx.NotFoundError("%s: no structural node and no catalog entry", name)
	}
	if strings.TrimSpace(display) == "" {
		display = ldx.TitleCase(name)
	}
	t.nodeID, t.unit, t.attr = display, unit, ldx.AttrValue

	layers := root.FindElement(ldx.PathLayers)
	if layers == nil {
		if !create {
			return nil, ldx.NotFoundError("%s: no %s section", name, ldx.ElemLayers)
		}
		layers = root.CreateElement(ldx.ElemLayers)
	}
	details := layers.FindElement(".//" + ldx.ElemDetails)
	if details == nil {
		if !create {
			return nil, ldx.NotFoundError("%s: no %s section", name, ldx.ElemDetails)
		}
		details = layers.CreateElement(ldx.ElemDetails)
	}
	for _, el := range details.SelectElements(ldx.ElemString) {
		if el.SelectAttrValue(ldx.AttrID, "") == display {
			t.elem = el
			return t, nil
		}
	}
	if !create {
		return nil, ldx.NotFoundError("%s: no details entry %q", name, display)
	}
	t.elem = details.CreateElement(ldx.ElemString)
	t.elem.CreateAttr(ldx.AttrID, display)
	return t, nil
}

// documentValue renders "<value> <unit> (<comment>)". The unit is skipped
// when the value already mentions it.
func documentValue(value, unit, comment string) string {
	out := value
	if unit != "" && out != "" && !strings.Contains(strings.ToLower(out), strings.ToLower(unit)) {
		out = strings.TrimSpace(out + " " + unit)
	}
	if c := strings.TrimSpace(comment); c != "" {
		out = fmt.Sprintf("%s (%s)", out, c)
	}
	return out
}

func (p *Patcher) audit(r *run, err error) {
	if p.opts.AuditLog == nil {
		return
	}
	entry := common.PatchEntry{
		File:      r.path,
		Parameter: r.name,
		Kind:      string(r.kind),
		NodeID:    r.nodeID,
		Before:    r.before,
		After:     r.after,
		BeforeSha: r.beforeSha,
		Outcome:   r.state.String(),
		Verified:  r.verified,
	}
	if err != nil {
		entry.Error = err.Error()
	} else {
		entry.AfterSha = r.afterSha
	}
	if aerr := p.opts.AuditLog.Append(entry); aerr != nil {
		common.Logf("patch audit %s: %v", p.opts.AuditLog.Path(), aerr)
	}
}

func writeSynced(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func resolve(path string) string {
	if real, err := filepath.EvalSymlinks(path); err == nil {
		path = real
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
