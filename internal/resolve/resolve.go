// Package resolve maps the specifiers of one generation's modules to
// import map keys and targets.
//
// Import maps are document-global while relative specifiers depend on the
// importing module, so every local specifier is given a global key,
// <alias><path>, and the importing module's code is rewritten to use it.
package resolve

import (
	"path"
	"sort"
	"strings"

	"github.com/zot/uigen/internal/transform"
	"github.com/zot/uigen/internal/vfs"
)

// Files is the part of the store the resolver reads.
type Files interface {
	IsFile(raw string) bool
	Read(raw string) (string, error)
}

// Options configures resolution.
type Options struct {
	Alias           string   // project-root prefix, "@/"
	Entry           vfs.Path // module the preview bootstraps
	Extensions      []string // tried in order after the literal path
	StyleExtensions []string
	Registry        string            // base URL for bare specifiers
	Pins            map[string]string // package -> version
	Shared          []string          // packages that must have a single instance
	Preload         []string          // bare specifiers always present in the map
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		Alias:           "@/",
		Entry:           "/App.jsx",
		Extensions:      []string{".jsx", ".tsx", ".js", ".ts", ".json"},
		StyleExtensions: []string{".css"},
		Registry:        "https://esm.sh",
		Pins:            map[string]string{"react": "19", "react-dom": "19"},
		Shared:          []string{"react", "react-dom"},
		Preload:         []string{"react", "react/jsx-runtime", "react-dom", "react-dom/client"},
	}
}

// Map is the resolution of one generation.
type Map struct {
	Entry    string            // key of the entry module, "" when it does not exist
	Entries  map[string]Target // import map key -> target
	Styles   []Stylesheet      // in cascade order
	Rewrites map[vfs.Path]map[string]string
}

// Keys returns the import map keys in sorted order.
func (m *Map) Keys() []string {
	keys := make([]string, 0, len(m.Entries))
	for k := range m.Entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Placeholders returns the placeholder targets sorted by key.
func (m *Map) Placeholders() []*TargetPlaceholder {
	var result []*TargetPlaceholder
	for _, k := range m.Keys() {
		if p, ok := m.Entries[k].(*TargetPlaceholder); ok {
			result = append(result, p)
		}
	}
	return result
}

// Rewrite returns mod's code with every specifier replaced by its key.
func (m *Map) Rewrite(mod *transform.Module) string {
	renames := m.Rewrites[mod.Path]
	if len(renames) == 0 {
		return mod.Code
	}
	return mod.RewriteSpecifiers(func(imp transform.Import) string {
		if key, ok := renames[imp.Specifier]; ok {
			return key
		}
		return imp.Specifier
	})
}

// KeyFor is the import map key of a store path.
func (o Options) KeyFor(p vfs.Path) string {
	return o.Alias + strings.TrimPrefix(string(p), "/")
}

// placeholderKey puts placeholders under a ".." segment, which no store
// path has, so they never share a key with a real module.
func (o Options) placeholderKey(target string) string {
	return o.Alias + "../missing/" + strings.TrimPrefix(target, "/")
}

// Classify returns the kind of a specifier.
func (o Options) Classify(specifier string) Kind {
	switch {
	case transform.IsStylesheet(specifier, o.StyleExtensions):
		return KindStylesheet
	case strings.HasPrefix(specifier, o.Alias):
		return KindAliased
	case isLocal(specifier):
		return KindLocal
	}
	return KindBare
}

func isLocal(specifier string) bool {
	return strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../") ||
		specifier == "." || specifier == ".." || strings.HasPrefix(specifier, "/")
}

func isURL(specifier string) bool {
	for _, scheme := range []string{"http://", "https://", "data:", "blob:"} {
		if strings.HasPrefix(specifier, scheme) {
			return true
		}
	}
	return false
}

// location turns an aliased or local specifier into a store path. Segments
// above the root are clamped, as URL resolution does.
func (o Options) location(referrer vfs.Path, specifier string) (vfs.Path, bool) {
	var joined string
	if strings.HasPrefix(specifier, o.Alias) {
		joined = path.Join("/", strings.TrimPrefix(specifier, o.Alias))
	} else if strings.HasPrefix(specifier, "/") {
		joined = path.Join("/", specifier)
	} else {
		joined = path.Join(string(referrer.Parent()), specifier)
	}
	if i := strings.IndexAny(joined, "?#"); i >= 0 {
		joined = joined[:i]
	}
	p, err := vfs.Normalize(joined)
	return p, err == nil
}

type resolver struct {
	opts    Options
	files   Files
	modules map[vfs.Path]*transform.Module
	result  *Map
	styled  map[string]bool
	visited map[vfs.Path]bool
}

// Resolve builds the resolution map for modules, looking stylesheets up
// in files. It is a pure function of its arguments.
func Resolve(files Files, modules []*transform.Module, opts Options) *Map {
	r := &resolver{
		opts:    opts,
		files:   files,
		modules: make(map[vfs.Path]*transform.Module, len(modules)),
		result: &Map{
			Entries:  make(map[string]Target),
			Rewrites: make(map[vfs.Path]map[string]string),
		},
		styled:  make(map[string]bool),
		visited: make(map[vfs.Path]bool),
	}
	for _, mod := range modules {
		r.modules[mod.Path] = mod
	}

	paths := make([]vfs.Path, 0, len(r.modules))
	for p := range r.modules {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })
	for _, p := range paths {
		r.result.Entries[opts.KeyFor(p)] = TargetLocal{Path: p}
	}
	for _, spec := range opts.Preload {
		r.bare(spec)
	}
	for _, pkg := range opts.Shared {
		// prefix entry for subpaths requested by externalized packages
		r.result.Entries[pkg+"/"] = TargetNetwork{URL: r.packageURL(pkg, "/", false)}
	}
	for _, p := range paths {
		r.imports(r.modules[p])
	}

	if _, ok := r.modules[opts.Entry]; ok {
		r.result.Entry = opts.KeyFor(opts.Entry)
		r.styles(opts.Entry)
	}
	return r.result
}

func (r *resolver) rewrite(referrer vfs.Path, specifier, key string) {
	if specifier == key {
		return
	}
	renames := r.result.Rewrites[referrer]
	if renames == nil {
		renames = make(map[string]string)
		r.result.Rewrites[referrer] = renames
	}
	renames[specifier] = key
}

func (r *resolver) imports(mod *transform.Module) {
	for _, imp := range mod.Imports {
		switch r.opts.Classify(imp.Specifier) {
		case KindAliased, KindLocal:
			if p, ok := r.find(mod.Path, imp.Specifier); ok {
				r.rewrite(mod.Path, imp.Specifier, r.opts.KeyFor(p))
				continue
			}
			r.rewrite(mod.Path, imp.Specifier, r.placeholder(mod.Path, imp))
		case KindBare:
			r.bare(imp.Specifier)
		}
	}
}

// find searches for the module a local specifier names: the literal path,
// then each extension, then an index file.
func (r *resolver) find(referrer vfs.Path, specifier string) (vfs.Path, bool) {
	base, ok := r.opts.location(referrer, specifier)
	if !ok {
		return "", false
	}
	if _, ok := r.modules[base]; ok {
		return base, true
	}
	if !base.IsRoot() {
		for _, ext := range r.opts.Extensions {
			candidate := vfs.Path(string(base) + ext)
			if _, ok := r.modules[candidate]; ok {
				return candidate, true
			}
		}
	}
	for _, ext := range r.opts.Extensions {
		candidate := base.Join("index" + ext)
		if _, ok := r.modules[candidate]; ok {
			return candidate, true
		}
	}
	return "", false
}

func (r *resolver) placeholder(referrer vfs.Path, imp transform.Import) string {
	target := imp.Specifier
	if p, ok := r.opts.location(referrer, imp.Specifier); ok {
		target = string(p)
	}
	key := r.opts.placeholderKey(target)
	p, ok := r.result.Entries[key].(*TargetPlaceholder)
	if !ok {
		p = &TargetPlaceholder{Key: key, Target: target}
		r.result.Entries[key] = p
	}
	p.addReferrer(referrer)
	p.addName("default")
	if imp.Kind == transform.ImportStatic || imp.Kind == transform.ImportReexport {
		p.addName(imp.Names...)
	}
	return key
}

func (r *resolver) bare(specifier string) {
	if isURL(specifier) {
		return
	}
	if _, ok := r.result.Entries[specifier]; ok {
		return
	}
	pkg, sub := splitPackage(specifier)
	r.result.Entries[specifier] = TargetNetwork{URL: r.packageURL(pkg, sub, !r.shared(pkg))}
}

func (r *resolver) shared(pkg string) bool {
	name, _ := splitVersion(pkg)
	for _, s := range r.opts.Shared {
		if s == name {
			return true
		}
	}
	return false
}

// packageURL builds registry/<pkg>[@pin]<sub>, externalizing shared
// packages when external is set.
func (r *resolver) packageURL(pkg, sub string, external bool) string {
	name, version := splitVersion(pkg)
	if version == "" {
		version = r.opts.Pins[name]
	}
	url := strings.TrimSuffix(r.opts.Registry, "/") + "/" + name
	if version != "" {
		url += "@" + version
	}
	url += sub
	if external && len(r.opts.Shared) > 0 {
		url += "?external=" + strings.Join(r.opts.Shared, ",")
	}
	return url
}

// splitPackage splits "pkg/sub/path" or "@scope/pkg/sub" into the package
// and the subpath with its leading slash.
func splitPackage(specifier string) (pkg, sub string) {
	n := 1
	if strings.HasPrefix(specifier, "@") {
		n = 2
	}
	parts := strings.SplitN(specifier, "/", n+1)
	if len(parts) <= n {
		return specifier, ""
	}
	return strings.Join(parts[:n], "/"), "/" + parts[n]
}

// splitVersion splits "name@version", keeping a scope's leading '@'.
func splitVersion(pkg string) (name, version string) {
	if i := strings.LastIndexByte(pkg, '@'); i > 0 {
		return pkg[:i], pkg[i+1:]
	}
	return pkg, ""
}

// styles collects stylesheets reachable from p, dependencies first so an
// importer's rules override those of what it imports.
func (r *resolver) styles(p vfs.Path) {
	if r.visited[p] {
		return
	}
	r.visited[p] = true
	mod := r.modules[p]
	for _, imp := range mod.Imports {
		if k := r.opts.Classify(imp.Specifier); k != KindAliased && k != KindLocal {
			continue
		}
		if dep, ok := r.find(p, imp.Specifier); ok {
			r.styles(dep)
		}
	}
	for _, imp := range mod.Styles {
		r.stylesheet(p, imp.Specifier)
	}
}

func (r *resolver) stylesheet(referrer vfs.Path, specifier string) {
	sheet := Stylesheet{Specifier: specifier, Referrer: referrer}
	switch {
	case isURL(specifier):
		sheet.URL = specifier
	case strings.HasPrefix(specifier, r.opts.Alias) || isLocal(specifier):
		p, ok := r.opts.location(referrer, specifier)
		if ok && r.files.IsFile(string(p)) {
			content, err := r.files.Read(string(p))
			if err == nil {
				sheet.Path = p
				sheet.Content = content
				break
			}
		}
		sheet.Missing = true
		if ok {
			sheet.Path = p
		}
	default:
		pkg, sub := splitPackage(specifier)
		sheet.URL = r.packageURL(pkg, sub, false)
	}

	id := sheet.URL
	if sheet.Path != "" {
		id = string(sheet.Path)
	}
	if r.styled[id] {
		return
	}
	r.styled[id] = true
	r.result.Styles = append(r.result.Styles, sheet)
}
