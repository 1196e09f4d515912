package resolve

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/zot/uigen/internal/vfs"
)

// Kind classifies a specifier. The cases are checked in declaration order.
type Kind int

const (
	KindStylesheet Kind = iota
	KindAliased
	KindLocal // relative or absolute
	KindBare
)

func (k Kind) String() string {
	switch k {
	case KindStylesheet:
		return "stylesheet"
	case KindAliased:
		return "aliased"
	case KindLocal:
		return "local"
	}
	return "bare"
}

// Target is what an import map key resolves to: TargetLocal,
// TargetNetwork or TargetPlaceholder.
type Target interface {
	target()
}

// TargetLocal is a module compiled from a store file.
type TargetLocal struct {
	Path vfs.Path
}

// TargetNetwork is a third-party module loaded by the browser.
type TargetNetwork struct {
	URL string
}

// TargetPlaceholder stands in for a local import that matched no file.
type TargetPlaceholder struct {
	Key       string
	Target    string     // the path that was searched for
	Referrers []vfs.Path // modules importing it, sorted
	Names     []string   // union of the names imported through it, sorted
}

func (TargetLocal) target()        {}
func (TargetNetwork) target()      {}
func (*TargetPlaceholder) target() {}

// Code synthesizes the placeholder module. Every requested name is a
// component rendering nothing, so the importer still evaluates.
func (p *TargetPlaceholder) Code() string {
	var b strings.Builder
	fmt.Fprintf(&b, "console.warn(%s);\n", strconv.Quote(p.String()))
	b.WriteString("const Missing = () => null;\nexport default Missing;\n")
	var named []string
	for _, name := range p.Names {
		if name == "default" {
			continue
		}
		if isIdentifier(name) {
			named = append(named, "Missing as "+name)
		} else {
			named = append(named, "Missing as "+strconv.Quote(name))
		}
	}
	if len(named) > 0 {
		fmt.Fprintf(&b, "export { %s };\n", strings.Join(named, ", "))
	}
	return b.String()
}

func (p *TargetPlaceholder) String() string {
	refs := make([]string, len(p.Referrers))
	for i, r := range p.Referrers {
		refs[i] = string(r)
	}
	return fmt.Sprintf("unresolved import %s (from %s)", p.Target, strings.Join(refs, ", "))
}

func (p *TargetPlaceholder) addName(names ...string) {
	for _, name := range names {
		i := sort.SearchStrings(p.Names, name)
		if i < len(p.Names) && p.Names[i] == name {
			continue
		}
		p.Names = append(p.Names, "")
		copy(p.Names[i+1:], p.Names[i:])
		p.Names[i] = name
	}
}

func (p *TargetPlaceholder) addReferrer(ref vfs.Path) {
	i := sort.Search(len(p.Referrers), func(i int) bool { return p.Referrers[i] >= ref })
	if i < len(p.Referrers) && p.Referrers[i] == ref {
		return
	}
	p.Referrers = append(p.Referrers, "")
	copy(p.Referrers[i+1:], p.Referrers[i:])
	p.Referrers[i] = ref
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '$' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r > 0x7f:
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// Stylesheet is one stylesheet the preview injects. Exactly one of Path
// (with Content) or URL is set unless Missing.
type Stylesheet struct {
	Specifier string
	Referrer  vfs.Path
	Path      vfs.Path
	Content   string
	URL       string
	Missing   bool
}
