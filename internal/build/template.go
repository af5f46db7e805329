package build

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/fastivite/fastivite/internal/errors"
)

//go:embed server_entry.js
var serverTemplate string

// Slot names, in template order.
const (
	SlotImports   = "imports"
	SlotRoutes    = "routes"
	SlotRender    = "render"
	SlotResolvers = "resolvers"
	SlotLoaders   = "loaders"
	SlotContexts  = "contexts"
	SlotExtras    = "extras"
)

var markerRe = regexp.MustCompile(`/\*@fastivite:(\w+)\*/`)

func marker(name string) string {
	return "/*@fastivite:" + name + "*/"
}

// Slot is one named substitution into the server template.
type Slot struct {
	Name    string
	Content string
}

// APIModule is one compiled API module in the server entry.
type APIModule struct {
	Route    string
	Source   string
	Artifact string
}

// ExtraModule is a module exposed to API handlers as a decoration.
type ExtraModule struct {
	Name     string
	Artifact string
}

// ServerEntry describes everything the generated server entry imports.
// Artifact paths are relative to the entry file.
type ServerEntry struct {
	APIs      []APIModule
	Render    string
	Resolvers []string
	Loaders   []string
	Contexts  []string
	Extras    []ExtraModule
}

// Slots returns the content of every template slot.
func (e *ServerEntry) Slots() []Slot {
	var imports, routes, extras strings.Builder
	importAs := func(ident, artifact string) {
		fmt.Fprintf(&imports, "import %s from %s;\n", ident, quote(artifact))
	}

	fmt.Fprintf(&imports, "import * as ssr from %s;\n", quote(e.Render))
	for i, api := range e.APIs {
		ident := fmt.Sprintf("api%d", i)
		importAs(ident, api.Artifact)
		fmt.Fprintf(&routes, "  { path: %s, source: %s, plugin: %s },\n", quote(api.Route), quote(api.Source), ident)
	}
	list := func(prefix string, artifacts []string) string {
		var b strings.Builder
		for i, a := range artifacts {
			ident := fmt.Sprintf("%s%d", prefix, i)
			importAs(ident, a)
			fmt.Fprintf(&b, "  %s,\n", ident)
		}
		return b.String()
	}
	resolvers := list("resolver", e.Resolvers)
	loaders := list("loader", e.Loaders)
	contexts := list("context", e.Contexts)
	for i, x := range e.Extras {
		ident := fmt.Sprintf("extra%d", i)
		importAs(ident, x.Artifact)
		fmt.Fprintf(&extras, "  %s: %s,\n", quote(x.Name), ident)
	}

	return []Slot{
		{SlotImports, imports.String()},
		{SlotRoutes, routes.String()},
		{SlotRender, "ssr.render"},
		{SlotResolvers, resolvers},
		{SlotLoaders, loaders},
		{SlotContexts, contexts},
		{SlotExtras, extras.String()},
	}
}

// Synthesize substitutes slots into tmpl. Every slot's marker must appear
// exactly once and tmpl may not contain markers for unknown slots.
func Synthesize(tmpl string, slots []Slot) (string, error) {
	known := make(map[string]bool, len(slots))
	for _, s := range slots {
		known[s.Name] = true
		if n := strings.Count(tmpl, marker(s.Name)); n != 1 {
			return "", errors.New("E203").
				WithDetail(fmt.Sprintf("slot %q appears %d times", s.Name, n))
		}
	}
	for _, m := range markerRe.FindAllStringSubmatch(tmpl, -1) {
		if !known[m[1]] {
			return "", errors.New("E203").
				WithDetail(fmt.Sprintf("unknown slot %q", m[1]))
		}
	}

	out := tmpl
	for _, s := range slots {
		out = strings.Replace(out, marker(s.Name), strings.TrimRight(s.Content, "\n"), 1)
	}
	return out, nil
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
