// Package graphql serves a GraphQL endpoint whose resolvers, loaders and
// context functions are JavaScript modules discovered by convention.
//
// Parsing and validation are done by gqlparser. Execution dispatches every
// field to a merged resolver, to a batched loader, or to the default
// property resolver. Subscriptions and introspection are not served.
package graphql

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/fastivite/fastivite/internal/errors"
	"github.com/fastivite/fastivite/internal/scan"
)

// Schema is a validated schema together with its source text.
type Schema struct {
	Source string
	AST    *ast.Schema
}

// LoadSchema concatenates the schema files matched under cwd, in sorted
// order and separated by blank lines, and validates the result.
func LoadSchema(cwd string, patterns []string) (*Schema, error) {
	files, err := scan.GlobSorted(cwd, patterns)
	if err != nil {
		return nil, err
	}
	contents, err := scan.Files(os.DirFS(cwd), files)
	if err != nil {
		return nil, errors.New("E401").Wrap(err)
	}
	parts := make([]string, 0, len(contents))
	for _, c := range contents {
		parts = append(parts, strings.TrimSpace(string(c)))
	}
	return ParseSchema(filepath.Join(cwd, "schema.gql"), strings.Join(parts, "\n\n"))
}

// ParseSchema validates src.
func ParseSchema(name, src string) (*Schema, error) {
	if strings.TrimSpace(src) == "" {
		return nil, errors.New("E401").WithDetail("no schema files matched")
	}
	s, err := gqlparser.LoadSchema(&ast.Source{Name: name, Input: src})
	if err != nil {
		return nil, errors.New("E401").Wrap(err)
	}
	return &Schema{Source: src, AST: s}, nil
}
