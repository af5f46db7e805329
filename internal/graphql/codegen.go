package graphql

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/fastivite/fastivite/internal/errors"
)

var builtinScalars = map[string]string{
	"ID":      "string",
	"String":  "string",
	"Boolean": "boolean",
	"Int":     "number",
	"Float":   "number",
}

// GenerateTypes emits TypeScript declarations for every type in schema,
// one argument interface per field with arguments, and a Resolvers map.
func GenerateTypes(schema *Schema) []byte {
	var b bytes.Buffer
	b.WriteString("// Code generated by fastivite. DO NOT EDIT.\n\n")
	b.WriteString("export type Maybe<T> = T | null;\n\n")

	names := make([]string, 0, len(schema.AST.Types))
	for name, def := range schema.AST.Types {
		if def.BuiltIn || strings.HasPrefix(name, "__") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	b.WriteString("export type Scalars = {\n")
	scalars := []string{"ID", "String", "Boolean", "Int", "Float"}
	for _, name := range names {
		if schema.AST.Types[name].Kind == ast.Scalar {
			scalars = append(scalars, name)
		}
	}
	for _, s := range scalars {
		ts, ok := builtinScalars[s]
		if !ok {
			ts = "unknown"
		}
		fmt.Fprintf(&b, "  %s: %s;\n", s, ts)
	}
	b.WriteString("};\n")

	var resolvable []string
	for _, name := range names {
		def := schema.AST.Types[name]
		b.WriteString("\n")
		writeDescription(&b, def.Description, "")
		switch def.Kind {
		case ast.Scalar:
			fmt.Fprintf(&b, "export type %s = Scalars['%s'];\n", name, name)
		case ast.Enum:
			vals := make([]string, 0, len(def.EnumValues))
			for _, v := range def.EnumValues {
				vals = append(vals, "'"+v.Name+"'")
			}
			fmt.Fprintf(&b, "export type %s = %s;\n", name, strings.Join(vals, " | "))
		case ast.Union:
			fmt.Fprintf(&b, "export type %s = %s;\n", name, strings.Join(def.Types, " | "))
		case ast.Object, ast.Interface, ast.InputObject:
			fmt.Fprintf(&b, "export interface %s {\n", name)
			if def.Kind == ast.Object {
				fmt.Fprintf(&b, "  __typename?: '%s';\n", name)
				resolvable = append(resolvable, name)
			}
			for _, f := range def.Fields {
				if strings.HasPrefix(f.Name, "__") {
					continue
				}
				writeDescription(&b, f.Description, "  ")
				opt := ""
				if !f.Type.NonNull {
					opt = "?"
				}
				fmt.Fprintf(&b, "  %s%s: %s;\n", f.Name, opt, tsType(f.Type))
			}
			b.WriteString("}\n")
			writeArgs(&b, def)
		}
	}

	if len(resolvable) > 0 {
		b.WriteString("\nexport type ResolverFn<TParent, TArgs, TResult, TContext = any> = (\n")
		b.WriteString("  parent: TParent,\n  args: TArgs,\n  context: TContext,\n  info: any,\n) => TResult | Promise<TResult>;\n\n")
		b.WriteString("export interface Resolvers<TContext = any> {\n")
		for _, name := range resolvable {
			def := schema.AST.Types[name]
			fmt.Fprintf(&b, "  %s?: {\n", name)
			for _, f := range def.Fields {
				if strings.HasPrefix(f.Name, "__") {
					continue
				}
				args := "{}"
				if len(f.Arguments) > 0 {
					args = argsName(name, f.Name)
				}
				fmt.Fprintf(&b, "    %s?: ResolverFn<%s, %s, %s, TContext>;\n", f.Name, name, args, tsType(f.Type))
			}
			b.WriteString("  };\n")
		}
		b.WriteString("}\n")
	}
	return b.Bytes()
}

func writeArgs(b *bytes.Buffer, def *ast.Definition) {
	if def.Kind == ast.InputObject {
		return
	}
	for _, f := range def.Fields {
		if len(f.Arguments) == 0 {
			continue
		}
		fmt.Fprintf(b, "\nexport interface %s {\n", argsName(def.Name, f.Name))
		for _, a := range f.Arguments {
			opt := ""
			if !a.Type.NonNull || a.DefaultValue != nil {
				opt = "?"
			}
			fmt.Fprintf(b, "  %s%s: %s;\n", a.Name, opt, tsType(a.Type))
		}
		b.WriteString("}\n")
	}
}

func argsName(typ, field string) string {
	return typ + strings.ToUpper(field[:1]) + field[1:] + "Args"
}

func tsType(t *ast.Type) string {
	var inner string
	if t.Elem != nil {
		inner = "Array<" + tsType(t.Elem) + ">"
	} else if _, ok := builtinScalars[t.NamedType]; ok {
		inner = "Scalars['" + t.NamedType + "']"
	} else {
		inner = t.NamedType
	}
	if t.NonNull {
		return inner
	}
	return "Maybe<" + inner + ">"
}

func writeDescription(b *bytes.Buffer, desc, indent string) {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return
	}
	fmt.Fprintf(b, "%s/** %s */\n", indent, strings.ReplaceAll(desc, "\n", " "))
}

// WriteTypes writes the generated declarations to path. The file is left
// untouched when its content would not change, so watchers do not loop.
func WriteTypes(path string, schema *Schema) error {
	out := GenerateTypes(schema)
	if cur, err := os.ReadFile(path); err == nil && bytes.Equal(cur, out) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.New("E402").WithDetail(path).Wrap(err)
	}
	if err := os.WriteFile(path, out, 0644); err != nil {
		return errors.New("E402").WithDetail(path).Wrap(err)
	}
	return nil
}
