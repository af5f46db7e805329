package graphql

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dop251/goja"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/validator"

	"github.com/fastivite/fastivite/internal/jsrt"
)

// Request is a GraphQL request body.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// Response is a GraphQL response body.
type Response struct {
	Data   any           `json:"data"`
	Errors gqlerror.List `json:"errors,omitempty"`
}

// Execute runs req against schema using the artifacts installed on vm.
// ctxObj is passed to every resolver and loader. Only valid inside Do.
// A nil Data with Errors means the request was rejected before execution.
func Execute(vm *jsrt.VM, schema *ast.Schema, req Request, ctxObj *goja.Object, allowMutation bool) *Response {
	doc, errs := gqlparser.LoadQuery(schema, req.Query)
	if len(errs) > 0 {
		return &Response{Errors: errs}
	}
	op := doc.Operations.ForName(req.OperationName)
	if op == nil {
		return &Response{Errors: gqlerror.List{gqlerror.Errorf("operation %q not found", req.OperationName)}}
	}

	vars, err := validator.VariableValues(schema, op, req.Variables)
	if err != nil {
		return &Response{Errors: gqlerror.List{asGQLError(err)}}
	}

	var root *ast.Definition
	switch op.Operation {
	case ast.Query:
		root = schema.Query
	case ast.Mutation:
		if !allowMutation {
			return &Response{Errors: gqlerror.List{gqlerror.Errorf("mutations are only allowed over POST")}}
		}
		root = schema.Mutation
	default:
		return &Response{Errors: gqlerror.List{gqlerror.Errorf("%s operations are not supported", op.Operation)}}
	}
	if root == nil {
		return &Response{Errors: gqlerror.List{gqlerror.Errorf("schema has no %s type", op.Operation)}}
	}

	e := &executor{
		vm:     vm,
		rt:     vm.Runtime(),
		schema: schema,
		vars:   vars,
		set:    installed(vm),
		ctx:    ctxObj,
		op:     op,
	}
	objs, _ := e.executeFields(root, []goja.Value{vm.Runtime().NewObject()}, op.SelectionSet, []ast.Path{nil})
	resp := &Response{Errors: e.errs}
	if objs[0] != nil {
		resp.Data = objs[0]
	}
	return resp
}

func asGQLError(err error) *gqlerror.Error {
	var ge *gqlerror.Error
	if stderrors.As(err, &ge) {
		return ge
	}
	return gqlerror.Errorf("%s", errMessage(err))
}

type executor struct {
	vm     *jsrt.VM
	rt     *goja.Runtime
	schema *ast.Schema
	vars   map[string]any
	set    *ArtifactSet
	ctx    *goja.Object
	op     *ast.OperationDefinition
	errs   gqlerror.List
}

type fieldGroup struct {
	key    string
	fields []*ast.Field
}

// executeFields resolves sel on every parent, all of concrete type obj.
// A nil object in the result was nulled by a non-null violation below it.
func (e *executor) executeFields(obj *ast.Definition, parents []goja.Value, sel ast.SelectionSet, paths []ast.Path) ([]*object, []bool) {
	out := make([]*object, len(parents))
	nulled := make([]bool, len(parents))
	for i := range out {
		out[i] = newObject()
	}

	for _, fg := range e.collectFields(obj, sel, nil) {
		f := fg.fields[0]
		if f.Name == "__typename" {
			for i := range out {
				if out[i] != nil {
					out[i].set(fg.key, obj.Name)
				}
			}
			continue
		}
		if strings.HasPrefix(f.Name, "__") {
			e.errs = append(e.errs, gqlerror.ErrorPathf(appendPath(paths[0], ast.PathName(fg.key)), "introspection is not supported"))
			for i := range out {
				if out[i] != nil {
					out[i].set(fg.key, nil)
				}
			}
			continue
		}
		def := obj.Fields.ForName(f.Name)
		if def == nil {
			continue
		}

		fieldPaths := make([]ast.Path, len(parents))
		for i := range parents {
			fieldPaths[i] = appendPath(paths[i], ast.PathName(fg.key))
		}

		values, errored := e.resolveField(obj, f, def, parents, fieldPaths)
		completed, _ := e.complete(def.Type, fg.fields, values, errored, fieldPaths)
		for i := range out {
			if out[i] == nil {
				continue
			}
			if completed[i] == invalid {
				out[i] = nil
				nulled[i] = true
				continue
			}
			out[i].set(fg.key, completed[i])
		}
	}
	return out, nulled
}

func appendPath(p ast.Path, el ast.PathElement) ast.Path {
	out := make(ast.Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, el)
}

func (e *executor) collectFields(obj *ast.Definition, sel ast.SelectionSet, visited map[string]bool) []fieldGroup {
	if visited == nil {
		visited = map[string]bool{}
	}
	var groups []fieldGroup
	index := map[string]int{}
	add := func(key string, f *ast.Field) {
		if i, ok := index[key]; ok {
			groups[i].fields = append(groups[i].fields, f)
			return
		}
		index[key] = len(groups)
		groups = append(groups, fieldGroup{key: key, fields: []*ast.Field{f}})
	}
	merge := func(sub []fieldGroup) {
		for _, g := range sub {
			for _, f := range g.fields {
				add(g.key, f)
			}
		}
	}

	for _, s := range sel {
		switch s := s.(type) {
		case *ast.Field:
			if !e.included(s.Directives) {
				continue
			}
			key := s.Alias
			if key == "" {
				key = s.Name
			}
			add(key, s)
		case *ast.InlineFragment:
			if !e.included(s.Directives) || !e.applies(obj, s.TypeCondition) {
				continue
			}
			merge(e.collectFields(obj, s.SelectionSet, visited))
		case *ast.FragmentSpread:
			if !e.included(s.Directives) || visited[s.Name] || s.Definition == nil {
				continue
			}
			visited[s.Name] = true
			if !e.applies(obj, s.Definition.TypeCondition) {
				continue
			}
			merge(e.collectFields(obj, s.Definition.SelectionSet, visited))
		}
	}
	return groups
}

func (e *executor) included(dirs ast.DirectiveList) bool {
	if d := dirs.ForName("skip"); d != nil {
		if v, _ := d.ArgumentMap(e.vars)["if"].(bool); v {
			return false
		}
	}
	if d := dirs.ForName("include"); d != nil {
		if v, _ := d.ArgumentMap(e.vars)["if"].(bool); !v {
			return false
		}
	}
	return true
}

func (e *executor) applies(obj *ast.Definition, cond string) bool {
	if cond == "" || cond == obj.Name {
		return true
	}
	def := e.schema.Types[cond]
	if def == nil {
		return false
	}
	for _, pt := range e.schema.GetPossibleTypes(def) {
		if pt.Name == obj.Name {
			return true
		}
	}
	return false
}

// resolveField computes the raw value of one field on every parent. Loaders
// are called once with every parent; resolvers and default resolution run
// per parent.
func (e *executor) resolveField(obj *ast.Definition, f *ast.Field, def *ast.FieldDefinition, parents []goja.Value, paths []ast.Path) ([]goja.Value, []bool) {
	values := make([]goja.Value, len(parents))
	errored := make([]bool, len(parents))
	args := f.ArgumentMap(e.vars)

	fail := func(i int, err error) {
		errored[i] = true
		values[i] = goja.Null()
		ge := &gqlerror.Error{Message: errMessage(err), Path: paths[i]}
		if f.Position != nil {
			ge.Locations = []gqlerror.Location{{Line: f.Position.Line, Column: f.Position.Column}}
		}
		e.errs = append(e.errs, ge)
	}

	if loader, ok := e.loaderFor(obj.Name, f.Name); ok && obj != e.rootType() {
		queries := e.rt.NewArray()
		for i, p := range parents {
			q := e.rt.NewObject()
			q.Set("obj", p)
			q.Set("params", e.jsValue(args))
			queries.Set(strconv.Itoa(i), q)
		}
		res, err := e.vm.Call(loader, goja.Undefined(), queries, e.ctx)
		if err == nil {
			arr, ok := res.(*goja.Object)
			if !ok || arr.Get("length") == nil || int(arr.Get("length").ToInteger()) != len(parents) {
				err = fmt.Errorf("loader %s.%s must return an array with one result per query", obj.Name, f.Name)
			} else {
				for i := range parents {
					values[i] = arr.Get(strconv.Itoa(i))
				}
				return values, errored
			}
		}
		for i := range parents {
			fail(i, err)
		}
		return values, errored
	}

	resolver, hasResolver := e.resolverFor(obj.Name, f.Name)
	for i, p := range parents {
		info := e.info(obj, f, def, paths[i])
		var v goja.Value
		var err error
		switch {
		case hasResolver:
			v, err = e.vm.Call(resolver, goja.Undefined(), p, e.jsValue(args), e.ctx, info)
		default:
			v, err = e.defaultResolve(p, f.Name, args, info)
		}
		if err != nil {
			fail(i, err)
			continue
		}
		values[i] = v
	}
	return values, errored
}

func (e *executor) rootType() *ast.Definition {
	if e.op.Operation == ast.Mutation {
		return e.schema.Mutation
	}
	return e.schema.Query
}

func (e *executor) resolverFor(typ, field string) (goja.Value, bool) {
	v, ok := jsrt.Lookup(e.set.Resolvers, typ, field)
	if !ok {
		// { resolve } objects are trees after the merge.
		v, ok = jsrt.Lookup(e.set.Resolvers, typ, field, "resolve")
	}
	if !ok {
		return nil, false
	}
	if _, isFn := goja.AssertFunction(v); isFn {
		return v, true
	}
	return nil, false
}

func (e *executor) loaderFor(typ, field string) (goja.Value, bool) {
	if v, ok := jsrt.Lookup(e.set.Loaders, typ, field); ok {
		if _, isFn := goja.AssertFunction(v); isFn {
			return v, true
		}
		return nil, false
	}
	// { loader, opts } entries are trees after the merge.
	if v, ok := jsrt.Lookup(e.set.Loaders, typ, field, "loader"); ok {
		if _, isFn := goja.AssertFunction(v); isFn {
			return v, true
		}
	}
	return nil, false
}

func (e *executor) defaultResolve(parent goja.Value, name string, args map[string]any, info goja.Value) (goja.Value, error) {
	obj, ok := parent.(*goja.Object)
	if !ok {
		return goja.Undefined(), nil
	}
	v := obj.Get(name)
	if v == nil {
		return goja.Undefined(), nil
	}
	if _, isFn := goja.AssertFunction(v); isFn {
		return e.vm.Call(v, obj, e.jsValue(args), e.ctx, info)
	}
	return e.vm.Await(v)
}

func (e *executor) info(obj *ast.Definition, f *ast.Field, def *ast.FieldDefinition, path ast.Path) goja.Value {
	info := e.rt.NewObject()
	info.Set("fieldName", f.Name)
	info.Set("parentType", obj.Name)
	info.Set("returnType", def.Type.String())
	info.Set("path", path.String())
	info.Set("operation", string(e.op.Operation))
	info.Set("operationName", e.op.Name)
	return info
}

// jsValue converts a Go value into native JavaScript values.
func (e *executor) jsValue(v any) goja.Value {
	data, err := json.Marshal(v)
	if err != nil {
		return e.rt.ToValue(v)
	}
	parse, _ := goja.AssertFunction(e.rt.Get("JSON").ToObject(e.rt).Get("parse"))
	out, err := parse(goja.Undefined(), e.rt.ToValue(string(data)))
	if err != nil {
		return e.rt.ToValue(v)
	}
	return out
}

func errMessage(err error) string {
	return jsrt.Message(err)
}

type invalidValue struct{}

// invalid marks a non-null violation that must null the nearest nullable parent.
var invalid = &invalidValue{}

// complete converts raw values to response values for type t.
func (e *executor) complete(t *ast.Type, fields []*ast.Field, values []goja.Value, errored []bool, paths []ast.Path) ([]any, []bool) {
	out, nulled := e.completeNullable(t, fields, values, errored, paths)
	if !t.NonNull {
		return out, nulled
	}
	for i, v := range out {
		if v != nil {
			continue
		}
		if !errored[i] && !nulled[i] {
			e.errs = append(e.errs, &gqlerror.Error{
				Message: fmt.Sprintf("Cannot return null for non-nullable field %s", fieldName(fields[0])),
				Path:    paths[i],
			})
		}
		out[i] = invalid
		nulled[i] = true
	}
	return out, nulled
}

func fieldName(f *ast.Field) string {
	if f.ObjectDefinition != nil {
		return f.ObjectDefinition.Name + "." + f.Name
	}
	return f.Name
}

func isNullish(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}

func (e *executor) completeNullable(t *ast.Type, fields []*ast.Field, values []goja.Value, errored []bool, paths []ast.Path) ([]any, []bool) {
	out := make([]any, len(values))
	nulled := make([]bool, len(values))

	if t.Elem != nil {
		return e.completeList(t, fields, values, errored, paths)
	}

	def := e.schema.Types[t.NamedType]
	if def == nil {
		return out, nulled
	}

	switch def.Kind {
	case ast.Scalar, ast.Enum:
		for i, v := range values {
			if isNullish(v) {
				continue
			}
			s, err := serialize(def, v)
			if err != nil {
				e.errs = append(e.errs, &gqlerror.Error{Message: errMessage(err), Path: paths[i]})
				nulled[i] = true
				continue
			}
			out[i] = s
		}
		return out, nulled
	}

	// Object, interface and union values are grouped by concrete type and
	// executed together so loaders see every sibling at once.
	sub := mergeSelections(fields)
	type bucket struct {
		idx     []int
		parents []goja.Value
		paths   []ast.Path
	}
	buckets := map[string]*bucket{}
	var order []string
	for i, v := range values {
		if isNullish(v) {
			continue
		}
		concrete, err := e.concreteType(def, v)
		if err != nil {
			e.errs = append(e.errs, &gqlerror.Error{Message: errMessage(err), Path: paths[i]})
			nulled[i] = true
			continue
		}
		b := buckets[concrete.Name]
		if b == nil {
			b = &bucket{}
			buckets[concrete.Name] = b
			order = append(order, concrete.Name)
		}
		b.idx = append(b.idx, i)
		b.parents = append(b.parents, v)
		b.paths = append(b.paths, paths[i])
	}
	for _, name := range order {
		b := buckets[name]
		objs, subNulled := e.executeFields(e.schema.Types[name], b.parents, sub, b.paths)
		for j, i := range b.idx {
			if objs[j] == nil {
				nulled[i] = subNulled[j]
				continue
			}
			out[i] = objs[j]
		}
	}
	return out, nulled
}

func (e *executor) completeList(t *ast.Type, fields []*ast.Field, values []goja.Value, errored []bool, paths []ast.Path) ([]any, []bool) {
	out := make([]any, len(values))
	nulled := make([]bool, len(values))

	var flat []goja.Value
	var flatPaths []ast.Path
	owner := []int{}
	for i, v := range values {
		if isNullish(v) {
			continue
		}
		arr, ok := v.(*goja.Object)
		if !ok || arr.ClassName() != "Array" {
			e.errs = append(e.errs, &gqlerror.Error{Message: "expected a list for " + fieldName(fields[0]), Path: paths[i]})
			nulled[i] = true
			continue
		}
		n := int(arr.Get("length").ToInteger())
		out[i] = make([]any, 0, n)
		for j := 0; j < n; j++ {
			flat = append(flat, arr.Get(strconv.Itoa(j)))
			flatPaths = append(flatPaths, appendPath(paths[i], ast.PathIndex(j)))
			owner = append(owner, i)
		}
	}

	items, _ := e.complete(t.Elem, fields, flat, make([]bool, len(flat)), flatPaths)
	for k, item := range items {
		i := owner[k]
		if nulled[i] {
			continue
		}
		if item == invalid {
			out[i] = nil
			nulled[i] = true
			continue
		}
		out[i] = append(out[i].([]any), item)
	}
	return out, nulled
}

func mergeSelections(fields []*ast.Field) ast.SelectionSet {
	if len(fields) == 1 {
		return fields[0].SelectionSet
	}
	var sel ast.SelectionSet
	for _, f := range fields {
		sel = append(sel, f.SelectionSet...)
	}
	return sel
}

func (e *executor) concreteType(def *ast.Definition, v goja.Value) (*ast.Definition, error) {
	if def.Kind == ast.Object {
		return def, nil
	}
	var name string
	if fn, ok := e.resolverFor(def.Name, "__resolveType"); ok {
		res, err := e.vm.Call(fn, goja.Undefined(), v, e.ctx)
		if err != nil {
			return nil, err
		}
		name = res.String()
	} else if obj, ok := v.(*goja.Object); ok {
		if tn := obj.Get("__typename"); tn != nil && !goja.IsUndefined(tn) {
			name = tn.String()
		}
	}
	if name == "" {
		possible := e.schema.GetPossibleTypes(def)
		if len(possible) == 1 {
			return possible[0], nil
		}
		return nil, fmt.Errorf("cannot resolve the concrete type of %s: add __typename or a __resolveType resolver", def.Name)
	}
	concrete := e.schema.Types[name]
	if concrete == nil || !e.applies(concrete, def.Name) {
		return nil, fmt.Errorf("%q is not a possible type of %s", name, def.Name)
	}
	return concrete, nil
}

func serialize(def *ast.Definition, v goja.Value) (any, error) {
	exported := v.Export()
	switch def.Name {
	case "Int":
		switch n := exported.(type) {
		case int64:
			return n, nil
		case float64:
			if n != math.Trunc(n) || n > math.MaxInt32 || n < math.MinInt32 {
				return nil, fmt.Errorf("Int cannot represent value %v", n)
			}
			return int64(n), nil
		}
		return nil, fmt.Errorf("Int cannot represent value %v", exported)
	case "Float":
		switch n := exported.(type) {
		case int64:
			return float64(n), nil
		case float64:
			return n, nil
		}
		return nil, fmt.Errorf("Float cannot represent value %v", exported)
	case "String", "ID":
		return v.String(), nil
	case "Boolean":
		if b, ok := exported.(bool); ok {
			return b, nil
		}
		return nil, fmt.Errorf("Boolean cannot represent value %v", exported)
	}
	if def.Kind == ast.Enum {
		s := v.String()
		if def.EnumValues.ForName(s) == nil {
			return nil, fmt.Errorf("%q is not a value of enum %s", s, def.Name)
		}
		return s, nil
	}
	if obj, ok := v.(*goja.Object); ok {
		data, err := obj.MarshalJSON()
		if err != nil {
			return nil, err
		}
		return json.RawMessage(data), nil
	}
	return exported, nil
}
