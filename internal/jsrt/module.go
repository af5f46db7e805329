package jsrt

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dop251/goja"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/fastivite/fastivite/internal/errors"
)

// HostModule is the specifier require resolves to the built-in helpers.
const HostModule = "fastivite"

// programs caches compiled programs by content hash. Programs are immutable
// and shared by every VM.
var programs, _ = lru.New[string, *goja.Program](512)

// Module is an evaluated CommonJS module.
type Module struct {
	// Path is the absolute file path, or the name given to LoadSource.
	Path string

	// Hash is the sha256 of the module source.
	Hash string

	obj *goja.Object
}

func (m *Module) exports() goja.Value {
	return m.obj.Get("exports")
}

// Exports returns module.exports.
func (m *Module) Exports() goja.Value {
	return m.exports()
}

// Default returns the default export: exports.default for compiled ES
// modules, module.exports otherwise.
func (m *Module) Default() goja.Value {
	exp := m.exports()
	obj, ok := exp.(*goja.Object)
	if !ok {
		return exp
	}
	if esm := obj.Get("__esModule"); esm != nil && esm.ToBoolean() {
		if d := obj.Get("default"); d != nil {
			return d
		}
		return goja.Undefined()
	}
	return exp
}

// Export returns the named export, or undefined.
func (m *Module) Export(name string) goja.Value {
	obj, ok := m.exports().(*goja.Object)
	if !ok {
		return goja.Undefined()
	}
	if v := obj.Get(name); v != nil {
		return v
	}
	return goja.Undefined()
}

// Load evaluates the module at path, or returns the already evaluated
// module when its content is unchanged. Only valid inside Do.
func (vm *VM) Load(path string) (*Module, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	src, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("E304").WithDetail(abs)
		}
		return nil, err
	}
	return vm.LoadSource(abs, string(src))
}

// LoadSource evaluates src as the module named name. Only valid inside Do.
func (vm *VM) LoadSource(name, src string) (*Module, error) {
	hash := hashSource(src)
	if m, ok := vm.modules[name]; ok && m.Hash == hash {
		return m, nil
	}
	dir := ""
	if filepath.IsAbs(name) {
		dir = filepath.Dir(name)
	}
	return vm.evalModule(name, dir, src)
}

// Forget drops a module so the next Load evaluates it again.
func (vm *VM) Forget(path string) {
	delete(vm.modules, path)
}

func hashSource(src string) string {
	sum := sha256.Sum256([]byte(src))
	return hex.EncodeToString(sum[:])
}

func compile(name, src string) (*goja.Program, string, error) {
	hash := hashSource(src)
	if p, ok := programs.Get(hash); ok {
		return p, hash, nil
	}
	wrapped := "(function (exports, require, module, __filename, __dirname) {" + src + "\n})"
	p, err := goja.Compile(name, wrapped, false)
	if err != nil {
		return nil, "", errors.New("E301").WithDetail(name).Wrap(err)
	}
	programs.Add(hash, p)
	return p, hash, nil
}

func (vm *VM) evalModule(name, dir, src string) (*Module, error) {
	prog, hash, err := compile(name, src)
	if err != nil {
		return nil, err
	}

	rt := vm.rt
	obj := rt.NewObject()
	exports := rt.NewObject()
	obj.Set("exports", exports)
	obj.Set("id", name)
	m := &Module{Path: name, Hash: hash, obj: obj}

	fn, err := rt.RunProgram(prog)
	if err != nil {
		return nil, errors.New("E301").WithDetail(name).Wrap(vm.wrapErr(err))
	}
	call, ok := goja.AssertFunction(fn)
	if !ok {
		return nil, errors.New("E301").WithDetail(name)
	}

	// Registered before evaluation so require cycles see partial exports.
	prev, hadPrev := vm.modules[name]
	vm.modules[name] = m
	if _, err := call(goja.Undefined(), exports, rt.ToValue(vm.require(dir)), obj, rt.ToValue(name), rt.ToValue(dir)); err != nil {
		if hadPrev {
			vm.modules[name] = prev
		} else {
			delete(vm.modules, name)
		}
		return nil, errors.New("E301").WithDetail(name).Wrap(vm.wrapErr(err))
	}
	return m, nil
}

func (vm *VM) require(dir string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		id := call.Argument(0).String()
		if id == HostModule {
			return vm.host
		}
		if !strings.HasPrefix(id, ".") && !filepath.IsAbs(id) {
			panic(vm.rt.NewGoError(errors.New("E304").Wrap(fmt.Errorf("cannot find module '%s'", id))))
		}
		path, ok := resolve(dir, id)
		if !ok {
			panic(vm.rt.NewGoError(errors.New("E304").Wrap(fmt.Errorf("cannot find module '%s' from %s", id, dir))))
		}
		m, err := vm.Load(path)
		if err != nil {
			panic(vm.rt.NewGoError(err))
		}
		return m.exports()
	}
}

func resolve(dir, id string) (string, bool) {
	base := id
	if !filepath.IsAbs(base) {
		base = filepath.Join(dir, id)
	}
	candidates := []string{base, base + ".js", base + ".cjs", filepath.Join(base, "index.js")}
	for _, c := range candidates {
		if fi, err := os.Stat(c); err == nil && !fi.IsDir() {
			return c, true
		}
	}
	return "", false
}
