package graphql

import (
	"github.com/dop251/goja"

	"github.com/fastivite/fastivite/internal/jsrt"
	"github.com/fastivite/fastivite/internal/merge"
)

const artifactsKey = "graphql.artifacts"

// ArtifactSet is the merged resolver, loader and context modules of one VM.
type ArtifactSet struct {
	// Resolvers maps type name to field name to resolver function.
	Resolvers map[string]any

	// Loaders maps type name to field name to a loader function, or to an
	// object with a loader function.
	Loaders map[string]any

	// Contexts run in order for every request; their results are
	// deep-default-merged into the resolver context.
	Contexts []goja.Value
}

// Collect merges module default exports in the order given. Earlier modules
// win on conflicting leaves. Contexts that are not functions are skipped.
func Collect(resolvers, loaders, contexts []goja.Value) *ArtifactSet {
	set := &ArtifactSet{}

	trees := make([]map[string]any, 0, len(resolvers))
	for _, v := range resolvers {
		trees = append(trees, jsrt.ToTree(v))
	}
	set.Resolvers = merge.All(trees...)

	trees = trees[:0]
	for _, v := range loaders {
		trees = append(trees, jsrt.ToTree(v))
	}
	set.Loaders = merge.All(trees...)

	for _, c := range contexts {
		if _, ok := goja.AssertFunction(c); ok {
			set.Contexts = append(set.Contexts, c)
		}
	}
	return set
}

// Install stores set on vm for the handler to use. Only valid inside Do.
func Install(vm *jsrt.VM, set *ArtifactSet) {
	vm.Set(artifactsKey, set)
}

func installed(vm *jsrt.VM) *ArtifactSet {
	set, _ := vm.Value(artifactsKey).(*ArtifactSet)
	if set == nil {
		return &ArtifactSet{}
	}
	return set
}
