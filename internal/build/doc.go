// Package build produces the deployable output of a fastivite project.
//
// The steps run in order and the first failure aborts:
//   - browser bundles for every module script in the HTML shell
//   - the SSR entry
//   - the GraphQL schema and every resolver, loader and context module
//   - every API module, with apis.json mapping routes to artifacts
//   - the server entry, synthesized from an embedded template
//   - server.cjs, the server entry bundled with everything it imports
//
// Intermediates are removed afterwards.
//
// # Usage
//
//	builder := build.New(cfg, build.Options{Minify: true})
//	result, err := builder.Build(ctx)
//	if err != nil {
//	    return err
//	}
//	fmt.Printf("Built in %s\n", result.Duration)
//
// # Output Structure
//
//	dist/
//	├── server.cjs          # API routes, GraphQL modules and render
//	├── schema.gql          # when GraphQL is enabled
//	└── client/
//	    ├── index.html      # HTML shell with hashed script URLs
//	    ├── manifest.json
//	    └── assets/
//
// # Server template
//
// The template has one marker per slot, written /*@fastivite:name*/. A
// marker that is missing, repeated or unknown fails the build with E203.
package build
