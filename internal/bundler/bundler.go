// Package bundler compiles TypeScript and JavaScript sources into the
// artifacts the rest of fastivite loads: per-file CommonJS modules for the
// embedded runtime, hashed browser bundles, the SSR entry and the final
// server bundle.
//
// The only implementation, ESBuild, runs esbuild in process.
package bundler

import (
	"context"
)

// HostModule is the import specifier served by the embedded runtime. It is
// always left external so compiled modules share one copy.
const HostModule = "fastivite"

// Bundler is the set of compile operations fastivite needs.
type Bundler interface {
	// CompileModule compiles one entry to one CommonJS file.
	CompileModule(ctx context.Context, opts CompileOptions) error

	// BuildClient bundles the module scripts referenced by the HTML shell.
	BuildClient(ctx context.Context, opts ClientOptions) (*ClientResult, error)

	// BuildSSR bundles the SSR entry and returns the written file.
	BuildSSR(ctx context.Context, opts SSROptions) (string, error)

	// BundleServer bundles a synthesized server entry into one file.
	BundleServer(ctx context.Context, opts ServerBundleOptions) error

	// TransformAsset compiles a source file for the browser during dev.
	TransformAsset(ctx context.Context, root, file string) ([]byte, string, error)
}

// CompileOptions configures CompileModule.
type CompileOptions struct {
	// Entry is the absolute source path.
	Entry string

	// Outfile is the absolute artifact path. Parent directories are created.
	Outfile string

	// Bundle inlines imported modules. Without it only the entry is transpiled.
	Bundle bool

	Minify bool

	// External lists extra import specifiers left unresolved.
	External []string
}

// ClientOptions configures BuildClient.
type ClientOptions struct {
	// Root is the project root that shell script URLs resolve against.
	Root string

	// Index is the HTML shell path.
	Index string

	// OutDir receives index.html, assets/ and manifest.json.
	OutDir string

	// Base prefixes every emitted asset URL.
	Base string

	Minify bool

	// PublicDir is copied verbatim into OutDir when it exists.
	PublicDir string
}

// ClientResult describes a finished client build.
type ClientResult struct {
	// IndexFile is the rewritten HTML shell.
	IndexFile string

	// Manifest maps each entry (relative to Root) to its emitted files.
	Manifest map[string]ManifestEntry

	// Files lists every written file relative to OutDir.
	Files []string
}

// ManifestEntry is one record of manifest.json.
type ManifestEntry struct {
	File string   `json:"file"`
	CSS  []string `json:"css,omitempty"`
}

// SSROptions configures BuildSSR.
type SSROptions struct {
	Entry  string
	OutDir string
	Minify bool
}

// ServerBundleOptions configures BundleServer.
type ServerBundleOptions struct {
	Entry   string
	Outfile string
	Minify  bool

	// ResolveDir is where bare imports in Entry are resolved from.
	ResolveDir string

	External []string
}
