package bundler

import (
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/fastivite/fastivite/internal/errors"
)

// ESBuild implements Bundler with the esbuild Go API.
type ESBuild struct {
	// Logger receives warnings. Defaults to slog.Default().
	Logger *slog.Logger

	// OnCompile, when set, is called after every bundler invocation.
	OnCompile func(kind, entry string, d time.Duration, err error)
}

// NewESBuild returns an ESBuild bundler.
func NewESBuild() *ESBuild {
	return &ESBuild{Logger: slog.Default().With("component", "bundler")}
}

var _ Bundler = (*ESBuild)(nil)

// assetLoaders covers the static imports application code commonly makes.
var assetLoaders = map[string]api.Loader{
	".png":   api.LoaderFile,
	".jpg":   api.LoaderFile,
	".jpeg":  api.LoaderFile,
	".gif":   api.LoaderFile,
	".svg":   api.LoaderFile,
	".webp":  api.LoaderFile,
	".woff":  api.LoaderFile,
	".woff2": api.LoaderFile,
}

func minify(opts *api.BuildOptions, on bool) {
	opts.MinifyWhitespace = on
	opts.MinifyIdentifiers = on
	opts.MinifySyntax = on
}

func (b *ESBuild) run(ctx context.Context, kind, entry string, opts api.BuildOptions) (api.BuildResult, error) {
	if err := ctx.Err(); err != nil {
		return api.BuildResult{}, err
	}
	opts.LogLevel = api.LogLevelSilent
	if opts.Target == 0 {
		opts.Target = api.ES2017
	}

	start := time.Now()
	result := api.Build(opts)
	var err error
	if len(result.Errors) > 0 {
		err = compileError(entry, result.Errors)
	}
	if b.OnCompile != nil {
		b.OnCompile(kind, entry, time.Since(start), err)
	}
	if err == nil && len(result.Warnings) > 0 && b.Logger != nil {
		for _, w := range result.Warnings {
			b.Logger.Warn(w.Text, "entry", entry, "location", locationString(w.Location))
		}
	}
	return result, err
}

// CompileModule implements Bundler.
func (b *ESBuild) CompileModule(ctx context.Context, opts CompileOptions) error {
	bo := api.BuildOptions{
		EntryPoints:   []string{opts.Entry},
		Outfile:       opts.Outfile,
		Bundle:        opts.Bundle,
		Write:         true,
		Format:        api.FormatCommonJS,
		Platform:      api.PlatformNode,
		External:      append([]string{HostModule}, opts.External...),
		AbsWorkingDir: filepath.Dir(opts.Entry),
		Loader:        map[string]api.Loader{".css": api.LoaderEmpty},
	}
	minify(&bo, opts.Minify)
	_, err := b.run(ctx, "module", opts.Entry, bo)
	return err
}

// BuildSSR implements Bundler.
func (b *ESBuild) BuildSSR(ctx context.Context, opts SSROptions) (string, error) {
	out := filepath.Join(opts.OutDir, "entry-server.js")
	bo := api.BuildOptions{
		EntryPoints:   []string{opts.Entry},
		Outfile:       out,
		Bundle:        true,
		Write:         true,
		Format:        api.FormatCommonJS,
		Platform:      api.PlatformNode,
		External:      []string{HostModule},
		AbsWorkingDir: filepath.Dir(opts.Entry),
		Define:        map[string]string{"process.env.NODE_ENV": `"production"`},
		Loader:        ssrLoaders(),
	}
	minify(&bo, opts.Minify)
	if _, err := b.run(ctx, "ssr", opts.Entry, bo); err != nil {
		return "", err
	}
	return out, nil
}

func ssrLoaders() map[string]api.Loader {
	loaders := map[string]api.Loader{".css": api.LoaderEmpty}
	for ext := range assetLoaders {
		loaders[ext] = api.LoaderDataURL
	}
	return loaders
}

// BundleServer implements Bundler.
func (b *ESBuild) BundleServer(ctx context.Context, opts ServerBundleOptions) error {
	dir := opts.ResolveDir
	if dir == "" {
		dir = filepath.Dir(opts.Entry)
	}
	bo := api.BuildOptions{
		EntryPoints:   []string{opts.Entry},
		Outfile:       opts.Outfile,
		Bundle:        true,
		Write:         true,
		Format:        api.FormatCommonJS,
		Platform:      api.PlatformNode,
		External:      append([]string{HostModule}, opts.External...),
		AbsWorkingDir: dir,
		Define:        map[string]string{"process.env.NODE_ENV": `"production"`},
		Loader:        ssrLoaders(),
	}
	minify(&bo, opts.Minify)
	_, err := b.run(ctx, "server", opts.Entry, bo)
	return err
}

// TransformAsset implements Bundler. Scripts are bundled with their imports
// and an inline source map. CSS pulled in by a script is injected at runtime
// through a style tag.
func (b *ESBuild) TransformAsset(ctx context.Context, root, file string) ([]byte, string, error) {
	bo := api.BuildOptions{
		EntryPoints:   []string{file},
		Outdir:        filepath.Join(root, ".fastivite-dev"),
		Bundle:        true,
		Write:         false,
		Format:        api.FormatESModule,
		Platform:      api.PlatformBrowser,
		AbsWorkingDir: root,
		Sourcemap:     api.SourceMapInline,
		Define:        map[string]string{"process.env.NODE_ENV": `"development"`},
		Loader:        map[string]api.Loader{},
		Target:        api.ES2020,
	}
	for ext := range assetLoaders {
		bo.Loader[ext] = api.LoaderDataURL
	}
	result, err := b.run(ctx, "asset", file, bo)
	if err != nil {
		return nil, "", err
	}

	var js, css []byte
	for _, f := range result.OutputFiles {
		switch filepath.Ext(f.Path) {
		case ".css":
			css = f.Contents
		case ".js":
			js = f.Contents
		}
	}
	if strings.EqualFold(filepath.Ext(file), ".css") {
		return css, "text/css; charset=utf-8", nil
	}
	if len(css) > 0 {
		js = append(js, []byte(injectStyle(file, css))...)
	}
	return js, "text/javascript; charset=utf-8", nil
}

func injectStyle(id string, css []byte) string {
	idJSON, _ := json.Marshal(id)
	cssJSON, _ := json.Marshal(string(css))
	return "\n;(() => { const id = " + string(idJSON) + "; let el = document.querySelector(`style[data-fastivite-id=\"${id}\"]`);" +
		" if (!el) { el = document.createElement('style'); el.dataset.fastiviteId = id; document.head.appendChild(el); }" +
		" el.textContent = " + string(cssJSON) + "; })();\n"
}

type metafile struct {
	Outputs map[string]struct {
		EntryPoint string `json:"entryPoint"`
		CSSBundle  string `json:"cssBundle"`
	} `json:"outputs"`
}

// BuildClient implements Bundler.
func (b *ESBuild) BuildClient(ctx context.Context, opts ClientOptions) (*ClientResult, error) {
	shell, err := os.ReadFile(opts.Index)
	if err != nil {
		return nil, errors.New("E202").WithDetail(opts.Index).Wrap(err)
	}
	if opts.OutDir, err = filepath.Abs(opts.OutDir); err != nil {
		return nil, errors.New("E204").Wrap(err)
	}
	srcs := ShellScripts(string(shell))
	if len(srcs) == 0 {
		return nil, errors.New("E205").WithDetail(opts.Index)
	}

	entries := make([]string, 0, len(srcs))
	for _, src := range srcs {
		entries = append(entries, filepath.Join(opts.Root, filepath.FromSlash(strings.TrimPrefix(src, "/"))))
	}

	base := strings.TrimSuffix(opts.Base, "/")
	bo := api.BuildOptions{
		EntryPoints:   entries,
		Outdir:        filepath.Join(opts.OutDir, "assets"),
		Bundle:        true,
		Write:         true,
		Splitting:     true,
		Format:        api.FormatESModule,
		Platform:      api.PlatformBrowser,
		EntryNames:    "[name]-[hash]",
		ChunkNames:    "chunk-[hash]",
		AssetNames:    "[name]-[hash]",
		PublicPath:    base + "/assets/",
		Metafile:      true,
		AbsWorkingDir: opts.Root,
		Define:        map[string]string{"process.env.NODE_ENV": `"production"`},
		Loader:        assetLoaders,
		Target:        api.ES2020,
	}
	minify(&bo, opts.Minify)
	result, err := b.run(ctx, "client", opts.Index, bo)
	if err != nil {
		return nil, err
	}

	var meta metafile
	if err := json.Unmarshal([]byte(result.Metafile), &meta); err != nil {
		return nil, errors.New("E204").WithDetail("metafile").Wrap(err)
	}

	res := &ClientResult{Manifest: make(map[string]ManifestEntry)}
	rel := func(p string) string {
		abs := p
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(opts.Root, p)
		}
		r, err := filepath.Rel(opts.OutDir, abs)
		if err != nil {
			return filepath.ToSlash(p)
		}
		return filepath.ToSlash(r)
	}
	for out, o := range meta.Outputs {
		if strings.HasSuffix(out, ".map") {
			continue
		}
		res.Files = append(res.Files, rel(out))
		if o.EntryPoint == "" {
			continue
		}
		entry := ManifestEntry{File: rel(out)}
		if o.CSSBundle != "" {
			entry.CSS = []string{rel(o.CSSBundle)}
		}
		res.Manifest[filepath.ToSlash(o.EntryPoint)] = entry
	}
	sort.Strings(res.Files)

	replace := make(map[string]string, len(srcs))
	var headTags []string
	for _, src := range srcs {
		key := strings.TrimPrefix(path.Clean("/"+src), "/")
		entry, ok := res.Manifest[key]
		if !ok {
			continue
		}
		replace[src] = base + "/" + entry.File
		for _, css := range entry.CSS {
			headTags = append(headTags, `<link rel="stylesheet" href="`+base+"/"+css+`">`)
		}
	}

	if opts.PublicDir != "" {
		copied, err := copyDir(opts.PublicDir, opts.OutDir)
		if err != nil {
			return nil, errors.New("E204").WithDetail("copying " + opts.PublicDir).Wrap(err)
		}
		res.Files = append(res.Files, copied...)
	}

	res.IndexFile = filepath.Join(opts.OutDir, "index.html")
	html := RewriteShell(string(shell), replace, headTags)
	if err := os.WriteFile(res.IndexFile, []byte(html), 0644); err != nil {
		return nil, errors.New("E204").Wrap(err)
	}

	data, _ := json.MarshalIndent(res.Manifest, "", "  ")
	if err := os.WriteFile(filepath.Join(opts.OutDir, "manifest.json"), data, 0644); err != nil {
		return nil, errors.New("E204").Wrap(err)
	}
	res.Files = append(res.Files, "index.html", "manifest.json")
	return res, nil
}

// copyDir copies src into dst and returns the copied paths relative to dst.
// A missing src copies nothing.
func copyDir(src, dst string) ([]string, error) {
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return nil, nil
	}
	var copied []string
	err := filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if err := copyFile(p, target); err != nil {
			return err
		}
		copied = append(copied, filepath.ToSlash(rel))
		return nil
	})
	return copied, err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// ContentType returns the MIME type served for a built file.
func ContentType(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

func compileError(entry string, msgs []api.Message) *errors.FastiviteError {
	err := errors.New("E201").
		WithDetail(strings.TrimSpace(strings.Join(api.FormatMessages(msgs, api.FormatMessagesOptions{
			Kind: api.ErrorMessage,
		}), "\n")))
	if loc := msgs[0].Location; loc != nil {
		err.WithLineText(loc.File, loc.Line, loc.Column+1, loc.LineText)
	} else {
		err.Location = &errors.Location{File: entry}
	}
	return err
}

func locationString(loc *api.Location) string {
	if loc == nil {
		return ""
	}
	l := errors.Location{File: loc.File, Line: loc.Line, Column: loc.Column + 1}
	return l.String()
}
