package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/fastivite/fastivite/internal/errors"
)

const (
	// ConfigFileName is the name of the JSON configuration file.
	ConfigFileName = "fastivite.json"

	// TOMLConfigFileName is the TOML alternative to ConfigFileName.
	TOMLConfigFileName = "fastivite.toml"

	// DefaultHost is the default dev server host.
	DefaultHost = "127.0.0.1"

	// DefaultPort is the default dev server port.
	DefaultPort = 6754

	// DefaultOutDir is the default build output directory.
	DefaultOutDir = "dist"

	// DefaultBuildDir holds dev-time compiled modules.
	DefaultBuildDir = "build"
)

// Config represents a fastivite.json configuration.
type Config struct {
	Dev     DevConfig     `json:"dev" toml:"dev"`
	Build   BuildConfig   `json:"build" toml:"build"`
	API     GlobConfig    `json:"api" toml:"api"`
	GraphQL GraphQLConfig `json:"graphql" toml:"graphql"`
	Publish PublishConfig `json:"publish" toml:"publish"`

	configPath string
}

// DevConfig configures the dev server.
type DevConfig struct {
	Host        string `json:"host" toml:"host"`
	Port        int    `json:"port" toml:"port"`
	Base        string `json:"base" toml:"base"`
	Index       string `json:"index" toml:"index"`
	EntryServer string `json:"entryServer" toml:"entryServer"`
	BuildDir    string `json:"buildDir" toml:"buildDir"`

	// Public is served as-is at the site root.
	Public string `json:"public" toml:"public"`

	// Watch lists extra globs (relative to the project root) that trigger a
	// browser reload when they change.
	Watch []string `json:"watch,omitempty" toml:"watch"`
}

// BuildConfig configures production builds.
type BuildConfig struct {
	OutDir string `json:"outDir" toml:"outDir"`
	Minify bool   `json:"minify" toml:"minify"`

	// ExtraModules maps a name to a module that is compiled alongside the
	// APIs and exposed to handlers under that name.
	ExtraModules map[string]string `json:"extraModules,omitempty" toml:"extraModules"`
}

// GlobConfig is a working directory plus the glob patterns evaluated in it.
type GlobConfig struct {
	Cwd      string   `json:"cwd" toml:"cwd"`
	Patterns []string `json:"patterns" toml:"patterns"`
}

// GraphQLConfig configures the GraphQL variant.
type GraphQLConfig struct {
	Enabled   bool       `json:"enabled" toml:"enabled"`
	Path      string     `json:"path" toml:"path"`
	Schema    GlobConfig `json:"schema" toml:"schema"`
	Resolvers GlobConfig `json:"resolvers" toml:"resolvers"`
	Loaders   GlobConfig `json:"loaders" toml:"loaders"`
	Contexts  GlobConfig `json:"contexts" toml:"contexts"`

	Codegen                bool   `json:"codegen" toml:"codegen"`
	CodegenOut             string `json:"codegenOut" toml:"codegenOut"`
	OperationCodegen       bool   `json:"operationCodegen" toml:"operationCodegen"`
	OperationCodegenConfig string `json:"operationCodegenConfig" toml:"operationCodegenConfig"`
}

// PublishConfig configures uploading client assets to an S3-compatible store.
type PublishConfig struct {
	Bucket    string `json:"bucket" toml:"bucket"`
	Prefix    string `json:"prefix" toml:"prefix"`
	Region    string `json:"region" toml:"region"`
	Endpoint  string `json:"endpoint" toml:"endpoint"`
	PathStyle bool   `json:"pathStyle" toml:"pathStyle"`
}

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		Dev: DevConfig{
			Host:        DefaultHost,
			Port:        DefaultPort,
			Index:       "./index.html",
			EntryServer: "./src/entry-server.tsx",
			BuildDir:    DefaultBuildDir,
			Public:      "public",
		},
		Build: BuildConfig{
			OutDir: DefaultOutDir,
			Minify: true,
		},
		API: GlobConfig{
			Cwd:      "./src/pages",
			Patterns: []string{"**/api.ts", "**/api/index.ts"},
		},
		GraphQL: GraphQLConfig{
			Path:                   "/graphql",
			Schema:                 GlobConfig{Cwd: "./src/graphql/schema", Patterns: []string{"**/*.gql", "**/*.graphql"}},
			Resolvers:              GlobConfig{Cwd: "./src", Patterns: []string{"**/*.resolver.ts", "**/*.resolver.js"}},
			Loaders:                GlobConfig{Cwd: "./src", Patterns: []string{"**/*.loader.ts", "**/*.loader.js"}},
			Contexts:               GlobConfig{Cwd: "./src", Patterns: []string{"**/*.context.ts", "**/*.context.js"}},
			Codegen:                true,
			CodegenOut:             "./src/graphql/gen.ts",
			OperationCodegen:       true,
			OperationCodegenConfig: "./codegen.js",
		},
		Publish: PublishConfig{
			Region: "us-east-1",
		},
	}
}

// Load reads the configuration file at path. A missing file is not an
// error: defaults are returned, rooted at the file's directory.
func Load(path string) (*Config, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.New("E101").Wrap(err)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := New()
			cfg.configPath = abs
			return cfg, nil
		}
		return nil, errors.New("E101").Wrap(err)
	}

	cfg := New()
	switch strings.ToLower(filepath.Ext(abs)) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.New("E101").
				WithDetail("Failed to parse " + filepath.Base(abs) + ": " + err.Error())
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, errors.New("E101").
				WithDetail("Failed to parse " + filepath.Base(abs) + ": " + err.Error()).
				WithSuggestion("Check that fastivite.toml is valid TOML")
		}
	default:
		return nil, errors.New("E104").WithDetail("Got " + filepath.Base(abs))
	}

	cfg.configPath = abs
	cfg.applyDefaults()
	return cfg, nil
}

// Find walks up from dir looking for fastivite.json or fastivite.toml and
// loads the first one found. Without one, defaults rooted at dir are returned.
func Find(dir string) (*Config, error) {
	root, name, ok := FindProjectRoot(dir)
	if !ok {
		return Load(filepath.Join(dir, ConfigFileName))
	}
	return Load(filepath.Join(root, name))
}

// FindProjectRoot searches upward from dir for a configuration file and
// returns its directory and file name.
func FindProjectRoot(dir string) (string, string, bool) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", "", false
	}
	for {
		for _, name := range []string{ConfigFileName, TOMLConfigFileName} {
			if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
				return dir, name, true
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", "", false
		}
		dir = parent
	}
}

// SaveTo writes the configuration as JSON to path.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.New("E101").Wrap(err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.New("E113").Wrap(err)
	}
	c.configPath = path
	return nil
}

// Path returns the path the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the project root: the directory containing the config file,
// or the working directory when none was loaded.
func (c *Config) Dir() string {
	if c.configPath == "" {
		wd, _ := os.Getwd()
		return wd
	}
	return filepath.Dir(c.configPath)
}

// Abs resolves p against the project root.
func (c *Config) Abs(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Dir(), p)
}

func (c *Config) applyDefaults() {
	d := New()
	if c.Dev.Host == "" {
		c.Dev.Host = d.Dev.Host
	}
	if c.Dev.Index == "" {
		c.Dev.Index = d.Dev.Index
	}
	if c.Dev.EntryServer == "" {
		c.Dev.EntryServer = d.Dev.EntryServer
	}
	if c.Dev.BuildDir == "" {
		c.Dev.BuildDir = d.Dev.BuildDir
	}
	if c.Build.OutDir == "" {
		c.Build.OutDir = d.Build.OutDir
	}
	if c.API.Cwd == "" {
		c.API.Cwd = d.API.Cwd
	}
	if c.GraphQL.Path == "" {
		c.GraphQL.Path = d.GraphQL.Path
	}
	fillGlob(&c.GraphQL.Schema, d.GraphQL.Schema)
	fillGlob(&c.GraphQL.Resolvers, d.GraphQL.Resolvers)
	fillGlob(&c.GraphQL.Loaders, d.GraphQL.Loaders)
	fillGlob(&c.GraphQL.Contexts, d.GraphQL.Contexts)
}

func fillGlob(g *GlobConfig, def GlobConfig) {
	if g.Cwd == "" {
		g.Cwd = def.Cwd
	}
	if len(g.Patterns) == 0 {
		g.Patterns = def.Patterns
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Dev.Port < 0 || c.Dev.Port > 65535 {
		return errors.New("E102").WithDetail("Got " + strconv.Itoa(c.Dev.Port))
	}
	if len(c.API.Patterns) == 0 {
		return errors.New("E103")
	}
	if err := c.CheckOutDir(); err != nil {
		return err
	}
	if c.GraphQL.Enabled && len(c.GraphQL.Schema.Patterns) == 0 {
		return errors.New("E103").
			WithSuggestion("Set graphql.schema.patterns, e.g. [\"**/*.gql\"]")
	}
	return nil
}

// CheckOutDir reports E105 unless the build output directory lies strictly
// inside the project root.
func (c *Config) CheckOutDir() error {
	root := filepath.Clean(c.Dir())
	out := filepath.Clean(c.Abs(c.Build.OutDir))
	rel, err := filepath.Rel(root, out)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return errors.New("E105").WithDetail("Got " + out)
	}
	return nil
}

// DevAddress returns the listen address for the dev server.
func (c *Config) DevAddress() string {
	return c.Dev.Host + ":" + strconv.Itoa(c.Dev.Port)
}

// DevURL returns the URL the dev server is reachable at.
func (c *Config) DevURL() string {
	return "http://" + c.DevAddress() + c.Dev.Base
}

// LoadEnv loads .env.local then .env from dir into the process environment.
// Variables that are already set keep their value. Missing files are skipped.
func LoadEnv(dir string) error {
	for _, name := range []string{".env.local", ".env"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return errors.New("E101").
				WithDetail("Failed to parse " + name).
				Wrap(err)
		}
	}
	return nil
}

// SplitList splits comma separated flag values, dropping empty items.
// "**/api.ts, **/api/index.ts" yields two patterns.
func SplitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
