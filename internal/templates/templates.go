package templates

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"text/template"

	"github.com/fastivite/fastivite/internal/errors"
)

// DefaultTemplate is used when none is named.
const DefaultTemplate = "react"

// Config contains template configuration.
type Config struct {
	// ProjectName is the name of the project.
	ProjectName string

	// Description is a short project description.
	Description string
}

// Template represents a project template.
type Template struct {
	// Name is the template name.
	Name string

	// Description describes the template.
	Description string

	// Files is a map of relative paths to file contents.
	Files map[string]string
}

var templates = map[string]*Template{
	"react":   reactTemplate(),
	"graphql": graphqlTemplate(),
	"minimal": minimalTemplate(),
}

// Get returns a template by name.
func Get(name string) (*Template, error) {
	tmpl, ok := templates[name]
	if !ok {
		return nil, errors.New("E111").
			WithDetail("Template '" + name + "' not found").
			WithSuggestion("Available templates: graphql, minimal, react")
	}
	return tmpl, nil
}

// List returns all template names, sorted.
func List() []string {
	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var validName = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// ValidateName checks that name is usable as a directory and package name.
func ValidateName(name string) error {
	if len(name) > 214 || !validName.MatchString(name) {
		return errors.New("E112").
			WithDetail("Got '" + name + "'")
	}
	return nil
}

// Scaffold validates name, refuses an existing dir and renders the template
// named tmplName into dir.
func Scaffold(dir, tmplName string, cfg Config) error {
	if err := ValidateName(cfg.ProjectName); err != nil {
		return err
	}
	tmpl, err := Get(tmplName)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); err == nil {
		return errors.New("E110").WithDetail(dir)
	}
	return tmpl.Create(dir, cfg)
}

// Create writes the template's files into dir.
func (t *Template) Create(dir string, cfg Config) error {
	paths := make([]string, 0, len(t.Files))
	for p := range t.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, relPath := range paths {
		tmpl, err := template.New(relPath).Parse(t.Files[relPath])
		if err != nil {
			return errors.Newf(errors.CategoryCLI, "invalid template %s: %v", relPath, err)
		}

		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, cfg); err != nil {
			return errors.Newf(errors.CategoryCLI, "template execute error %s: %v", relPath, err)
		}

		fullPath := filepath.Join(dir, filepath.FromSlash(relPath))
		if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
			return errors.New("E113").WithDetail(fullPath).Wrap(err)
		}
		if err := os.WriteFile(fullPath, buf.Bytes(), 0644); err != nil {
			return errors.New("E113").WithDetail(fullPath).Wrap(err)
		}
	}
	return nil
}

const gitignore = `node_modules
dist
build
.env.local
`

const tsconfig = `{
  "compilerOptions": {
    "target": "ES2020",
    "module": "ESNext",
    "moduleResolution": "Bundler",
    "jsx": "react-jsx",
    "strict": true,
    "skipLibCheck": true
  },
  "include": ["src"]
}
`

const indexHTML = `<!doctype html>
<html lang="en">
  <head>
    <meta charset="UTF-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1.0" />
    <!--app-head-->
  </head>
  <body>
    <div id="app"><!--app-html--></div>
    <script type="module" src="/src/entry-client.tsx"></script>
  </body>
</html>
`

const usersAPI = `import { createApiPlugin } from 'fastivite'

const users = [{ id: '1', name: 'Ada' }]

export default createApiPlugin((app, path) => {
  app.get(path, async () => users)
  app.get(path + '/:id', async (req, reply) => {
    const user = users.find((u) => u.id === req.params.id)
    if (!user) {
      reply.code(404)
      return { error: 'not found' }
    }
    return user
  })
})
`

const entryServer = `import { renderToString } from 'react-dom/server'
import { App } from './App'

export function render({ url }: { url: string; host?: string }) {
  return {
    head: '<title>{{.ProjectName}}</title>',
    html: renderToString(<App url={url} />),
  }
}
`

const entryClient = `import { hydrateRoot } from 'react-dom/client'
import { App } from './App'

hydrateRoot(document.getElementById('app')!, <App url={location.pathname} />)
`

const app = `export function App({ url }: { url: string }) {
  return (
    <main>
      <h1>{{.ProjectName}}</h1>
      <p>{{.Description}}</p>
      <p>You are at {url || '/'}</p>
    </main>
  )
}
`

func packageJSON(extra string) string {
	return `{
  "name": "{{.ProjectName}}",
  "private": true,
  "description": "{{.Description}}",
  "scripts": {
    "dev": "fastivite dev` + extra + `",
    "build": "fastivite build` + extra + `",
    "preview": "fastivite preview"
  },
  "dependencies": {
    "react": "^18.3.1",
    "react-dom": "^18.3.1"
  },
  "devDependencies": {
    "@types/react": "^18.3.3",
    "@types/react-dom": "^18.3.0",
    "typescript": "^5.5.0"
  }
}
`
}

func reactTemplate() *Template {
	return &Template{
		Name:        "react",
		Description: "React SSR app with an API route",
		Files: map[string]string{
			".gitignore":             gitignore,
			"package.json":           packageJSON(""),
			"tsconfig.json":          tsconfig,
			"fastivite.json":         "{\n  \"dev\": { \"port\": 6754 }\n}\n",
			"index.html":             indexHTML,
			"src/App.tsx":            app,
			"src/entry-server.tsx":   entryServer,
			"src/entry-client.tsx":   entryClient,
			"src/pages/users/api.ts": usersAPI,
			"public/robots.txt":      "User-agent: *\nAllow: /\n",
		},
	}
}

func graphqlTemplate() *Template {
	t := reactTemplate()
	files := make(map[string]string, len(t.Files)+6)
	for k, v := range t.Files {
		files[k] = v
	}
	files["package.json"] = packageJSON(" --graphql")
	files["fastivite.json"] = `{
  "dev": { "port": 6754 },
  "graphql": {
    "enabled": true,
    "codegen": true,
    "codegenOut": "./src/graphql/gen.ts",
    "operationCodegen": false
  }
}
`
	files["src/graphql/schema/schema.gql"] = `type Query {
  me: User
  users: [User!]!
}

type User {
  id: ID!
  name: String!
  friends: [User!]!
}
`
	files["src/users/user.resolver.ts"] = `const users = [
  { id: '1', name: 'Ada' },
  { id: '2', name: 'Grace' },
]

export default {
  Query: {
    me: (_root: unknown, _args: unknown, ctx: { userId?: string }) =>
      users.find((u) => u.id === ctx.userId) ?? null,
    users: () => users,
  },
}
`
	files["src/users/user.loader.ts"] = `type Query = { obj: { id: string } }

export default {
  User: {
    friends: async (queries: Query[]) =>
      queries.map(({ obj }) => (obj.id === '1' ? [{ id: '2', name: 'Grace' }] : [])),
  },
}
`
	files["src/app.context.ts"] = `export default async (req: { headers: Record<string, string> }) => ({
  userId: req.headers['x-user-id'],
})
`
	return &Template{
		Name:        "graphql",
		Description: "React SSR app with a GraphQL endpoint",
		Files:       files,
	}
}

func minimalTemplate() *Template {
	return &Template{
		Name:        "minimal",
		Description: "Just an API route",
		Files: map[string]string{
			".gitignore":     gitignore,
			"fastivite.json": "{\n  \"dev\": { \"entryServer\": \"./src/entry-server.ts\" }\n}\n",
			"package.json": `{
  "name": "{{.ProjectName}}",
  "private": true,
  "description": "{{.Description}}",
  "scripts": {
    "dev": "fastivite dev"
  }
}
`,
			"index.html": `<!doctype html>
<html>
  <head><!--app-head--></head>
  <body><!--app-html--></body>
</html>
`,
			"src/entry-server.ts": `export function render({ url }: { url: string }) {
  return { head: '<title>{{.ProjectName}}</title>', html: '<p>' + (url || '/') + '</p>' }
}
`,
			"src/pages/api.ts": `import { createApiPlugin } from 'fastivite'

export default createApiPlugin((app, path) => {
  app.get(path + '/health', async () => ({ ok: true }))
})
`,
		},
	}
}
