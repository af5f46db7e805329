// Package templates provides the project scaffolds used by fastivite create.
//
// # Available Templates
//
//   - react: React SSR app with an API route (default)
//   - graphql: the react template plus a GraphQL schema, resolver, loader
//     and context
//   - minimal: just an API route
//
// # Usage
//
//	tmpl, err := templates.Get("react")
//	if err != nil {
//	    return err
//	}
//	if err := tmpl.Create(projectDir, cfg); err != nil {
//	    return err
//	}
//
// # Template Variables
//
//	{{.ProjectName}}     - Name of the project
//	{{.Description}}     - Project description
package templates
