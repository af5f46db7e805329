package main

import (
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/fastivite/fastivite/internal/templates"
)

func createCmd() *cobra.Command {
	var (
		template    string
		description string
		skipPrompts bool
	)

	cmd := &cobra.Command{
		Use:   "create [name]",
		Short: "Create a new fastivite project",
		Long: `Create a new fastivite project.

Templates:
  react     React SSR app with an API route (default)
  graphql   React SSR app with a GraphQL endpoint
  minimal   Just an API route

Examples:
  fastivite create my-app
  fastivite create my-app --template=graphql
  fastivite create my-api --template=minimal --yes`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := templates.Config{Description: description}
			if len(args) == 1 {
				cfg.ProjectName = args[0]
			}
			if !skipPrompts {
				if err := promptForConfig(&cfg, &template, cmd.Flags().Changed("template")); err != nil {
					return err
				}
			}
			return runCreate(cfg, template)
		},
	}

	cmd.Flags().StringVarP(&template, "template", "t", templates.DefaultTemplate, "Project template (graphql, minimal, react)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Project description")
	cmd.Flags().BoolVarP(&skipPrompts, "yes", "y", false, "Skip prompts and use defaults")

	return cmd
}

// promptForConfig asks for whatever the flags left open.
func promptForConfig(cfg *templates.Config, template *string, templateSet bool) error {
	var fields []huh.Field
	if cfg.ProjectName == "" {
		fields = append(fields, huh.NewInput().
			Title("Project name").
			Value(&cfg.ProjectName).
			Validate(templates.ValidateName))
	}
	if cfg.Description == "" {
		fields = append(fields, huh.NewInput().
			Title("Description").
			Placeholder("A fastivite app").
			Value(&cfg.Description))
	}
	if !templateSet {
		options := make([]huh.Option[string], 0, len(templates.List()))
		for _, name := range templates.List() {
			t, _ := templates.Get(name)
			options = append(options, huh.NewOption(name+" - "+t.Description, name))
		}
		fields = append(fields, huh.NewSelect[string]().
			Title("Template").
			Options(options...).
			Value(template))
	}
	if len(fields) == 0 {
		return nil
	}
	return huh.NewForm(huh.NewGroup(fields...)).Run()
}

func runCreate(cfg templates.Config, template string) error {
	printBanner()
	fmt.Println("  Creating a new fastivite project...")
	fmt.Println()

	if cfg.Description == "" {
		cfg.Description = "A fastivite app"
	}
	dir, err := filepath.Abs(cfg.ProjectName)
	if err != nil {
		return err
	}
	if err := templates.Scaffold(dir, template, cfg); err != nil {
		return err
	}

	success("Created %s from the %s template", cfg.ProjectName, template)
	fmt.Println()
	info("Next steps:")
	info("  cd %s", cfg.ProjectName)
	info("  npm install")
	info("  fastivite dev")
	fmt.Println()
	return nil
}
