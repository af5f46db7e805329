package dev

import (
	"context"

	"github.com/fastivite/fastivite/internal/graphql"
)

// loadSchema reads the schema files, publishes the schema to the current
// GraphQL service and regenerates types. A broken schema keeps the previous
// one serving.
func (s *Server) loadSchema() error {
	cfg := s.config.GraphQL
	schema, err := graphql.LoadSchema(s.config.Abs(cfg.Schema.Cwd), cfg.Schema.Patterns)
	if err != nil {
		return err
	}
	s.schema.Store(schema)
	if svc := s.gqlService.Load(); svc != nil {
		svc.SetSchema(schema)
	}
	if cfg.Codegen {
		out := s.config.Abs(cfg.CodegenOut)
		if err := graphql.WriteTypes(out, schema); err != nil {
			s.log.Warn("type generation failed", "out", out, "error", err)
		} else {
			s.log.Debug("types generated", "out", out)
		}
	}
	return nil
}

func (s *Server) startOperationCodegen(ctx context.Context) {
	cfg := s.config.GraphQL
	if !cfg.OperationCodegen {
		return
	}
	s.codegen = graphql.NewCodegenRunner(s.config.Dir(), s.log)
	if err := s.codegen.Start(ctx, s.config.Abs(cfg.OperationCodegenConfig)); err != nil {
		s.log.Warn("operation codegen not started", "error", err)
	}
}
