package graphql

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/dop251/goja"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/fastivite/fastivite/internal/apiroute"
	"github.com/fastivite/fastivite/internal/jsrt"
	"github.com/fastivite/fastivite/internal/merge"
)

// Service serves the GraphQL JSON protocol over HTTP.
type Service struct {
	schema atomic.Pointer[Schema]
	exec   jsrt.Executor
	log    *slog.Logger
}

// NewService returns a Service executing on exec. Every VM behind exec must
// have an ArtifactSet installed.
func NewService(schema *Schema, exec jsrt.Executor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{exec: exec, log: logger.With("component", "graphql")}
	s.schema.Store(schema)
	return s
}

// SetSchema replaces the schema used by subsequent requests.
func (s *Service) SetSchema(schema *Schema) {
	s.schema.Store(schema)
	s.log.Debug("schema replaced")
}

// Schema returns the current schema.
func (s *Service) Schema() *Schema {
	return s.schema.Load()
}

func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var (
		req  Request
		body []byte
	)
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		req.Query = q.Get("query")
		req.OperationName = q.Get("operationName")
		if v := q.Get("variables"); v != "" {
			if err := json.Unmarshal([]byte(v), &req.Variables); err != nil {
				writeErrors(w, http.StatusBadRequest, gqlerror.Errorf("invalid variables: %s", err))
				return
			}
		}
	case http.MethodPost:
		var err error
		body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, apiroute.MaxBodySize))
		if err != nil {
			writeErrors(w, http.StatusRequestEntityTooLarge, gqlerror.Errorf("%s", err))
			return
		}
		if err := json.Unmarshal(body, &req); err != nil {
			writeErrors(w, http.StatusBadRequest, gqlerror.Errorf("invalid request body: %s", err))
			return
		}
	default:
		w.Header().Set("Allow", "GET, POST")
		writeErrors(w, http.StatusMethodNotAllowed, gqlerror.Errorf("method %s not allowed", r.Method))
		return
	}
	if req.Query == "" {
		writeErrors(w, http.StatusBadRequest, gqlerror.Errorf("missing query"))
		return
	}

	schema := s.schema.Load()
	if schema == nil {
		writeErrors(w, http.StatusServiceUnavailable, gqlerror.Errorf("schema not loaded"))
		return
	}

	var (
		resp *Response
		rep  *apiroute.Reply
	)
	err := s.exec.Do(r.Context(), func(vm *jsrt.VM) error {
		jsReq, err := apiroute.NewRequest(vm, r, body, nil)
		if err != nil {
			return err
		}
		rep = apiroute.NewReply(vm)
		ctxObj, err := buildContext(vm, jsReq, rep)
		if err != nil {
			return err
		}
		resp = Execute(vm, schema.AST, req, ctxObj, r.Method == http.MethodPost)
		return nil
	})
	if err != nil {
		var bad *apiroute.BadRequestError
		if stderrors.As(err, &bad) {
			writeErrors(w, http.StatusBadRequest, gqlerror.Errorf("%s", bad.Error()))
			return
		}
		s.log.Error("request failed", "error", jsrt.Stack(err))
		writeErrors(w, http.StatusInternalServerError, gqlerror.Errorf("%s", err))
		return
	}

	status := http.StatusOK
	if resp.Data == nil && len(resp.Errors) > 0 {
		status = http.StatusBadRequest
	}
	for k, vs := range rep.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// buildContext runs every context function with (req, reply) and merges the
// results. The first context to define a leaf wins.
func buildContext(vm *jsrt.VM, req *goja.Object, rep *apiroute.Reply) (*goja.Object, error) {
	set := installed(vm)
	trees := make([]map[string]any, 0, len(set.Contexts)+1)
	for _, fn := range set.Contexts {
		v, err := vm.Call(fn, goja.Undefined(), req, rep.Object())
		if err != nil {
			return nil, err
		}
		if tree := jsrt.ToTree(v); tree != nil {
			trees = append(trees, tree)
		}
	}
	trees = append(trees, map[string]any{
		"req":   goja.Value(req),
		"reply": goja.Value(rep.Object()),
	})
	return vm.FromTree(merge.All(trees...)), nil
}

func writeErrors(w http.ResponseWriter, status int, errs ...*gqlerror.Error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{Errors: errs})
}
