package apiroute

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/dop251/goja"
	"github.com/go-chi/chi/v5"

	"github.com/fastivite/fastivite/internal/jsrt"
)

// Handler serves route by running its JavaScript handler on exec. With a
// jsrt.Pool, every VM must have registered the same routes in the same
// order.
func Handler(exec jsrt.Executor, route Route, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodySize))
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "Payload Too Large", err.Error())
			return
		}
		params := urlParams(r)

		var rep *Reply
		err = exec.Do(r.Context(), func(vm *jsrt.VM) error {
			t := tableOf(vm)
			if route.index >= len(t.handlers) {
				return stderrors.New("route table out of sync for " + route.URL)
			}
			req, err := NewRequest(vm, r, body, params)
			if err != nil {
				return err
			}
			rep = NewReply(vm)
			return invoke(vm, t, route.index, req, rep)
		})
		if err != nil {
			var bad *BadRequestError
			if stderrors.As(err, &bad) {
				writeError(w, http.StatusBadRequest, "Bad Request", bad.Error())
				return
			}
			logger.Error("handler failed", "method", r.Method, "url", route.URL, "source", route.Source, "error", jsrt.Stack(err))
			status := http.StatusInternalServerError
			var je *jsrt.JSError
			if stderrors.As(err, &je) {
				if code := statusCodeOf(je.Value); code >= 400 {
					status = code
				}
			}
			writeError(w, status, http.StatusText(status), jsrt.Message(err))
			return
		}
		rep.WriteTo(w)
	})
}

func invoke(vm *jsrt.VM, t *table, index int, req *goja.Object, rep *Reply) error {
	for _, h := range t.hooks {
		if _, err := vm.Call(h.fn, t.apps[index], req, rep.Object()); err != nil {
			return err
		}
		if rep.Sent {
			return nil
		}
	}
	v, err := vm.Call(t.handlers[index], t.apps[index], req, rep.Object())
	if err != nil {
		return err
	}
	if !rep.Sent && v != nil && !goja.IsUndefined(v) {
		return rep.Send(v)
	}
	return nil
}

func urlParams(r *http.Request) map[string]string {
	params := map[string]string{}
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return params
	}
	for i, k := range rctx.URLParams.Keys {
		if i < len(rctx.URLParams.Values) {
			params[k] = rctx.URLParams.Values[i]
		}
	}
	return params
}

func statusCodeOf(v goja.Value) int {
	obj, ok := v.(*goja.Object)
	if !ok {
		return 0
	}
	if sc := obj.Get("statusCode"); sc != nil && !goja.IsUndefined(sc) {
		return int(sc.ToInteger())
	}
	return 0
}

// writeError writes a Fastify-shaped JSON error.
func writeError(w http.ResponseWriter, status int, title, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"statusCode": status,
		"error":      title,
		"message":    msg,
	})
}

// Mount registers every route on r.
func Mount(r chi.Router, exec jsrt.Executor, routes []Route, logger *slog.Logger) {
	for _, route := range routes {
		h := Handler(exec, route, logger)
		if route.Method == MethodAll {
			r.Handle(route.Pattern, h)
			continue
		}
		r.Method(route.Method, route.Pattern, h)
	}
}
