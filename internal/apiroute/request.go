package apiroute

import (
	"encoding/json"
	"fmt"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dop251/goja"

	"github.com/fastivite/fastivite/internal/jsrt"
)

// MaxBodySize matches Fastify's default body limit.
const MaxBodySize = 1 << 20

// NewRequest builds the req object handed to handlers and to SSR render.
// Only valid inside jsrt.VM.Do.
func NewRequest(vm *jsrt.VM, r *http.Request, body []byte, params map[string]string) (*goja.Object, error) {
	rt := vm.Runtime()
	req := rt.NewObject()
	req.Set("method", r.Method)
	req.Set("url", r.URL.RequestURI())
	req.Set("originalUrl", r.URL.RequestURI())
	req.Set("path", r.URL.Path)
	req.Set("hostname", Hostname(r))
	req.Set("protocol", Protocol(r))
	req.Set("ip", remoteIP(r))
	req.Set("query", valuesObject(rt, r.URL.Query()))

	p := rt.NewObject()
	for k, v := range params {
		p.Set(k, v)
	}
	req.Set("params", p)

	headers := rt.NewObject()
	for k, vs := range r.Header {
		name := strings.ToLower(k)
		if name == "set-cookie" {
			headers.Set(name, vs)
			continue
		}
		headers.Set(name, strings.Join(vs, ", "))
	}
	if r.Host != "" {
		headers.Set("host", r.Host)
	}
	req.Set("headers", headers)

	b, err := parseBody(rt, r.Header.Get("Content-Type"), body)
	if err != nil {
		return nil, err
	}
	req.Set("body", b)

	for k, v := range tableOf(vm).decorations {
		req.Set(k, v)
	}
	return req, nil
}

// BadRequestError reports a body that could not be parsed.
type BadRequestError struct {
	Err error
}

func (e *BadRequestError) Error() string {
	return "invalid request body: " + e.Err.Error()
}

func (e *BadRequestError) Unwrap() error { return e.Err }

func parseBody(rt *goja.Runtime, contentType string, body []byte) (goja.Value, error) {
	if len(body) == 0 {
		return goja.Undefined(), nil
	}
	mt, _, _ := mime.ParseMediaType(contentType)
	switch {
	case mt == "application/json" || strings.HasSuffix(mt, "+json"):
		if !json.Valid(body) {
			return nil, &BadRequestError{Err: fmt.Errorf("malformed JSON")}
		}
		parse, _ := goja.AssertFunction(rt.Get("JSON").ToObject(rt).Get("parse"))
		v, err := parse(goja.Undefined(), rt.ToValue(string(body)))
		if err != nil {
			return nil, &BadRequestError{Err: err}
		}
		return v, nil
	case mt == "application/x-www-form-urlencoded":
		vals, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, &BadRequestError{Err: err}
		}
		return valuesObject(rt, vals), nil
	case strings.HasPrefix(mt, "text/") || mt == "":
		return rt.ToValue(string(body)), nil
	default:
		return rt.ToValue(rt.NewArrayBuffer(body)), nil
	}
}

func valuesObject(rt *goja.Runtime, vals url.Values) *goja.Object {
	obj := rt.NewObject()
	for k, vs := range vals {
		if len(vs) == 1 {
			obj.Set(k, vs[0])
			continue
		}
		obj.Set(k, vs)
	}
	return obj
}

// Hostname returns the request host without port, honoring X-Forwarded-Host.
func Hostname(r *http.Request) string {
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

// Protocol returns "https" for TLS or forwarded-https requests, else "http".
func Protocol(r *http.Request) string {
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return "https"
	}
	return "http"
}

func remoteIP(r *http.Request) string {
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return h
	}
	return r.RemoteAddr
}

// Reply collects what a handler sends.
type Reply struct {
	vm     *jsrt.VM
	obj    *goja.Object
	Status int
	Header http.Header
	Body   []byte
	Sent   bool
}

// NewReply builds the reply object. Only valid inside jsrt.VM.Do.
func NewReply(vm *jsrt.VM) *Reply {
	rt := vm.Runtime()
	rep := &Reply{vm: vm, obj: rt.NewObject(), Status: http.StatusOK, Header: http.Header{}}
	o := rep.obj

	setStatus := func(code int) goja.Value {
		rep.Status = code
		o.Set("statusCode", code)
		return o
	}
	o.Set("statusCode", http.StatusOK)
	o.Set("code", setStatus)
	o.Set("status", setStatus)
	o.Set("header", func(name string, value goja.Value) goja.Value {
		rep.Header.Set(name, value.String())
		return o
	})
	o.Set("headers", func(values map[string]any) goja.Value {
		for k, v := range values {
			rep.Header.Set(k, fmt.Sprint(v))
		}
		return o
	})
	o.Set("getHeader", func(name string) goja.Value {
		if v := rep.Header.Get(name); v != "" {
			return rt.ToValue(v)
		}
		return goja.Undefined()
	})
	o.Set("removeHeader", func(name string) goja.Value {
		rep.Header.Del(name)
		return o
	})
	o.Set("type", func(ct string) goja.Value {
		rep.Header.Set("Content-Type", ct)
		return o
	})
	o.Set("send", func(call goja.FunctionCall) goja.Value {
		if err := rep.Send(call.Argument(0)); err != nil {
			panic(rt.NewGoError(err))
		}
		return o
	})
	o.Set("redirect", func(call goja.FunctionCall) goja.Value {
		code, target := http.StatusFound, call.Argument(0)
		if len(call.Arguments) > 1 {
			if n, ok := call.Argument(0).Export().(int64); ok {
				code, target = int(n), call.Argument(1)
			} else if n, ok := call.Argument(1).Export().(int64); ok {
				code = int(n)
			}
		}
		rep.Header.Set("Location", target.String())
		rep.Status = code
		rep.Sent = true
		return o
	})
	o.Set("sent", false)
	return rep
}

// Object returns the JavaScript reply object.
func (rep *Reply) Object() *goja.Object {
	return rep.obj
}

// Send serializes payload as the response body. Objects are sent as JSON,
// strings as text, ArrayBuffers as bytes. A second send is ignored.
func (rep *Reply) Send(payload goja.Value) error {
	if rep.Sent {
		return nil
	}
	rep.Sent = true
	rep.obj.Set("sent", true)

	if payload == nil || goja.IsUndefined(payload) || goja.IsNull(payload) {
		return nil
	}
	switch v := payload.Export().(type) {
	case string:
		rep.defaultType("text/plain; charset=utf-8")
		rep.Body = []byte(v)
		return nil
	case goja.ArrayBuffer:
		rep.defaultType("application/octet-stream")
		rep.Body = append([]byte(nil), v.Bytes()...)
		return nil
	}

	var data []byte
	var err error
	if obj, ok := payload.(*goja.Object); ok {
		data, err = obj.MarshalJSON()
	} else {
		data, err = json.Marshal(payload.Export())
	}
	if err != nil {
		return err
	}
	rep.defaultType("application/json; charset=utf-8")
	rep.Body = data
	return nil
}

func (rep *Reply) defaultType(ct string) {
	if rep.Header.Get("Content-Type") == "" {
		rep.Header.Set("Content-Type", ct)
	}
}

// WriteTo copies the collected response to w.
func (rep *Reply) WriteTo(w http.ResponseWriter) {
	for k, vs := range rep.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	if len(rep.Body) > 0 {
		w.Header().Set("Content-Length", strconv.Itoa(len(rep.Body)))
	}
	w.WriteHeader(rep.Status)
	w.Write(rep.Body)
}
