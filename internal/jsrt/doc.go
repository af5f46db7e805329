// Package jsrt hosts compiled CommonJS modules in an embedded JavaScript
// runtime.
//
// A VM wraps one goja runtime. goja runtimes are not safe for concurrent
// use, so every interaction goes through VM.Do, which holds the VM for the
// duration of the callback. Values obtained inside Do belong to that VM and
// must not be used from another.
//
// Modules see a small Node-like environment: require for relative paths
// and for the virtual "fastivite" host module, module/exports, console
// routed to slog, and process.env. Promise jobs are drained when a call
// returns; a promise still pending after that is reported as E303, since
// timers and host I/O do not exist here.
//
// A Pool runs N VMs with the same setup for concurrent request handling.
package jsrt
