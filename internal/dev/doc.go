// Package dev provides the development server and live reload.
//
// The server compiles every API module, GraphQL resolver, loader and
// context, and extra module into build/ and loads them into one JavaScript
// VM per load generation. Each generation gets a fresh router which is
// swapped in atomically, so requests in flight finish on the router they
// started on.
//
// # Architecture
//
//   - Watcher: fsnotify events, debounced into batches
//   - Classify: decides what a batch of changes needs
//   - ssrRuntime: recompiles the SSR entry on the next render after a change
//   - AssetServer: compiles browser modules on request and serves public/
//   - ReloadServer: notifies browsers via WebSocket and shows errors
//
// API and GraphQL module changes reload every route. Schema changes swap the
// schema in place and regenerate types. Any other source change marks SSR
// dirty and refreshes browsers.
//
// # Usage
//
//	srv, err := dev.NewServer(dev.ServerOptions{Config: cfg})
//	if err != nil {
//	    return err
//	}
//	return srv.Start(ctx)
//
// Middleware mode skips the listener:
//
//	if err := srv.Boot(ctx); err != nil {
//	    return err
//	}
//	http.Handle("/", srv.Handler())
package dev
