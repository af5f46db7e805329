// Package httpserver assembles the HTTP surface shared by the dev server and
// the standalone runtime server.
//
// An Assembler turns a Site (API routes, an optional GraphQL endpoint and an
// SSR catch-all) into a chi router with request ids, request logging, panic
// recovery, CORS, Prometheus metrics and OpenTelemetry spans. The dev server
// publishes each rebuilt router through a Swappable so the listener stays up
// while routes are replaced.
//
// Server-side rendering follows a fixed pipeline:
//
//  1. derive the URL from the original request URL and the base
//  2. read and transform the HTML shell
//  3. call render({url, host, req, rep}) in JavaScript
//  4. substitute <!--app-head--> and <!--app-html--> once each
//
// Any failure responds 500 with the JavaScript stack as the body.
package httpserver
