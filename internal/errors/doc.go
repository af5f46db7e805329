// Package errors provides coded, actionable errors for fastivite.
//
// Every error raised by the CLI carries a code from a small registry:
//
//	E1xx  configuration and command-line input
//	E2xx  compiling modules and producing build artifacts
//	E3xx  evaluating modules in the embedded JavaScript runtime
//	E4xx  GraphQL schema and codegen
//	E5xx  servers and child processes
//
// # Usage
//
//	err := errors.New("E201").
//	    WithLineText("src/pages/api.ts", 3, 7, "export default creatApiPlugin(")
//	errors.PrintError(err)
//
// Format renders the error for a terminal, FormatCompact for log lines and
// FormatJSON for the dev error overlay.
package errors
