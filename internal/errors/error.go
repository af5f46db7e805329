package errors

import (
	"bufio"
	stderrors "errors"
	"fmt"
	"os"
	"strings"
)

// Category represents the type of error.
type Category string

const (
	CategoryConfig  Category = "config"
	CategoryCLI     Category = "cli"
	CategoryCompile Category = "compile"
	CategoryBuild   Category = "build"
	CategoryRuntime Category = "runtime"
	CategoryGraphQL Category = "graphql"
	CategoryServer  Category = "server"
)

// Location represents a source code location.
type Location struct {
	File   string
	Line   int
	Column int
}

// String returns the location as a formatted string.
func (l *Location) String() string {
	if l == nil {
		return ""
	}
	if l.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// FastiviteError is a structured error with a code, source location and a fix hint.
type FastiviteError struct {
	// Code is a unique error identifier (e.g., "E201").
	Code string

	// Category is the error type (compile, runtime, etc.).
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation of the error.
	Detail string

	// Location is the source code location where the error occurred.
	Location *Location

	// Context contains surrounding source code lines.
	Context []string

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *FastiviteError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *FastiviteError) Unwrap() error {
	return e.Wrapped
}

// WithLocation adds source location to the error.
func (e *FastiviteError) WithLocation(file string, line, column int) *FastiviteError {
	e.Location = &Location{File: file, Line: line, Column: column}
	e.Context = readContextLines(file, line, 5)
	return e
}

// WithLineText sets a location whose context is the single offending line.
// Bundler diagnostics carry the line text, so the file is not re-read.
func (e *FastiviteError) WithLineText(file string, line, column int, text string) *FastiviteError {
	e.Location = &Location{File: file, Line: line, Column: column}
	if text != "" {
		e.Context = []string{text}
	}
	return e
}

// WithSuggestion adds a fix suggestion to the error.
func (e *FastiviteError) WithSuggestion(s string) *FastiviteError {
	e.Suggestion = s
	return e
}

// WithDetail adds a detailed explanation to the error.
func (e *FastiviteError) WithDetail(d string) *FastiviteError {
	e.Detail = d
	return e
}

// Wrap wraps another error.
func (e *FastiviteError) Wrap(err error) *FastiviteError {
	e.Wrapped = err
	return e
}

// readContextLines reads lines around the specified line number from a file.
func readContextLines(filename string, targetLine, contextSize int) []string {
	file, err := os.Open(filename)
	if err != nil {
		return nil
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	lineNum := 0
	startLine := targetLine - contextSize/2
	endLine := targetLine + contextSize/2

	for scanner.Scan() {
		lineNum++
		if lineNum >= startLine && lineNum <= endLine {
			lines = append(lines, scanner.Text())
		}
		if lineNum > endLine {
			break
		}
	}

	return lines
}

// New creates a FastiviteError from a registered error code.
func New(code string) *FastiviteError {
	template, ok := registry[code]
	if !ok {
		return &FastiviteError{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &FastiviteError{
		Code:       code,
		Category:   template.Category,
		Message:    template.Message,
		Detail:     template.Detail,
		Suggestion: template.Suggestion,
	}
}

// Newf creates a new FastiviteError with a formatted message (no code).
func Newf(category Category, format string, args ...any) *FastiviteError {
	return &FastiviteError{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError wraps a standard error in a FastiviteError.
// Errors that already carry a FastiviteError in their chain are returned as that error.
func FromError(err error, code string) *FastiviteError {
	if err == nil {
		return nil
	}
	var fe *FastiviteError
	if stderrors.As(err, &fe) {
		return fe
	}
	return New(code).Wrap(err)
}

// Is reports whether err carries a FastiviteError with the given code.
func Is(err error, code string) bool {
	var fe *FastiviteError
	for err != nil {
		if !stderrors.As(err, &fe) {
			return false
		}
		if fe.Code == code {
			return true
		}
		err = fe.Wrapped
	}
	return false
}

// Join concatenates the messages of several errors into one detail block.
func Join(errs []error) string {
	parts := make([]string, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			parts = append(parts, err.Error())
		}
	}
	return strings.Join(parts, "\n")
}
