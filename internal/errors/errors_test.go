package errors

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantMsg string
		wantCat Category
	}{
		{"config", "E101", "Invalid configuration file", CategoryConfig},
		{"compile", "E201", "Compilation failed", CategoryCompile},
		{"template slot", "E203", "Server template slot mismatch", CategoryBuild},
		{"pending promise", "E303", "Promise did not settle", CategoryRuntime},
		{"graphql", "E401", "Invalid GraphQL schema", CategoryGraphQL},
		{"unknown", "E999", "Unknown error", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code)
			if err.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", err.Message, tt.wantMsg)
			}
			if err.Category != tt.wantCat {
				t.Errorf("Category = %q, want %q", err.Category, tt.wantCat)
			}
			if err.Code != tt.code {
				t.Errorf("Code = %q, want %q", err.Code, tt.code)
			}
		})
	}
}

func TestNewf(t *testing.T) {
	err := Newf(CategoryBuild, "file %q not found", "index.html")
	if err.Message != `file "index.html" not found` {
		t.Errorf("Message = %q", err.Message)
	}
	if err.Category != CategoryBuild {
		t.Errorf("Category = %q, want %q", err.Category, CategoryBuild)
	}
}

func TestFastiviteError_Error(t *testing.T) {
	if got := New("E201").Error(); got != "E201: Compilation failed" {
		t.Errorf("Error() = %q", got)
	}

	wrapped := New("E502").Wrap(fmt.Errorf("stat dist/server.cjs: no such file"))
	if got := wrapped.Error(); got != "E502: Server artifact not found: stat dist/server.cjs: no such file" {
		t.Errorf("Error() = %q", got)
	}

	bare := &FastiviteError{Message: "plain"}
	if bare.Error() != "plain" {
		t.Errorf("Error() = %q, want %q", bare.Error(), "plain")
	}
}

func TestFastiviteError_WithLocation(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "api.ts")
	content := "import { createApiPlugin } from 'fastivite'\n\nexport default createApiPlugin(async (app) => {\n  app.get('/', () => ({ ok: true }))\n})\n"
	if err := os.WriteFile(tmpFile, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	err := New("E201").WithLocation(tmpFile, 3, 16)
	if err.Location == nil {
		t.Fatal("Location is nil")
	}
	if err.Location.Line != 3 || err.Location.Column != 16 {
		t.Errorf("Location = %v", err.Location)
	}
	if len(err.Context) == 0 {
		t.Error("Context should not be empty")
	}
}

func TestFastiviteError_WithLineText(t *testing.T) {
	err := New("E201").WithLineText("src/a.ts", 4, 2, "const x = ;")
	if len(err.Context) != 1 || err.Context[0] != "const x = ;" {
		t.Errorf("Context = %v", err.Context)
	}

	DisableColors()
	defer EnableColors()
	out := err.Format()
	if !strings.Contains(out, "→    4 │ const x = ;") {
		t.Errorf("Format missing highlighted line:\n%s", out)
	}
}

func TestFastiviteError_Wrap(t *testing.T) {
	inner := New("E301")
	outer := New("E201").Wrap(inner)
	if outer.Unwrap() != inner {
		t.Error("Unwrap() should return wrapped error")
	}
	if !Is(outer, "E301") || !Is(outer, "E201") {
		t.Error("Is should find both codes in the chain")
	}
	if Is(outer, "E401") {
		t.Error("Is should not find E401")
	}
}

func TestFromError(t *testing.T) {
	if FromError(nil, "E201") != nil {
		t.Error("FromError(nil, ...) should return nil")
	}

	fe := New("E201")
	if FromError(fmt.Errorf("ctx: %w", fe), "E999") != fe {
		t.Error("FromError should unwrap to the existing FastiviteError")
	}

	std := fmt.Errorf("boom")
	got := FromError(std, "E503")
	if got.Wrapped != std || got.Code != "E503" {
		t.Errorf("FromError = %+v", got)
	}
}

func TestLocation_String(t *testing.T) {
	tests := []struct {
		name string
		loc  *Location
		want string
	}{
		{"nil location", nil, ""},
		{"with column", &Location{File: "a.ts", Line: 10, Column: 5}, "a.ts:10:5"},
		{"without column", &Location{File: "a.ts", Line: 10}, "a.ts:10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.loc.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormat(t *testing.T) {
	DisableColors()
	defer EnableColors()

	err := New("E203").
		WithDetail("slot \"routes\" appears 0 times").
		WithSuggestion("Restore the /* @fastivite:routes */ marker").
		Wrap(fmt.Errorf("line one\nline two"))

	formatted := err.Format()
	for _, want := range []string{"E203", "Server template slot mismatch", "appears 0 times", "Hint:", "│ line two"} {
		if !strings.Contains(formatted, want) {
			t.Errorf("Format missing %q:\n%s", want, formatted)
		}
	}
}

func TestFormatCompact(t *testing.T) {
	err := New("E201").WithLineText("a.ts", 10, 5, "")
	if got := err.FormatCompact(); got != "a.ts:10:5: E201: Compilation failed" {
		t.Errorf("FormatCompact() = %q", got)
	}
}

func TestFormatJSON(t *testing.T) {
	err := New("E201").WithLineText("a.ts", 10, 5, "x").Wrap(fmt.Errorf("unexpected token"))

	var decoded map[string]any
	if e := json.Unmarshal([]byte(err.FormatJSON()), &decoded); e != nil {
		t.Fatalf("FormatJSON is not valid JSON: %v", e)
	}
	if decoded["code"] != "E201" || decoded["category"] != "compile" {
		t.Errorf("decoded = %v", decoded)
	}
	if decoded["cause"] != "unexpected token" {
		t.Errorf("cause = %v", decoded["cause"])
	}
	if _, ok := decoded["location"]; !ok {
		t.Error("JSON should contain location")
	}
}

func TestFprint(t *testing.T) {
	DisableColors()
	defer EnableColors()

	var buf bytes.Buffer
	Fprint(&buf, fmt.Errorf("wrapped: %w", New("E502")))
	if !strings.Contains(buf.String(), "ERROR E502") {
		t.Errorf("Fprint = %q", buf.String())
	}

	buf.Reset()
	Fprint(&buf, fmt.Errorf("plain"))
	if !strings.Contains(buf.String(), "ERROR: plain") {
		t.Errorf("Fprint = %q", buf.String())
	}
}

func TestRegistryCodesAreRanged(t *testing.T) {
	ranges := map[byte][]Category{
		'1': {CategoryConfig, CategoryCLI},
		'2': {CategoryCompile, CategoryBuild},
		'3': {CategoryRuntime},
		'4': {CategoryGraphQL},
		'5': {CategoryServer},
	}
	for _, code := range GetAllCodes() {
		tmpl, _ := GetTemplate(code)
		allowed := ranges[code[1]]
		ok := false
		for _, c := range allowed {
			if tmpl.Category == c {
				ok = true
			}
		}
		if !ok {
			t.Errorf("%s has category %q outside its range", code, tmpl.Category)
		}
	}
}

func TestRegister(t *testing.T) {
	Register("E999", ErrorTemplate{Category: CategoryRuntime, Message: "Custom test error"})
	defer delete(registry, "E999")

	if got := New("E999").Message; got != "Custom test error" {
		t.Errorf("Message = %q", got)
	}
}

func TestWrapText(t *testing.T) {
	if got := wrapText("short text", 100); len(got) != 1 || got[0] != "short text" {
		t.Errorf("short: %v", got)
	}
	if got := wrapText("this is a longer text that should be wrapped", 20); len(got) != 3 {
		t.Errorf("long: expected 3 lines, got %d: %v", len(got), got)
	}
	if got := wrapText("", 10); len(got) != 0 {
		t.Errorf("empty: %v", got)
	}
}

func TestColorFunctions(t *testing.T) {
	EnableColors()
	if !strings.Contains(red("test"), "\033[31m") {
		t.Error("red should contain ANSI code when colors enabled")
	}
	DisableColors()
	if strings.Contains(red("test"), "\033[") {
		t.Error("red should not contain ANSI code when colors disabled")
	}
	EnableColors()
}
