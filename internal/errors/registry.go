package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category   Category
	Message    string
	Detail     string
	Suggestion string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Configuration and CLI (E100-E199)
	// ============================================

	"E101": {
		Category:   CategoryConfig,
		Message:    "Invalid configuration file",
		Detail:     "The configuration file could not be parsed.",
		Suggestion: "Check that fastivite.json is valid JSON (or fastivite.toml valid TOML)",
	},
	"E102": {
		Category: CategoryConfig,
		Message:  "Invalid port",
		Detail:   "Ports must be between 0 and 65535.",
	},
	"E103": {
		Category:   CategoryConfig,
		Message:    "Missing file pattern",
		Detail:     "At least one glob pattern is required to discover convention files.",
		Suggestion: "Pass --api-file-pattern '**/api.ts' or set api.patterns in fastivite.json",
	},
	"E104": {
		Category: CategoryConfig,
		Message:  "Unsupported configuration format",
		Detail:   "Only .json and .toml configuration files are supported.",
	},
	"E105": {
		Category:   CategoryConfig,
		Message:    "Unsafe output directory",
		Detail:     "The build output directory is emptied before every build, so it must be inside the project root.",
		Suggestion: "Use a subdirectory such as dist",
	},
	"E110": {
		Category:   CategoryCLI,
		Message:    "Directory already exists",
		Suggestion: "Choose a different name or remove the existing directory",
	},
	"E111": {
		Category: CategoryCLI,
		Message:  "Template not found",
	},
	"E112": {
		Category:   CategoryCLI,
		Message:    "Invalid project name",
		Suggestion: "Use lowercase letters, numbers, and hyphens",
	},
	"E113": {
		Category: CategoryCLI,
		Message:  "Failed to create file",
	},

	// ============================================
	// Compile and build (E200-E299)
	// ============================================

	"E201": {
		Category: CategoryCompile,
		Message:  "Compilation failed",
		Detail:   "The bundler reported errors while compiling a module.",
	},
	"E202": {
		Category:   CategoryBuild,
		Message:    "HTML shell not found",
		Suggestion: "Pass --index ./index.html or create an index.html at the project root",
	},
	"E203": {
		Category: CategoryBuild,
		Message:  "Server template slot mismatch",
		Detail:   "Every slot marker must appear exactly once in the server template.",
	},
	"E204": {
		Category: CategoryBuild,
		Message:  "Failed to write build artifact",
	},
	"E205": {
		Category:   CategoryBuild,
		Message:    "No client entry in HTML shell",
		Detail:     "The HTML shell has no <script type=\"module\" src=\"...\"> tag.",
		Suggestion: "Add <script type=\"module\" src=\"/src/entry-client.tsx\"></script> to index.html",
	},

	// ============================================
	// JavaScript runtime (E300-E399)
	// ============================================

	"E301": {
		Category: CategoryRuntime,
		Message:  "Module evaluation failed",
	},
	"E302": {
		Category: CategoryRuntime,
		Message:  "Export is not a function",
	},
	"E303": {
		Category: CategoryRuntime,
		Message:  "Promise did not settle",
		Detail:   "The returned promise was still pending after the job queue drained. Timers and host I/O are not available to modules.",
	},
	"E304": {
		Category: CategoryRuntime,
		Message:  "Module not found",
	},
	"E305": {
		Category: CategoryRuntime,
		Message:  "Execution interrupted",
	},

	// ============================================
	// GraphQL (E400-E499)
	// ============================================

	"E401": {
		Category: CategoryGraphQL,
		Message:  "Invalid GraphQL schema",
	},
	"E402": {
		Category: CategoryGraphQL,
		Message:  "GraphQL codegen failed",
	},

	// ============================================
	// Server and process (E500-E599)
	// ============================================

	"E501": {
		Category: CategoryServer,
		Message:  "Failed to listen",
	},
	"E502": {
		Category:   CategoryServer,
		Message:    "Server artifact not found",
		Suggestion: "Run 'fastivite build' first",
	},
	"E503": {
		Category: CategoryServer,
		Message:  "Child process failed",
	},
	"E504": {
		Category: CategoryServer,
		Message:  "Upload failed",
	},
}

// GetAllCodes returns all registered error codes.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}

// Register adds a new error template to the registry.
func Register(code string, template ErrorTemplate) {
	registry[code] = template
}
