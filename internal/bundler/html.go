package bundler

import (
	"regexp"
	"strings"
)

var (
	moduleScriptRe = regexp.MustCompile(`<script\b[^>]*\btype=["']module["'][^>]*>\s*</script>`)
	srcAttrRe      = regexp.MustCompile(`\bsrc=["']([^"']+)["']`)
)

// ShellScripts returns the src of every <script type="module" src> tag in
// the HTML shell, in document order. External URLs are skipped.
func ShellScripts(html string) []string {
	var out []string
	for _, tag := range moduleScriptRe.FindAllString(html, -1) {
		m := srcAttrRe.FindStringSubmatch(tag)
		if m == nil || isExternalURL(m[1]) {
			continue
		}
		out = append(out, m[1])
	}
	return out
}

// RewriteShell replaces module script sources using replace (keyed by the
// original src) and inserts extra head tags before </head>.
func RewriteShell(html string, replace map[string]string, headTags []string) string {
	html = moduleScriptRe.ReplaceAllStringFunc(html, func(tag string) string {
		m := srcAttrRe.FindStringSubmatch(tag)
		if m == nil {
			return tag
		}
		to, ok := replace[m[1]]
		if !ok {
			return tag
		}
		return strings.Replace(tag, m[0], `src="`+to+`"`, 1)
	})
	if len(headTags) > 0 {
		tags := strings.Join(headTags, "\n    ")
		if i := strings.Index(strings.ToLower(html), "</head>"); i >= 0 {
			html = html[:i] + "  " + tags + "\n  " + html[i:]
		} else {
			html = tags + "\n" + html
		}
	}
	return html
}

func isExternalURL(src string) bool {
	return strings.HasPrefix(src, "http://") ||
		strings.HasPrefix(src, "https://") ||
		strings.HasPrefix(src, "//")
}
