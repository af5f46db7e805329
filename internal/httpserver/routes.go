package httpserver

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/go-chi/chi/v5"
)

// PrintRoutes writes one line per registered method and pattern, sorted by
// pattern.
func PrintRoutes(w io.Writer, r chi.Routes) error {
	type line struct{ method, pattern string }
	var lines []line
	err := chi.Walk(r, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		lines = append(lines, line{method, strings.ReplaceAll(route, "/*/", "/")})
		return nil
	})
	if err != nil {
		return err
	}
	sort.SliceStable(lines, func(i, j int) bool {
		if lines[i].pattern != lines[j].pattern {
			return lines[i].pattern < lines[j].pattern
		}
		return lines[i].method < lines[j].method
	})

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "METHOD\tPATH")
	for _, l := range lines {
		fmt.Fprintf(tw, "%s\t%s\n", l.method, l.pattern)
	}
	return tw.Flush()
}
