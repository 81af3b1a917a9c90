// Package templates holds the dashboard page and the HTML fragments the SSE
// endpoints patch into it. Components live in dashboard.templ; run
// `templ generate` after editing it.
package templates

import (
	"context"
	"strconv"
	"strings"

	"github.com/a-h/templ"
)

const (
	CategoryContentID = "category-content"
	ForecastContentID = "forecast-content"
)

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// RenderString renders c into a string for SSE patches.
func RenderString(ctx context.Context, c templ.Component) (string, error) {
	var b strings.Builder
	if err := c.Render(ctx, &b); err != nil {
		return "", err
	}
	return b.String(), nil
}
