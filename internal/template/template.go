// Package template substitutes the fixed set of placeholder tokens supported
// in a creator's welcome message template.
//
// Placeholders are literal brace tokens, not a general template language.
// Unknown tokens such as {foo} pass through unchanged.
package template

import (
	"strings"
	"time"
)

// Placeholder tokens.
const (
	TokenName     = "{name}"
	TokenEmail    = "{email}"
	TokenUsername = "{username}"
	TokenPlan     = "{plan}"
	TokenDate     = "{date}"
)

// Fallback values used when a field is empty.
const (
	FallbackName = "there"
	FallbackPlan = "our community"
)

// DateLayout renders {date} in the US short-date form, for example 3/14/2026.
const DateLayout = "1/2/2006"

// Fields are the per-member values available to a template.
type Fields struct {
	Name     string
	Email    string
	Username string
	PlanName string
}

// Render substitutes placeholders using the current date.
func Render(tmpl string, fields Fields) string {
	return RenderAt(tmpl, fields, time.Now())
}

// RenderAt substitutes placeholders with {date} rendered from at.
func RenderAt(tmpl string, fields Fields, at time.Time) string {
	r := strings.NewReplacer(
		TokenName, orDefault(fields.Name, FallbackName),
		TokenEmail, fields.Email,
		TokenUsername, fields.Username,
		TokenPlan, orDefault(fields.PlanName, FallbackPlan),
		TokenDate, at.Format(DateLayout),
	)
	return r.Replace(tmpl)
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
