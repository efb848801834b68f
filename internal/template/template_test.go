package template

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRender_fallbacks(t *testing.T) {
	got := Render("Hi {name}, plan {plan}", Fields{})
	require.Equal(t, "Hi there, plan our community", got)
}

func TestRenderAt(t *testing.T) {
	at := time.Date(2026, time.March, 14, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		tmpl     string
		fields   Fields
		expected string
	}{
		{
			name:     "all fields",
			tmpl:     "Hey {name} ({username}, {email}) on {plan} joined {date}",
			fields:   Fields{Name: "Ada", Email: "ada@example.com", Username: "ada", PlanName: "Pro"},
			expected: "Hey Ada (ada, ada@example.com) on Pro joined 3/14/2026",
		},
		{
			name:     "empty email and username collapse",
			tmpl:     "[{email}][{username}]",
			fields:   Fields{},
			expected: "[][]",
		},
		{
			name:     "repeated tokens",
			tmpl:     "{name} {name} {name}",
			fields:   Fields{Name: "Bo"},
			expected: "Bo Bo Bo",
		},
		{
			name:     "unknown tokens pass through",
			tmpl:     "Hi {name}, {foo} and {NAME}",
			fields:   Fields{Name: "Cy"},
			expected: "Hi Cy, {foo} and {NAME}",
		},
		{
			name:     "no tokens",
			tmpl:     "Welcome aboard",
			expected: "Welcome aboard",
		},
		{
			name:     "empty template",
			tmpl:     "",
			expected: "",
		},
		{
			name:     "value containing a token is not re-expanded",
			tmpl:     "Hi {name}",
			fields:   Fields{Name: "{plan}"},
			expected: "Hi {plan}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, RenderAt(tt.tmpl, tt.fields, at))
		})
	}
}

func TestRender_noDefinedTokensRemain(t *testing.T) {
	tmpl := "{name}{email}{username}{plan}{date}"
	combos := []Fields{
		{},
		{Name: "a"},
		{Email: "b"},
		{Username: "c", PlanName: "d"},
		{Name: "a", Email: "b", Username: "c", PlanName: "d"},
	}

	for _, f := range combos {
		got := Render(tmpl, f)
		for _, tok := range []string{TokenName, TokenEmail, TokenUsername, TokenPlan, TokenDate} {
			require.False(t, strings.Contains(got, tok), "token %s left in %q", tok, got)
		}
	}
}
