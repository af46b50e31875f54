package prompt

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	t.Run("passes clean prompt through", func(t *testing.T) {
		result := Sanitize("A watercolor fox in a forest", Options{})

		assert.False(t, result.Blocked)
		assert.Equal(t, "A watercolor fox in a forest", result.Prompt)
	})

	t.Run("strips control characters but keeps newlines and tabs", func(t *testing.T) {
		result := Sanitize("line one\nline\ttwo\x00\x07end", Options{})

		require.False(t, result.Blocked)
		assert.Equal(t, "line one\nline\ttwoend", result.Prompt)
	})

	t.Run("collapses runs of spaces", func(t *testing.T) {
		result := Sanitize("too     many   spaces", Options{})

		require.False(t, result.Blocked)
		assert.Equal(t, "too many spaces", result.Prompt)
	})

	t.Run("truncates to max length", func(t *testing.T) {
		result := Sanitize(strings.Repeat("a", 20000), Options{})

		require.False(t, result.Blocked)
		assert.Equal(t, DefaultMaxLength, utf8.RuneCountInString(result.Prompt))
	})

	t.Run("truncation is rune safe", func(t *testing.T) {
		result := Sanitize(strings.Repeat("é", 60), Options{MaxLength: 10})

		require.False(t, result.Blocked)
		assert.Equal(t, 10, utf8.RuneCountInString(result.Prompt))
		assert.True(t, utf8.ValidString(result.Prompt))
	})

	t.Run("custom max length", func(t *testing.T) {
		result := Sanitize(strings.Repeat("a", 5000), Options{MaxLength: DefaultImageMaxLength})

		require.False(t, result.Blocked)
		assert.Len(t, result.Prompt, DefaultImageMaxLength)
	})

	blocked := []struct {
		name   string
		prompt string
	}{
		{"script tag", "hello <script>alert(1)</script>"},
		{"script tag with spaces", "hello < script >alert(1)"},
		{"javascript uri", "click javascript:alert(1)"},
		{"inline event handler", `<img onerror=alert(1)>`},
		{"data html uri", "see data:text/html,<b>x</b>"},
		{"iframe tag", "<iframe src='https://evil.example'>"},
	}
	for _, tt := range blocked {
		t.Run("blocks "+tt.name, func(t *testing.T) {
			result := Sanitize(tt.prompt, Options{})

			assert.True(t, result.Blocked)
			assert.NotEmpty(t, result.Reasons)
			assert.Empty(t, result.Prompt)
		})
	}

	t.Run("reports multiple reasons without duplicates", func(t *testing.T) {
		result := Sanitize("<script>x</script> javascript:y <script>z</script>", Options{})

		require.True(t, result.Blocked)
		assert.Contains(t, result.Reasons, "script tag")
		assert.Contains(t, result.Reasons, "javascript URI")

		seen := map[string]int{}
		for _, r := range result.Reasons {
			seen[r]++
		}
		for reason, count := range seen {
			assert.Equal(t, 1, count, "reason %q repeated", reason)
		}
	})
}

func TestHashPrompt(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, HashPrompt("hello"), HashPrompt("hello"))
	})

	t.Run("distinct inputs produce distinct digests", func(t *testing.T) {
		assert.NotEqual(t, HashPrompt("hello"), HashPrompt("hello "))
	})

	t.Run("hex encoded sha256", func(t *testing.T) {
		assert.Len(t, HashPrompt("hello"), 64)
	})
}

func TestMaskForLogs(t *testing.T) {
	t.Run("short input is unchanged", func(t *testing.T) {
		assert.Equal(t, "short", MaskForLogs("short"))
	})

	t.Run("long input keeps head and tail", func(t *testing.T) {
		input := strings.Repeat("a", 24) + strings.Repeat("b", 100) + strings.Repeat("c", 24)
		masked := MaskForLogs(input)

		assert.True(t, strings.HasPrefix(masked, strings.Repeat("a", 24)))
		assert.True(t, strings.HasSuffix(masked, strings.Repeat("c", 24)))
		assert.NotContains(t, masked, "bbbb")
	})
}
