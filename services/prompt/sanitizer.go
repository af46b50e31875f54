// Package prompt sanitizes user prompts before they reach any provider
// and provides the masked/hashed forms used for safe observability.
// It is independent of routing: blocked prompts are a typed result, not
// an error.
package prompt

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// DefaultMaxLength is the truncation limit for text prompts.
	DefaultMaxLength = 10000

	// DefaultImageMaxLength is the tighter limit for image prompts.
	DefaultImageMaxLength = 2000
)

// Options configures a sanitization pass.
type Options struct {
	// MaxLength truncates the prompt; zero means DefaultMaxLength.
	MaxLength int
}

// Result is the outcome of Sanitize. When Blocked is true the prompt
// must never reach a provider and Reasons must be surfaced to the user.
type Result struct {
	Prompt  string
	Blocked bool
	Reasons []string
}

// blockPatterns match injection/XSS-style content that is rejected
// outright rather than stripped.
var blockPatterns = []struct {
	pattern *regexp.Regexp
	reason  string
}{
	{regexp.MustCompile(`(?is)<\s*script\b`), "script tag"},
	{regexp.MustCompile(`(?is)<\s*/\s*script\s*>`), "script tag"},
	{regexp.MustCompile(`(?i)javascript\s*:`), "javascript URI"},
	{regexp.MustCompile(`(?i)\bon(?:click|error|load|mouseover|focus|submit)\s*=`), "inline event handler"},
	{regexp.MustCompile(`(?i)data\s*:\s*text/html`), "data:text/html URI"},
	{regexp.MustCompile(`(?is)<\s*iframe\b`), "iframe tag"},
}

var whitespaceRun = regexp.MustCompile(`[ \t]{2,}`)

// Sanitize strips control characters, collapses whitespace, truncates to
// the configured limit and rejects prompts matching the block list.
// Truncation happens before matching so an attack cannot hide past the
// length limit.
func Sanitize(input string, opts Options) Result {
	maxLength := opts.MaxLength
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}

	cleaned := stripControlChars(input)
	cleaned = whitespaceRun.ReplaceAllString(cleaned, " ")
	cleaned = strings.TrimSpace(cleaned)

	if utf8.RuneCountInString(cleaned) > maxLength {
		runes := []rune(cleaned)
		cleaned = string(runes[:maxLength])
	}

	var reasons []string
	for _, bp := range blockPatterns {
		if bp.pattern.MatchString(cleaned) {
			reasons = append(reasons, bp.reason)
		}
	}
	if len(reasons) > 0 {
		return Result{Blocked: true, Reasons: dedupe(reasons)}
	}

	return Result{Prompt: cleaned}
}

// stripControlChars removes non-printable runes, keeping newlines and
// tabs so multi-line prompts survive intact.
func stripControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// HashPrompt returns a one-way digest for audit logging without storing
// raw prompt content.
func HashPrompt(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// MaskForLogs keeps the head and tail of a prompt and elides the middle,
// so log lines never carry full prompt text.
func MaskForLogs(input string) string {
	const keep = 24
	if len(input) <= keep*2 {
		if len(input) <= keep {
			return input
		}
		return input[:keep] + "..."
	}
	return input[:keep] + "..." + input[len(input)-keep:]
}
