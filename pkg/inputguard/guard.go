// Package inputguard validates and sanitizes untrusted user text before it
// enters a conversation.
package inputguard

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/harun/taskpilot/internal/config"
	"github.com/harun/taskpilot/internal/observability"
	"github.com/harun/taskpilot/pkg/refmarker"
	"github.com/rs/zerolog/log"
)

// DefaultMaxLength is the rune limit applied when no other is configured.
const DefaultMaxLength = 10000

// DefaultBlockedPatterns is the built-in set of instruction-override phrases.
var DefaultBlockedPatterns = []config.BlockedPattern{
	{Name: "ignore previous instructions", Pattern: `ignore\s+(all\s+)?(the\s+)?(previous|prior|above|earlier)\s+instructions`},
	{Name: "disregard previous instructions", Pattern: `disregard\s+(all\s+)?(the\s+)?(previous|prior|above|earlier|your)\s+instructions`},
	{Name: "forget your instructions", Pattern: `forget\s+(all\s+)?(your|the|previous|prior)\s+instructions`},
	{Name: "reveal hidden policies", Pattern: `reveal\s+(your\s+|the\s+)?hidden\s+(policies|policy|rules|instructions)`},
	{Name: "reveal system prompt", Pattern: `reveal\s+(your\s+|the\s+)?system\s+prompt`},
	{Name: "developer mode", Pattern: `you\s+are\s+now\s+in\s+developer\s+mode`},
}

// tagPattern matches angle-bracket markup: <name>, </name>, <name/> and
// tags whose attributes are all name=value pairs. Text such as "2 < 3" or
// "a<b && c>d" never matches.
var tagPattern = regexp.MustCompile(`</?([A-Za-z][A-Za-z0-9-]*)((?:\s+[A-Za-z_:][A-Za-z0-9_:.-]*\s*=\s*(?:"[^"]*"|'[^']*'|[^\s"'<>=]+))*)\s*/?>`)

// Options tunes a single validation.
type Options struct {
	// MaxLength overrides the guard's limit when positive.
	MaxLength int
}

// ValidationResult is the outcome of Validate. SanitizedContent is set only
// when IsValid is true; Reason only when it is false.
type ValidationResult struct {
	IsValid          bool   `json:"is_valid"`
	SanitizedContent string `json:"sanitized_content,omitempty"`
	Reason           string `json:"reason,omitempty"`
}

type blockedPattern struct {
	name string
	re   *regexp.Regexp
}

// Guard checks content against the length limit and blocked patterns and
// strips markup other than reference markers.
type Guard struct {
	maxLength    int
	referenceTag string
	patterns     []blockedPattern
}

// New creates a guard. Empty fields in cfg fall back to the defaults.
func New(cfg config.GuardConfig) (*Guard, error) {
	specs := cfg.BlockedPatterns
	if len(specs) == 0 {
		specs = DefaultBlockedPatterns
	}

	patterns := make([]blockedPattern, 0, len(specs))
	for _, p := range specs {
		re, err := regexp.Compile("(?i)" + p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", p.Name, err)
		}
		patterns = append(patterns, blockedPattern{name: p.Name, re: re})
	}

	g := &Guard{
		maxLength:    cfg.MaxLength,
		referenceTag: cfg.ReferenceTag,
		patterns:     patterns,
	}
	if g.maxLength <= 0 {
		g.maxLength = DefaultMaxLength
	}
	if g.referenceTag == "" {
		g.referenceTag = refmarker.Tag
	}

	observability.EnsureRegistered()
	return g, nil
}

// NewDefault creates a guard with the built-in settings.
func NewDefault() *Guard {
	g, _ := New(config.GuardConfig{})
	return g
}

// Validate checks text and returns either the sanitized content or the
// reason it was rejected.
func (g *Guard) Validate(text string, opts Options) ValidationResult {
	maxLength := g.maxLength
	if opts.MaxLength > 0 {
		maxLength = opts.MaxLength
	}

	if n := utf8.RuneCountInString(text); n > maxLength {
		return g.reject("too_long", fmt.Sprintf("Content too long (%d characters, max %d)", n, maxLength))
	}

	if reason, blocked := g.blocked(text); blocked {
		return g.reject("blocked_pattern", reason)
	}

	// markup can split a phrase, so the stripped text is checked as well
	sanitized := g.stripMarkup(text)
	if reason, blocked := g.blocked(sanitized); blocked {
		return g.reject("blocked_pattern", reason)
	}

	return ValidationResult{
		IsValid:          true,
		SanitizedContent: sanitized,
	}
}

func (g *Guard) blocked(text string) (string, bool) {
	for _, p := range g.patterns {
		if p.re.MatchString(text) {
			return "Content contains blocked pattern: " + p.name, true
		}
	}
	return "", false
}

func (g *Guard) stripMarkup(text string) string {
	return tagPattern.ReplaceAllStringFunc(text, func(tag string) string {
		name := tagPattern.FindStringSubmatch(tag)[1]
		if strings.EqualFold(name, g.referenceTag) {
			return tag
		}
		return ""
	})
}

func (g *Guard) reject(kind, reason string) ValidationResult {
	log.Warn().Str("component", "inputguard").Str("kind", kind).Msg(reason)
	observability.RecordGuardRejection(kind)
	return ValidationResult{IsValid: false, Reason: reason}
}
