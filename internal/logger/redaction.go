package logger

import (
	"io"
	"regexp"
)

var redactedMarker = []byte("[REDACTED]")

type secretPattern struct {
	name string
	re   *regexp.Regexp
}

// builtinSecrets covers the provider credentials a profile can hold and the
// headers and fields they travel in. Order matters: Anthropic keys are
// matched before the generic sk- form.
var builtinSecrets = []secretPattern{
	{"anthropic_key", regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{20,}`)},
	{"openai_key", regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`)},
	{"gemini_key", regexp.MustCompile(`AIza[0-9A-Za-z_-]{35}`)},
	{"bearer_token", regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`)},
	{"api_key_field", regexp.MustCompile(`(?i)"?api_key"?\s*[:=]\s*"?[^\s",]+"?`)},
	{"password_field", regexp.MustCompile(`(?i)password["\s:=]+[^\s"]+`)},
	{"secret_field", regexp.MustCompile(`(?i)secret["\s:=]+[^\s"]+`)},
}

// Redactor scrubs secrets from log lines before they reach a writer.
type Redactor struct {
	patterns []secretPattern
}

func NewRedactor() *Redactor {
	patterns := make([]secretPattern, len(builtinSecrets))
	copy(patterns, builtinSecrets)
	return &Redactor{patterns: patterns}
}

// AddPattern registers an extra regular expression to scrub.
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, secretPattern{name: "custom", re: re})
	return nil
}

func (r *Redactor) Redact(s string) string {
	return string(r.redact([]byte(s)))
}

func (r *Redactor) redact(line []byte) []byte {
	for _, p := range r.patterns {
		line = p.re.ReplaceAll(line, redactedMarker)
	}
	return line
}

// Wrap returns a writer that redacts every write before passing it to w.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return redactingWriter{out: w, r: r}
}

type redactingWriter struct {
	out io.Writer
	r   *Redactor
}

// Write reports len(p) on success; io.MultiWriter treats any other count as
// a short write.
func (w redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.out.Write(w.r.redact(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}
