package dedupe

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"github.com/tendant/cutimage-pipeline/pkg/pipeline"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/net/html/atom"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const defaultMaxAttempts = 5

// Request is one generation attempt for an original title
type Request struct {
	OriginalTitle string
	UsedTitles    []string
	Attempt       int
}

// Generator produces a candidate title. Implementations that can detect a
// missing credential up front also implement Configured() bool.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

type configured interface {
	Configured() bool
}

// Option configures a Deduplicator
type Option func(*Deduplicator)

// WithMaxAttempts sets the number of generator calls before falling back
func WithMaxAttempts(n int) Option {
	return func(d *Deduplicator) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// WithFallbackHook registers a callback invoked whenever the synthesized
// fallback title is used.
func WithFallbackHook(fn func()) Option {
	return func(d *Deduplicator) { d.onFallback = fn }
}

// Stats summarizes the title cache
type Stats struct {
	Identifiers int `json:"identifiers"`
	Titles      int `json:"titles"`
}

// Deduplicator tracks accepted titles per identifier for a single batch run.
// It is not safe for concurrent use.
type Deduplicator struct {
	generator   Generator
	maxAttempts int
	maxLength   int
	onFallback  func()

	used      map[string][]string
	policy    *bluemonday.Policy
	lowercase cases.Caser
}

// New creates a Deduplicator with an empty title cache
func New(generator Generator, opts ...Option) *Deduplicator {
	d := &Deduplicator{
		generator:   generator,
		maxAttempts: defaultMaxAttempts,
		maxLength:   pipeline.MaxTitleLength,
		used:        make(map[string][]string),
		policy:      bluemonday.StrictPolicy(),
		lowercase:   cases.Lower(language.Und),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Available reports whether titles can be generated at all
func (d *Deduplicator) Available() bool {
	if d.generator == nil {
		return false
	}
	if c, ok := d.generator.(configured); ok {
		return c.Configured()
	}
	return true
}

// GenerateUniqueTitle returns a title for identifier that differs from the
// original and from every title already accepted for identifier.
func (d *Deduplicator) GenerateUniqueTitle(ctx context.Context, identifier, original string) (string, error) {
	if !d.Available() {
		return "", ErrGenerationUnavailable
	}

	logger := zerolog.Ctx(ctx)
	used := d.used[identifier]
	normOriginal := d.Normalize(original)

	for attempt := 0; attempt < d.maxAttempts; attempt++ {
		raw, err := d.generator.Generate(ctx, Request{
			OriginalTitle: original,
			UsedTitles:    append([]string(nil), used...),
			Attempt:       attempt,
		})
		if err != nil {
			return "", errors.Errorf("failed to generate title: %w", err)
		}

		candidate := d.clean(raw)
		if reason := d.reject(candidate, normOriginal, used); reason != "" {
			logger.Debug().
				Str("identifier", identifier).
				Int("attempt", attempt+1).
				Str("candidate", candidate).
				Str("reason", reason).
				Msg("title candidate rejected")
			continue
		}

		d.used[identifier] = append(used, candidate)
		return candidate, nil
	}

	title := d.fallback(original, normOriginal, used)
	d.used[identifier] = append(used, title)
	if d.onFallback != nil {
		d.onFallback()
	}
	logger.Info().Str("identifier", identifier).Str("title", title).Msg("using fallback title")
	return title, nil
}

// Normalize lowercases, trims and collapses whitespace runs
func (d *Deduplicator) Normalize(title string) string {
	return strings.Join(strings.Fields(d.lowercase.String(title)), " ")
}

// Reset clears the title cache
func (d *Deduplicator) Reset() {
	d.used = make(map[string][]string)
}

// Stats reports how many identifiers and titles are tracked
func (d *Deduplicator) Stats() Stats {
	s := Stats{Identifiers: len(d.used)}
	for _, titles := range d.used {
		s.Titles += len(titles)
	}
	return s
}

var tagPattern = regexp.MustCompile(`</?([a-zA-Z][a-zA-Z0-9]*)\b[^<>]*>`)

// hasMarkup reports whether s contains a tag naming a known HTML element.
// Bracketed text such as "<Canon>" is not markup.
func hasMarkup(s string) bool {
	for _, m := range tagPattern.FindAllStringSubmatch(s, -1) {
		if atom.Lookup([]byte(strings.ToLower(m[1]))) != 0 {
			return true
		}
	}
	return false
}

func (d *Deduplicator) clean(raw string) string {
	s := raw
	if hasMarkup(s) {
		s = d.policy.Sanitize(s)
	}
	s = html.UnescapeString(s)
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, `"`)
	s = strings.TrimPrefix(s, `'`)
	s = strings.TrimSuffix(s, `"`)
	s = strings.TrimSuffix(s, `'`)
	return strings.TrimSpace(s)
}

func (d *Deduplicator) reject(candidate, normOriginal string, used []string) string {
	if candidate == "" {
		return "empty"
	}
	if utf8.RuneCountInString(candidate) > d.maxLength {
		return "too long"
	}
	norm := d.Normalize(candidate)
	if norm == normOriginal {
		return "same as original"
	}
	if d.isUsed(norm, used) {
		return "already used"
	}
	return ""
}

func (d *Deduplicator) isUsed(norm string, used []string) bool {
	for _, t := range used {
		if d.Normalize(t) == norm {
			return true
		}
	}
	return false
}

// fallback builds "<original> - V<n>". Long originals are cut so the version
// suffix is kept and the title stays within maxLength.
func (d *Deduplicator) fallback(original, normOriginal string, used []string) string {
	for n := len(used) + 1; ; n++ {
		suffix := fmt.Sprintf(" - V%d", n)
		title := original + suffix
		if utf8.RuneCountInString(title) > d.maxLength {
			keep := d.maxLength - utf8.RuneCountInString(suffix) - len("...")
			if keep < 0 {
				keep = 0
			}
			title = strings.TrimRight(string([]rune(original)[:keep]), " ") + "..." + suffix
		}
		norm := d.Normalize(title)
		if norm != normOriginal && !d.isUsed(norm, used) {
			return title
		}
	}
}
