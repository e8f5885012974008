package dedup

import (
	"fmt"

	"github.com/bibmerge/bibmerge/internal/normalize"
)

// Stage names the matcher step that decided a comparison.
type Stage string

// Matcher stages in evaluation order.
const (
	StageISBN            Stage = "isbn"
	StageFormat          Stage = "format"
	StageYear            Stage = "year"
	StagePages           Stage = "pages"
	StageSeriesISSN      Stage = "series_issn"
	StageSeriesNumbering Stage = "series_numbering"
	StageTitle           Stage = "title"
	StageAuthor          Stage = "author"
)

// Decision is the outcome of comparing a subject with one candidate.
type Decision struct {
	Matched bool
	Stage   Stage
	Reason  string
}

// MatchConfig holds the matcher thresholds.
type MatchConfig struct {
	// MaxPageDelta is the largest page count difference still accepted.
	MaxPageDelta int
	// MaxTitlePercent rejects titles whose distance percentage is at or
	// above it.
	MaxTitlePercent float64
	// MaxAuthorPercent rejects authors whose distance percentage is above it.
	MaxAuthorPercent float64
	// MaxCompareRunes bounds the strings fed to the edit distance.
	MaxCompareRunes int
}

// DefaultMatchConfig returns the standard thresholds.
func DefaultMatchConfig() MatchConfig {
	return MatchConfig{
		MaxPageDelta:     10,
		MaxTitlePercent:  10,
		MaxAuthorPercent: 20,
		MaxCompareRunes:  255,
	}
}

func (c MatchConfig) withDefaults() MatchConfig {
	d := DefaultMatchConfig()
	if c.MaxPageDelta <= 0 {
		c.MaxPageDelta = d.MaxPageDelta
	}
	if c.MaxTitlePercent <= 0 {
		c.MaxTitlePercent = d.MaxTitlePercent
	}
	if c.MaxAuthorPercent <= 0 {
		c.MaxAuthorPercent = d.MaxAuthorPercent
	}
	if c.MaxCompareRunes <= 0 {
		c.MaxCompareRunes = d.MaxCompareRunes
	}
	return c
}

// Matcher decides whether two records describe the same work.
// It holds no mutable state and is safe for concurrent use.
type Matcher struct {
	cfg MatchConfig
}

// NewMatcher creates a matcher. Zero thresholds take their default values.
func NewMatcher(cfg MatchConfig) *Matcher {
	return &Matcher{cfg: cfg.withDefaults()}
}

// Config returns the effective thresholds.
func (m *Matcher) Config() MatchConfig {
	return m.cfg
}

func reject(stage Stage, format string, args ...any) Decision {
	return Decision{Stage: stage, Reason: fmt.Sprintf(format, args...)}
}

func accept(stage Stage, format string, args ...any) Decision {
	return Decision{Matched: true, Stage: stage, Reason: fmt.Sprintf(format, args...)}
}

// Match compares subject with candidate. The first conclusive stage
// decides; a shared ISBN accepts regardless of every other field.
//
// Every stage except the edit-distance ones is symmetric. Title and author
// percentages are relative to the subject's length.
func (m *Matcher) Match(subject, candidate *Fields) Decision {
	if sharesISBN(subject.ISBNs, candidate.ISBNs) {
		return accept(StageISBN, "shared ISBN")
	}

	if subject.Format != candidate.Format {
		return reject(StageFormat, "format %q != %q", subject.Format, candidate.Format)
	}
	if subject.Year != "" && candidate.Year != "" && subject.Year != candidate.Year {
		return reject(StageYear, "year %s != %s", subject.Year, candidate.Year)
	}
	if subject.Pages > 0 && candidate.Pages > 0 {
		if delta := abs(subject.Pages - candidate.Pages); delta > m.cfg.MaxPageDelta {
			return reject(StagePages, "pages differ by %d", delta)
		}
	}
	if subject.SeriesISSN != candidate.SeriesISSN {
		return reject(StageSeriesISSN, "series ISSN %q != %q", subject.SeriesISSN, candidate.SeriesISSN)
	}
	if subject.SeriesNumbering != candidate.SeriesNumbering {
		return reject(StageSeriesNumbering, "series numbering %q != %q", subject.SeriesNumbering, candidate.SeriesNumbering)
	}

	if subject.Title == "" || candidate.Title == "" {
		return reject(StageTitle, "missing title")
	}
	titlePct := distancePercent(subject.Title, candidate.Title, m.cfg.MaxCompareRunes)
	if titlePct >= m.cfg.MaxTitlePercent {
		return reject(StageTitle, "title distance %.1f%%", titlePct)
	}

	if subject.Author == "" || candidate.Author == "" {
		return accept(StageTitle, "title distance %.1f%%, no author to compare", titlePct)
	}
	if normalize.AuthorMatch(subject.AuthorName, candidate.AuthorName) {
		return accept(StageAuthor, "title distance %.1f%%, equivalent author names", titlePct)
	}
	authorPct := distancePercent(subject.Author, candidate.Author, m.cfg.MaxCompareRunes)
	if authorPct > m.cfg.MaxAuthorPercent {
		return reject(StageAuthor, "author distance %.1f%%", authorPct)
	}
	return accept(StageAuthor, "title distance %.1f%%, author distance %.1f%%", titlePct, authorPct)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
