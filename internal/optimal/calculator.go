// Package optimal computes the next recommended publish instant per platform.
//
// Each platform owns a Rule made of two cron expressions evaluated in the
// rule's time zone:
//
//   - Preferred: the slot to use when one is still ahead today.
//   - Fallback: where to roll forward to otherwise.
//
// For example "0 19 * * 2-4" / "0 10 * * 2" reads as "Tuesday to Thursday at
// 19:00; otherwise next Tuesday at 10:00". Adding a platform means adding a
// rule, never a branch in the caller.
package optimal

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"

	"github.com/reelhub/publish-queue/internal/domain"
)

// RuleSpec is the textual form of a Rule, as found in the platforms file.
type RuleSpec struct {
	Preferred string `yaml:"preferred"`
	Fallback  string `yaml:"fallback"`
	Timezone  string `yaml:"timezone"`
}

// Rule is a parsed RuleSpec.
type Rule struct {
	preferred cron.Schedule
	fallback  cron.Schedule
	loc       *time.Location
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseRule validates and compiles spec.
func ParseRule(spec RuleSpec) (Rule, error) {
	loc := time.UTC
	if spec.Timezone != "" {
		l, err := time.LoadLocation(spec.Timezone)
		if err != nil {
			return Rule{}, fmt.Errorf("load timezone %q: %w", spec.Timezone, err)
		}
		loc = l
	}
	preferred, err := parser.Parse(spec.Preferred)
	if err != nil {
		return Rule{}, fmt.Errorf("parse preferred %q: %w", spec.Preferred, err)
	}
	fallback, err := parser.Parse(spec.Fallback)
	if err != nil {
		return Rule{}, fmt.Errorf("parse fallback %q: %w", spec.Fallback, err)
	}
	return Rule{preferred: preferred, fallback: fallback, loc: loc}, nil
}

// Next returns the rule's next instant strictly after now, in UTC.
func (r Rule) Next(now time.Time) time.Time {
	local := now.In(r.loc)
	if p := r.preferred.Next(local); sameDay(p, local) {
		return p.UTC()
	}
	return r.fallback.Next(local).UTC()
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// DefaultRules are used for platforms the platforms file does not override.
func DefaultRules() map[domain.Platform]RuleSpec {
	return map[domain.Platform]RuleSpec{
		domain.PlatformYouTube: {Preferred: "0 19 * * 2-4", Fallback: "0 10 * * 2"},
		domain.PlatformTikTok:  {Preferred: "0 21 * * 1-5", Fallback: "0 12 * * *"},
	}
}

// Calculator maps platforms to rules.
type Calculator struct {
	rules map[domain.Platform]Rule
}

// New compiles specs into a Calculator.
func New(specs map[domain.Platform]RuleSpec) (*Calculator, error) {
	rules := make(map[domain.Platform]Rule, len(specs))
	for p, spec := range specs {
		r, err := ParseRule(spec)
		if err != nil {
			return nil, fmt.Errorf("platform %s: %w", p, err)
		}
		rules[p] = r
	}
	return &Calculator{rules: rules}, nil
}

// NextOptimalTime returns the next recommended publish instant for p after now.
func (c *Calculator) NextOptimalTime(p domain.Platform, now time.Time) (time.Time, error) {
	r, ok := c.rules[p]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: no optimal-time rule for %q", domain.ErrUnsupportedPlatform, p)
	}
	return r.Next(now), nil
}
