package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/reelhub/publish-queue/internal/domain"
	"github.com/reelhub/publish-queue/internal/optimal"
	"github.com/reelhub/publish-queue/internal/ratelimiter"
)

// PlatformConfig describes one publishing destination.
//
//	platforms:
//	  youtube:
//	    endpoint: https://uploader.internal/youtube/publish
//	    timeout: 5m
//	    limits: {max_per_hour: 6, max_per_day: 50}
//	    optimal: {preferred: "0 19 * * 2-4", fallback: "0 10 * * 2", timezone: Europe/Paris}
type PlatformConfig struct {
	Endpoint string              `yaml:"endpoint"`
	Timeout  time.Duration       `yaml:"timeout"`
	Limits   *ratelimiter.Limits `yaml:"limits"`
	Optimal  *optimal.RuleSpec   `yaml:"optimal"`
}

type platformsFile struct {
	Platforms map[domain.Platform]PlatformConfig `yaml:"platforms"`
}

// DefaultPlatforms returns the built-in youtube and tiktok entries, publishing
// to baseURL/<platform>/publish.
func DefaultPlatforms(baseURL string, timeout time.Duration) map[domain.Platform]PlatformConfig {
	base := strings.TrimRight(baseURL, "/")
	rules := optimal.DefaultRules()
	limits := map[domain.Platform]ratelimiter.Limits{
		domain.PlatformYouTube: {MaxPerHour: 6, MaxPerDay: 50},
		domain.PlatformTikTok:  {MaxPerHour: 10, MaxPerDay: 100},
	}

	out := make(map[domain.Platform]PlatformConfig, len(rules))
	for p, rule := range rules {
		l := limits[p]
		out[p] = PlatformConfig{
			Endpoint: base + "/" + string(p) + "/publish",
			Timeout:  timeout,
			Limits:   &l,
			Optimal:  &rule,
		}
	}
	return out
}

// LoadPlatformsFile parses a YAML platforms file.
func LoadPlatformsFile(path string) (map[domain.Platform]PlatformConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read platforms file: %w", err)
	}
	return ParsePlatforms(raw)
}

// ParsePlatforms decodes the platforms document and validates every entry.
func ParsePlatforms(raw []byte) (map[domain.Platform]PlatformConfig, error) {
	var f platformsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse platforms file: %w", err)
	}
	for p, pc := range f.Platforms {
		if p == "" {
			return nil, fmt.Errorf("platforms file: empty platform name")
		}
		if pc.Limits != nil && (pc.Limits.MaxPerHour < 0 || pc.Limits.MaxPerDay < 0) {
			return nil, fmt.Errorf("platform %s: limits must not be negative", p)
		}
		if pc.Optimal != nil {
			if _, err := optimal.ParseRule(*pc.Optimal); err != nil {
				return nil, fmt.Errorf("platform %s: %w", p, err)
			}
		}
	}
	return f.Platforms, nil
}

// withDefaults fills the fields pc leaves empty from base, the built-in entry
// for the same platform if any.
func (pc PlatformConfig) withDefaults(base PlatformConfig, timeout time.Duration) PlatformConfig {
	if pc.Endpoint == "" {
		pc.Endpoint = base.Endpoint
	}
	if pc.Timeout <= 0 {
		pc.Timeout = base.Timeout
	}
	if pc.Timeout <= 0 {
		pc.Timeout = timeout
	}
	if pc.Limits == nil {
		pc.Limits = base.Limits
	}
	if pc.Optimal == nil {
		pc.Optimal = base.Optimal
	}
	return pc
}
