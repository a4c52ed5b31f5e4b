package publisher

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"unicode/utf8"

	"github.com/reelhub/publish-queue/internal/domain"
)

// YouTubeMetadata is the metadata shape accepted for domain.PlatformYouTube.
type YouTubeMetadata struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Privacy     string   `json:"privacy"`
	CategoryID  string   `json:"category,omitempty"`
	MadeForKids bool     `json:"made_for_kids"`
}

// TikTokMetadata is the metadata shape accepted for domain.PlatformTikTok.
type TikTokMetadata struct {
	Caption        string   `json:"caption"`
	Hashtags       []string `json:"hashtags,omitempty"`
	PrivacyLevel   string   `json:"privacy_level"`
	DisableComment bool     `json:"disable_comment"`
	DisableDuet    bool     `json:"disable_duet"`
}

var (
	youtubePrivacy = []string{"public", "unlisted", "private"}
	tiktokPrivacy  = []string{"PUBLIC_TO_EVERYONE", "MUTUAL_FOLLOW_FRIENDS", "FOLLOWER_OF_CREATOR", "SELF_ONLY"}
)

type codec func(raw json.RawMessage) (any, error)

var codecs = map[domain.Platform]codec{
	domain.PlatformYouTube: decodeYouTube,
	domain.PlatformTikTok:  decodeTikTok,
}

// DecodeMetadata validates raw against the shape expected by p and returns
// the typed value. Platforms without a dedicated codec accept any JSON object.
// Errors wrap domain.ErrInvalidMetadata.
func DecodeMetadata(p domain.Platform, raw json.RawMessage) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage(`{}`)
	}
	if c, ok := codecs[p]; ok {
		return c(raw)
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, invalid("metadata must be a JSON object: %v", err)
	}
	return generic, nil
}

func decodeYouTube(raw json.RawMessage) (any, error) {
	var m YouTubeMetadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, invalid("youtube metadata: %v", err)
	}
	if m.Title == "" {
		return nil, invalid("youtube title is required")
	}
	if utf8.RuneCountInString(m.Title) > 100 {
		return nil, invalid("youtube title exceeds 100 characters")
	}
	if utf8.RuneCountInString(m.Description) > 5000 {
		return nil, invalid("youtube description exceeds 5000 characters")
	}
	tagChars := 0
	for _, tag := range m.Tags {
		tagChars += utf8.RuneCountInString(tag)
	}
	if tagChars > 500 {
		return nil, invalid("youtube tags exceed 500 characters in total")
	}
	if m.Privacy == "" {
		m.Privacy = "public"
	}
	if !slices.Contains(youtubePrivacy, m.Privacy) {
		return nil, invalid("youtube privacy must be one of %v", youtubePrivacy)
	}
	return m, nil
}

func decodeTikTok(raw json.RawMessage) (any, error) {
	var m TikTokMetadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, invalid("tiktok metadata: %v", err)
	}
	if utf8.RuneCountInString(m.Caption) > 2200 {
		return nil, invalid("tiktok caption exceeds 2200 characters")
	}
	if m.PrivacyLevel == "" {
		m.PrivacyLevel = "PUBLIC_TO_EVERYONE"
	}
	if !slices.Contains(tiktokPrivacy, m.PrivacyLevel) {
		return nil, invalid("tiktok privacy_level must be one of %v", tiktokPrivacy)
	}
	return m, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidMetadata, fmt.Sprintf(format, args...))
}
