package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/reelhub/publish-queue/internal/domain"
)

// PublishRequest is the JSON body posted to a platform uploader.
type PublishRequest struct {
	VideoID  string          `json:"video_id"`
	Platform domain.Platform `json:"platform"`
	Artifact string          `json:"artifact"`
	Metadata any             `json:"metadata"`
}

// WebhookPublisher hands publications to an uploader service over HTTP. The
// uploader owns credentials and byte transfer; this side only describes what
// to publish.
type WebhookPublisher struct {
	platform   domain.Platform
	endpoint   string
	httpClient *http.Client
}

func NewWebhookPublisher(platform domain.Platform, endpoint string, timeout time.Duration) *WebhookPublisher {
	return &WebhookPublisher{
		platform: platform,
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Publish decodes metadata with the platform codec, posts the request and
// expects a 2xx response with a JSON body containing id and url.
//
// 4xx responses other than 408 and 429 are permanent; everything else,
// including network errors, is transient.
func (p *WebhookPublisher) Publish(ctx context.Context, videoID, artifactLocation string, metadata json.RawMessage) (*Result, error) {
	decoded, err := DecodeMetadata(p.platform, metadata)
	if err != nil {
		return nil, domain.Permanent(err)
	}

	body, err := json.Marshal(PublishRequest{
		VideoID:  videoID,
		Platform: p.platform,
		Artifact: artifactLocation,
		Metadata: decoded,
	})
	if err != nil {
		return nil, domain.Permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, domain.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("send request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		statusErr := fmt.Errorf("uploader returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
		if permanentStatus(resp.StatusCode) {
			return nil, domain.Permanent(statusErr)
		}
		return nil, domain.Transient(statusErr)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, domain.Transient(fmt.Errorf("decode response: %w", err))
	}
	if result.PlatformID == "" {
		return nil, domain.Transient(fmt.Errorf("uploader response has no id"))
	}

	return &result, nil
}

func permanentStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return false
	}
	return code >= 400 && code < 500
}

// compile-time check that WebhookPublisher implements Publisher
var _ Publisher = (*WebhookPublisher)(nil)
