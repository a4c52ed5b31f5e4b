package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/reelhub/publish-queue/internal/domain"
)

// Result identifies the publication on the remote platform.
type Result struct {
	PlatformID string `json:"id"`
	URL        string `json:"url"`
}

// Publisher abstracts the upload of one artifact to one external platform.
// Failures should be wrapped with domain.Permanent or domain.Transient; an
// unclassified error is treated as transient.
type Publisher interface {
	Publish(ctx context.Context, videoID, artifactLocation string, metadata json.RawMessage) (*Result, error)
}

// Registry maps platforms to their publisher. A platform is supported exactly
// when it has an entry. Register everything before the registry is shared.
type Registry struct {
	publishers map[domain.Platform]Publisher
}

func NewRegistry() *Registry {
	return &Registry{publishers: make(map[domain.Platform]Publisher)}
}

func (r *Registry) Register(p domain.Platform, pub Publisher) {
	r.publishers[p] = pub
}

// Get returns the publisher for p, or an error wrapping
// domain.ErrUnsupportedPlatform.
func (r *Registry) Get(p domain.Platform) (Publisher, error) {
	pub, ok := r.publishers[p]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedPlatform, p)
	}
	return pub, nil
}

// Platforms returns the registered platforms in name order.
func (r *Registry) Platforms() []domain.Platform {
	out := make([]domain.Platform, 0, len(r.publishers))
	for p := range r.publishers {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}
