// Package artifact resolves a video id to the location of its rendered file.
package artifact

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/reelhub/publish-queue/internal/domain"
)

// Locator finds the artifact produced for a video. Implementations return an
// error wrapping domain.ErrArtifactNotFound when nothing exists for videoID.
type Locator interface {
	Locate(ctx context.Context, videoID string) (string, error)
}

// Extensions are tried in order for every video id.
var Extensions = []string{".mp4", ".mov", ".webm"}

// checkVideoID rejects ids that could escape the artifact root.
func checkVideoID(videoID string) error {
	if videoID == "" || strings.ContainsAny(videoID, `/\`) || videoID != path.Clean(videoID) || strings.HasPrefix(videoID, ".") {
		return fmt.Errorf("%w: %q", domain.ErrInvalidVideoID, videoID)
	}
	return nil
}
