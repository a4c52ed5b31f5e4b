package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/reelhub/publish-queue/internal/domain"
)

// DirLocator finds artifacts as <root>/<videoID><ext> on a local or mounted
// filesystem.
type DirLocator struct {
	root string
}

func NewDirLocator(root string) *DirLocator {
	return &DirLocator{root: root}
}

func (d *DirLocator) Locate(_ context.Context, videoID string) (string, error) {
	if err := checkVideoID(videoID); err != nil {
		return "", domain.Permanent(err)
	}
	for _, ext := range Extensions {
		p := filepath.Join(d.root, videoID+ext)
		info, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("stat artifact: %w", err)
		}
		if info.Mode().IsRegular() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %s in %s", domain.ErrArtifactNotFound, videoID, d.root)
}

var _ Locator = (*DirLocator)(nil)
