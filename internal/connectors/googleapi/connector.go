package googleapi

import (
	"context"

	"github.com/open-sspm/workspace-audit/internal/asset"
)

// Connector hands adapters an authorized client for a platform together with
// the resolved connection, so callers can check capabilities before calling.
type Connector interface {
	Connect(ctx context.Context, platform asset.Platform) (*Client, asset.PlatformConnection, error)
}
