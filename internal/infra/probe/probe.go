// Package probe reads ambient environment signals: connectivity, host
// information, and the clock. The recovery core only reads these; it never
// sets them.
package probe

import (
	"context"
	"time"

	"github.com/vietddude/rescue/internal/core/domain"
)

// EnvironmentProbe supplies environment snapshots to the classifier and the
// reporting service. Implementations must be safe for concurrent use.
type EnvironmentProbe interface {
	// Network returns the current connectivity snapshot.
	Network(ctx context.Context) domain.NetworkStatus

	// System returns host and process information.
	System(ctx context.Context) domain.SystemInfo

	// Now returns the probe's clock reading.
	Now() time.Time
}
