package probe

import (
	"context"
	"runtime"
	"time"

	"github.com/vietddude/rescue/internal/core/domain"
)

// StaticProbe returns fixed values. It is the test double, and also serves
// deployments that do not want live host sampling.
type StaticProbe struct {
	NetworkStatus domain.NetworkStatus
	SystemInfo    domain.SystemInfo
	Clock         func() time.Time
}

// NewStaticProbe returns a probe that reports online with minimal host info.
func NewStaticProbe() *StaticProbe {
	return &StaticProbe{
		NetworkStatus: domain.NetworkStatus{Online: true, EffectiveType: "4g"},
		SystemInfo: domain.SystemInfo{
			Hostname:  "localhost",
			Platform:  runtime.GOOS + "/" + runtime.GOARCH,
			NumCPU:    runtime.NumCPU(),
			GoVersion: runtime.Version(),
		},
	}
}

func (p *StaticProbe) Network(ctx context.Context) domain.NetworkStatus {
	return p.NetworkStatus
}

func (p *StaticProbe) System(ctx context.Context) domain.SystemInfo {
	return p.SystemInfo
}

func (p *StaticProbe) Now() time.Time {
	if p.Clock != nil {
		return p.Clock()
	}
	return time.Now()
}
