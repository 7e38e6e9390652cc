package probe

import (
	"context"
	"fmt"
	"net"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/vietddude/rescue/internal/core/domain"
)

// Config holds system probe settings.
type Config struct {
	// DialAddr is a TCP address probed to decide online/offline and measure
	// RTT. Empty disables dialing and reports online.
	DialAddr string        `yaml:"dial_addr"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// SystemProbe samples live host state. Samples are cached briefly so that
// classification stays cheap even under retry storms.
type SystemProbe struct {
	cfg       Config
	userAgent string

	mu     sync.Mutex
	netAt  time.Time
	sysAt  time.Time
	net    domain.NetworkStatus
	system domain.SystemInfo
}

// NewSystemProbe creates a probe with the given settings.
func NewSystemProbe(cfg Config) *SystemProbe {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Second
	}
	return &SystemProbe{
		cfg:       cfg,
		userAgent: fmt.Sprintf("rescue/1.0 (%s; %s)", runtime.GOOS, runtime.GOARCH),
	}
}

// Now returns the wall clock.
func (p *SystemProbe) Now() time.Time {
	return time.Now()
}

// Network dials the configured address to decide connectivity.
func (p *SystemProbe) Network(ctx context.Context) domain.NetworkStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.netAt.IsZero() && time.Since(p.netAt) < p.cfg.CacheTTL {
		return p.net
	}

	status := domain.NetworkStatus{Online: true}
	if p.cfg.DialAddr != "" {
		start := time.Now()
		d := net.Dialer{Timeout: 2 * time.Second}
		conn, err := d.DialContext(ctx, "tcp", p.cfg.DialAddr)
		if err != nil {
			status.Online = false
		} else {
			status.RTT = time.Since(start)
			_ = conn.Close()
		}
		status.EffectiveType = effectiveType(status)
	}

	p.net = status
	p.netAt = time.Now()
	return status
}

// System collects host metrics. Each collector is best-effort; a failing
// collector leaves its fields zero rather than failing the snapshot.
func (p *SystemProbe) System(ctx context.Context) domain.SystemInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.sysAt.IsZero() && time.Since(p.sysAt) < p.cfg.CacheTTL {
		return p.system
	}

	hostname, _ := os.Hostname()
	info := domain.SystemInfo{
		Hostname:  hostname,
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		UserAgent: p.userAgent,
		Timezone:  time.Now().Location().String(),
		Locale:    os.Getenv("LANG"),
		NumCPU:    runtime.NumCPU(),
		GoVersion: runtime.Version(),
	}

	if cpuPercent, err := cpu.Percent(0, false); err == nil && len(cpuPercent) > 0 {
		info.CPUPercent = cpuPercent[0]
	}

	if memInfo, err := mem.VirtualMemory(); err == nil && memInfo != nil {
		info.MemTotal = memInfo.Total
		info.MemUsed = memInfo.Used
		info.MemAvailable = memInfo.Available
	}

	if swapInfo, err := mem.SwapMemory(); err == nil && swapInfo != nil {
		info.SwapUsed = swapInfo.Used
	}

	if loadAvg, err := load.Avg(); err == nil && loadAvg != nil {
		info.Load1 = loadAvg.Load1
		info.Load5 = loadAvg.Load5
		info.Load15 = loadAvg.Load15
	}

	p.system = info
	p.sysAt = time.Now()
	return info
}

// effectiveType buckets measured RTT the way browser connection APIs do.
func effectiveType(s domain.NetworkStatus) string {
	switch {
	case !s.Online:
		return "offline"
	case s.RTT <= 50*time.Millisecond:
		return "4g"
	case s.RTT <= 300*time.Millisecond:
		return "3g"
	case s.RTT <= time.Second:
		return "2g"
	default:
		return "slow-2g"
	}
}
