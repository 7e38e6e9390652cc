package domain

import "time"

// NetworkStatus is a coarse snapshot of network reachability.
type NetworkStatus struct {
	Online        bool          `json:"online"`
	EffectiveType string        `json:"effective_type,omitempty"`
	RTT           time.Duration `json:"rtt,omitempty"`
	DownlinkMbps  float64       `json:"downlink_mbps,omitempty"`
}

// SystemInfo describes the host at report time.
type SystemInfo struct {
	Hostname     string  `json:"hostname"`
	Platform     string  `json:"platform"`
	UserAgent    string  `json:"user_agent,omitempty"`
	Timezone     string  `json:"timezone"`
	Locale       string  `json:"locale,omitempty"`
	NumCPU       int     `json:"num_cpu"`
	CPUPercent   float64 `json:"cpu_percent"`
	MemTotal     uint64  `json:"mem_total"`
	MemUsed      uint64  `json:"mem_used"`
	MemAvailable uint64  `json:"mem_available"`
	SwapUsed     uint64  `json:"swap_used"`
	Load1        float64 `json:"load_1"`
	Load5        float64 `json:"load_5"`
	Load15       float64 `json:"load_15"`
	GoVersion    string  `json:"go_version"`
}

// PerformanceSnapshot captures process runtime stats at report time.
type PerformanceSnapshot struct {
	Goroutines int           `json:"goroutines"`
	HeapAlloc  uint64        `json:"heap_alloc"`
	HeapSys    uint64        `json:"heap_sys"`
	Uptime     time.Duration `json:"uptime,omitempty"`
}
