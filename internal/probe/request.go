package probe

import "time"

type Request struct {
	MonitorID string
	URL       string
	Timeout   time.Duration
}

type Result struct {
	MonitorID       string
	Timestamp       time.Time
	StatusCode      int
	Success         bool
	RTTMilliseconds float64
	Err             error
}
