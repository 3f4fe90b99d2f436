package gateway

import "time"

const OutcomeOK = "ok"

// Observation describes one Invoke call. Outcome is "ok" or the failure Kind.
type Observation struct {
	Capability Capability    `json:"capability"`
	Outcome    string        `json:"outcome"`
	Attempts   int           `json:"attempts"`
	Latency    time.Duration `json:"latency"`
	Error      string        `json:"error,omitempty"`
	At         time.Time     `json:"at"`
}

type Observer interface {
	Observe(o Observation)
}

type ObserverFunc func(o Observation)

func (f ObserverFunc) Observe(o Observation) { f(o) }
