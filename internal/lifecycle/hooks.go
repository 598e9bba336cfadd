package lifecycle

import "context"

// Stage orders shutdown hooks. Lower stages finish before higher ones start.
type Stage int

const (
	// StageIngress stops accepting new work: HTTP server, bot poller.
	StageIngress Stage = iota
	// StageWorkers drains background loops: linking workers, reapers, jobs.
	StageWorkers
	// StageStores closes shared connections.
	StageStores
)

func (s Stage) String() string {
	switch s {
	case StageIngress:
		return "ingress"
	case StageWorkers:
		return "workers"
	case StageStores:
		return "stores"
	default:
		return "unknown"
	}
}

// Hook describes a named shutdown hook.
type Hook struct {
	Name  string
	Stage Stage
	Fn    func(ctx context.Context) error
}
