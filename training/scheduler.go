package training

// LRScheduler adjusts the learning rate from a monitored metric. Step takes
// the latest metric value and the current learning rate and returns the rate
// to use next.
type LRScheduler interface {
	Step(metric, currentLR float64) float64
}

// ReduceLROnPlateau multiplies the learning rate by Factor after the
// monitored metric has stopped improving for Patience epochs. Mode "min"
// treats lower values as better, "max" higher values. Threshold is the
// minimum change that counts as an improvement.
type ReduceLROnPlateau struct {
	Factor    float64
	Patience  int
	Threshold float64
	Mode      string
	MinLR     float64

	best    float64
	wait    int
	started bool
}

func NewReduceLROnPlateau(factor float64, patience int, mode string) *ReduceLROnPlateau {
	return &ReduceLROnPlateau{
		Factor:    factor,
		Patience:  patience,
		Threshold: 1e-4,
		Mode:      mode,
	}
}

func (s *ReduceLROnPlateau) Step(metric, currentLR float64) float64 {
	if !s.started {
		s.best = metric
		s.started = true
		return currentLR
	}

	improved := false
	switch s.Mode {
	case "max":
		improved = metric > s.best+s.Threshold
	default:
		improved = metric < s.best-s.Threshold
	}

	if improved {
		s.best = metric
		s.wait = 0
		return currentLR
	}

	s.wait++
	if s.wait < s.Patience {
		return currentLR
	}

	s.wait = 0
	lr := currentLR * s.Factor
	if lr < s.MinLR {
		lr = s.MinLR
	}
	return lr
}

// NoOpScheduler leaves the learning rate unchanged.
type NoOpScheduler struct{}

func (NoOpScheduler) Step(metric, currentLR float64) float64 { return currentLR }
