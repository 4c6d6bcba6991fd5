package relay

import "time"

type PlannerConfig struct {
	Backoff1 time.Duration // default: 5 minutes
	Backoff2 time.Duration // default: 15 minutes
	Backoff3 time.Duration // default: 30 minutes
	Backoff4 time.Duration // default: 60 minutes
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		Backoff1: 5 * time.Minute,
		Backoff2: 15 * time.Minute,
		Backoff3: 30 * time.Minute,
		Backoff4: 60 * time.Minute,
	}
}

// Planner decides when a failed outbox publish is retried.
type Planner struct {
	cfg PlannerConfig
}

func NewPlanner(cfg PlannerConfig) *Planner {
	def := DefaultPlannerConfig()
	if cfg.Backoff1 <= 0 {
		cfg.Backoff1 = def.Backoff1
	}
	if cfg.Backoff2 <= 0 {
		cfg.Backoff2 = def.Backoff2
	}
	if cfg.Backoff3 <= 0 {
		cfg.Backoff3 = def.Backoff3
	}
	if cfg.Backoff4 <= 0 {
		cfg.Backoff4 = def.Backoff4
	}
	return &Planner{cfg: cfg}
}

// BackoffDelay takes the attempt number that just failed (1-based).
func (p *Planner) BackoffDelay(attempt int) time.Duration {
	switch {
	case attempt <= 1:
		return p.cfg.Backoff1
	case attempt == 2:
		return p.cfg.Backoff2
	case attempt == 3:
		return p.cfg.Backoff3
	default:
		return p.cfg.Backoff4
	}
}
