package clustermember

import "time"

// Config holds the tuning knobs named in the connector's configuration
// surface. All durations are stored as time.Duration internally even though
// the spec names them in milliseconds — callers building a Config from
// external ms-denominated input should multiply by time.Millisecond.
type Config struct {
	// HeartbeatInterval is how often the local member record is refreshed.
	// Zero means "derive from StaleThreshold" (see DefaultConfig).
	HeartbeatInterval time.Duration

	// StaleThreshold is how old a sibling's timestamp can get before
	// getSiblings() filters it out.
	StaleThreshold time.Duration

	// ReconnectInterval is the flat delay the event stream supervisor
	// waits before resubscribing after an error or clean completion.
	ReconnectInterval time.Duration

	// ReconcilerQuickCycle drives draining of externally submitted actions.
	ReconcilerQuickCycle time.Duration

	// ReconcilerLongCycle drives periodic housekeeping (heartbeat, GC,
	// leadership reconciliation).
	ReconcilerLongCycle time.Duration

	// ShutdownGrace bounds how long shutdown() waits for inflight work to
	// drain before proceeding regardless.
	ShutdownGrace time.Duration

	// StaleGCFactor is the k in "purge siblings older than
	// StaleThreshold * k" (spec: k >= 2).
	StaleGCFactor int
}

// DefaultConfig fills in zero fields with the defaults named in spec §6 and
// returns a normalized copy; it never mutates cfg.
func DefaultConfig(cfg Config) Config {
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = 30 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = cfg.StaleThreshold / 3
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 2 * time.Second
	}
	if cfg.ReconcilerQuickCycle <= 0 {
		cfg.ReconcilerQuickCycle = 25 * time.Millisecond
	}
	if cfg.ReconcilerLongCycle <= 0 {
		cfg.ReconcilerLongCycle = 5 * time.Second
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 5 * time.Second
	}
	if cfg.StaleGCFactor < 2 {
		cfg.StaleGCFactor = 2
	}
	return cfg
}
