package edge

import (
	"context"
	"log/slog"
	"time"

	"github.com/artifact-keeper/artifact-keeper/api"
	"github.com/artifact-keeper/artifact-keeper/metrics"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultHeartbeatTimeout  = 10 * time.Second
	DefaultInitialDelay      = 5 * time.Second
)

// CacheStats reports the counters sent with each heartbeat.
type CacheStats interface {
	Size() int64
	Len() int64
}

// HeartbeatConfig controls the heartbeat loop. Zero values select the defaults.
type HeartbeatConfig struct {
	Interval     time.Duration
	Timeout      time.Duration
	InitialDelay time.Duration
}

// Heartbeater reports to the primary on a fixed period and drives the
// Online/Offline state machine from the outcome.
type Heartbeater struct {
	cfg     HeartbeatConfig
	primary api.PrimaryAPI
	state   *State
	cache   CacheStats
	metrics *metrics.EdgeRecorder
	log     *slog.Logger
	now     func() time.Time
}

// NewHeartbeater creates a heartbeater. recorder may be nil.
func NewHeartbeater(cfg HeartbeatConfig, primary api.PrimaryAPI, state *State, cache CacheStats, recorder *metrics.EdgeRecorder, log *slog.Logger) *Heartbeater {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultHeartbeatInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultHeartbeatTimeout
	}
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = 0
	}
	return &Heartbeater{
		cfg:     cfg,
		primary: primary,
		state:   state,
		cache:   cache,
		metrics: recorder,
		log:     log,
		now:     time.Now,
	}
}

// Run sends heartbeats until ctx is cancelled. Failures never stop the loop.
func (h *Heartbeater) Run(ctx context.Context) {
	if h.cfg.InitialDelay > 0 {
		timer := time.NewTimer(h.cfg.InitialDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	for {
		_ = h.Beat(ctx)

		select {
		case <-ctx.Done():
			h.log.Info("Heartbeat loop stopped")
			return
		case <-ticker.C:
		}
	}
}

// Beat sends one heartbeat and applies the resulting state transition.
func (h *Heartbeater) Beat(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	size, entries := h.cache.Size(), h.cache.Len()
	resp, err := h.primary.Heartbeat(ctx, &api.HeartbeatRequest{
		CacheSizeBytes: size,
		CacheEntries:   entries,
		IsOffline:      h.state.IsOffline(),
	})
	h.metrics.RecordCache(size, entries)

	if err != nil {
		h.log.Warn("Heartbeat failed", "err", err)
		if IsConnectivityError(err) && h.state.MarkOffline() {
			h.log.Warn("Primary unreachable, edge node is now offline")
		}
		h.metrics.RecordHeartbeat(false, h.state.IsOffline())
		return err
	}

	if h.state.MarkOnline() {
		h.log.Info("Primary reachable again, edge node is back online")
	}
	h.state.Touch(h.now())

	if resp != nil && resp.NodeID != nil {
		adopted, err := h.state.AdoptNodeID(*resp.NodeID)
		if err != nil {
			h.log.Error("Failed to persist node id", slog.String("node_id", resp.NodeID.String()), "err", err)
		} else if adopted {
			h.log.Info("Adopted node id from primary", slog.String("node_id", resp.NodeID.String()))
		}
	}

	h.metrics.RecordHeartbeat(true, false)
	return nil
}
