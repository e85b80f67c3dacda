package config

import (
	"fmt"
	"time"

	"github.com/coinjet/coinjetd/internal/core/consensus"
)

// ConsensusConfig represents the [consensus] section, surfacing the
// RCL timing constants and percentage schedule alongside the validator
// UNL file this node consensus-votes against.
type ConsensusConfig struct {
	LedgerIdleIntervalMs  int `toml:"ledger_idle_interval_ms" mapstructure:"ledger_idle_interval_ms"`
	LedgerValIntervalMs   int `toml:"ledger_val_interval_ms" mapstructure:"ledger_val_interval_ms"`
	LedgerEarlyIntervalMs int `toml:"ledger_early_interval_ms" mapstructure:"ledger_early_interval_ms"`
	LedgerMinConsensusMs  int `toml:"ledger_min_consensus_ms" mapstructure:"ledger_min_consensus_ms"`
	LedgerMinCloseMs      int `toml:"ledger_min_close_ms" mapstructure:"ledger_min_close_ms"`
	LedgerGranularityMs   int `toml:"ledger_granularity_ms" mapstructure:"ledger_granularity_ms"`
	ProposeFreshnessMs    int `toml:"propose_freshness_ms" mapstructure:"propose_freshness_ms"`
	ProposeIntervalMs     int `toml:"propose_interval_ms" mapstructure:"propose_interval_ms"`
	PeerReplyTimeoutMs    int `toml:"peer_reply_timeout_ms" mapstructure:"peer_reply_timeout_ms"`

	MinConsensusPct int `toml:"min_consensus_pct" mapstructure:"min_consensus_pct"`
	AVInitPct       int `toml:"av_init_pct" mapstructure:"av_init_pct"`
	AVMidTimePct    int `toml:"av_mid_time_pct" mapstructure:"av_mid_time_pct"`
	AVMidPct        int `toml:"av_mid_pct" mapstructure:"av_mid_pct"`
	AVLateTimePct   int `toml:"av_late_time_pct" mapstructure:"av_late_time_pct"`
	AVLatePct       int `toml:"av_late_pct" mapstructure:"av_late_pct"`
	AVStuckTimePct  int `toml:"av_stuck_time_pct" mapstructure:"av_stuck_time_pct"`
	AVStuckPct      int `toml:"av_stuck_pct" mapstructure:"av_stuck_pct"`

	// UNLFile points at the validator list this node's consensus engine
	// votes against; separate from ValidatorsFile/ValidatorsConfig,
	// which cover the peer-protocol trust list rippled-side.
	UNLFile string `toml:"unl_file" mapstructure:"unl_file"`
}

// Validate performs validation on the consensus configuration.
func (c *ConsensusConfig) Validate() error {
	for name, v := range map[string]int{
		"ledger_idle_interval_ms":  c.LedgerIdleIntervalMs,
		"ledger_val_interval_ms":   c.LedgerValIntervalMs,
		"ledger_early_interval_ms": c.LedgerEarlyIntervalMs,
		"ledger_min_consensus_ms":  c.LedgerMinConsensusMs,
		"ledger_min_close_ms":      c.LedgerMinCloseMs,
		"ledger_granularity_ms":    c.LedgerGranularityMs,
		"propose_freshness_ms":     c.ProposeFreshnessMs,
		"propose_interval_ms":      c.ProposeIntervalMs,
		"peer_reply_timeout_ms":    c.PeerReplyTimeoutMs,
	} {
		if v < 0 {
			return fmt.Errorf("%s must be non-negative, got %d", name, v)
		}
	}

	for name, v := range map[string]int{
		"min_consensus_pct": c.MinConsensusPct,
		"av_init_pct":       c.AVInitPct,
		"av_mid_time_pct":   c.AVMidTimePct,
		"av_mid_pct":        c.AVMidPct,
		"av_late_time_pct":  c.AVLateTimePct,
		"av_late_pct":       c.AVLatePct,
		"av_stuck_time_pct": c.AVStuckTimePct,
		"av_stuck_pct":      c.AVStuckPct,
	} {
		if v != 0 && (v < 0 || v > 200) {
			return fmt.Errorf("%s must be between 0 and 200, got %d", name, v)
		}
	}

	return nil
}

// GetLedgerIdleInterval returns LEDGER_IDLE_INTERVAL, defaulting to the
// spec's built-in constant when unset.
func (c *ConsensusConfig) GetLedgerIdleInterval() time.Duration {
	if c.LedgerIdleIntervalMs == 0 {
		return consensus.DefaultTiming().LedgerIdleInterval
	}
	return time.Duration(c.LedgerIdleIntervalMs) * time.Millisecond
}

// GetLedgerValInterval returns LEDGER_VAL_INTERVAL.
func (c *ConsensusConfig) GetLedgerValInterval() time.Duration {
	if c.LedgerValIntervalMs == 0 {
		return consensus.DefaultTiming().ValidationValidInterval
	}
	return time.Duration(c.LedgerValIntervalMs) * time.Millisecond
}

// GetLedgerEarlyInterval returns LEDGER_EARLY_INTERVAL.
func (c *ConsensusConfig) GetLedgerEarlyInterval() time.Duration {
	if c.LedgerEarlyIntervalMs == 0 {
		return consensus.DefaultTiming().ValidationEarlyInterval
	}
	return time.Duration(c.LedgerEarlyIntervalMs) * time.Millisecond
}

// GetLedgerMinConsensus returns LEDGER_MIN_CONSENSUS.
func (c *ConsensusConfig) GetLedgerMinConsensus() time.Duration {
	if c.LedgerMinConsensusMs == 0 {
		return consensus.DefaultTiming().LedgerMinConsensus
	}
	return time.Duration(c.LedgerMinConsensusMs) * time.Millisecond
}

// GetLedgerMinClose returns LEDGER_MIN_CLOSE.
func (c *ConsensusConfig) GetLedgerMinClose() time.Duration {
	if c.LedgerMinCloseMs == 0 {
		return consensus.DefaultTiming().LedgerMinClose
	}
	return time.Duration(c.LedgerMinCloseMs) * time.Millisecond
}

// GetLedgerGranularity returns LEDGER_GRANULARITY.
func (c *ConsensusConfig) GetLedgerGranularity() time.Duration {
	if c.LedgerGranularityMs == 0 {
		return consensus.DefaultTiming().LedgerGranularity
	}
	return time.Duration(c.LedgerGranularityMs) * time.Millisecond
}

// GetProposeFreshness returns PROPOSE_FRESHNESS.
func (c *ConsensusConfig) GetProposeFreshness() time.Duration {
	if c.ProposeFreshnessMs == 0 {
		return consensus.DefaultTiming().ProposeFreshness
	}
	return time.Duration(c.ProposeFreshnessMs) * time.Millisecond
}

// GetProposeInterval returns PROPOSE_INTERVAL.
func (c *ConsensusConfig) GetProposeInterval() time.Duration {
	if c.ProposeIntervalMs == 0 {
		return consensus.DefaultTiming().ProposeInterval
	}
	return time.Duration(c.ProposeIntervalMs) * time.Millisecond
}

// GetPeerReplyTimeout returns the ledger-acquisition per-peer reply timeout.
func (c *ConsensusConfig) GetPeerReplyTimeout() time.Duration {
	if c.PeerReplyTimeoutMs == 0 {
		return consensus.DefaultTiming().PeerReplyTimeout
	}
	return time.Duration(c.PeerReplyTimeoutMs) * time.Millisecond
}

// ToTiming builds a consensus.Timing from the configured values, falling
// back to consensus.DefaultTiming()'s constant for anything left at zero.
func (c *ConsensusConfig) ToTiming() consensus.Timing {
	return consensus.Timing{
		LedgerMinClose:          c.GetLedgerMinClose(),
		LedgerMinConsensus:      c.GetLedgerMinConsensus(),
		LedgerIdleInterval:      c.GetLedgerIdleInterval(),
		LedgerGranularity:       c.GetLedgerGranularity(),
		ValidationValidInterval: c.GetLedgerValInterval(),
		ValidationEarlyInterval: c.GetLedgerEarlyInterval(),
		ProposeFreshness:        c.GetProposeFreshness(),
		ProposeInterval:         c.GetProposeInterval(),
		PeerReplyTimeout:        c.GetPeerReplyTimeout(),
	}
}

// GetMinConsensusPct returns MIN_CONSENSUS_PCT.
func (c *ConsensusConfig) GetMinConsensusPct() int {
	if c.MinConsensusPct == 0 {
		return consensus.DefaultThresholds().MinConsensusPct
	}
	return c.MinConsensusPct
}

// GetAVInitPct returns AV_INIT_PCT.
func (c *ConsensusConfig) GetAVInitPct() int {
	if c.AVInitPct == 0 {
		return consensus.DefaultThresholds().InitPct
	}
	return c.AVInitPct
}

// GetAVMidTimePct returns AV_MID_TIME_PCT.
func (c *ConsensusConfig) GetAVMidTimePct() int {
	if c.AVMidTimePct == 0 {
		return consensus.DefaultThresholds().MidTimePct
	}
	return c.AVMidTimePct
}

// GetAVMidPct returns AV_MID_PCT.
func (c *ConsensusConfig) GetAVMidPct() int {
	if c.AVMidPct == 0 {
		return consensus.DefaultThresholds().MidPct
	}
	return c.AVMidPct
}

// GetAVLateTimePct returns AV_LATE_TIME_PCT.
func (c *ConsensusConfig) GetAVLateTimePct() int {
	if c.AVLateTimePct == 0 {
		return consensus.DefaultThresholds().LateTimePct
	}
	return c.AVLateTimePct
}

// GetAVLatePct returns AV_LATE_PCT.
func (c *ConsensusConfig) GetAVLatePct() int {
	if c.AVLatePct == 0 {
		return consensus.DefaultThresholds().LatePct
	}
	return c.AVLatePct
}

// GetAVStuckTimePct returns AV_STUCK_TIME_PCT.
func (c *ConsensusConfig) GetAVStuckTimePct() int {
	if c.AVStuckTimePct == 0 {
		return consensus.DefaultThresholds().StuckTimePct
	}
	return c.AVStuckTimePct
}

// GetAVStuckPct returns AV_STUCK_PCT.
func (c *ConsensusConfig) GetAVStuckPct() int {
	if c.AVStuckPct == 0 {
		return consensus.DefaultThresholds().StuckPct
	}
	return c.AVStuckPct
}

// ToThresholds builds a consensus.Thresholds from the configured values,
// falling back to consensus.DefaultThresholds()'s schedule for anything
// left at zero.
func (c *ConsensusConfig) ToThresholds() consensus.Thresholds {
	return consensus.Thresholds{
		MinConsensusPct: c.GetMinConsensusPct(),
		InitPct:         c.GetAVInitPct(),
		MidTimePct:      c.GetAVMidTimePct(),
		MidPct:          c.GetAVMidPct(),
		LateTimePct:     c.GetAVLateTimePct(),
		LatePct:         c.GetAVLatePct(),
		StuckTimePct:    c.GetAVStuckTimePct(),
		StuckPct:        c.GetAVStuckPct(),
	}
}

// GetUNLFile returns the validator UNL file path, defaulting to the
// rippled-style validators file used elsewhere in this config.
func (c *ConsensusConfig) GetUNLFile() string {
	if c.UNLFile == "" {
		return "validators.txt"
	}
	return c.UNLFile
}
