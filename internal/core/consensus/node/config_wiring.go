package node

import (
	"encoding/hex"
	"fmt"

	"github.com/coinjet/coinjetd/internal/config"
	"github.com/coinjet/coinjetd/internal/core/consensus"
	"github.com/coinjet/coinjetd/internal/crypto"
	"github.com/coinjet/coinjetd/internal/storage/nodestore"
)

// ConfigFromFile translates a loaded node configuration's validator list
// and [consensus] section into a StoreAdaptor Config. It sets only UNL,
// Quorum and CloseTimeResolution; consensus timing and thresholds are not
// part of the adaptor Config (runStart hands them to the engine through
// Consensus.ToTiming/ToThresholds). It does not fill in DB/Transport/Wrapper/NodeID/
// PrivateKeyHex/IsValidator, which depend on how the binary wires storage,
// networking, and key material; callers set those before calling
// NewStoreAdaptor.
func ConfigFromFile(cfg *config.Config) (Config, error) {
	unl, err := parseUNLKeys(cfg.Validators.ValidatorListKeys)
	if err != nil {
		return Config{}, fmt.Errorf("node: parse validator_list_keys: %w", err)
	}

	quorum := cfg.Validators.GetValidatorListThreshold()
	if quorum == 0 {
		quorum = cfg.Consensus.GetMinConsensusPct() * len(unl) / 100
		if quorum == 0 && len(unl) > 0 {
			quorum = 1
		}
	}

	return Config{
		UNL:                 unl,
		Quorum:              quorum,
		CloseTimeResolution: cfg.Consensus.GetLedgerGranularity(),
	}, nil
}

// parseUNLKeys decodes the validator list's hex-encoded ED25519 public
// keys (the "EDxxxx..." format internal/crypto/algorithms/ed25519
// produces) into consensus.NodeID, skipping the rippled-style base58
// "nxxxx..." entries in Validators.Validators, which identify peers by a
// different key encoding this consensus engine does not speak.
func parseUNLKeys(keys []string) ([]consensus.NodeID, error) {
	ids := make([]consensus.NodeID, 0, len(keys))
	for _, k := range keys {
		raw, err := hex.DecodeString(k)
		if err != nil {
			return nil, fmt.Errorf("invalid validator_list_key %q: %w", k, err)
		}
		if len(raw) != len(consensus.NodeID{}) {
			return nil, fmt.Errorf("validator_list_key %q has length %d, want %d", k, len(raw), len(consensus.NodeID{}))
		}
		var id consensus.NodeID
		copy(id[:], raw)
		ids = append(ids, id)
	}
	return ids, nil
}

// NewStoreAdaptorFromConfig builds a fully wired StoreAdaptor: [consensus]
// timing/UNL from cfg, plus the storage, transport, and crypto dependencies
// the config file cannot describe on its own.
func NewStoreAdaptorFromConfig(cfg *config.Config, db nodestore.Database, transport Transport, wrapper *crypto.CryptoWrapper, nodeID consensus.NodeID, privateKeyHex string, isValidator bool) (*StoreAdaptor, error) {
	base, err := ConfigFromFile(cfg)
	if err != nil {
		return nil, err
	}
	base.DB = db
	base.Transport = transport
	base.Wrapper = wrapper
	base.NodeID = nodeID
	base.PrivateKeyHex = privateKeyHex
	base.IsValidator = isValidator
	return NewStoreAdaptor(base), nil
}
