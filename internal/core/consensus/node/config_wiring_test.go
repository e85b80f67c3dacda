package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinjet/coinjetd/internal/config"
	"github.com/coinjet/coinjetd/internal/core/consensus"
)

func TestConfigFromFileWiresTimingAndUNL(t *testing.T) {
	keyA := "ED2677ABFFD1B33AC6FBC3062B71F1E8397C1505E1C42C64D11AD1B28FF73F4734"
	cfg := &config.Config{
		Validators: config.ValidatorsConfig{
			ValidatorListKeys:      []string{keyA},
			ValidatorListThreshold: 1,
		},
	}

	nodeCfg, err := ConfigFromFile(cfg)
	require.NoError(t, err)
	require.Len(t, nodeCfg.UNL, 1)
	assert.Equal(t, 1, nodeCfg.Quorum)
	assert.Equal(t, consensus.DefaultTiming().LedgerGranularity, nodeCfg.CloseTimeResolution)

	expected, err := hexDecodeNodeID(keyA)
	require.NoError(t, err)
	assert.Equal(t, expected, nodeCfg.UNL[0])
}

func TestConfigFromFileRejectsMalformedKey(t *testing.T) {
	cfg := &config.Config{
		Validators: config.ValidatorsConfig{
			ValidatorListKeys: []string{"not-hex"},
		},
	}
	_, err := ConfigFromFile(cfg)
	assert.Error(t, err)
}

func TestConfigFromFileDerivesQuorumWhenThresholdUnset(t *testing.T) {
	keyA := "ED2677ABFFD1B33AC6FBC3062B71F1E8397C1505E1C42C64D11AD1B28FF73F4734"
	keyB := "ED42AEC58B701EEBB77356FFFEC26F83C1F0407263530F068C7C73D392C7E06FD1"
	cfg := &config.Config{
		Validators: config.ValidatorsConfig{
			ValidatorListKeys: []string{keyA, keyB},
			// ValidatorListThreshold left at 0: GetValidatorListThreshold
			// auto-calculates (len < 3 -> 1) before ConfigFromFile's own
			// MinConsensusPct-based fallback ever runs.
		},
	}
	nodeCfg, err := ConfigFromFile(cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, nodeCfg.Quorum)
}

func hexDecodeNodeID(s string) (consensus.NodeID, error) {
	ids, err := parseUNLKeys([]string{s})
	if err != nil {
		return consensus.NodeID{}, err
	}
	return ids[0], nil
}
