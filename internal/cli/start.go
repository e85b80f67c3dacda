package cli

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/coinjet/coinjetd/internal/config"
	"github.com/coinjet/coinjetd/internal/core/consensus"
	"github.com/coinjet/coinjetd/internal/core/consensus/node"
	"github.com/coinjet/coinjetd/internal/core/consensus/rcl"
	"github.com/coinjet/coinjetd/internal/crypto"
	"github.com/coinjet/coinjetd/internal/crypto/algorithms/ed25519"
	"github.com/coinjet/coinjetd/internal/storage/nodestore"
)

// loopbackTransport is a standalone-mode node.Transport: it has no peers.
// Peer-to-peer framing and discovery are an external collaborator
// (internal/peermanagement's concern in a networked build), out of scope
// for the consensus core itself.
type loopbackTransport struct{}

func (loopbackTransport) Broadcast(kind string, payload []byte) error       { return nil }
func (loopbackTransport) SendToPeer(consensus.NodeID, string, []byte) error { return nil }
func (loopbackTransport) Peers() []consensus.NodeID                        { return nil }

// startCmd boots a node: config, node store, crypto, the StoreAdaptor, and
// the RCL engine, then blocks until interrupted.
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the consensus node",
	Long: `Load configuration, open the node store, build the consensus
adaptor, and run the RCL round driver until interrupted. The node has no
peer transport and always runs standalone: it proposes against its own
last closed ledger only.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStart()
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart() error {
	paths := config.DefaultConfigPaths()
	if configFile != "" {
		paths.Main = configFile
	}

	cfg, err := config.LoadConfig(paths)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	dbConfig := nodestore.DefaultConfig()
	if cfg.NodeDB.Path != "" {
		dbConfig.Path = cfg.NodeDB.Path
	}
	backend, err := nodestore.NewPebbleBackend(dbConfig)
	if err != nil {
		return fmt.Errorf("open node store: %w", err)
	}
	db := nodestore.NewDatabase(backend, dbConfig.CacheSize, dbConfig.CacheTTL)

	wrapper := crypto.NewED25519Wrapper(ed25519.NewED25519Provider())

	seed := cfg.ValidationSeed
	if seed == "" {
		seed = cfg.NodeSeed
	}
	var seedBytes []byte
	if seed != "" {
		seedBytes = []byte(seed)
	}
	// false: ED25519SignatureProvider.GenerateKeypair's isValidator flag
	// rejects Ed25519 for rippled-style master validator keys, which use
	// secp256k1 instead; this node's consensus identity key is a plain
	// Ed25519 key regardless of whether it participates as a UNL member.
	privateKeyHex, publicKeyHex, err := wrapper.GenerateKeypair(seedBytes, false)
	if err != nil {
		return fmt.Errorf("generate node keypair: %w", err)
	}

	nodeID, err := nodeIDFromPublicKeyHex(publicKeyHex)
	if err != nil {
		return fmt.Errorf("derive node id: %w", err)
	}

	adaptor, err := node.NewStoreAdaptorFromConfig(cfg, db, loopbackTransport{}, wrapper, nodeID, privateKeyHex, cfg.IsValidator())
	if err != nil {
		return fmt.Errorf("build consensus adaptor: %w", err)
	}

	if err := seedGenesisLedger(adaptor); err != nil {
		return fmt.Errorf("seed genesis ledger: %w", err)
	}

	engineCfg := rcl.DefaultConfig()
	engineCfg.Timing = cfg.Consensus.ToTiming()
	engineCfg.Thresholds = cfg.Consensus.ToThresholds()
	engineCfg.Manifests = adaptor.Manifests()

	engine := rcl.NewEngine(adaptor, engineCfg)
	SetConsensusStateProvider(engine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start consensus engine: %w", err)
	}

	lcl, err := adaptor.GetLastClosedLedger()
	if err != nil {
		return fmt.Errorf("read seeded genesis ledger: %w", err)
	}
	round := consensus.RoundID{Seq: lcl.Seq() + 1, ParentHash: lcl.ID()}
	if err := engine.StartRound(round, cfg.IsValidator()); err != nil {
		return fmt.Errorf("start consensus round: %w", err)
	}

	fmt.Printf("coinjetd: consensus engine running (node %x, validator=%t)\n", nodeID[:4], cfg.IsValidator())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	fmt.Println("coinjetd: shutting down")
	return engine.Stop()
}

// nodeIDFromPublicKeyHex decodes a hex-encoded public key into the 33-byte
// NodeID the consensus core keys peers by, matching
// internal/core/consensus/node.parseUNLKeys's expectations for the UNL.
func nodeIDFromPublicKeyHex(hexKey string) (consensus.NodeID, error) {
	var id consensus.NodeID
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return id, fmt.Errorf("decode public key %q: %w", hexKey, err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("public key %q has length %d, want %d", hexKey, len(raw), len(id))
	}
	copy(id[:], raw)
	return id, nil
}

// seedGenesisLedger gives a fresh node store a ledger 0 to build on, since
// GetLastClosedLedger otherwise has nothing to return before the first
// round ever closes.
func seedGenesisLedger(adaptor *node.StoreAdaptor) error {
	if _, err := adaptor.GetLastClosedLedger(); err == nil {
		return nil
	}
	genesis, err := adaptor.BuildGenesisLedger(time.Unix(0, 0))
	if err != nil {
		return err
	}
	return adaptor.StoreLedger(genesis)
}
