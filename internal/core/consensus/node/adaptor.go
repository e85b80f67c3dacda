// Package node wires a consensus.Adaptor against the rest of a running
// coinjetd node: the pebble-backed node store for ledger persistence, the
// crypto wrapper for signing and verification, and a pluggable Transport
// for peer networking. It exists so the consensus engine has a concrete,
// production-shaped host instead of only the test package's fakes.
package node

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coinjet/coinjetd/internal/core/consensus"
	"github.com/coinjet/coinjetd/internal/core/consensus/rcl"
	"github.com/coinjet/coinjetd/internal/crypto"
	"github.com/coinjet/coinjetd/internal/storage/nodestore"
)

// Transport is the networking seam StoreAdaptor delegates to. It mirrors
// the subset of consensus.Adaptor's network operations that genuinely
// require a live peer connection, keeping StoreAdaptor itself free of any
// dependency on a specific wire protocol or discovery mechanism -
// internal/peermanagement's handshake/slot/relay machinery is the kind of
// thing a Transport implementation would wrap in production, but that
// wiring is an external collaborator of this package, not its concern.
type Transport interface {
	Broadcast(kind string, payload []byte) error
	SendToPeer(peer consensus.NodeID, kind string, payload []byte) error
	Peers() []consensus.NodeID
}

const (
	kindProposal  = "proposal"
	kindValidation = "validation"
	kindTxSetReq  = "txset-request"
	kindLedgerReq = "ledger-request"
)

// StoreAdaptor is a concrete consensus.Adaptor. The zero value is not
// usable; build one with NewStoreAdaptor.
type StoreAdaptor struct {
	mu sync.RWMutex

	db        nodestore.Database
	transport Transport
	wrapper   *crypto.CryptoWrapper

	nodeID        consensus.NodeID
	privateKeyHex string
	isValidator   bool

	unl       map[consensus.NodeID]bool
	quorum    int
	manifests *rcl.ManifestStore
	verifier  rcl.ManifestVerifier

	closeTimeResolution time.Duration

	pendingTxs map[consensus.TxID][]byte
	txSets     map[consensus.TxSetID]*memTxSet
	ledgers    map[consensus.LedgerID]*storedLedger
	lastClosed consensus.LedgerID

	opMode consensus.OperatingMode
}

// Config gathers StoreAdaptor's construction-time dependencies and
// static parameters.
type Config struct {
	DB            nodestore.Database
	Transport     Transport
	Wrapper       *crypto.CryptoWrapper
	NodeID        consensus.NodeID
	PrivateKeyHex string
	IsValidator   bool
	UNL           []consensus.NodeID
	Quorum        int
	CloseTimeResolution time.Duration
}

// NewStoreAdaptor builds a StoreAdaptor from cfg. The manifest store is
// wired against the same crypto wrapper used for proposal/validation
// signing, following rcl.NewCryptoManifestVerifier.
func NewStoreAdaptor(cfg Config) *StoreAdaptor {
	unl := make(map[consensus.NodeID]bool, len(cfg.UNL))
	for _, n := range cfg.UNL {
		unl[n] = true
	}

	resolution := cfg.CloseTimeResolution
	if resolution <= 0 {
		resolution = consensus.DefaultTiming().LedgerGranularity
	}

	verifier := rcl.NewCryptoManifestVerifier(cfg.Wrapper)

	return &StoreAdaptor{
		db:                  cfg.DB,
		transport:           cfg.Transport,
		wrapper:             cfg.Wrapper,
		nodeID:              cfg.NodeID,
		privateKeyHex:       cfg.PrivateKeyHex,
		isValidator:         cfg.IsValidator,
		unl:                 unl,
		quorum:              cfg.Quorum,
		manifests:           rcl.NewManifestStore(verifier),
		verifier:            verifier,
		closeTimeResolution: resolution,
		pendingTxs:          make(map[consensus.TxID][]byte),
		txSets:              make(map[consensus.TxSetID]*memTxSet),
		ledgers:             make(map[consensus.LedgerID]*storedLedger),
		opMode:              consensus.OpModeConnected,
	}
}

// Manifests exposes the underlying manifest store so a caller can insert
// inbound manifests (CurrentSigningKey/VerifyManifest below read from the
// same store).
func (a *StoreAdaptor) Manifests() *rcl.ManifestStore { return a.manifests }

// --- Network operations -----------------------------------------------

func (a *StoreAdaptor) BroadcastProposal(proposal *consensus.Proposal) error {
	return a.transport.Broadcast(kindProposal, encodeProposal(proposal))
}

func (a *StoreAdaptor) BroadcastValidation(validation *consensus.Validation) error {
	return a.transport.Broadcast(kindValidation, encodeValidation(validation))
}

func (a *StoreAdaptor) RelayProposal(proposal *consensus.Proposal) error {
	return a.transport.Broadcast(kindProposal, encodeProposal(proposal))
}

func (a *StoreAdaptor) RequestTxSet(id consensus.TxSetID) error {
	return a.transport.Broadcast(kindTxSetReq, id[:])
}

func (a *StoreAdaptor) RequestLedger(id consensus.LedgerID) error {
	return a.transport.Broadcast(kindLedgerReq, id[:])
}

func (a *StoreAdaptor) RequestLedgerFromPeer(id consensus.LedgerID, peer consensus.NodeID) error {
	return a.transport.SendToPeer(peer, kindLedgerReq, id[:])
}

func (a *StoreAdaptor) Peers() []consensus.NodeID {
	return a.transport.Peers()
}

// --- Ledger operations --------------------------------------------------

func (a *StoreAdaptor) GetLedger(id consensus.LedgerID) (consensus.Ledger, error) {
	a.mu.RLock()
	l, ok := a.ledgers[id]
	a.mu.RUnlock()
	if ok {
		return l, nil
	}

	node, err := a.db.Fetch(context.Background(), nodestore.Hash256(id))
	if err != nil {
		return nil, fmt.Errorf("fetch ledger %x: %w", id, err)
	}
	return decodeLedger(node.Data)
}

func (a *StoreAdaptor) GetLastClosedLedger() (consensus.Ledger, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	l, ok := a.ledgers[a.lastClosed]
	if !ok {
		return nil, errors.New("no last closed ledger")
	}
	return l, nil
}

func (a *StoreAdaptor) BuildLedger(parent consensus.Ledger, txSet consensus.TxSet, closeTime time.Time) (consensus.Ledger, error) {
	if parent == nil {
		return nil, errors.New("build ledger: nil parent")
	}
	l := &storedLedger{
		seq:       parent.Seq() + 1,
		parentID:  parent.ID(),
		closeTime: closeTime,
		txSetID:   txSet.ID(),
		txs:       txSet.Txs(),
	}
	l.id = computeLedgerID(l)
	return l, nil
}

// BuildGenesisLedger constructs ledger 0, the parentless root a fresh node
// store seeds itself with so GetLastClosedLedger has something to return
// before the first round ever closes.
func (a *StoreAdaptor) BuildGenesisLedger(closeTime time.Time) (consensus.Ledger, error) {
	l := &storedLedger{
		seq:       0,
		closeTime: closeTime,
		txSetID:   newMemTxSet(nil).ID(),
	}
	l.id = computeLedgerID(l)
	return l, nil
}

func (a *StoreAdaptor) ValidateLedger(ledger consensus.Ledger) error {
	if ledger == nil {
		return errors.New("validate ledger: nil ledger")
	}
	return nil
}

func (a *StoreAdaptor) StoreLedger(ledger consensus.Ledger) error {
	sl, ok := ledger.(*storedLedger)
	if !ok {
		sl = &storedLedger{
			id:        ledger.ID(),
			seq:       ledger.Seq(),
			parentID:  ledger.ParentID(),
			closeTime: ledger.CloseTime(),
			txSetID:   ledger.TxSetID(),
		}
	}

	a.mu.Lock()
	a.ledgers[sl.id] = sl
	a.lastClosed = sl.id
	a.mu.Unlock()

	node := nodestore.NewNode(nodestore.NodeLedger, ledger.Bytes())
	node.Hash = nodestore.Hash256(sl.id)
	return a.db.Store(context.Background(), node)
}

// --- Transaction operations ---------------------------------------------

func (a *StoreAdaptor) GetPendingTxs() [][]byte {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([][]byte, 0, len(a.pendingTxs))
	for _, tx := range a.pendingTxs {
		out = append(out, tx)
	}
	return out
}

func (a *StoreAdaptor) GetTxSet(id consensus.TxSetID) (consensus.TxSet, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ts, ok := a.txSets[id]
	if !ok {
		return nil, fmt.Errorf("tx set %x not known", id)
	}
	return ts, nil
}

func (a *StoreAdaptor) BuildTxSet(txs [][]byte) (consensus.TxSet, error) {
	ts := newMemTxSet(txs)
	a.mu.Lock()
	a.txSets[ts.ID()] = ts
	a.mu.Unlock()
	return ts, nil
}

func (a *StoreAdaptor) HasTx(id consensus.TxID) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.pendingTxs[id]
	return ok
}

func (a *StoreAdaptor) GetTx(id consensus.TxID) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	tx, ok := a.pendingTxs[id]
	if !ok {
		return nil, fmt.Errorf("tx %x not known", id)
	}
	return tx, nil
}

// --- Validator operations -----------------------------------------------

func (a *StoreAdaptor) IsValidator() bool { return a.isValidator }

func (a *StoreAdaptor) GetValidatorKey() (consensus.NodeID, error) {
	if !a.isValidator {
		return consensus.NodeID{}, errors.New("node is not a validator")
	}
	return a.nodeID, nil
}

func (a *StoreAdaptor) SignProposal(proposal *consensus.Proposal) error {
	sig, err := a.wrapper.SignMessage(proposalSigningMessage(proposal), a.privateKeyHex)
	if err != nil {
		return fmt.Errorf("sign proposal: %w", err)
	}
	raw, err := hex.DecodeString(sig)
	if err != nil {
		return fmt.Errorf("decode proposal signature: %w", err)
	}
	proposal.Signature = raw
	return nil
}

func (a *StoreAdaptor) SignValidation(validation *consensus.Validation) error {
	sig, err := a.wrapper.SignMessage(validationSigningMessage(validation), a.privateKeyHex)
	if err != nil {
		return fmt.Errorf("sign validation: %w", err)
	}
	raw, err := hex.DecodeString(sig)
	if err != nil {
		return fmt.Errorf("decode validation signature: %w", err)
	}
	validation.Signature = raw
	return nil
}

func (a *StoreAdaptor) VerifyProposal(proposal *consensus.Proposal) error {
	key, err := a.signingKeyHex(proposal.NodeID)
	if err != nil {
		return err
	}
	if !a.wrapper.VerifySignature(proposalSigningMessage(proposal), key, hex.EncodeToString(proposal.Signature)) {
		return errors.New("proposal signature invalid")
	}
	return nil
}

func (a *StoreAdaptor) VerifyValidation(validation *consensus.Validation) error {
	key, err := a.signingKeyHex(validation.NodeID)
	if err != nil {
		return err
	}
	if !a.wrapper.VerifySignature(validationSigningMessage(validation), key, hex.EncodeToString(validation.Signature)) {
		return errors.New("validation signature invalid")
	}
	return nil
}

func (a *StoreAdaptor) VerifyManifest(manifest *consensus.Manifest) error {
	return a.verifier.VerifyManifest(manifest)
}

// --- Manifest operations -------------------------------------------------

func (a *StoreAdaptor) CurrentSigningKey(masterKey consensus.NodeID) (consensus.NodeID, bool) {
	return a.manifests.CurrentSigningKey(masterKey)
}

// --- Trust operations ----------------------------------------------------

func (a *StoreAdaptor) IsTrusted(node consensus.NodeID) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.unl[node]
}

func (a *StoreAdaptor) GetTrustedValidators() []consensus.NodeID {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]consensus.NodeID, 0, len(a.unl))
	for n := range a.unl {
		out = append(out, n)
	}
	return out
}

func (a *StoreAdaptor) GetQuorum() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.quorum
}

// --- Time operations -------------------------------------------------------

func (a *StoreAdaptor) Now() time.Time { return time.Now() }

func (a *StoreAdaptor) CloseTimeResolution() time.Duration { return a.closeTimeResolution }

// --- Status operations -------------------------------------------------------

func (a *StoreAdaptor) GetOperatingMode() consensus.OperatingMode {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.opMode
}

func (a *StoreAdaptor) SetOperatingMode(mode consensus.OperatingMode) {
	a.mu.Lock()
	a.opMode = mode
	a.mu.Unlock()
}

// OnConsensusReached, OnModeChange and OnPhaseChange are observation hooks
// the engine calls directly; StoreAdaptor has nothing further to do on
// them beyond what StoreLedger/SetOperatingMode already record, since the
// rcl.Engine itself publishes the matching events on its EventBus for any
// other interested subscriber.
func (a *StoreAdaptor) OnConsensusReached(ledger consensus.Ledger, validations []*consensus.Validation) {}
func (a *StoreAdaptor) OnModeChange(oldMode, newMode consensus.Mode)                                     {}
func (a *StoreAdaptor) OnPhaseChange(oldPhase, newPhase consensus.Phase)                                 {}

func (a *StoreAdaptor) signingKeyHex(masterOrSigning consensus.NodeID) (string, error) {
	if key, ok := a.manifests.CurrentSigningKey(masterOrSigning); ok {
		return hex.EncodeToString(key[:]), nil
	}
	return hex.EncodeToString(masterOrSigning[:]), nil
}

func proposalSigningMessage(p *consensus.Proposal) string {
	return fmt.Sprintf("PROP\x00%d\x00%x\x00%x\x00%d", p.Round.Seq, p.Round.ParentHash, p.TxSet, p.CloseTime.Unix())
}

func validationSigningMessage(v *consensus.Validation) string {
	return fmt.Sprintf("VAL\x00%d\x00%x\x00%d", v.LedgerSeq, v.LedgerID, v.SignTime.Unix())
}
