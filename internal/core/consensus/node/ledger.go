package node

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coinjet/coinjetd/internal/core/consensus"
)

// storedLedger is StoreAdaptor's concrete consensus.Ledger: a ledger
// header plus the transaction bytes it closed with, persisted to the
// node store keyed by its own hash.
type storedLedger struct {
	id        consensus.LedgerID
	seq       uint32
	parentID  consensus.LedgerID
	closeTime time.Time
	txSetID   consensus.TxSetID
	txs       [][]byte
}

type storedLedgerWire struct {
	Seq       uint32
	ParentID  consensus.LedgerID
	CloseTime time.Time
	TxSetID   consensus.TxSetID
	Txs       [][]byte
}

func (l *storedLedger) ID() consensus.LedgerID       { return l.id }
func (l *storedLedger) Seq() uint32                  { return l.seq }
func (l *storedLedger) ParentID() consensus.LedgerID { return l.parentID }
func (l *storedLedger) CloseTime() time.Time         { return l.closeTime }
func (l *storedLedger) TxSetID() consensus.TxSetID   { return l.txSetID }

func (l *storedLedger) Bytes() []byte {
	b, err := json.Marshal(storedLedgerWire{
		Seq:       l.seq,
		ParentID:  l.parentID,
		CloseTime: l.closeTime,
		TxSetID:   l.txSetID,
		Txs:       l.txs,
	})
	if err != nil {
		// storedLedgerWire's fields are all plain, marshalable types;
		// json.Marshal cannot fail on them.
		panic(fmt.Sprintf("node: marshal ledger: %v", err))
	}
	return b
}

func decodeLedger(data []byte) (consensus.Ledger, error) {
	var w storedLedgerWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode ledger: %w", err)
	}
	l := &storedLedger{
		seq:       w.Seq,
		parentID:  w.ParentID,
		closeTime: w.CloseTime,
		txSetID:   w.TxSetID,
		txs:       w.Txs,
	}
	l.id = computeLedgerID(l)
	return l, nil
}

// computeLedgerID hashes a ledger's header fields, mirroring how the
// node store addresses payloads by content hash (internal/types/
// hash256.go's Hash256FromData, wrapped by nodestore.ComputeHash256).
func computeLedgerID(l *storedLedger) consensus.LedgerID {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%x|%d|%x", l.seq, l.parentID, l.closeTime.UnixNano(), l.txSetID)
	var id consensus.LedgerID
	copy(id[:], h.Sum(nil))
	return id
}

// memTxSet is StoreAdaptor's concrete consensus.TxSet: an in-memory
// transaction list keyed by its content hash. Add/Remove mutate the set
// in place and recompute its ID, so a TxSetID read before a mutation no
// longer matches the set afterward.
type memTxSet struct {
	id  consensus.TxSetID
	txs [][]byte
}

func newMemTxSet(txs [][]byte) *memTxSet {
	cp := make([][]byte, len(txs))
	copy(cp, txs)
	ts := &memTxSet{txs: cp}
	ts.id = computeTxSetID(cp)
	return ts
}

func computeTxSetID(txs [][]byte) consensus.TxSetID {
	h := sha256.New()
	for _, tx := range txs {
		sum := sha256.Sum256(tx)
		h.Write(sum[:])
	}
	var id consensus.TxSetID
	copy(id[:], h.Sum(nil))
	return id
}

func txID(tx []byte) consensus.TxID {
	return consensus.TxID(sha256.Sum256(tx))
}

func (ts *memTxSet) ID() consensus.TxSetID { return ts.id }

func (ts *memTxSet) Txs() [][]byte {
	out := make([][]byte, len(ts.txs))
	copy(out, ts.txs)
	return out
}

func (ts *memTxSet) Contains(id consensus.TxID) bool {
	for _, tx := range ts.txs {
		if txID(tx) == id {
			return true
		}
	}
	return false
}

func (ts *memTxSet) Add(tx []byte) error {
	if ts.Contains(txID(tx)) {
		return fmt.Errorf("tx %x already in set", txID(tx))
	}
	ts.txs = append(ts.txs, tx)
	ts.id = computeTxSetID(ts.txs)
	return nil
}

func (ts *memTxSet) Remove(id consensus.TxID) error {
	for i, tx := range ts.txs {
		if txID(tx) == id {
			ts.txs = append(ts.txs[:i], ts.txs[i+1:]...)
			ts.id = computeTxSetID(ts.txs)
			return nil
		}
	}
	return fmt.Errorf("tx %x not in set", id)
}

func (ts *memTxSet) Size() int { return len(ts.txs) }

func (ts *memTxSet) Bytes() []byte {
	b, err := json.Marshal(ts.txs)
	if err != nil {
		panic(fmt.Sprintf("node: marshal tx set: %v", err))
	}
	return b
}

func encodeProposal(p *consensus.Proposal) []byte {
	b, err := json.Marshal(p)
	if err != nil {
		panic(fmt.Sprintf("node: marshal proposal: %v", err))
	}
	return b
}

func encodeValidation(v *consensus.Validation) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("node: marshal validation: %v", err))
	}
	return b
}
