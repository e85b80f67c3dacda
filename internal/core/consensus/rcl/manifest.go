package rcl

import (
	"encoding/hex"
	"sync"

	"github.com/coinjet/coinjetd/internal/core/consensus"
	"github.com/coinjet/coinjetd/internal/crypto"
)

// ManifestVerifier checks a manifest's master-key signature. StoreAdaptor
// implements this against the teacher's crypto wrapper; tests may supply
// a stub.
type ManifestVerifier interface {
	VerifyManifest(manifest *consensus.Manifest) error
}

// ManifestStore tracks which signing key is currently delegated by each
// trusted master key, per spec §6 scenario 6. UNL membership is keyed on
// the master key; the store only tracks the current signing-key
// delegation so proposal/validation signatures can be checked against
// it.
type ManifestStore struct {
	mu sync.RWMutex

	verifier ManifestVerifier

	// current maps master key to its currently accepted manifest.
	current map[consensus.NodeID]*consensus.Manifest

	// signingToMaster lets a node verifying an inbound proposal/
	// validation map the signing key back to the UNL entry it speaks
	// for.
	signingToMaster map[consensus.NodeID]consensus.NodeID
}

// NewManifestStore creates a manifest store backed by the given verifier.
func NewManifestStore(verifier ManifestVerifier) *ManifestStore {
	return &ManifestStore{
		verifier:        verifier,
		current:         make(map[consensus.NodeID]*consensus.Manifest),
		signingToMaster: make(map[consensus.NodeID]consensus.NodeID),
	}
}

// Insert applies an incoming manifest, implementing the accepted/stale/
// untrusted/invalid disposition pipeline of spec §6 scenario 6.
// isTrusted reports whether manifest.MasterKey is on our UNL.
func (ms *ManifestStore) Insert(manifest *consensus.Manifest, isTrusted bool) Disposition {
	if manifest == nil {
		return Invalid
	}
	if !isTrusted {
		return Disposition(untrustedDisposition)
	}
	if err := ms.verifier.VerifyManifest(manifest); err != nil {
		return Invalid
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	existing, ok := ms.current[manifest.MasterKey]
	if ok && manifest.Seq <= existing.Seq {
		return Stale
	}

	if ok {
		delete(ms.signingToMaster, existing.SigningKey)
	}

	ms.current[manifest.MasterKey] = manifest
	if !manifest.Revoked {
		ms.signingToMaster[manifest.SigningKey] = manifest.MasterKey
	}

	return Accepted
}

// untrustedDisposition is a manifest-specific disposition value beyond
// the shared Accepted/Stale/Superseded/Invalid/Conflict set: a manifest
// from a master key outside the UNL is neither stale nor malformed, just
// irrelevant to us.
const untrustedDisposition Disposition = 100

// Untrusted reports whether d is the manifest-specific "not on our UNL"
// disposition.
func Untrusted(d Disposition) bool { return d == untrustedDisposition }

// CurrentSigningKey returns the signing key currently delegated by a
// master key, if any manifest has been accepted for it.
func (ms *ManifestStore) CurrentSigningKey(masterKey consensus.NodeID) (consensus.NodeID, bool) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	m, ok := ms.current[masterKey]
	if !ok || m.Revoked {
		var zero consensus.NodeID
		return zero, false
	}
	return m.SigningKey, true
}

// MasterFor resolves a signing key back to the master key it currently
// represents, for verifying inbound proposals/validations that arrive
// signed by the ephemeral key.
func (ms *ManifestStore) MasterFor(signingKey consensus.NodeID) (consensus.NodeID, bool) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	master, ok := ms.signingToMaster[signingKey]
	return master, ok
}

// cryptoVerifier adapts the teacher's crypto.CryptoWrapper (hex-encoded
// ed25519/secp256k1 signatures) to ManifestVerifier.
type cryptoVerifier struct {
	wrapper *crypto.CryptoWrapper
}

// NewCryptoManifestVerifier builds a ManifestVerifier backed by the
// node's configured signature scheme.
func NewCryptoManifestVerifier(wrapper *crypto.CryptoWrapper) ManifestVerifier {
	return &cryptoVerifier{wrapper: wrapper}
}

func (c *cryptoVerifier) VerifyManifest(manifest *consensus.Manifest) error {
	msg := manifestSigningMessage(manifest)
	masterHex := hex.EncodeToString(manifest.MasterKey[:])
	sigHex := hex.EncodeToString(manifest.MasterSignature)

	if !c.wrapper.VerifySignature(msg, masterHex, sigHex) {
		return errInvalidManifestSignature
	}
	return nil
}

func manifestSigningMessage(manifest *consensus.Manifest) string {
	buf := make([]byte, 0, len(manifest.SigningKey)+4+1)
	buf = append(buf, manifest.SigningKey[:]...)
	buf = append(buf,
		byte(manifest.Seq>>24), byte(manifest.Seq>>16),
		byte(manifest.Seq>>8), byte(manifest.Seq))
	if manifest.Revoked {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return string(buf)
}

var errInvalidManifestSignature = manifestError("manifest: master key signature invalid")

type manifestError string

func (e manifestError) Error() string { return string(e) }
