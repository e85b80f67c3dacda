package nodestore

import (
	"github.com/coinjet/coinjetd/internal/types"
)

// Hash256 and Blob are local aliases for the shared content-hash value
// types, so call sites inside this package can refer to them unqualified.
type (
	Hash256 = types.Hash256
	Blob    = types.Blob
)

// ComputeHash256 computes the content hash of a node's serialized data.
func ComputeHash256(data []byte) Hash256 {
	return types.Hash256FromData(data)
}
