package merkle

import (
	"bytes"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// LeafForAddress returns the whitelist leaf for a principal: the keccak256
// hash of the raw 20-byte address.
func LeafForAddress(addr [20]byte) [32]byte {
	var leaf [32]byte
	copy(leaf[:], ethcrypto.Keccak256(addr[:]))
	return leaf
}

// hashPair combines two nodes with the smaller operand first so provers do
// not need to track left/right positions.
func hashPair(a, b [32]byte) [32]byte {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256(a[:], b[:]))
	return out
}

// ProcessProof folds the leaf with each proof element in order and returns
// the reconstructed root.
func ProcessProof(proof [][32]byte, leaf [32]byte) [32]byte {
	computed := leaf
	for _, node := range proof {
		computed = hashPair(computed, node)
	}
	return computed
}

// Verify reports whether proof is a valid inclusion proof for leaf under
// root. It never fails with an error; a malformed proof simply does not
// reproduce the root.
func Verify(proof [][32]byte, root, leaf [32]byte) bool {
	return ProcessProof(proof, leaf) == root
}

// MultiProofVerify checks a batched proof for several leaves sharing one
// tree. Each flag selects whether the second operand of a combining step is
// drawn from the leaf/hash pool (true) or from the proof pool (false). The
// length relation len(leaves)+len(proof) == len(flags)+1 must hold; the
// function returns false without computing anything when it does not.
func MultiProofVerify(proof [][32]byte, flags []bool, root [32]byte, leaves [][32]byte) bool {
	reconstructed, ok := processMultiProof(proof, flags, leaves)
	return ok && reconstructed == root
}

func processMultiProof(proof [][32]byte, flags []bool, leaves [][32]byte) ([32]byte, bool) {
	totalHashes := len(flags)
	if len(leaves)+len(proof) != totalHashes+1 {
		return [32]byte{}, false
	}
	if totalHashes == 0 {
		if len(leaves) == 1 {
			return leaves[0], true
		}
		return proof[0], true
	}

	hashes := make([][32]byte, totalHashes)
	var leafPos, hashPos, proofPos int
	computed := 0
	// next draws the following operand from the shared leaf/hash pool. A
	// flag sequence that asks for more material than has been computed is
	// malformed and fails the whole verification.
	next := func() ([32]byte, bool) {
		if leafPos < len(leaves) {
			n := leaves[leafPos]
			leafPos++
			return n, true
		}
		if hashPos < computed {
			n := hashes[hashPos]
			hashPos++
			return n, true
		}
		return [32]byte{}, false
	}
	for i := 0; i < totalHashes; i++ {
		a, ok := next()
		if !ok {
			return [32]byte{}, false
		}
		var b [32]byte
		if flags[i] {
			b, ok = next()
			if !ok {
				return [32]byte{}, false
			}
		} else {
			if proofPos >= len(proof) {
				return [32]byte{}, false
			}
			b = proof[proofPos]
			proofPos++
		}
		hashes[i] = hashPair(a, b)
		computed = i + 1
	}
	if proofPos != len(proof) {
		return [32]byte{}, false
	}
	return hashes[totalHashes-1], true
}
