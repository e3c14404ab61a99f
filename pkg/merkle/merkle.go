package merkle

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// ErrIndexOutOfRange is returned when a proof is requested for an index
// beyond the leaf set.
var ErrIndexOutOfRange = errors.New("merkle: leaf index out of range")

// BuildMerkleTree creates a binary merkle tree from an ordered sequence
// of precomputed leaf hashes. The order is the sealed epoch order and is
// never rearranged here: each leaf's position must keep matching its
// claim's frozen index.
//
// The tree uses keccak256 hashing. Each parent hashes the sorted pair of
// its children (smaller hash first, unsigned lexicographic), applied at
// every level. If there's an odd number of nodes at any level, the last
// node is paired with itself. A single-leaf tree has root == leaf.
func BuildMerkleTree(leaves [][32]byte) (*MerkleTree, error) {
	if len(leaves) == 0 {
		return nil, fmt.Errorf("cannot build merkle tree from empty leaf set")
	}

	// Copy so caller mutation cannot corrupt cached levels
	base := make([][32]byte, len(leaves))
	copy(base, leaves)

	// Build tree levels bottom-up
	levels := make([][][32]byte, 0)
	levels = append(levels, base)

	currentLevel := base
	for len(currentLevel) > 1 {
		nextLevel := make([][32]byte, 0, (len(currentLevel)+1)/2)

		for i := 0; i < len(currentLevel); i += 2 {
			left := currentLevel[i]

			// If odd number of nodes, duplicate the last one
			right := left
			if i+1 < len(currentLevel) {
				right = currentLevel[i+1]
			}

			parent := hashPair(left, right)
			nextLevel = append(nextLevel, parent)
		}

		levels = append(levels, nextLevel)
		currentLevel = nextLevel
	}

	// The last level should contain only the root
	if len(currentLevel) != 1 {
		return nil, fmt.Errorf("merkle tree construction failed: final level has %d nodes instead of 1", len(currentLevel))
	}

	return &MerkleTree{
		Leaves: base,
		Root:   currentLevel[0],
		levels: levels,
	}, nil
}

// GenerateProof creates a merkle proof for the leaf at the given index.
// The proof consists of sibling hashes along the path from leaf to root.
func (mt *MerkleTree) GenerateProof(leafIndex int) (*MerkleProof, error) {
	if leafIndex < 0 || leafIndex >= len(mt.Leaves) {
		return nil, fmt.Errorf("leaf index %d out of bounds (tree has %d leaves): %w",
			leafIndex, len(mt.Leaves), ErrIndexOutOfRange)
	}

	siblings := make([][32]byte, 0, len(mt.levels)-1)
	index := leafIndex

	// Traverse from leaf to root, collecting sibling hashes
	for level := 0; level < len(mt.levels)-1; level++ {
		currentLevel := mt.levels[level]

		var siblingIndex int
		if index%2 == 0 {
			siblingIndex = index + 1
		} else {
			siblingIndex = index - 1
		}

		// Last node of an odd level pairs with itself
		if siblingIndex >= len(currentLevel) {
			siblingIndex = index
		}

		siblings = append(siblings, currentLevel[siblingIndex])

		// Move to parent index in next level
		index = index / 2
	}

	return &MerkleProof{
		LeafIndex: leafIndex,
		Leaf:      mt.Leaves[leafIndex],
		Siblings:  siblings,
	}, nil
}

// VerifyProof verifies that a leaf is included in a tree with the given
// root. It recomputes the root by folding the sorted pair of current hash
// and sibling at each step. Verification failure is an expected outcome,
// not an error: any mismatch returns false, it never panics.
func VerifyProof(proof *MerkleProof, root [32]byte) bool {
	if proof == nil {
		return false
	}

	currentHash := proof.Leaf
	for _, siblingHash := range proof.Siblings {
		currentHash = hashPair(currentHash, siblingHash)
	}

	return currentHash == root
}

// VerifyProofBytes is VerifyProof over raw byte slices, for inputs that
// arrive off the wire. Any structurally invalid input (wrong-length leaf,
// sibling or root) verifies as false rather than erroring.
func VerifyProofBytes(leaf []byte, siblings [][]byte, root []byte) bool {
	if len(leaf) != 32 || len(root) != 32 {
		return false
	}

	var currentHash, expected [32]byte
	copy(currentHash[:], leaf)
	copy(expected[:], root)

	for _, sibling := range siblings {
		if len(sibling) != 32 {
			return false
		}
		var s [32]byte
		copy(s[:], sibling)
		currentHash = hashPair(currentHash, s)
	}

	return currentHash == expected
}

// hashPair computes keccak256(min(a,b) || max(a,b)). Sorting the pair is
// what lets proofs omit left/right position flags; the on-chain verifier
// applies the same rule.
func hashPair(a, b [32]byte) [32]byte {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}

	data := make([]byte, 64)
	copy(data[0:32], a[:])
	copy(data[32:64], b[:])

	hash := crypto.Keccak256Hash(data)
	return [32]byte(hash)
}
