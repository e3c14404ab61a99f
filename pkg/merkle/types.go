package merkle

// MerkleTree is a binary merkle tree over precomputed 32-byte leaves.
// The tree uses keccak256 hashing with sorted-pair ordering, matching the
// on-chain verifiers.
type MerkleTree struct {
	// Leaves contains the leaf hashes in frozen index order
	Leaves [][32]byte

	// Root is the merkle root hash
	Root [32]byte

	// levels stores all tree levels for proof generation
	// levels[0] = leaves, levels[len-1] = root
	levels [][][32]byte
}

// MerkleProof represents a proof that a leaf is included in the tree.
// Because pairs are sorted before hashing, the proof carries no left/right
// position flags; the sibling sequence alone recomputes the root.
type MerkleProof struct {
	// LeafIndex is the index of the leaf in the frozen ordering
	LeafIndex int

	// Leaf is the hash of the leaf being proven
	Leaf [32]byte

	// Siblings contains the sibling hashes from leaf to root
	// Siblings[0] is the sibling of the leaf, Siblings[len-1] is near the root
	Siblings [][32]byte
}
