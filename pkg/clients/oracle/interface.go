package oracle

import "context"

// IOracleClient defines the interface for talking to a distribution oracle
// server. It abstracts the HTTP client implementation to allow for easier
// testing and alternative transports.
type IOracleClient interface {
	// EpochRoot fetches the sealed Merkle root for one epoch of a channel.
	EpochRoot(ctx context.Context, q Query) ([32]byte, error)

	// EpochParticipants fetches the frozen participant list in index order.
	EpochParticipants(ctx context.Context, q Query) ([]Participant, error)

	// EpochProof fetches the membership proof for the participant at index.
	EpochProof(ctx context.Context, q Query, index uint32) (*Proof, error)

	// EpochProofByUser fetches the membership proof for a user hash.
	EpochProofByUser(ctx context.Context, q Query, userHash [32]byte) (*Proof, error)

	// VerifyProof asks the server to check a leaf/siblings/root triple.
	// A false result with a nil error means the proof is well formed but
	// does not bind to the root.
	VerifyProof(ctx context.Context, leaf []byte, siblings [][]byte, root []byte) (bool, error)

	// ClaimStatus reads the on-chain claim state for one index of an epoch
	// distribution account.
	ClaimStatus(ctx context.Context, account string, index uint32) (*ClaimStatus, error)

	// Health reports the server's serving state.
	Health(ctx context.Context) (*Health, error)
}

// Compile-time check to ensure Client implements IOracleClient
var _ IOracleClient = (*Client)(nil)
