package testutil

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/twzrd/attention-oracle-go/pkg/identity"
	"github.com/twzrd/attention-oracle-go/pkg/leaf"
	"github.com/twzrd/attention-oracle-go/pkg/merkle"
	"github.com/twzrd/attention-oracle-go/pkg/types"
)

// CreateTestParticipants builds n deterministic participants for a channel
// and epoch, hashed from synthetic Twitch user ids.
func CreateTestParticipants(t *testing.T, channel string, epoch uint64, n int) []types.Participant {
	participants := make([]types.Participant, n)
	for i := 0; i < n; i++ {
		userHash, err := identity.UserHash(fmt.Sprintf("%d", 100000+i), "")
		require.NoError(t, err)
		participants[i] = types.Participant{
			Channel:  channel,
			Epoch:    epoch,
			Index:    uint32(i),
			UserHash: userHash,
		}
	}
	return participants
}

// BuildSnapshot assembles a sealed snapshot whose root commits to the
// participants' leaves in index order.
func BuildSnapshot(t *testing.T, channel string, epoch uint64, participants []types.Participant) *types.SealedSnapshot {
	leaves := make([][32]byte, len(participants))
	for i, p := range participants {
		leaves[i] = leaf.ComputeParticipationLeaf(p.UserHash, channel, epoch)
	}
	tree, err := merkle.BuildMerkleTree(leaves)
	require.NoError(t, err)

	return &types.SealedSnapshot{
		Channel:      channel,
		Epoch:        epoch,
		Root:         tree.Root,
		Participants: participants,
	}
}
