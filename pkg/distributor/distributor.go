package distributor

import (
	"context"

	"github.com/pkg/errors"
	"github.com/twzrd/attention-oracle-go/pkg/chainreader"
	"github.com/twzrd/attention-oracle-go/pkg/chainstate"
	"github.com/twzrd/attention-oracle-go/pkg/epochcache"
	"github.com/twzrd/attention-oracle-go/pkg/epochstore"
	"github.com/twzrd/attention-oracle-go/pkg/leaf"
	"github.com/twzrd/attention-oracle-go/pkg/merkle"
	"github.com/twzrd/attention-oracle-go/pkg/rpcpool"
	"github.com/twzrd/attention-oracle-go/pkg/types"
	"github.com/twzrd/attention-oracle-go/pkg/util"
	"go.uber.org/zap"
)

// Distributor serves sealed epoch data: roots, participant lists, and
// membership proofs, plus on-chain claim state read through the endpoint
// pool. Every proof is verified locally before it leaves the process.
type Distributor struct {
	store  *epochstore.Store
	cache  epochcache.ISnapshotCache
	pool   *rpcpool.Pool
	reader *chainreader.Reader
	logger *zap.Logger
}

// Options carries the distributor's dependencies.
type Options struct {
	Store  *epochstore.Store
	Cache  epochcache.ISnapshotCache
	Pool   *rpcpool.Pool
	Reader *chainreader.Reader
	Logger *zap.Logger
}

func New(opts Options) (*Distributor, error) {
	if opts.Store == nil {
		return nil, errors.New("distributor: store is required")
	}
	if opts.Cache == nil {
		return nil, errors.New("distributor: cache is required")
	}
	if opts.Pool == nil {
		return nil, errors.New("distributor: endpoint pool is required")
	}
	if opts.Reader == nil {
		return nil, errors.New("distributor: chain reader is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("distributor: logger is required")
	}
	return &Distributor{
		store:  opts.Store,
		cache:  opts.Cache,
		pool:   opts.Pool,
		reader: opts.Reader,
		logger: opts.Logger,
	}, nil
}

func cacheKey(q epochstore.Query) epochcache.SnapshotKey {
	return epochcache.SnapshotKey{
		Channel:    q.Channel,
		Epoch:      q.Epoch,
		TokenGroup: q.TokenGroup,
		Category:   q.Category,
	}
}

// Snapshot returns the sealed snapshot for a query, read through the
// cache. Cache failures degrade to a store read; store results are
// cached best-effort.
func (d *Distributor) Snapshot(ctx context.Context, q epochstore.Query) (*types.SealedSnapshot, error) {
	key := cacheKey(q)

	snap, err := d.cache.GetSnapshot(ctx, key)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, epochcache.ErrCacheMiss) {
		d.logger.Sugar().Warnw("snapshot cache read failed, falling back to store",
			"key", key.String(), "error", err)
	}

	root, err := d.store.SealedRoot(ctx, q)
	if err != nil {
		return nil, err
	}
	participants, err := d.store.SealedParticipants(ctx, q)
	if err != nil {
		return nil, err
	}

	snap = &types.SealedSnapshot{
		Channel:      q.Channel,
		Epoch:        q.Epoch,
		TokenGroup:   q.TokenGroup,
		Category:     q.Category,
		Root:         root,
		Participants: participants,
	}
	if err := d.cache.PutSnapshot(ctx, snap); err != nil {
		d.logger.Sugar().Warnw("failed to cache snapshot", "key", key.String(), "error", err)
	}
	return snap, nil
}

// Proof builds a membership proof for the participant at index and
// verifies it against the sealed root before returning it. A snapshot
// whose participants no longer reproduce its root is evicted and the
// request fails loudly; serving an unverifiable proof would burn the
// claimer's transaction fee on-chain.
func (d *Distributor) Proof(ctx context.Context, q epochstore.Query, index uint32) (*epochstore.StoreProof, error) {
	snap, err := d.Snapshot(ctx, q)
	if err != nil {
		return nil, err
	}
	if int(index) >= len(snap.Participants) {
		return nil, errors.Wrapf(merkle.ErrIndexOutOfRange, "index %d, %d participants", index, len(snap.Participants))
	}

	leaves := make([][32]byte, len(snap.Participants))
	for i, p := range snap.Participants {
		leaves[i] = leaf.ComputeParticipationLeaf(p.UserHash, q.Channel, q.Epoch)
	}
	tree, err := merkle.BuildMerkleTree(leaves)
	if err != nil {
		return nil, errors.Wrapf(err, "rebuilding tree for channel %s epoch %d", q.Channel, q.Epoch)
	}
	if tree.Root != snap.Root {
		d.logger.Sugar().Errorw("snapshot root does not match rebuilt tree, evicting",
			"channel", q.Channel,
			"epoch", q.Epoch,
			"snapshot_root", util.EncodeHash32(snap.Root),
			"rebuilt_root", util.EncodeHash32(tree.Root),
		)
		if err := d.cache.InvalidateSnapshot(ctx, cacheKey(q)); err != nil {
			d.logger.Sugar().Warnw("failed to evict desynced snapshot", "error", err)
		}
		return nil, errors.Errorf("sealed root mismatch for channel %s epoch %d", q.Channel, q.Epoch)
	}

	proof, err := tree.GenerateProof(int(index))
	if err != nil {
		return nil, err
	}
	if !merkle.VerifyProof(proof, snap.Root) {
		return nil, errors.Errorf("generated proof failed verification for channel %s epoch %d index %d", q.Channel, q.Epoch, index)
	}

	return &epochstore.StoreProof{
		UserHash: snap.Participants[index].UserHash,
		Index:    index,
		Root:     snap.Root,
		Siblings: proof.Siblings,
	}, nil
}

// ProofByUser resolves a participant by user hash, then proves membership.
func (d *Distributor) ProofByUser(ctx context.Context, q epochstore.Query, userHash [32]byte) (*epochstore.StoreProof, error) {
	snap, err := d.Snapshot(ctx, q)
	if err != nil {
		return nil, err
	}
	for _, p := range snap.Participants {
		if p.UserHash == userHash {
			return d.Proof(ctx, q, p.Index)
		}
	}
	return nil, errors.Wrapf(epochstore.ErrNotFound, "user %s in channel %s epoch %d", util.EncodeHash32(userHash), q.Channel, q.Epoch)
}

// ClaimStatus is the decoded claim state for one index of an epoch
// distribution account.
type ClaimStatus struct {
	Account      string
	Epoch        uint64
	Index        uint32
	Claimed      bool
	ClaimCount   uint32
	TotalClaimed uint64
	Closed       bool
	Root         [32]byte
}

// ClaimStatus reads the epoch state account at the given address and
// reports whether the claim at index has been redeemed.
func (d *Distributor) ClaimStatus(ctx context.Context, account string, index uint32) (*ClaimStatus, error) {
	if _, err := util.DecodePubkey(account); err != nil {
		return nil, errors.Wrapf(err, "invalid account address %q", account)
	}

	acct, err := d.reader.AccountInfo(ctx, account)
	if err != nil {
		return nil, err
	}
	state, err := chainstate.DecodeEpochState(acct.Data)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding account %s", account)
	}

	return &ClaimStatus{
		Account:      account,
		Epoch:        state.Epoch,
		Index:        index,
		Claimed:      state.IsClaimed(index),
		ClaimCount:   state.ClaimCount,
		TotalClaimed: state.TotalClaimed,
		Closed:       state.Closed,
		Root:         state.Root,
	}, nil
}

// Health reports the serving state: endpoint pool health and cache
// reachability. The store is exercised on every request, so it is not
// probed separately here.
type Health struct {
	Status    string
	Cache     string
	Endpoints []rpcpool.EndpointStatus
}

func (d *Distributor) Health(ctx context.Context) *Health {
	h := &Health{
		Status:    "ok",
		Cache:     "ok",
		Endpoints: d.pool.Status(),
	}
	if err := d.cache.HealthCheck(ctx); err != nil {
		h.Status = "degraded"
		h.Cache = err.Error()
	}
	return h
}
