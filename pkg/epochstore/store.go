package epochstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"github.com/twzrd/attention-oracle-go/pkg/leaf"
	"github.com/twzrd/attention-oracle-go/pkg/merkle"
	"github.com/twzrd/attention-oracle-go/pkg/types"
	"github.com/twzrd/attention-oracle-go/pkg/util"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	// ErrNotSealed is returned when no sealed row exists for the queried
	// channel and epoch.
	ErrNotSealed = errors.New("epochstore: epoch not sealed")

	// ErrNotFound is returned when a participant lookup matches nothing.
	ErrNotFound = errors.New("epochstore: not found")
)

// Query selects one sealed epoch. TokenGroup and Category narrow the
// lookup only when non-empty and only when the deployed schema carries
// those columns; against a legacy schema they are ignored.
type Query struct {
	Channel    string
	Epoch      uint64
	TokenGroup string
	Category   string
}

// Capabilities records which optional columns the deployed schema has.
type Capabilities struct {
	TokenGroup bool
	Category   bool
}

// StoreProof is a membership proof for one sealed participant.
type StoreProof struct {
	UserHash [32]byte
	Index    uint32
	Root     [32]byte
	Siblings [][32]byte
}

// Store reads sealed epochs from the database the sealer writes. It never
// writes; sealing happens elsewhere.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger

	probe  singleflight.Group
	capsMu sync.RWMutex
	caps   *Capabilities
}

// Open connects to the sealed-epoch database. postgres:// URLs use the
// postgres driver, anything else is treated as a sqlite DSN.
func Open(databaseURL string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		return gorm.Open(postgres.Open(databaseURL), cfg)
	}
	return gorm.Open(sqlite.Open(databaseURL), cfg)
}

// NewStore wraps an open database. Pass caps when the deployed schema
// version is known; leave nil to probe it on first use.
func NewStore(db *gorm.DB, logger *zap.Logger, caps *Capabilities) *Store {
	return &Store{
		db:     db,
		logger: logger,
		caps:   caps,
	}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Capabilities returns the schema capabilities, probing once if they were
// not supplied at construction. Concurrent first callers share one probe.
func (s *Store) Capabilities(ctx context.Context) Capabilities {
	s.capsMu.RLock()
	if s.caps != nil {
		c := *s.caps
		s.capsMu.RUnlock()
		return c
	}
	s.capsMu.RUnlock()

	v, _, _ := s.probe.Do("schema", func() (any, error) {
		caps := Capabilities{
			TokenGroup: s.hasColumn(ctx, "sealed_participants", "token_group"),
			Category:   s.hasColumn(ctx, "sealed_participants", "category"),
		}
		s.capsMu.Lock()
		s.caps = &caps
		s.capsMu.Unlock()
		s.logger.Sugar().Debugw("probed store schema",
			"token_group", caps.TokenGroup,
			"category", caps.Category,
		)
		return caps, nil
	})
	return v.(Capabilities)
}

// hasColumn probes for a column by selecting it. Works across drivers
// without touching driver-specific catalogs.
func (s *Store) hasColumn(ctx context.Context, table, column string) bool {
	rows, err := s.db.WithContext(ctx).Raw(fmt.Sprintf("SELECT %s FROM %s LIMIT 1", column, table)).Rows()
	if err != nil {
		return false
	}
	_ = rows.Close()
	return true
}

// IsSealed reports whether the queried epoch has a sealed row.
func (s *Store) IsSealed(ctx context.Context, q Query) (bool, error) {
	where, args := s.whereClause(ctx, q)

	var n int64
	res := s.db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM sealed_epochs"+where, args...).
		Scan(&n)
	if res.Error != nil {
		return false, errors.Wrapf(res.Error, "checking seal for channel %s epoch %d", q.Channel, q.Epoch)
	}
	return n > 0, nil
}

// SealedRoot returns the sealed merkle root for the queried epoch.
func (s *Store) SealedRoot(ctx context.Context, q Query) ([32]byte, error) {
	where, args := s.whereClause(ctx, q)

	var rootHex string
	res := s.db.WithContext(ctx).
		Raw("SELECT root FROM sealed_epochs"+where+" LIMIT 1", args...).
		Scan(&rootHex)
	if res.Error != nil {
		return [32]byte{}, errors.Wrapf(res.Error, "reading root for channel %s epoch %d", q.Channel, q.Epoch)
	}
	if res.RowsAffected == 0 {
		return [32]byte{}, errors.Wrapf(ErrNotSealed, "channel %s epoch %d", q.Channel, q.Epoch)
	}

	root, err := decodeStoredHash(rootHex)
	if err != nil {
		return [32]byte{}, errors.Wrapf(err, "malformed root for channel %s epoch %d", q.Channel, q.Epoch)
	}
	return root, nil
}

type participantRow struct {
	Idx        uint32 `gorm:"column:idx"`
	UserHash   string `gorm:"column:user_hash"`
	TokenGroup string `gorm:"column:token_group"`
	Category   string `gorm:"column:category"`
}

// SealedParticipants returns the queried epoch's participants in leaf
// order. Index order is load-bearing: proofs are positional.
func (s *Store) SealedParticipants(ctx context.Context, q Query) ([]types.Participant, error) {
	caps := s.Capabilities(ctx)
	where, args := s.whereClause(ctx, q)

	cols := "idx, user_hash"
	if caps.TokenGroup {
		cols += ", token_group"
	}
	if caps.Category {
		cols += ", category"
	}

	var rows []participantRow
	res := s.db.WithContext(ctx).
		Raw("SELECT "+cols+" FROM sealed_participants"+where+" ORDER BY idx ASC", args...).
		Scan(&rows)
	if res.Error != nil {
		return nil, errors.Wrapf(res.Error, "reading participants for channel %s epoch %d", q.Channel, q.Epoch)
	}
	if len(rows) == 0 {
		return nil, errors.Wrapf(ErrNotSealed, "channel %s epoch %d", q.Channel, q.Epoch)
	}

	participants := make([]types.Participant, len(rows))
	for i, row := range rows {
		userHash, err := decodeStoredHash(row.UserHash)
		if err != nil {
			return nil, errors.Wrapf(err, "malformed user hash at idx %d, channel %s epoch %d", row.Idx, q.Channel, q.Epoch)
		}
		participants[i] = types.Participant{
			Channel:    q.Channel,
			Epoch:      q.Epoch,
			Index:      row.Idx,
			UserHash:   userHash,
			TokenGroup: row.TokenGroup,
			Category:   row.Category,
		}
	}
	return participants, nil
}

// FindParticipant locates a sealed participant by user hash.
func (s *Store) FindParticipant(ctx context.Context, q Query, userHash [32]byte) (*types.Participant, error) {
	participants, err := s.SealedParticipants(ctx, q)
	if err != nil {
		return nil, err
	}
	for i := range participants {
		if participants[i].UserHash == userHash {
			return &participants[i], nil
		}
	}
	return nil, errors.Wrapf(ErrNotFound, "user %s in channel %s epoch %d", util.EncodeHash32(userHash), q.Channel, q.Epoch)
}

// GenerateProof rebuilds the epoch tree from stored participants and
// proves membership of the participant at index. The rebuilt root must
// match the sealed root; a mismatch means the sealed tables desynced and
// no proof is served.
func (s *Store) GenerateProof(ctx context.Context, q Query, index uint32) (*StoreProof, error) {
	root, err := s.SealedRoot(ctx, q)
	if err != nil {
		return nil, err
	}
	participants, err := s.SealedParticipants(ctx, q)
	if err != nil {
		return nil, err
	}
	if int(index) >= len(participants) {
		return nil, errors.Wrapf(merkle.ErrIndexOutOfRange, "index %d, %d participants", index, len(participants))
	}

	leaves := make([][32]byte, len(participants))
	for i, p := range participants {
		leaves[i] = leaf.ComputeParticipationLeaf(p.UserHash, q.Channel, q.Epoch)
	}
	tree, err := merkle.BuildMerkleTree(leaves)
	if err != nil {
		return nil, errors.Wrapf(err, "rebuilding tree for channel %s epoch %d", q.Channel, q.Epoch)
	}
	if tree.Root != root {
		s.logger.Sugar().Errorw("sealed root does not match rebuilt tree",
			"channel", q.Channel,
			"epoch", q.Epoch,
			"sealed_root", util.EncodeHash32(root),
			"rebuilt_root", util.EncodeHash32(tree.Root),
		)
		return nil, errors.Errorf("sealed root mismatch for channel %s epoch %d", q.Channel, q.Epoch)
	}

	proof, err := tree.GenerateProof(int(index))
	if err != nil {
		return nil, err
	}
	return &StoreProof{
		UserHash: participants[index].UserHash,
		Index:    index,
		Root:     root,
		Siblings: proof.Siblings,
	}, nil
}

// whereClause builds the shared filter. Optional fields bind only when
// the schema carries their columns.
func (s *Store) whereClause(ctx context.Context, q Query) (string, []any) {
	caps := s.Capabilities(ctx)

	where := " WHERE channel = ? AND epoch = ?"
	args := []any{q.Channel, q.Epoch}
	if caps.TokenGroup && q.TokenGroup != "" {
		where += " AND token_group = ?"
		args = append(args, q.TokenGroup)
	}
	if caps.Category && q.Category != "" {
		where += " AND category = ?"
		args = append(args, q.Category)
	}
	return where, args
}

// decodeStoredHash accepts both 0x-prefixed and bare hex; sealers have
// written both forms.
func decodeStoredHash(s string) ([32]byte, error) {
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	return util.DecodeHash32(s)
}
