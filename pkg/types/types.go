package types

import "fmt"

// ClaimVariant selects the claim-leaf encoding. Ring claims bind claimer,
// index and amount; open claims additionally bind the distribution id.
// The variant is part of the wire contract with the payout program and is
// never inferred from field contents.
type ClaimVariant string

func (v ClaimVariant) String() string {
	return string(v)
}

const (
	// VariantRing is used for channel ring-buffer distributions; the
	// distribution id is omitted from the leaf.
	VariantRing ClaimVariant = "ring"
	// VariantOpen is used for open distributions; the distribution id is
	// part of the leaf.
	VariantOpen ClaimVariant = "open"
)

// ParseClaimVariant converts a string into a known ClaimVariant.
func ParseClaimVariant(s string) (ClaimVariant, error) {
	switch ClaimVariant(s) {
	case VariantRing:
		return VariantRing, nil
	case VariantOpen:
		return VariantOpen, nil
	default:
		return "", fmt.Errorf("unsupported claim variant: %s", s)
	}
}

// Claim is one participant's entitlement within one sealed epoch.
type Claim struct {
	Claimer [32]byte     `json:"claimer"` // recipient account key
	Index   uint32       `json:"index"`   // frozen position in the epoch's leaf ordering
	Amount  uint64       `json:"amount"`  // raw token quantity, no decimal scaling
	ID      string       `json:"id,omitempty"`
	Channel string       `json:"channel"`
	Epoch   uint64       `json:"epoch"`
	Variant ClaimVariant `json:"variant"`
}

// Participant is one row of a sealed epoch: a canonical viewer identity
// pinned to its frozen index.
type Participant struct {
	Channel    string   `json:"channel"`
	Epoch      uint64   `json:"epoch"`
	Index      uint32   `json:"index"`
	UserHash   [32]byte `json:"user_hash"`
	TokenGroup string   `json:"token_group,omitempty"`
	Category   string   `json:"category,omitempty"`
}

// SealedSnapshot is an immutable copy of one sealed epoch: the committed
// root plus the participant rows in frozen index order.
type SealedSnapshot struct {
	Channel      string        `json:"channel"`
	Epoch        uint64        `json:"epoch"`
	TokenGroup   string        `json:"token_group,omitempty"`
	Category     string        `json:"category,omitempty"`
	Root         [32]byte      `json:"root"`
	Participants []Participant `json:"participants"`
}

// Clone returns a deep copy so cached snapshots cannot be mutated through
// a shared participant slice.
func (s *SealedSnapshot) Clone() *SealedSnapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Participants = make([]Participant, len(s.Participants))
	copy(out.Participants, s.Participants)
	return &out
}
