package identity

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Hash input prefixes. These are protocol constants shared with the
// sealing pipeline and the on-chain verifiers; changing any of them
// changes every identity hash and therefore every root derived from one.
const (
	userIDPrefix  = "twitchId:"
	loginPrefix   = "twitchLogin:"
	channelPrefix = "channel:"
)

// ErrInvalidIdentity is returned when neither a platform user id nor a
// username remains after trimming.
var ErrInvalidIdentity = errors.New("identity: no user id or username")

// UserHash derives the canonical 32-byte identity for a viewer.
//
// A platform user id always wins over the username: ids survive renames,
// usernames do not. Every call site (binding, lookup, leaf construction)
// must go through this function so the same person never maps to two
// hashes. The username path is trimmed and lowercased before hashing so
// display-case variants collapse to one identity.
func UserHash(userID, username string) ([32]byte, error) {
	if id := strings.TrimSpace(userID); id != "" {
		return keccak(userIDPrefix + id), nil
	}
	if login := strings.TrimSpace(username); login != "" {
		return keccak(loginPrefix + strings.ToLower(login)), nil
	}
	return [32]byte{}, ErrInvalidIdentity
}

// ChannelHash derives the canonical 32-byte channel key consumed by
// gated channel instructions. Channel names are case-insensitive on the
// platform, so the name is lowercased before hashing.
func ChannelHash(channel string) [32]byte {
	return keccak(channelPrefix + strings.ToLower(channel))
}

func keccak(s string) [32]byte {
	return [32]byte(crypto.Keccak256Hash([]byte(s)))
}
