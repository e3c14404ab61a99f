package distributor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/twzrd/attention-oracle-go/pkg/chainreader"
	"github.com/twzrd/attention-oracle-go/pkg/chainstate"
	"github.com/twzrd/attention-oracle-go/pkg/epochstore"
	"github.com/twzrd/attention-oracle-go/pkg/merkle"
	"github.com/twzrd/attention-oracle-go/pkg/rpcpool"
	"github.com/twzrd/attention-oracle-go/pkg/util"
)

type errorResponse struct {
	RequestID string `json:"request_id"`
	Error     string `json:"error"`
}

type healthResponse struct {
	RequestID string                   `json:"request_id"`
	Status    string                   `json:"status"`
	Cache     string                   `json:"cache"`
	Endpoints []rpcpool.EndpointStatus `json:"endpoints"`
}

type rootResponse struct {
	RequestID  string `json:"request_id"`
	Channel    string `json:"channel"`
	Epoch      uint64 `json:"epoch"`
	TokenGroup string `json:"token_group,omitempty"`
	Category   string `json:"category,omitempty"`
	Root       string `json:"root"`
}

type participantEntry struct {
	Index    uint32 `json:"index"`
	UserHash string `json:"user_hash"`
}

type participantsResponse struct {
	RequestID    string             `json:"request_id"`
	Channel      string             `json:"channel"`
	Epoch        uint64             `json:"epoch"`
	Count        int                `json:"count"`
	Participants []participantEntry `json:"participants"`
}

type proofResponse struct {
	RequestID string   `json:"request_id"`
	Channel   string   `json:"channel"`
	Epoch     uint64   `json:"epoch"`
	Index     uint32   `json:"index"`
	UserHash  string   `json:"user_hash"`
	Root      string   `json:"root"`
	Siblings  []string `json:"siblings"`
}

type verifyRequest struct {
	Leaf     string   `json:"leaf"`
	Siblings []string `json:"siblings"`
	Root     string   `json:"root"`
}

type verifyResponse struct {
	RequestID string `json:"request_id"`
	Valid     bool   `json:"valid"`
}

type claimStatusResponse struct {
	RequestID    string `json:"request_id"`
	Account      string `json:"account"`
	Epoch        uint64 `json:"epoch"`
	Index        uint32 `json:"index"`
	Claimed      bool   `json:"claimed"`
	ClaimCount   uint32 `json:"claim_count"`
	TotalClaimed uint64 `json:"total_claimed"`
	Closed       bool   `json:"closed"`
	Root         string `json:"root"`
}

// handleHealth reports pool and cache state
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h := s.dist.Health(r.Context())
	writeJSON(w, http.StatusOK, healthResponse{
		RequestID: uuid.NewString(),
		Status:    h.Status,
		Cache:     h.Cache,
		Endpoints: h.Endpoints,
	})
}

// handleEpochRoot serves the sealed root for an epoch
func (s *Server) handleEpochRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q, err := parseEpochQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	snap, err := s.dist.Snapshot(r.Context(), q)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusOK, rootResponse{
		RequestID:  uuid.NewString(),
		Channel:    q.Channel,
		Epoch:      q.Epoch,
		TokenGroup: q.TokenGroup,
		Category:   q.Category,
		Root:       util.EncodeHash32(snap.Root),
	})
}

// handleEpochParticipants serves the ordered participant list
func (s *Server) handleEpochParticipants(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q, err := parseEpochQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	snap, err := s.dist.Snapshot(r.Context(), q)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	entries := make([]participantEntry, len(snap.Participants))
	for i, p := range snap.Participants {
		entries[i] = participantEntry{
			Index:    p.Index,
			UserHash: util.EncodeHash32(p.UserHash),
		}
	}
	writeJSON(w, http.StatusOK, participantsResponse{
		RequestID:    uuid.NewString(),
		Channel:      q.Channel,
		Epoch:        q.Epoch,
		Count:        len(entries),
		Participants: entries,
	})
}

// handleEpochProof serves a verified membership proof, addressed by
// index or by user hash
func (s *Server) handleEpochProof(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q, err := parseEpochQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var proof *epochstore.StoreProof
	switch {
	case r.URL.Query().Get("user") != "":
		userHash, err := util.DecodeHash32(r.URL.Query().Get("user"))
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid user hash"))
			return
		}
		proof, err = s.dist.ProofByUser(r.Context(), q, userHash)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
	case r.URL.Query().Get("index") != "":
		index, err := strconv.ParseUint(r.URL.Query().Get("index"), 10, 32)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid index"))
			return
		}
		proof, err = s.dist.Proof(r.Context(), q, uint32(index))
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
	default:
		writeError(w, http.StatusBadRequest, errors.New("index or user is required"))
		return
	}

	siblings := make([]string, len(proof.Siblings))
	for i, sib := range proof.Siblings {
		siblings[i] = util.EncodeHash32(sib)
	}
	writeJSON(w, http.StatusOK, proofResponse{
		RequestID: uuid.NewString(),
		Channel:   q.Channel,
		Epoch:     q.Epoch,
		Index:     proof.Index,
		UserHash:  util.EncodeHash32(proof.UserHash),
		Root:      util.EncodeHash32(proof.Root),
		Siblings:  siblings,
	})
}

// handleVerifyProof checks a leaf/siblings/root triple locally. A failed
// verification is a normal outcome, not a server error.
func (s *Server) handleVerifyProof(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "failed to parse request"))
		return
	}

	leafBytes, err := hexutil.Decode(req.Leaf)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid leaf"))
		return
	}
	rootBytes, err := hexutil.Decode(req.Root)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid root"))
		return
	}
	siblings := make([][]byte, len(req.Siblings))
	for i, raw := range req.Siblings {
		sib, err := hexutil.Decode(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.Wrapf(err, "invalid sibling %d", i))
			return
		}
		siblings[i] = sib
	}

	writeJSON(w, http.StatusOK, verifyResponse{
		RequestID: uuid.NewString(),
		Valid:     merkle.VerifyProofBytes(leafBytes, siblings, rootBytes),
	})
}

// handleClaimStatus reads the epoch state account and reports the
// claimed bit for an index
func (s *Server) handleClaimStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	account := r.URL.Query().Get("account")
	if account == "" {
		writeError(w, http.StatusBadRequest, errors.New("account is required"))
		return
	}
	if _, err := util.DecodePubkey(account); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	indexStr := r.URL.Query().Get("index")
	if indexStr == "" {
		writeError(w, http.StatusBadRequest, errors.New("index is required"))
		return
	}
	index, err := strconv.ParseUint(indexStr, 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid index"))
		return
	}

	status, err := s.dist.ClaimStatus(r.Context(), account, uint32(index))
	if err != nil {
		writeError(w, chainStatusFor(err), err)
		return
	}

	writeJSON(w, http.StatusOK, claimStatusResponse{
		RequestID:    uuid.NewString(),
		Account:      status.Account,
		Epoch:        status.Epoch,
		Index:        status.Index,
		Claimed:      status.Claimed,
		ClaimCount:   status.ClaimCount,
		TotalClaimed: status.TotalClaimed,
		Closed:       status.Closed,
		Root:         util.EncodeHash32(status.Root),
	})
}

// parseEpochQuery extracts the shared channel/epoch query parameters.
func parseEpochQuery(r *http.Request) (epochstore.Query, error) {
	values := r.URL.Query()

	channel := values.Get("channel")
	if channel == "" {
		return epochstore.Query{}, fmt.Errorf("channel is required")
	}
	epochStr := values.Get("epoch")
	if epochStr == "" {
		return epochstore.Query{}, fmt.Errorf("epoch is required")
	}
	epoch, err := strconv.ParseUint(epochStr, 10, 64)
	if err != nil {
		return epochstore.Query{}, fmt.Errorf("invalid epoch: %v", err)
	}

	return epochstore.Query{
		Channel:    channel,
		Epoch:      epoch,
		TokenGroup: values.Get("tokenGroup"),
		Category:   values.Get("category"),
	}, nil
}

// statusFor maps store path errors onto HTTP statuses: missing data is
// 404, caller mistakes are 400, anything else is on us.
func statusFor(err error) int {
	switch {
	case errors.Is(err, epochstore.ErrNotSealed), errors.Is(err, epochstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, merkle.ErrIndexOutOfRange):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// chainStatusFor maps chain path errors. The account address is
// validated before the chain is touched, so remaining failures are the
// account being absent, the account holding the wrong data, or the RPC
// upstream misbehaving.
func chainStatusFor(err error) int {
	switch {
	case errors.Is(err, chainreader.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, chainstate.ErrBadAccountData):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{
		RequestID: uuid.NewString(),
		Error:     err.Error(),
	})
}
