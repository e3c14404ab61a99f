package distributor

import (
	"context"
	"fmt"
	"net/http"
)

/*
Server exposes the distributor over HTTP.

Epoch data flow:
  GET /epoch/root:
    - Query: channel, epoch, optional tokenGroup/category
    - Returns the sealed merkle root committed on-chain for the epoch

  GET /epoch/participants:
    - Same query shape
    - Returns the ordered participant list; order matches on-chain
      claim indexes

  GET /epoch/proof:
    - Query: channel, epoch, plus index OR user (hex user hash)
    - Returns the authentication path for one participant
    - The proof is verified against the sealed root before it is
      served; a desynced snapshot is refused, never handed out

Claim flow:
  POST /proof/verify:
    - Request: { leaf, siblings, root } as hex strings
    - Local verification only; a mismatch is a 200 with valid=false,
      letting callers reject a claim before paying for an on-chain
      transaction

  GET /claim/status:
    - Query: account (base58 epoch state address), index
    - Reads the account through the endpoint pool and reports the
      claimed bit, claim count, and closed flag

Operations:
  GET /health:
    - Endpoint pool state per endpoint plus cache reachability

Every response carries a request_id so log lines and client reports can
be correlated.
*/

// Server handles HTTP requests for the distributor
type Server struct {
	dist       *Distributor
	httpServer *http.Server
}

// NewServer creates a new server instance
func NewServer(dist *Distributor, port int) *Server {
	s := &Server{
		dist: dist,
	}

	mux := http.NewServeMux()

	// Epoch data endpoints
	mux.HandleFunc("/epoch/root", s.handleEpochRoot)
	mux.HandleFunc("/epoch/participants", s.handleEpochParticipants)
	mux.HandleFunc("/epoch/proof", s.handleEpochProof)

	// Claim endpoints
	mux.HandleFunc("/proof/verify", s.handleVerifyProof)
	mux.HandleFunc("/claim/status", s.handleClaimStatus)

	// Operational endpoints
	mux.HandleFunc("/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	go func() {
		s.dist.logger.Sugar().Infow("Starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			s.dist.logger.Sugar().Errorw("HTTP server error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// GetHandler returns the HTTP handler (for testing)
func (s *Server) GetHandler() http.Handler {
	return s.httpServer.Handler
}
