// Package server exposes the ledger and the dispatcher over HTTP and runs
// the workers that move jobs and callbacks between the ledger and the
// compute engine.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"light/shielded-pool/computation"
	"light/shielded-pool/ledger"
	"light/shielded-pool/logging"
	"light/shielded-pool/primitives"

	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	maxBodyBytes     = 1 << 20
	defaultPageLimit = 100
	maxPageLimit     = 1000
)

type Config struct {
	Address        string
	MetricsAddress string
	CORSOrigins    []string
	APIKey         string
}

type Server struct {
	ledger     *ledger.Ledger
	dispatcher *computation.Dispatcher
	queue      Queue
	log        zerolog.Logger
}

func New(l *ledger.Ledger, d *computation.Dispatcher, queue Queue) *Server {
	return &Server{ledger: l, dispatcher: d, queue: queue, log: logging.Component("server")}
}

// Handler returns the API with authentication and CORS applied.
func (s *Server) Handler(apiKey string, origins []string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /transition", s.handleTransition)
	mux.HandleFunc("POST /callback", s.handleCallback)
	mux.HandleFunc("GET /computation", s.handleComputation)
	mux.HandleFunc("GET /computations", s.handlePendingComputations)
	mux.HandleFunc("GET /tree", s.handleTree)
	mux.HandleFunc("GET /nullifier", s.handleNullifier)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /queue/stats", s.handleQueueStats)
	mux.HandleFunc("POST /accounts", signedHandler(s, http.StatusCreated, openAccounts))
	s.registerAdmin(mux)

	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsHandler := handlers.CORS(
		handlers.AllowedHeaders([]string{
			"X-Requested-With",
			"Content-Type",
			"Authorization",
			"X-API-Key",
		}),
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
	)
	return corsHandler(NewAPIKeyMiddleware(apiKey)(mux))
}

// Run serves the API and the metrics endpoint until the returned job is stopped.
func Run(config *Config, s *Server) RunningJob {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: config.MetricsAddress, Handler: metricsMux}
	metricsJob := spawnServerJob(metricsServer, "metrics server")
	logging.Logger().Info().Str("addr", config.MetricsAddress).Msg("metrics server started")

	apiServer := &http.Server{
		Addr:              config.Address,
		Handler:           s.Handler(config.APIKey, config.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}
	apiJob := spawnServerJob(apiServer, "api server")
	logging.Logger().Info().
		Str("addr", config.Address).
		Bool("auth", config.APIKey != "").
		Msg("api server started")

	return CombineJobs(metricsJob, apiJob)
}

func spawnServerJob(server *http.Server, label string) RunningJob {
	start := func() {
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			panic(fmt.Sprintf("%s failed: %s", label, err))
		}
	}
	shutdown := func() {
		logging.Logger().Info().Msgf("shutting down %s", label)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logging.Logger().Error().Err(err).Msgf("error when shutting down %s", label)
		}
		logging.Logger().Info().Msgf("%s shut down", label)
	}
	return SpawnJob(start, shutdown)
}

func decodeBody[T any](w http.ResponseWriter, r *http.Request) (*T, bool) {
	var body T
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		malformedBodyError(err).send(w)
		return nil, false
	}
	return &body, true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBody[computation.TransitionRequest](w, r)
	if !ok {
		return
	}
	timer := StartDispatchTimer(req.Transition.Kind())
	receipt, err := s.dispatcher.Dispatch(r.Context(), *req)
	if err != nil {
		timer.ObserveError(err)
		protocolError(err).send(w)
		return
	}
	timer.ObserveDuration()
	PendingComputations.Inc()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"receipt":    receipt,
		"status":     "pending",
		"status_url": fmt.Sprintf("/computation?offset=%d", receipt.Offset),
	})
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	callback, ok := decodeBody[computation.CallbackTransaction](w, r)
	if !ok {
		return
	}
	outcome, err := s.dispatcher.Callback(r.Context(), *callback)
	if err != nil {
		RecordCallbackError(err)
		protocolError(err).send(w)
		return
	}
	RecordOutcome(outcome)
	if err := s.queue.StoreResult(r.Context(), outcome); err != nil {
		s.log.Warn().Err(err).Uint64("offset", uint64(outcome.Offset)).Msg("outcome not stored")
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleComputation(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("offset")
	offset, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		malformedBodyError(fmt.Errorf("offset parameter must be an unsigned integer, got %q", raw)).send(w)
		return
	}
	pending, err := s.dispatcher.Status(primitives.ComputationOffset(offset))
	if err == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "pending", "computation": pending})
		return
	}
	if !errors.Is(err, ledger.ErrUnknownComputation) {
		protocolError(err).send(w)
		return
	}
	outcome, err := s.queue.GetResult(r.Context(), primitives.ComputationOffset(offset))
	if err != nil {
		unexpectedError(err).send(w)
		return
	}
	if outcome == nil {
		notFoundError(fmt.Sprintf("No computation at offset %d. It may have resolved more than an hour ago or never existed.", offset)).send(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "resolved", "outcome": outcome})
}

func (s *Server) handlePendingComputations(w http.ResponseWriter, _ *http.Request) {
	pending, err := s.dispatcher.Pending()
	if err != nil {
		unexpectedError(err).send(w)
		return
	}
	PendingComputations.Set(float64(len(pending)))
	writeJSON(w, http.StatusOK, map[string]any{"computations": pending, "count": len(pending)})
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	mint, err := primitives.ParseAddress(r.URL.Query().Get("mint"))
	if err != nil {
		malformedBodyError(fmt.Errorf("mint: %w", err)).send(w)
		return
	}
	index, err := strconv.ParseUint(r.URL.Query().Get("index"), 10, 64)
	if err != nil {
		index = 0
	}
	addr, _, err := ledger.TreeAddress(mint, primitives.TreeIndex(index))
	if err != nil {
		unexpectedError(err).send(w)
		return
	}
	var tree *ledger.CommitmentTreeAccount
	err = s.ledger.View(func(tx *ledger.Tx) error {
		tree, err = tx.CommitmentTree(addr)
		return err
	})
	if err != nil {
		protocolError(err).send(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address":   addr,
		"mint":      tree.Mint,
		"index":     tree.Index,
		"depth":     tree.Tree.Depth,
		"root":      tree.Tree.Root,
		"nextIndex": tree.Tree.NextIndex,
		"capacity":  tree.Tree.Capacity(),
		"history":   tree.Tree.History(),
	})
}

func (s *Server) handleNullifier(w http.ResponseWriter, r *http.Request) {
	hash, err := primitives.ParseHash(r.URL.Query().Get("hash"))
	if err != nil {
		malformedBodyError(fmt.Errorf("hash: %w", err)).send(w)
		return
	}
	var record *ledger.NullifierRecord
	err = s.ledger.View(func(tx *ledger.Tx) error {
		record, err = tx.Nullifier(hash)
		return err
	})
	if err != nil {
		unexpectedError(err).send(w)
		return
	}
	status := "unused"
	switch {
	case record == nil:
	case record.Consumed:
		status = "consumed"
	case record.Reserved:
		status = "reserved"
	}
	body := map[string]any{"hash": hash, "status": status}
	if record != nil && record.Reserved && !record.Consumed {
		body["reservedBy"] = record.ReservedBy
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, _ := strconv.ParseUint(q.Get("from"), 10, 64)
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit <= 0 {
		limit = defaultPageLimit
	}
	limit = min(limit, maxPageLimit)
	events, err := s.ledger.Events(from, limit)
	if err != nil {
		unexpectedError(err).send(w)
		return
	}
	next := from
	if len(events) > 0 {
		next = events[len(events)-1].Seq + 1
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "next": next})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.GetQueueStats(r.Context())
	if err != nil {
		unexpectedError(err).send(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"queues":        stats,
		"total_pending": stats[ComputationQueue] + stats[CallbackQueue],
		"total_failed":  stats[FailedQueue],
		"timestamp":     time.Now().Unix(),
	})
}

type accountRequest struct {
	X25519PublicKey      primitives.X25519PublicKey `json:"x25519PublicKey"`
	MasterViewingKeyHash primitives.Hash            `json:"masterViewingKeyHash"`
	Mint                 primitives.Address         `json:"mint"`
	Domain               string                     `json:"domain"`
}

// openAccounts opens the signer's encrypted account if needed and a token
// account for the mint. The signer owns both.
func openAccounts(tx *ledger.Tx, owner primitives.Address, req *accountRequest) (any, error) {
	domain, err := parseDomain(req.Domain)
	if err != nil {
		return nil, err
	}
	account, err := tx.InitialiseAccount(owner, req.X25519PublicKey, req.MasterViewingKeyHash)
	if errors.Is(err, ledger.ErrAlreadyInitialised) {
		existing, lookupErr := tx.Account(owner)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if existing.X25519PublicKey != req.X25519PublicKey {
			return nil, err
		}
		account, _, err = ledger.EncryptedAccountAddress(owner)
	}
	if err != nil {
		return nil, err
	}
	token, err := tx.InitialiseTokenAccount(owner, req.Mint, domain)
	if err != nil {
		return nil, err
	}
	return map[string]any{"account": account, "tokenAccount": token}, nil
}

func parseDomain(s string) (ledger.Domain, error) {
	switch s {
	case "mxe":
		return ledger.DomainMXE, nil
	case "shared", "":
		return ledger.DomainShared, nil
	default:
		return 0, fmt.Errorf("%w: unknown domain %q", computation.ErrInvalidRequest, s)
	}
}
