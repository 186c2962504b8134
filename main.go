package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/fabianferno/blindmatch/encryption"
	"github.com/fabianferno/blindmatch/models"
	"github.com/fabianferno/blindmatch/registry"
	"github.com/fabianferno/blindmatch/service"
	"github.com/fabianferno/blindmatch/storage"
)

type Config struct {
	StorageDir      string
	SessionDuration time.Duration
	OracleLatency   time.Duration
	Width           int
	Threshold       int
	QueueSize       int
	SnapshotsKept   int
	SchemeName      string
	Port            int
}

type RegisterRequest struct {
	InterestBits []int `json:"interest_bits"`
}

type RegisterResponse struct {
	Identity   string `json:"identity"`
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

type DeleteProfileRequest struct {
	Identity string `json:"identity"`
}

type CompareRequest struct {
	Requester string   `json:"requester"`
	Targets   []string `json:"targets"`
}

type CompareResponse struct {
	RequestIDs []string `json:"request_ids"`
}

type DecryptionRequest struct {
	Caller    string `json:"caller"`
	RequestID string `json:"request_id"`
	Half      string `json:"half"`
}

type MatchesRequest struct {
	Identity   string `json:"identity"`
	PrivateKey string `json:"private_key"`
}

type Server struct {
	matchingService *service.MatchingService
	queue           *service.QueueProcessor
	archive         *storage.SnapshotArchive
}

func main() {
	config := parseFlags()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if err := os.MkdirAll(config.StorageDir, 0755); err != nil {
		log.Fatalf("Failed to setup storage: %v", err)
	}

	server, err := initializeServer(config)
	if err != nil {
		log.Fatalf("Failed to initialize matching service: %v", err)
	}

	server.queue.Start()
	defer server.queue.Stop()

	// Set up HTTP routes
	http.HandleFunc("/api/register", server.handleRegister)
	http.HandleFunc("/api/profile/delete", server.handleDeleteProfile)
	http.HandleFunc("/api/compare", server.handleCompare)
	http.HandleFunc("/api/compare/batch", server.handleBatchCompare)
	http.HandleFunc("/api/decrypt/request", server.handleRequestDecryption)
	http.HandleFunc("/api/decrypt/finalize", server.handleFinalize)
	http.HandleFunc("/api/matches", server.handleMatches)
	http.HandleFunc("/api/match-count", server.handleMatchCount)
	http.HandleFunc("/api/request", server.handleGetRequest)
	http.HandleFunc("/api/participants", server.handleParticipants)
	http.HandleFunc("/api/participants/count", server.handleParticipantCount)
	http.HandleFunc("/api/categories", server.handleCategories)
	http.HandleFunc("/api/status", server.handleStatus)
	http.HandleFunc("/api/metrics", server.handleMetrics)
	http.HandleFunc("/api/audit/chain", server.handleAuditChain)
	http.HandleFunc("/api/audit/validate", server.handleAuditValidate)
	http.HandleFunc("/api/encryption/benchmark", server.handleBenchmark)
	http.HandleFunc("/api/end-session", server.handleEndSession)

	// Graceful shutdown on signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	serverChan := make(chan error, 1)
	go func() {
		log.Printf("Starting blindmatch server on port %d (scheme %s, width %d, threshold %d)...\n",
			config.Port, server.matchingService.SchemeName(),
			server.matchingService.Width(), server.matchingService.Threshold())
		serverChan <- http.ListenAndServe(fmt.Sprintf(":%d", config.Port), nil)
	}()

	select {
	case err := <-serverChan:
		log.Fatalf("Server error: %v", err)
	case sig := <-sigChan:
		log.Printf("Received signal: %v\n", sig)
		if err := server.archive.Save(server.matchingService.Snapshot()); err != nil {
			log.Printf("Error archiving final snapshot: %v", err)
		}
		log.Println("Server shutdown completed")
	}
}

func parseFlags() *Config {
	config := &Config{}

	flag.StringVar(&config.StorageDir, "storage", "data", "Directory for service state")
	flag.DurationVar(&config.SessionDuration, "session", 24*time.Hour, "Matching session duration")
	flag.DurationVar(&config.OracleLatency, "oracle-latency", 2*time.Second, "Simulated decryption oracle latency")
	flag.IntVar(&config.Width, "width", 0, "Interest bitmap width (0 = use category catalog)")
	flag.IntVar(&config.Threshold, "threshold", 3, "Minimum common interests for a match")
	flag.IntVar(&config.QueueSize, "queue", 32, "Comparison queue size")
	flag.IntVar(&config.SnapshotsKept, "snapshots", 5, "State snapshots kept in the archive")
	flag.StringVar(&config.SchemeName, "scheme", "tfhe", "Homomorphic scheme (tfhe|paillier)")
	flag.IntVar(&config.Port, "port", 8080, "Server port")

	flag.Parse()
	return config
}

func buildScheme(name, keyPath string) (encryption.HomomorphicScheme, error) {
	switch strings.ToLower(name) {
	case "tfhe":
		return encryption.LoadTFHEScheme(1024, keyPath)
	case "paillier":
		// Rejected by the service for lack of comparison support; kept
		// selectable so the mistake surfaces as one clear startup error.
		return encryption.NewPaillierScheme(2048)
	default:
		return nil, fmt.Errorf("unknown scheme %q", name)
	}
}

func initializeServer(config *Config) (*Server, error) {
	catalog, err := registry.NewFileCategoryRegistry(registry.RegistryConfig{
		CatalogPath: filepath.Join(config.StorageDir, "categories.json"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load category catalog: %w", err)
	}

	scheme, err := buildScheme(config.SchemeName, filepath.Join(config.StorageDir, "evaluator.key"))
	if err != nil {
		return nil, err
	}

	matchingService, err := service.NewMatchingService(service.Config{
		StoragePath:     config.StorageDir,
		Width:           config.Width,
		Threshold:       config.Threshold,
		SessionDuration: config.SessionDuration,
		OracleLatency:   config.OracleLatency,
		ShuffleSeed:     time.Now().UnixNano(),
		Scheme:          scheme,
		Catalog:         catalog,
	})
	if err != nil {
		return nil, err
	}

	archive, err := storage.NewSnapshotArchive(filepath.Join(config.StorageDir, "archive"), config.SnapshotsKept)
	if err != nil {
		return nil, err
	}

	return &Server{
		matchingService: matchingService,
		queue:           service.NewQueueProcessor(matchingService, config.QueueSize),
		archive:         archive,
	}, nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("not a valid identity: %q", s)
	}
	return common.HexToAddress(s), nil
}

func parseHalf(s string) (models.DecryptionHalf, error) {
	switch strings.ToLower(s) {
	case "score":
		return models.ScoreHalf, nil
	case "match":
		return models.MatchHalf, nil
	default:
		return 0, fmt.Errorf("half must be \"score\" or \"match\", got %q", s)
	}
}

// httpStatusFor maps core rejections onto HTTP status codes. NotReady is
// not a failure: callers get 202 and retry.
func httpStatusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrNotReady):
		return http.StatusAccepted
	case errors.Is(err, service.ErrNotFound),
		errors.Is(err, service.ErrNotRegistered),
		errors.Is(err, service.ErrTargetNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, service.ErrAlreadyExists),
		errors.Is(err, service.ErrAlreadyMatched),
		errors.Is(err, service.ErrAlreadyRequested),
		errors.Is(err, service.ErrAlreadyDecrypted),
		errors.Is(err, service.ErrComparisonPending):
		return http.StatusConflict
	case errors.Is(err, service.ErrQueueFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	width := s.matchingService.Width()
	var bits uint64
	for _, bit := range req.InterestBits {
		if bit < 0 || bit >= width {
			http.Error(w, fmt.Sprintf("interest bit %d outside [0, %d)", bit, width), http.StatusBadRequest)
			return
		}
		bits |= 1 << uint(bit)
	}

	cryptoService := s.matchingService.Crypto()
	privateKey, err := cryptoService.GenerateKeyPair()
	if err != nil {
		http.Error(w, "Failed to generate key pair", http.StatusInternalServerError)
		return
	}
	identity := cryptoService.IdentityOf(&privateKey.PublicKey)

	encryptedInterests, err := s.matchingService.EncryptInterests(bits)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	publicKeyBytes := crypto.FromECDSAPub(&privateKey.PublicKey)
	if err := s.matchingService.SubmitProfile(identity, publicKeyBytes, encryptedInterests); err != nil {
		http.Error(w, err.Error(), httpStatusFor(err))
		return
	}

	writeJSON(w, RegisterResponse{
		Identity:   identity.Hex(),
		PublicKey:  hex.EncodeToString(publicKeyBytes),
		PrivateKey: hex.EncodeToString(crypto.FromECDSA(privateKey)),
	})
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req DeleteProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	identity, err := parseAddress(req.Identity)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.matchingService.DeleteProfile(identity); err != nil {
		http.Error(w, err.Error(), httpStatusFor(err))
		return
	}

	writeJSON(w, map[string]bool{"success": true})
}

func (s *Server) compareViaQueue(w http.ResponseWriter, r *http.Request, batch bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CompareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	requester, err := parseAddress(req.Requester)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !batch && len(req.Targets) != 1 {
		http.Error(w, "compare takes exactly one target", http.StatusBadRequest)
		return
	}

	targets := make([]common.Address, 0, len(req.Targets))
	for _, t := range req.Targets {
		target, err := parseAddress(t)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		targets = append(targets, target)
	}

	result := <-s.queue.QueueCompare(requester, targets)
	if result.Err != nil {
		http.Error(w, result.Err.Error(), httpStatusFor(result.Err))
		return
	}

	writeJSON(w, CompareResponse{RequestIDs: result.RequestIDs})
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	s.compareViaQueue(w, r, false)
}

func (s *Server) handleBatchCompare(w http.ResponseWriter, r *http.Request) {
	s.compareViaQueue(w, r, true)
}

func (s *Server) decodeDecryptionRequest(w http.ResponseWriter, r *http.Request) (common.Address, string, models.DecryptionHalf, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return common.Address{}, "", 0, false
	}

	var req DecryptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return common.Address{}, "", 0, false
	}

	caller, err := parseAddress(req.Caller)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return common.Address{}, "", 0, false
	}

	half, err := parseHalf(req.Half)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return common.Address{}, "", 0, false
	}

	return caller, req.RequestID, half, true
}

func (s *Server) handleRequestDecryption(w http.ResponseWriter, r *http.Request) {
	caller, requestID, half, ok := s.decodeDecryptionRequest(w, r)
	if !ok {
		return
	}

	if err := s.matchingService.RequestDecryption(caller, requestID, half); err != nil {
		http.Error(w, err.Error(), httpStatusFor(err))
		return
	}

	writeJSON(w, map[string]bool{"success": true})
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	caller, requestID, half, ok := s.decodeDecryptionRequest(w, r)
	if !ok {
		return
	}

	if err := s.matchingService.Finalize(caller, requestID, half); err != nil {
		if errors.Is(err, service.ErrNotReady) {
			w.WriteHeader(http.StatusAccepted)
			writeJSON(w, map[string]string{"status": "not_ready"})
			return
		}
		http.Error(w, err.Error(), httpStatusFor(err))
		return
	}

	request, err := s.matchingService.GetMatchRequest(requestID)
	if err != nil {
		http.Error(w, err.Error(), httpStatusFor(err))
		return
	}

	writeJSON(w, request)
}

func (s *Server) handleMatches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req MatchesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	identity, err := parseAddress(req.Identity)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	privateKey, err := encryption.ParsePrivateKey(req.PrivateKey)
	if err != nil {
		http.Error(w, "Invalid private key", http.StatusBadRequest)
		return
	}

	signature, err := s.matchingService.Crypto().SignMatchesRequest(identity, privateKey)
	if err != nil {
		http.Error(w, "Failed to sign request", http.StatusInternalServerError)
		return
	}

	matches, err := s.matchingService.Matches(identity, signature)
	if err != nil {
		http.Error(w, err.Error(), httpStatusFor(err))
		return
	}

	hexMatches := make([]string, len(matches))
	for i, m := range matches {
		hexMatches[i] = m.Hex()
	}
	writeJSON(w, map[string][]string{"matches": hexMatches})
}

func (s *Server) handleMatchCount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	identity, err := parseAddress(r.URL.Query().Get("identity"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	count, err := s.matchingService.MatchCount(identity)
	if err != nil {
		http.Error(w, err.Error(), httpStatusFor(err))
		return
	}

	writeJSON(w, map[string]int{"match_count": count})
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing request id", http.StatusBadRequest)
		return
	}

	request, err := s.matchingService.GetMatchRequest(id)
	if err != nil {
		http.Error(w, err.Error(), httpStatusFor(err))
		return
	}

	writeJSON(w, request)
}

func (s *Server) handleParticipants(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	participants := s.matchingService.AllParticipants()
	hexIDs := make([]string, len(participants))
	for i, p := range participants {
		hexIDs[i] = p.Hex()
	}

	writeJSON(w, map[string][]string{"participants": hexIDs})
}

func (s *Server) handleParticipantCount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, map[string]int{"total_participants": s.matchingService.TotalParticipants()})
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, map[string]interface{}{
		"width":      s.matchingService.Width(),
		"categories": s.matchingService.Categories(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, map[string]interface{}{
		"scheme":             s.matchingService.SchemeName(),
		"width":              s.matchingService.Width(),
		"threshold":          s.matchingService.Threshold(),
		"total_participants": s.matchingService.TotalParticipants(),
		"session_active":     s.matchingService.IsActive(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, s.matchingService.Metrics())
}

func (s *Server) handleAuditChain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	chain := s.matchingService.AuditChain()
	writeJSON(w, map[string]interface{}{
		"block_count": len(chain),
		"blocks":      chain,
		"is_valid":    models.ValidateChain(chain),
	})
}

func (s *Server) handleAuditValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, map[string]bool{"valid": s.matchingService.ValidateAuditChain()})
}

func (s *Server) handleBenchmark(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Benchmarks run on throwaway keys; they never touch stored state.
	tfhe, err := encryption.NewTFHEScheme(1024)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	paillier, err := encryption.NewPaillierScheme(2048)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	results := make([]*encryption.BenchmarkResult, 0, 2)
	for _, scheme := range []encryption.HomomorphicScheme{tfhe, paillier} {
		result, err := encryption.Benchmark(scheme)
		if err != nil {
			http.Error(w, fmt.Sprintf("benchmark of %s failed: %v", scheme.Name(), err), http.StatusInternalServerError)
			return
		}
		results = append(results, result)
	}

	writeJSON(w, results)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.matchingService.EndSession()
	if err := s.archive.Save(s.matchingService.Snapshot()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]bool{"success": true})
}
