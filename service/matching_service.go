package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fabianferno/blindmatch/anonymizer"
	"github.com/fabianferno/blindmatch/encryption"
	"github.com/fabianferno/blindmatch/models"
	"github.com/fabianferno/blindmatch/registry"
	"github.com/fabianferno/blindmatch/storage"
)

// MatchingService is the single entry point for the blind-matching
// protocol. It owns every component and is the atomicity boundary:
// mutating operations run under one mutex, so no operation ever
// observes another's partially applied effects.
type MatchingService struct {
	mu sync.Mutex

	scheme       encryption.HomomorphicScheme
	crypto       *encryption.CryptoService
	oracle       *encryption.DecryptionOracle
	profiles     *ProfileStore
	ledger       *MatchRequestLedger
	engine       *SimilarityEngine
	orchestrator *DecryptionOrchestrator
	events       *EventBus
	metrics      *MetricsCollector
	session      *MatchingSession
	store        *storage.JSONStore
	anon         *anonymizer.Anonymizer
	catalog      registry.CategoryRegistry
}

// Config collects the tunables. Zero values select the defaults noted
// per field.
type Config struct {
	StoragePath     string
	Width           int           // default: catalog width, or 8
	Threshold       int           // default 3
	SessionDuration time.Duration // default 24h
	OracleLatency   time.Duration // default 0 (ready on first poll)
	ShuffleSeed     int64

	// Scheme and Oracle may be injected (tests use a manual-release
	// oracle); by default a fresh simulated TFHE scheme is used.
	Scheme  encryption.HomomorphicScheme
	Oracle  *encryption.DecryptionOracle
	Catalog registry.CategoryRegistry
}

type auditRecord struct {
	Op        string `json:"op"`
	Identity  string `json:"identity,omitempty"`
	Requester string `json:"requester,omitempty"`
	Target    string `json:"target,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Half      string `json:"half,omitempty"`
}

func NewMatchingService(cfg Config) (*MatchingService, error) {
	store, err := storage.NewJSONStore(cfg.StoragePath)
	if err != nil {
		return nil, err
	}

	scheme := cfg.Scheme
	if scheme == nil {
		// The evaluator key lives next to the state it sealed, so a
		// restart can keep operating on the persisted ciphertexts.
		scheme, err = encryption.LoadTFHEScheme(1024, filepath.Join(cfg.StoragePath, "evaluator.key"))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize scheme: %w", err)
		}
	}
	if !scheme.SupportsComparison() {
		return nil, fmt.Errorf("scheme %s cannot drive the matching protocol: no homomorphic comparison", scheme.Name())
	}

	width := cfg.Width
	if width == 0 {
		if cfg.Catalog != nil {
			width = cfg.Catalog.Width()
		} else {
			width = 8
		}
	}
	threshold := cfg.Threshold
	if threshold == 0 {
		threshold = 3
	}
	sessionDuration := cfg.SessionDuration
	if sessionDuration == 0 {
		sessionDuration = 24 * time.Hour
	}

	oracle := cfg.Oracle
	if oracle == nil {
		oracle = encryption.NewDecryptionOracle(scheme, cfg.OracleLatency)
	}

	cryptoService := encryption.NewCryptoService()
	profiles := NewProfileStore()
	ledger := NewMatchRequestLedger()
	events := NewEventBus()

	engine, err := NewSimilarityEngine(
		scheme, cryptoService, profiles, ledger, events,
		store.AuditChainLength, width, threshold,
	)
	if err != nil {
		return nil, err
	}

	ms := &MatchingService{
		scheme:       scheme,
		crypto:       cryptoService,
		oracle:       oracle,
		profiles:     profiles,
		ledger:       ledger,
		engine:       engine,
		orchestrator: NewDecryptionOrchestrator(oracle, profiles, ledger, events, width),
		events:       events,
		metrics:      NewMetricsCollector(),
		session:      NewMatchingSession(sessionDuration),
		store:        store,
		anon:         anonymizer.New(cfg.ShuffleSeed),
		catalog:      cfg.Catalog,
	}

	if err := ms.restore(); err != nil {
		return nil, err
	}

	return ms, nil
}

func (ms *MatchingService) restore() error {
	profiles, err := ms.store.LoadProfiles()
	if err != nil {
		return fmt.Errorf("failed to restore profiles: %w", err)
	}
	ms.profiles.Restore(profiles)

	requests, err := ms.store.LoadRequests()
	if err != nil {
		return fmt.Errorf("failed to restore ledger: %w", err)
	}
	ms.ledger.Restore(requests)

	return nil
}

func (ms *MatchingService) audit(record auditRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}
	if _, err := ms.store.AppendAuditBlock(data); err != nil {
		return fmt.Errorf("failed to append audit block: %w", err)
	}
	return nil
}

// Crypto exposes the key and signature helpers for the API edge.
func (ms *MatchingService) Crypto() *encryption.CryptoService {
	return ms.crypto
}

// EncryptInterests encrypts a plaintext interest bitmap through the
// capability. The plaintext never persists; only the ciphertext does.
func (ms *MatchingService) EncryptInterests(bits uint64) ([]byte, error) {
	return ms.crypto.EncryptBitmap(ms.scheme, bits, ms.engine.Width())
}

// SubmitProfile registers a participant with an already encrypted
// interest bitmap.
func (ms *MatchingService) SubmitProfile(owner common.Address, publicKey, encryptedInterests []byte) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if !ms.session.IsActive() {
		return ErrSessionClosed
	}

	start := time.Now()
	profile, err := ms.profiles.Submit(owner, publicKey, encryptedInterests)
	if err != nil {
		return err
	}

	if err := ms.persistProfiles(); err != nil {
		return err
	}
	if err := ms.audit(auditRecord{Op: "submit_profile", Identity: owner.Hex()}); err != nil {
		return err
	}

	ms.events.Publish(models.Event{
		Type:     models.EventProfileCreated,
		Identity: profile.Owner,
	})
	ms.metrics.RecordSubmit(time.Since(start))

	return nil
}

// DeleteProfile removes a participant. Ledger entries and matches
// recorded on other profiles stay as they are.
func (ms *MatchingService) DeleteProfile(owner common.Address) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if err := ms.profiles.Delete(owner); err != nil {
		return err
	}

	if err := ms.persistProfiles(); err != nil {
		return err
	}
	return ms.audit(auditRecord{Op: "delete_profile", Identity: owner.Hex()})
}

// Matches returns the caller's own match list. The signature must prove
// control of the owner identity; nobody reads another's match list.
func (ms *MatchingService) Matches(owner common.Address, signature []byte) ([]common.Address, error) {
	if err := ms.crypto.VerifyOwner(owner, signature); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return ms.profiles.Matches(owner)
}

func (ms *MatchingService) HasProfile(owner common.Address) bool {
	return ms.profiles.HasProfile(owner)
}

func (ms *MatchingService) MatchCount(owner common.Address) (int, error) {
	return ms.profiles.MatchCount(owner)
}

// AllParticipants enumerates live identities, shuffled so the listing
// does not reveal registration order.
func (ms *MatchingService) AllParticipants() []common.Address {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.anon.ShuffleParticipants(ms.profiles.AllParticipants())
}

func (ms *MatchingService) TotalParticipants() int {
	return ms.profiles.Count()
}

// Compare runs one similarity computation and returns its request id.
func (ms *MatchingService) Compare(requester, target common.Address) (string, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if !ms.session.IsActive() {
		return "", ErrSessionClosed
	}

	start := time.Now()
	id, err := ms.engine.Compare(requester, target)
	if err != nil {
		return "", err
	}

	if err := ms.persistRequests(); err != nil {
		return "", err
	}
	if err := ms.audit(auditRecord{
		Op:        "compare",
		Requester: requester.Hex(),
		Target:    target.Hex(),
		RequestID: id,
	}); err != nil {
		return "", err
	}

	ms.metrics.RecordCompare(time.Since(start))
	return id, nil
}

// BatchCompare applies compare per target, all-or-nothing.
func (ms *MatchingService) BatchCompare(requester common.Address, targets []common.Address) ([]string, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if !ms.session.IsActive() {
		return nil, ErrSessionClosed
	}

	start := time.Now()
	ids, err := ms.engine.BatchCompare(requester, targets)
	if err != nil {
		return nil, err
	}

	if err := ms.persistRequests(); err != nil {
		return nil, err
	}
	for i, id := range ids {
		if err := ms.audit(auditRecord{
			Op:        "compare",
			Requester: requester.Hex(),
			Target:    targets[i].Hex(),
			RequestID: id,
		}); err != nil {
			return nil, err
		}
	}

	ms.metrics.RecordCompare(time.Since(start))
	return ids, nil
}

// RequestDecryption starts the asynchronous reveal of one half.
func (ms *MatchingService) RequestDecryption(caller common.Address, requestID string, half models.DecryptionHalf) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	start := time.Now()
	if err := ms.orchestrator.RequestDecryption(caller, requestID, half); err != nil {
		return err
	}

	if err := ms.persistRequests(); err != nil {
		return err
	}
	// The oracle work is already registered; an audit I/O failure must
	// not report the applied transition as a rejection.
	if err := ms.audit(auditRecord{
		Op:        "request_decryption",
		Identity:  caller.Hex(),
		RequestID: requestID,
		Half:      half.String(),
	}); err != nil {
		log.Printf("Warning: failed to audit decryption request: %v", err)
	}

	ms.metrics.RecordDecryptRequest(time.Since(start))
	return nil
}

// Finalize polls for one half's plaintext. ErrNotReady means poll again
// later; any other error is a rejection.
func (ms *MatchingService) Finalize(caller common.Address, requestID string, half models.DecryptionHalf) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	start := time.Now()
	err := ms.orchestrator.Finalize(caller, requestID, half)
	if errors.Is(err, ErrNotReady) {
		ms.metrics.RecordFinalize(time.Since(start), true)
		return err
	}
	if err != nil {
		return err
	}

	if err := ms.persistRequests(); err != nil {
		return err
	}

	record := auditRecord{
		Op:        "finalize",
		Identity:  caller.Hex(),
		RequestID: requestID,
		Half:      half.String(),
	}
	if half == models.MatchHalf {
		if request, lookupErr := ms.ledger.Get(requestID); lookupErr == nil && request.IsMatch {
			ms.metrics.RecordMatchFound()
			if err := ms.persistProfiles(); err != nil {
				return err
			}
		}
	}
	// The reveal is terminal at this point; audit failures are logged,
	// not surfaced as a rejection of the applied transition.
	if err := ms.audit(record); err != nil {
		log.Printf("Warning: failed to audit finalize: %v", err)
	}

	ms.metrics.RecordFinalize(time.Since(start), false)
	return nil
}

// GetMatchRequest returns a snapshot of one ledger entry.
func (ms *MatchingService) GetMatchRequest(requestID string) (*models.MatchRequest, error) {
	return ms.ledger.Get(requestID)
}

// AuditChain returns a copy of the audit chain.
func (ms *MatchingService) AuditChain() []*models.AuditBlock {
	return ms.store.LoadAuditChain()
}

// ValidateAuditChain re-checks the chain's hashes and links.
func (ms *MatchingService) ValidateAuditChain() bool {
	return models.ValidateChain(ms.store.LoadAuditChain())
}

// Events subscribes a listener to service notifications.
func (ms *MatchingService) Events(buffer int) (<-chan models.Event, func()) {
	return ms.events.Subscribe(buffer)
}

func (ms *MatchingService) Metrics() MetricsResponse {
	return ms.metrics.Snapshot()
}

// Categories returns the interest catalog, or nil when the service runs
// without one.
func (ms *MatchingService) Categories() []registry.Category {
	if ms.catalog == nil {
		return nil
	}
	return ms.catalog.Categories()
}

func (ms *MatchingService) Width() int         { return ms.engine.Width() }
func (ms *MatchingService) Threshold() int     { return ms.engine.Threshold() }
func (ms *MatchingService) SchemeName() string { return ms.scheme.Name() }

func (ms *MatchingService) IsActive() bool {
	return ms.session.IsActive()
}

// EndSession closes the operational window. Existing decryptions can
// still be finalized; new profiles and comparisons are refused.
func (ms *MatchingService) EndSession() {
	ms.session.End()
}

// Snapshot exports the full state for the archive.
func (ms *MatchingService) Snapshot() *storage.Snapshot {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	return &storage.Snapshot{
		TakenAt:  time.Now().Unix(),
		Profiles: ms.profiles.Snapshot(),
		Requests: ms.ledger.Snapshot(),
		Chain:    ms.store.LoadAuditChain(),
	}
}

func (ms *MatchingService) persistProfiles() error {
	if err := ms.store.SaveProfiles(ms.profiles.Snapshot()); err != nil {
		return fmt.Errorf("failed to persist profiles: %w", err)
	}
	return nil
}

func (ms *MatchingService) persistRequests() error {
	if err := ms.store.SaveRequests(ms.ledger.Snapshot()); err != nil {
		return fmt.Errorf("failed to persist ledger: %w", err)
	}
	return nil
}
