package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType enumerates the notifications the service emits for UI and
// observability collaborators.
type EventType string

const (
	EventProfileCreated            EventType = "profile_created"
	EventSimilarityCalculated      EventType = "similarity_calculated"
	EventScoreDecryptionRequested  EventType = "score_decryption_requested"
	EventMatchDecryptionRequested  EventType = "match_decryption_requested"
	EventScoreDecrypted            EventType = "score_decrypted"
	EventMatchDecrypted            EventType = "match_decrypted"
	EventMatchFound                EventType = "match_found"
)

// Event is a single notification. Fields beyond ID, Type and Timestamp
// are populated per type; zero values mean "not applicable".
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Identity  common.Address `json:"identity,omitempty"`
	Requester common.Address `json:"requester,omitempty"`
	Target    common.Address `json:"target,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Score     int            `json:"score,omitempty"`
	IsMatch   bool           `json:"is_match,omitempty"`
}
