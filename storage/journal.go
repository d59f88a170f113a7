package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ledgerpay/crypto"
)

// SubmissionStatus is the last known state of a submitted transaction.
type SubmissionStatus string

const (
	StatusSubmitted SubmissionStatus = "submitted"
	StatusConfirmed SubmissionStatus = "confirmed"
	StatusFailed    SubmissionStatus = "failed"
	StatusTimedOut  SubmissionStatus = "timed-out"
	StatusRejected  SubmissionStatus = "rejected"
)

// Submission is one journal entry.
type Submission struct {
	Signature crypto.Signature `json:"signature"`
	Kind      string           `json:"kind,omitempty"`
	Blockhash crypto.Hash      `json:"blockhash"`
	Status    SubmissionStatus `json:"status"`
	Attempts  int              `json:"attempts"`
	Slot      uint64           `json:"slot,omitempty"`
	Error     string           `json:"error,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

var journalPrefix = []byte("submission/")

func journalKey(sig crypto.Signature) []byte {
	return append(append([]byte(nil), journalPrefix...), sig[:]...)
}

// Journal records submissions in a Database so an interrupted confirm can be
// resumed and past outcomes listed.
type Journal struct {
	db    Database
	nowFn func() time.Time
}

// NewJournal wraps db.
func NewJournal(db Database) *Journal {
	return &Journal{db: db, nowFn: time.Now}
}

// Record upserts entry, keeping the original creation time.
func (j *Journal) Record(entry Submission) error {
	if entry.Signature.IsZero() {
		return fmt.Errorf("storage: submission signature required")
	}
	now := j.nowFn().UTC()
	existing, err := j.Get(entry.Signature)
	switch {
	case err == nil:
		entry.CreatedAt = existing.CreatedAt
		if entry.Kind == "" {
			entry.Kind = existing.Kind
		}
	case errors.Is(err, ErrNotFound):
		entry.CreatedAt = now
	default:
		return err
	}
	entry.UpdatedAt = now
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("storage: encode submission: %w", err)
	}
	return j.db.Put(journalKey(entry.Signature), raw)
}

// Get returns the entry for sig or ErrNotFound.
func (j *Journal) Get(sig crypto.Signature) (*Submission, error) {
	raw, err := j.db.Get(journalKey(sig))
	if err != nil {
		return nil, err
	}
	var entry Submission
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("storage: decode submission: %w", err)
	}
	return &entry, nil
}

// List returns every entry, optionally filtered by status.
func (j *Journal) List(status SubmissionStatus) ([]Submission, error) {
	var (
		out    []Submission
		decErr error
	)
	err := j.db.Iterate(journalPrefix, func(_, value []byte) bool {
		var entry Submission
		if err := json.Unmarshal(value, &entry); err != nil {
			decErr = fmt.Errorf("storage: decode submission: %w", err)
			return false
		}
		if status == "" || entry.Status == status {
			out = append(out, entry)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, decErr
}
