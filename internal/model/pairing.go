package model

import (
	"encoding/json"
	"fmt"
	"time"
)

type PairingStatus string

const (
	PairingStatusPending   PairingStatus = "pending"
	PairingStatusCompleted PairingStatus = "completed"
	PairingStatusError     PairingStatus = "error"
)

// PairingState is one of PairingPending, PairingCompleted or PairingFailed.
type PairingState interface {
	Status() PairingStatus
	isPairingState()
}

type PairingPending struct{}

type PairingCompleted struct {
	SessionToken string
}

type PairingFailed struct {
	Message string
}

func (PairingPending) Status() PairingStatus   { return PairingStatusPending }
func (PairingCompleted) Status() PairingStatus { return PairingStatusCompleted }
func (PairingFailed) Status() PairingStatus    { return PairingStatusError }

func (PairingPending) isPairingState()   {}
func (PairingCompleted) isPairingState() {}
func (PairingFailed) isPairingState()    {}

// PairingRecord tracks one authorization attempt. It is written once as
// pending and at most once more into a terminal state.
type PairingRecord struct {
	PairID    string
	CreatedAt time.Time
	State     PairingState
}

func NewPendingPairing(pairID string, now time.Time) *PairingRecord {
	return &PairingRecord{
		PairID:    pairID,
		CreatedAt: now,
		State:     PairingPending{},
	}
}

func (p *PairingRecord) Status() PairingStatus {
	return p.State.Status()
}

func (p *PairingRecord) IsTerminal() bool {
	return p.Status() != PairingStatusPending
}

// Complete returns the terminal successor of a pending record.
func (p *PairingRecord) Complete(sessionToken string) (*PairingRecord, error) {
	if p.IsTerminal() {
		return nil, fmt.Errorf("pairing %s is already %s", p.PairID, p.Status())
	}
	if sessionToken == "" {
		return nil, fmt.Errorf("pairing %s: empty session token", p.PairID)
	}
	return &PairingRecord{PairID: p.PairID, CreatedAt: p.CreatedAt, State: PairingCompleted{SessionToken: sessionToken}}, nil
}

// Fail returns the failed successor of a pending record.
func (p *PairingRecord) Fail(message string) (*PairingRecord, error) {
	if p.IsTerminal() {
		return nil, fmt.Errorf("pairing %s is already %s", p.PairID, p.Status())
	}
	if message == "" {
		message = "authorization failed"
	}
	return &PairingRecord{PairID: p.PairID, CreatedAt: p.CreatedAt, State: PairingFailed{Message: message}}, nil
}

type pairingRecordJSON struct {
	PairID       string        `json:"pairId"`
	Status       PairingStatus `json:"status"`
	CreatedAt    time.Time     `json:"createdAt"`
	SessionToken string        `json:"sessionToken,omitempty"`
	Error        string        `json:"error,omitempty"`
}

func (p PairingRecord) MarshalJSON() ([]byte, error) {
	out := pairingRecordJSON{
		PairID:    p.PairID,
		CreatedAt: p.CreatedAt,
	}
	switch s := p.State.(type) {
	case PairingPending:
		out.Status = PairingStatusPending
	case PairingCompleted:
		out.Status = PairingStatusCompleted
		out.SessionToken = s.SessionToken
	case PairingFailed:
		out.Status = PairingStatusError
		out.Error = s.Message
	default:
		return nil, fmt.Errorf("pairing %s has no state", p.PairID)
	}
	return json.Marshal(out)
}

func (p *PairingRecord) UnmarshalJSON(data []byte) error {
	var in pairingRecordJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	switch in.Status {
	case PairingStatusPending:
		if in.SessionToken != "" || in.Error != "" {
			return fmt.Errorf("pending pairing %s carries terminal fields", in.PairID)
		}
		p.State = PairingPending{}
	case PairingStatusCompleted:
		if in.SessionToken == "" || in.Error != "" {
			return fmt.Errorf("completed pairing %s must carry only a session token", in.PairID)
		}
		p.State = PairingCompleted{SessionToken: in.SessionToken}
	case PairingStatusError:
		if in.Error == "" || in.SessionToken != "" {
			return fmt.Errorf("failed pairing %s must carry only an error", in.PairID)
		}
		p.State = PairingFailed{Message: in.Error}
	default:
		return fmt.Errorf("pairing %s has unknown status %q", in.PairID, in.Status)
	}

	p.PairID = in.PairID
	p.CreatedAt = in.CreatedAt
	return nil
}
