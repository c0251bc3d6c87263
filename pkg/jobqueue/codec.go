package jobqueue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// TimeLayout is the wire format of every timestamp: second resolution, UTC, no zone suffix.
const TimeLayout = "2006-01-02 15:04:05"

// jobRecord is the persisted shape of a Job.
type jobRecord struct {
	QID        *int64  `json:"qid"`
	QueueName  string  `json:"queue_name"`
	Action     string  `json:"action"`
	ActionType *int    `json:"action_type"`
	AddedAt    *string `json:"added_at"`
	StartedAt  *string `json:"started_at"`
	Attempts   *int    `json:"attempts"`
}

// MarshalJSON implements json.Marshaler.
func (j *Job) MarshalJSON() ([]byte, error) {
	id := j.ID
	kind := int(j.Kind)
	attempts := j.Attempts
	rec := jobRecord{
		QID:        &id,
		QueueName:  j.QueueName,
		Action:     j.Target,
		ActionType: &kind,
		Attempts:   &attempts,
	}
	if !j.AddedAt.IsZero() {
		s := formatTime(j.AddedAt)
		rec.AddedAt = &s
	}
	if j.StartedAt != nil {
		s := formatTime(*j.StartedAt)
		rec.StartedAt = &s
	}
	return json.Marshal(rec)
}

// UnmarshalJSON implements json.Unmarshaler. The decoded job is validated;
// missing attempts default to 0 and a missing started_at stays nil.
func (j *Job) UnmarshalJSON(data []byte) error {
	var rec jobRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}

	if rec.QID == nil || *rec.QID <= 0 {
		return newValidationError("qid", "must be a positive integer")
	}
	if rec.ActionType == nil {
		return newValidationError("action_type", "cannot be empty")
	}
	if rec.AddedAt == nil {
		return newValidationError("added_at", "cannot be empty")
	}
	addedAt, err := parseTime(*rec.AddedAt)
	if err != nil {
		return newValidationError("added_at", err.Error())
	}

	decoded := Job{
		ID:        *rec.QID,
		QueueName: rec.QueueName,
		Kind:      ActionKind(*rec.ActionType),
		Target:    rec.Action,
		AddedAt:   addedAt,
	}
	if rec.StartedAt != nil {
		startedAt, err := parseTime(*rec.StartedAt)
		if err != nil {
			return newValidationError("started_at", err.Error())
		}
		decoded.StartedAt = &startedAt
	}
	if rec.Attempts != nil {
		decoded.Attempts = *rec.Attempts
	}
	if err := decoded.Validate(); err != nil {
		return err
	}

	*j = decoded
	return nil
}

type stateDocument struct {
	Running *[]*Job `json:"running"`
	Queued  *[]*Job `json:"queued"`
}

// MarshalJSON implements json.Marshaler. Empty sequences are written as [].
func (s *State) MarshalJSON() ([]byte, error) {
	running, queued := s.Running, s.Queued
	if running == nil {
		running = []*Job{}
	}
	if queued == nil {
		queued = []*Job{}
	}
	return json.Marshal(stateDocument{Running: &running, Queued: &queued})
}

// UnmarshalJSON implements json.Unmarshaler. Both arrays must be present.
func (s *State) UnmarshalJSON(data []byte) error {
	var doc stateDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc.Running == nil || doc.Queued == nil {
		return ErrMalformedState
	}

	decoded := State{Running: *doc.Running, Queued: *doc.Queued}
	if err := decoded.Validate(); err != nil {
		return err
	}

	*s = decoded
	return nil
}

// EncodeState renders st as the indented JSON document shared by all stores.
func EncodeState(st *State) ([]byte, error) {
	if st == nil {
		st = NewState()
	}
	data, err := json.MarshalIndent(st, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode queue state: %w", err)
	}
	return append(data, '\n'), nil
}

// DecodeState parses a state document. Empty input is rejected.
func DecodeState(data []byte) (*State, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.Join(ErrMalformedState, errors.New("empty document"))
	}
	st := new(State)
	if err := json.Unmarshal(data, st); err != nil {
		return nil, err
	}
	return st, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.ParseInLocation(TimeLayout, s, time.UTC)
}
