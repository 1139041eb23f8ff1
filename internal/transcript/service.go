package transcript

import (
	"errors"
	"time"
)

// ErrEmptyUID is returned when a request carries no client identifier
var ErrEmptyUID = errors.New("uid must not be empty")

// Stats is a point-in-time summary of the service state
type Stats struct {
	UtteranceCount   int   `json:"utterance_count"`
	CursorCount      int   `json:"cursor_count"`
	RetentionMinutes int64 `json:"retention_minutes"`
}

// Service owns the transcript log and the cursor table and implements the
// set/get read-marker operations on top of them.
type Service struct {
	log     *Log
	cursors *CursorTable
}

// NewService wires a log and a cursor table together
func NewService(log *Log, cursors *CursorTable) *Service {
	return &Service{
		log:     log,
		cursors: cursors,
	}
}

// Append is the producer entry point
func (s *Service) Append(text string) bool {
	return s.log.Append(text)
}

// Set moves uid's read marker to now. Anything already in the log is treated as delivered.
func (s *Service) Set(uid string) error {
	if uid == "" {
		return ErrEmptyUID
	}
	s.cursors.Update(uid, func(time.Time, bool) time.Time {
		return s.log.Mark()
	})
	return nil
}

// Get returns every live utterance newer than uid's read marker and advances the marker,
// as one step with respect to other calls for the same uid. A uid never seen before
// receives the whole live log.
func (s *Service) Get(uid string) ([]Utterance, error) {
	if uid == "" {
		return nil, ErrEmptyUID
	}

	var result []Utterance
	s.cursors.Update(uid, func(mark time.Time, _ bool) time.Time {
		utterances, at := s.log.Since(mark)
		result = utterances

		if at.Before(mark) {
			return mark
		}
		return at
	})
	return result, nil
}

// Stats reports utterance and cursor counts
func (s *Service) Stats() Stats {
	return Stats{
		UtteranceCount:   s.log.Len(),
		CursorCount:      s.cursors.Len(),
		RetentionMinutes: int64(s.log.Retention() / time.Minute),
	}
}
