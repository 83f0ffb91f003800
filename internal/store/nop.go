package store

import (
	"time"

	"github.com/amishk599/runwatch/internal/model"
)

// NopStore is a ledger that remembers nothing, used by one-shot commands.
// Every terminal outcome is announced.
type NopStore struct{}

func NewNopStore() *NopStore { return &NopStore{} }

func (s *NopStore) HasNotified(model.JobHandle) (bool, error)     { return false, nil }
func (s *NopStore) MarkNotified(model.JobHandle, model.Status) error { return nil }
func (s *NopStore) Cleanup(time.Duration) error                    { return nil }
