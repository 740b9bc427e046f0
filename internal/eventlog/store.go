package eventlog

import (
	"context"
	"time"

	"qseq/internal/storage"
)

// StoreSink persists records through a storage.Store.
type StoreSink struct {
	st      storage.Store
	timeout time.Duration
}

func NewStoreSink(st storage.Store, timeout time.Duration) *StoreSink {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &StoreSink{st: st, timeout: timeout}
}

func (s *StoreSink) Emit(r Record) error {
	if s.st == nil {
		return storage.ErrDisabled
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.st.AppendEvent(ctx, storage.Event{
		RunID:  r.RunID,
		At:     r.At,
		Offset: r.Offset,
		Source: r.Source,
		Header: r.Header,
		Fields: r.Fields,
	})
}
