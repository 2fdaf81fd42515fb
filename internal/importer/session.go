package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nhle/mailhistory/internal/metrics"
	"github.com/nhle/mailhistory/internal/model"
	"github.com/nhle/mailhistory/internal/source"
	"github.com/nhle/mailhistory/internal/store"
)

// ErrStopped is the terminal error of a session stopped before it
// finished its mailbox.
var ErrStopped = errors.New("import stopped")

// SessionSnapshot is a point-in-time copy of a session's state.
type SessionSnapshot struct {
	AccountID    string              `json:"account_id"`
	AccountIndex int                 `json:"account_index"`
	Label        string              `json:"label"`
	Status       model.SessionStatus `json:"-"`
	StatusName   string              `json:"status"`
	Connected    bool                `json:"connected"`
	Current      int                 `json:"current"`
	Total        int                 `json:"total"`
	Imported     int                 `json:"imported"`
	Duplicates   int                 `json:"duplicates"`
	Ignored      int                 `json:"ignored"`
	Skipped      int                 `json:"skipped"`
	Failed       int                 `json:"failed"`
	LastError    string              `json:"last_error,omitempty"`
}

// Processor imports a single raw message.
type Processor interface {
	Process(ctx context.Context, acct model.AccountConfig, raw source.RawMessage) (Outcome, error)
}

// Session is one account's run of the import pipeline. Only the
// session's own goroutine writes its counters; everyone else reads them
// through Snapshot.
type Session struct {
	acct   model.AccountConfig
	logger *slog.Logger

	status    atomic.Int32
	connected atomic.Bool
	current   atomic.Int64
	total     atomic.Int64

	imported   atomic.Int64
	duplicates atomic.Int64
	ignored    atomic.Int64
	skipped    atomic.Int64
	failed     atomic.Int64

	errMu   sync.Mutex
	lastErr error

	stopOnce sync.Once
	stopCh   chan struct{}
	resumeCh chan struct{}

	snapMu   sync.Mutex
	last     SessionSnapshot
	onChange func(oldSnap, newSnap SessionSnapshot)
}

func newSession(
	acct model.AccountConfig, logger *slog.Logger, onChange func(oldSnap, newSnap SessionSnapshot),
) *Session {
	s := &Session{
		acct:     acct,
		logger:   logger.With("account", acct.ID, "label", acct.Label),
		stopCh:   make(chan struct{}),
		resumeCh: make(chan struct{}, 1),
		onChange: onChange,
	}
	s.last = s.Snapshot()
	return s
}

// AccountID returns the id of the session's account.
func (s *Session) AccountID() string { return s.acct.ID }

// Status returns the current status.
func (s *Session) Status() model.SessionStatus {
	return model.SessionStatus(s.status.Load())
}

// Err returns the error that failed the session, if any.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.lastErr
}

// Snapshot copies the session's state.
func (s *Session) Snapshot() SessionSnapshot {
	status := s.Status()
	snap := SessionSnapshot{
		AccountID:    s.acct.ID,
		AccountIndex: s.acct.Index,
		Label:        s.acct.Label,
		Status:       status,
		StatusName:   status.String(),
		Connected:    s.connected.Load(),
		Current:      int(s.current.Load()),
		Total:        int(s.total.Load()),
		Imported:     int(s.imported.Load()),
		Duplicates:   int(s.duplicates.Load()),
		Ignored:      int(s.ignored.Load()),
		Skipped:      int(s.skipped.Load()),
		Failed:       int(s.failed.Load()),
	}
	if err := s.Err(); err != nil {
		snap.LastError = err.Error()
	}
	return snap
}

// Stop asks the session to stop before its next message.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Pause holds the session before its next message. It reports whether
// the session was importing.
func (s *Session) Pause() bool {
	return s.transition(model.SessionPaused)
}

// Resume continues a paused session.
func (s *Session) Resume() bool {
	if !s.transition(model.SessionImporting) {
		return false
	}
	select {
	case s.resumeCh <- struct{}{}:
	default:
	}
	return true
}

func (s *Session) stopRequested() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// transition moves to next if the current status allows it.
func (s *Session) transition(next model.SessionStatus) bool {
	for {
		cur := s.status.Load()
		if !model.SessionStatus(cur).CanTransition(next) {
			return false
		}
		if s.status.CompareAndSwap(cur, int32(next)) {
			s.logger.Debug("session status", "from", model.SessionStatus(cur), "to", next)
			s.changed()
			return true
		}
	}
}

func (s *Session) fail(err error) {
	s.errMu.Lock()
	s.lastErr = err
	s.errMu.Unlock()

	if s.transition(model.SessionFailed) {
		if errors.Is(err, ErrStopped) {
			s.logger.Info("import stopped")
		} else {
			s.logger.Error("import failed", "error", err)
		}
	}
}

func (s *Session) changed() {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()

	snap := s.Snapshot()
	old := s.last
	s.last = snap
	if s.onChange != nil {
		s.onChange(old, snap)
	}
}

// waitWhilePaused blocks while the session is paused. It returns false
// if the session was stopped or ctx ended meanwhile.
func (s *Session) waitWhilePaused(ctx context.Context) bool {
	for s.Status() == model.SessionPaused {
		select {
		case <-s.resumeCh:
		case <-s.stopCh:
			return false
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// run imports the account's mailbox until it is exhausted, the session
// is stopped, or the connection is lost.
func (s *Session) run(ctx context.Context, factory source.Factory, proc Processor) {
	metrics.SessionsActive.Inc()
	defer func() {
		metrics.SessionsActive.Dec()
		metrics.SessionsFinishedTotal.WithLabelValues(s.Status().String()).Inc()
	}()

	if !s.transition(model.SessionConnecting) {
		return
	}

	fetchCtx, cancel := s.stoppable(ctx)
	defer cancel()

	src, err := factory.Open(fetchCtx, s.acct)
	if err != nil {
		if s.stopRequested() {
			err = ErrStopped
		} else {
			err = fmt.Errorf("connecting: %w", err)
		}
		s.fail(err)
		return
	}
	defer func() {
		s.connected.Store(false)
		if err := src.Close(); err != nil {
			s.logger.Debug("closing source", "error", err)
		}
	}()

	s.connected.Store(src.IsConnected())
	s.total.Store(int64(src.TotalCount()))
	s.current.Store(int64(src.CurrentIndex()))

	if !s.transition(model.SessionImporting) {
		return
	}
	s.logger.Info("import started", "messages", src.TotalCount())

	for {
		if s.stopRequested() || !s.waitWhilePaused(ctx) {
			s.fail(ErrStopped)
			return
		}
		if err := ctx.Err(); err != nil {
			s.fail(err)
			return
		}

		raw, err := src.FetchNext(fetchCtx)
		s.current.Store(int64(src.CurrentIndex()))
		s.connected.Store(src.IsConnected())

		if errors.Is(err, source.ErrEndOfStream) {
			break
		}
		if err != nil {
			if s.stopRequested() {
				s.fail(ErrStopped)
				return
			}
			if ctx.Err() != nil {
				s.fail(ctx.Err())
				return
			}
			if !src.IsConnected() {
				s.fail(fmt.Errorf("%w: %v", source.ErrConnectionLost, err))
				return
			}
			s.failed.Add(1)
			metrics.MessagesTotal.WithLabelValues(s.acct.ID, metrics.OutcomeFailed).Inc()
			s.logger.Warn("fetching message", "index", src.CurrentIndex(), "error", err)
			s.changed()
			continue
		}

		outcome, err := proc.Process(ctx, s.acct, raw)
		if err != nil {
			if sessionFatal(err) {
				s.fail(err)
				return
			}
			s.failed.Add(1)
			metrics.MessagesTotal.WithLabelValues(s.acct.ID, metrics.OutcomeFailed).Inc()
			s.logger.Warn("importing message", "external_id", raw.ExternalID, "error", err)
		} else {
			s.count(outcome)
		}
		s.changed()
	}

	// A pause taken after the last message is held until resumed.
	for !s.transition(model.SessionComplete) {
		if s.Status().Terminal() {
			return
		}
		if !s.waitWhilePaused(ctx) {
			s.fail(ErrStopped)
			return
		}
	}

	snap := s.Snapshot()
	s.logger.Info("import complete",
		"imported", snap.Imported, "duplicates", snap.Duplicates,
		"ignored", snap.Ignored, "skipped", snap.Skipped, "failed", snap.Failed)
}

// stoppable derives a context that is cancelled when the session is
// stopped. It bounds connecting and fetching, never a write.
func (s *Session) stoppable(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func (s *Session) count(o Outcome) {
	switch o {
	case OutcomeImported:
		s.imported.Add(1)
	case OutcomeDuplicate:
		s.duplicates.Add(1)
	case OutcomeIgnored:
		s.ignored.Add(1)
	case OutcomeSkipped:
		s.skipped.Add(1)
	}
	metrics.MessagesTotal.WithLabelValues(s.acct.ID, o.String()).Inc()
}

// sessionFatal reports whether err means no further message of the
// session can be written.
func sessionFatal(err error) bool {
	return store.IsConnectionError(err) ||
		errors.Is(err, store.ErrNotRollbackCapable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
