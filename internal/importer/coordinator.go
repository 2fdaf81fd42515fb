// Package importer runs the mail import: one session per enabled
// account, each feeding its messages through the pipeline into the
// contact database.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/nhle/mailhistory/internal/model"
	"github.com/nhle/mailhistory/internal/source"
)

var (
	// ErrAlreadyImporting is returned by StartAll while a run is in
	// progress.
	ErrAlreadyImporting = errors.New("import already running")

	// ErrNoSuchAccount is returned for an account index or id that is
	// not configured.
	ErrNoSuchAccount = errors.New("no such account")

	// ErrSessionActive is returned when an account with a running
	// session is removed.
	ErrSessionActive = errors.New("account has an active import session")
)

// Coordinator owns the configured accounts and their import sessions.
// The account set and the importing flag are guarded by mu; sessions
// update their own counters and are only read here.
type Coordinator struct {
	mu        sync.RWMutex
	accounts  []model.AccountConfig
	sessions  map[string]*Session
	importing bool

	wg      sync.WaitGroup
	factory source.Factory
	proc    Processor
	logger  *slog.Logger

	// Events publishes account, run and session changes.
	Events Events
}

// New creates a Coordinator that opens sources with factory and imports
// messages with proc.
func New(factory source.Factory, proc Processor, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		sessions: make(map[string]*Session),
		factory:  factory,
		proc:     proc,
		logger:   logger,
		Events:   newEvents(),
	}
}

// InitAccounts replaces the account set.
func (c *Coordinator) InitAccounts(accounts []model.AccountConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.activeLocked() {
		return ErrAlreadyImporting
	}

	old := c.accountsLocked()
	c.accounts = make([]model.AccountConfig, 0, len(accounts))
	for _, acct := range accounts {
		if acct.ID == "" {
			acct.ID = uuid.NewString()
		}
		c.accounts = append(c.accounts, acct)
	}
	c.reindexLocked()
	c.sessions = make(map[string]*Session)

	c.Events.AccountsInitialized.Publish(old, c.accountsLocked())
	c.logger.Info("accounts initialized", "count", len(c.accounts))
	return nil
}

// AddAccount appends acct and returns it with its id and index set.
func (c *Coordinator) AddAccount(acct model.AccountConfig) (model.AccountConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	if c.indexOfLocked(acct.ID) >= 0 {
		return acct, fmt.Errorf("account %s already configured", acct.ID)
	}

	old := c.accountsLocked()
	acct.Index = len(c.accounts)
	c.accounts = append(c.accounts, acct)

	c.Events.AccountAdded.Publish(old, c.accountsLocked())
	c.logger.Info("account added", "account", acct.ID, "label", acct.Label, "index", acct.Index)
	return acct, nil
}

// RemoveAccount removes the account at index and renumbers the accounts
// after it. An account whose session is still running cannot be removed.
func (c *Coordinator) RemoveAccount(index int) (model.AccountConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index < 0 || index >= len(c.accounts) {
		return model.AccountConfig{}, fmt.Errorf("account index %d: %w", index, ErrNoSuchAccount)
	}
	removed := c.accounts[index]
	if s, ok := c.sessions[removed.ID]; ok && !s.Status().Terminal() {
		return removed, fmt.Errorf("%s: %w", removed.ID, ErrSessionActive)
	}

	old := c.accountsLocked()
	c.accounts = slices.Delete(c.accounts, index, index+1)
	delete(c.sessions, removed.ID)
	c.reindexLocked()

	c.Events.AccountRemoved.Publish(old, c.accountsLocked())
	c.logger.Info("account removed", "account", removed.ID, "label", removed.Label)

	c.completeIfDoneLocked()
	return removed, nil
}

// SetEnabled enables or disables the account with the given id. A
// disabled account's session no longer holds up the end of a run.
func (c *Coordinator) SetEnabled(accountID string, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOfLocked(accountID)
	if i < 0 {
		return fmt.Errorf("%s: %w", accountID, ErrNoSuchAccount)
	}
	c.accounts[i].Enabled = enabled
	c.completeIfDoneLocked()
	return nil
}

// Accounts returns a copy of the account set in index order.
func (c *Coordinator) Accounts() []model.AccountConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accountsLocked()
}

// StartAll starts a session for every enabled account and returns
// without waiting for them. The importing flag is set until every
// enabled session has completed or failed.
func (c *Coordinator) StartAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.importing || c.activeLocked() {
		return ErrAlreadyImporting
	}

	c.importing = true
	c.Events.ImportingChanged.Publish(false, true)

	c.sessions = make(map[string]*Session)
	for _, acct := range c.accounts {
		if !acct.Enabled {
			c.logger.Debug("account disabled, skipping", "account", acct.ID)
			continue
		}
		s := newSession(acct, c.logger, c.Events.SessionChanged.Publish)
		c.sessions[acct.ID] = s

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			s.run(ctx, c.factory, c.proc)
			c.onSessionComplete(acct.ID)
		}()
	}

	c.logger.Info("import started", "sessions", len(c.sessions))
	c.completeIfDoneLocked()
	return nil
}

// StopAll asks every session to stop after its current message.
func (c *Coordinator) StopAll() {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, s := range c.sessions {
		s.Stop()
	}
}

// Pause holds the session of the given account before its next message.
func (c *Coordinator) Pause(accountID string) bool {
	s := c.Session(accountID)
	return s != nil && s.Pause()
}

// Resume continues a paused session.
func (c *Coordinator) Resume(accountID string) bool {
	s := c.Session(accountID)
	return s != nil && s.Resume()
}

func (c *Coordinator) onSessionComplete(accountID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.sessions[accountID]; ok {
		c.logger.Debug("session finished", "account", accountID, "status", s.Status())
	}
	c.completeIfDoneLocked()
}

// completeIfDoneLocked ends the run once no enabled account has a
// session that is still going.
func (c *Coordinator) completeIfDoneLocked() {
	if !c.importing {
		return
	}
	for _, acct := range c.accounts {
		if !acct.Enabled {
			continue
		}
		if s, ok := c.sessions[acct.ID]; ok && !s.Status().Terminal() {
			return
		}
	}

	c.importing = false
	c.Events.ImportingChanged.Publish(true, false)
	c.logger.Info("import finished")
}

// Importing reports whether a run is in progress.
func (c *Coordinator) Importing() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.importing
}

// TotalMessageCount sums the message totals of the sessions that are
// currently connected.
func (c *Coordinator) TotalMessageCount() int {
	total := 0
	for _, snap := range c.Sessions() {
		if snap.Connected {
			total += snap.Total
		}
	}
	return total
}

// CurrentMessageCount sums the positions of the sessions that are
// currently connected.
func (c *Coordinator) CurrentMessageCount() int {
	current := 0
	for _, snap := range c.Sessions() {
		if snap.Connected {
			current += snap.Current
		}
	}
	return current
}

// Sessions returns a snapshot of every session of the current run in
// account order.
func (c *Coordinator) Sessions() []SessionSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snaps := make([]SessionSnapshot, 0, len(c.sessions))
	for _, acct := range c.accounts {
		s, ok := c.sessions[acct.ID]
		if !ok {
			continue
		}
		snap := s.Snapshot()
		snap.AccountIndex = acct.Index
		snap.Label = acct.Label
		snaps = append(snaps, snap)
	}
	return snaps
}

// Session returns the session of the given account, or nil.
func (c *Coordinator) Session(accountID string) *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessions[accountID]
}

// Wait blocks until every session goroutine has returned.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Close stops the run, waits for the sessions and flushes pending
// notifications.
func (c *Coordinator) Close() {
	c.StopAll()
	c.Wait()
	c.Events.close()
}

func (c *Coordinator) activeLocked() bool {
	for _, s := range c.sessions {
		if !s.Status().Terminal() {
			return true
		}
	}
	return false
}

func (c *Coordinator) indexOfLocked(accountID string) int {
	return slices.IndexFunc(c.accounts, func(a model.AccountConfig) bool {
		return a.ID == accountID
	})
}

func (c *Coordinator) reindexLocked() {
	for i := range c.accounts {
		c.accounts[i].Index = i
	}
}

func (c *Coordinator) accountsLocked() []model.AccountConfig {
	return slices.Clone(c.accounts)
}
