package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nhle/mailhistory/internal/contact"
	"github.com/nhle/mailhistory/internal/filter"
	"github.com/nhle/mailhistory/internal/metrics"
	"github.com/nhle/mailhistory/internal/model"
	"github.com/nhle/mailhistory/internal/normalize"
	"github.com/nhle/mailhistory/internal/retry"
	"github.com/nhle/mailhistory/internal/source"
	"github.com/nhle/mailhistory/internal/store"
)

// Outcome is what happened to one message.
type Outcome int

const (
	OutcomeImported Outcome = iota
	OutcomeDuplicate
	OutcomeIgnored
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeImported:
		return metrics.OutcomeImported
	case OutcomeDuplicate:
		return metrics.OutcomeDuplicate
	case OutcomeIgnored:
		return metrics.OutcomeIgnored
	case OutcomeSkipped:
		return metrics.OutcomeSkipped
	}
	return "unknown"
}

// PipelineConfig holds the pipeline's tunables.
type PipelineConfig struct {
	Ignore       *filter.List
	TaskTypeCode int
	Backoff      retry.BackoffConfig
}

// Pipeline imports single messages: duplicate check, normalization,
// ignore filter, contact resolution and the transactional write.
type Pipeline struct {
	store      *store.SQLiteStore
	normalizer *normalize.Normalizer
	matcher    *contact.Matcher
	resolver   contact.Resolver
	cfg        PipelineConfig
	logger     *slog.Logger
	now        func() time.Time
}

// NewPipeline creates a Pipeline writing to s.
func NewPipeline(
	s *store.SQLiteStore,
	resolver contact.Resolver,
	cfg PipelineConfig,
	logger *slog.Logger,
) *Pipeline {
	if cfg.Backoff == (retry.BackoffConfig{}) {
		cfg.Backoff = retry.DefaultBackoffConfig()
	}
	if cfg.TaskTypeCode == 0 {
		cfg.TaskTypeCode = model.TaskTypeEmail
	}
	return &Pipeline{
		store:      s,
		normalizer: normalize.New(logger),
		matcher:    contact.NewMatcher(s, logger),
		resolver:   resolver,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Process imports raw for acct. A failed commit is retried from
// normalization; the contact decision is made once and reused.
func (p *Pipeline) Process(
	ctx context.Context, acct model.AccountConfig, raw source.RawMessage,
) (Outcome, error) {
	imported, err := p.store.IsImported(ctx, acct.ID, raw.ExternalID)
	if err != nil {
		return 0, err
	}
	if imported {
		return OutcomeDuplicate, nil
	}

	var (
		decided *contact.Association
		outcome Outcome
	)

	err = retry.WithRetry(ctx, func(attempt int) error {
		msg := p.normalizer.Normalize(raw, acct)
		if attempt == 0 {
			for _, field := range msg.Degraded {
				metrics.DegradedFieldsTotal.WithLabelValues(field).Inc()
			}
		}

		if pattern, ok := p.cfg.Ignore.Match(msg.SenderAddress); ok {
			p.logger.Debug("sender ignored",
				"account", acct.ID, "external_id", raw.ExternalID, "pattern", pattern)
			outcome = OutcomeIgnored
			return nil
		}

		if decided == nil {
			a, ok, err := p.resolve(ctx, msg)
			if err != nil {
				return retry.Stop(err)
			}
			if !ok {
				outcome = OutcomeSkipped
				return nil
			}
			decided = &a
		}

		a := *decided
		a.Message = msg
		err := p.write(context.WithoutCancel(ctx), a)

		var txErr *store.TransactionError
		switch {
		case err == nil:
			outcome = OutcomeImported
			return nil
		case errors.Is(err, store.ErrAlreadyImported):
			outcome = OutcomeDuplicate
			return nil
		case errors.Is(err, store.ErrNotRollbackCapable):
			return retry.Stop(err)
		case errors.As(err, &txErr):
			metrics.BurnedIDsTotal.Add(float64(len(txErr.Burned)))
		case errors.Is(err, store.ErrIDConflict):
		default:
			return retry.Stop(err)
		}

		metrics.WriteRetriesTotal.Inc()
		p.logger.Warn("message write failed, retrying",
			"account", acct.ID, "external_id", raw.ExternalID, "attempt", attempt, "error", err)
		return err
	}, p.cfg.Backoff)
	if err != nil {
		return 0, err
	}
	return outcome, nil
}

func (p *Pipeline) resolve(ctx context.Context, msg model.CanonicalMessage) (contact.Association, bool, error) {
	matches, err := p.matcher.FindCandidates(ctx, msg.SenderAddress)
	if err != nil {
		return contact.Association{}, false, err
	}
	return p.resolver.Resolve(ctx, msg, matches)
}

// write records a in one transaction: contact creation if needed, id
// allocation, the history row and the ledger entry.
func (p *Pipeline) write(ctx context.Context, a contact.Association) error {
	start := time.Now()
	defer func() { metrics.WriteDuration.Observe(time.Since(start).Seconds()) }()

	msg := a.Message
	created := false

	historyID, err := store.WithTransaction(ctx, p.store, func(tx *store.Tx) (int64, error) {
		done, err := tx.IsImported(ctx, msg.SourceAccountID, msg.ExternalID)
		if err != nil {
			return 0, err
		}
		if done {
			return 0, store.ErrAlreadyImported
		}

		contactID, isNew, err := p.contactFor(ctx, tx, a)
		if err != nil {
			return 0, err
		}
		created = isNew

		id, err := tx.AllocateID(ctx, "history")
		if err != nil {
			return 0, err
		}

		now := p.now()
		rec := model.HistoryRecord{
			HistoryID:    id,
			ContactID:    contactID,
			TaskTypeCode: p.cfg.TaskTypeCode,
			Subject:      msg.Subject,
			Body:         msg.Body,
			OccurredAt:   msg.OccurredAt(now),
			LastEditedAt: now,
			WithSpouse:   a.WithSpouse,
		}
		if err := tx.InsertHistory(ctx, rec); err != nil {
			return 0, err
		}

		err = tx.MarkImported(ctx, model.ImportedMessage{
			AccountID:  msg.SourceAccountID,
			ExternalID: msg.ExternalID,
			HistoryID:  id,
			ImportedAt: now,
		})
		return id, err
	})
	if err != nil {
		return err
	}

	if created {
		metrics.ContactsCreatedTotal.Inc()
	}
	p.logger.Debug("message imported",
		"account", msg.SourceAccountID, "external_id", msg.ExternalID,
		"history_id", historyID, "contact", a.Candidate.DisplayName)
	return nil
}

// contactFor returns the contact id to record against, creating the
// contact when the association asks for one. A contact created for the
// same address by a concurrent session is reused.
func (p *Pipeline) contactFor(ctx context.Context, tx *store.Tx, a contact.Association) (int64, bool, error) {
	if a.Contact != nil {
		return a.Contact.ContactID, false, nil
	}
	if a.NewContact == nil {
		return 0, false, errors.New("association names no contact")
	}

	existing, err := tx.FindContactsByEmail(ctx, a.NewContact.Email)
	if err != nil {
		return 0, false, err
	}
	switch len(existing) {
	case 0:
		c, err := tx.InsertContact(ctx, *a.NewContact)
		if err != nil {
			return 0, false, err
		}
		return c.ContactID, true, nil
	case 1:
		return existing[0].ContactID, false, nil
	}
	return 0, false, fmt.Errorf("%s: %w", a.NewContact.Email, contact.ErrLookupAmbiguous)
}
