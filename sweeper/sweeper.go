// Package sweeper runs the periodic reconciliation of XE contracts: it
// attempts automatic approval of pending contracts and expires contracts
// whose quote deadline has passed.
package sweeper

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/gpay-xe/contracts"
	"github.com/yourusername/gpay-xe/models"
	"github.com/yourusername/gpay-xe/utils"
	"golang.org/x/sync/errgroup"
)

const SourceSweep = "sweep"

var ErrTickInProgress = errors.New("sweep tick already in progress")

// Result counts what one tick did.
type Result struct {
	Approved int `json:"approved"`
	Failed   int `json:"failed"`
	Expired  int `json:"expired"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`
}

type Options struct {
	ApprovalTimeout time.Duration
	// Concurrency bounds parallel approval calls within a tick.
	Concurrency int
	Now         func() time.Time
}

type Sweeper struct {
	store       *contracts.Store
	approver    *Approver
	log         logrus.FieldLogger
	now         func() time.Time
	concurrency int
	running     atomic.Bool
}

func New(store *contracts.Store, client utils.XEClientInterface, log logrus.FieldLogger, opts Options) *Sweeper {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	approver := NewApprover(store, client, opts.ApprovalTimeout)
	approver.now = opts.Now

	return &Sweeper{
		store:       store,
		approver:    approver,
		log:         log.WithField("component", "sweeper"),
		now:         opts.Now,
		concurrency: opts.Concurrency,
	}
}

// Approver returns the approver the sweeper records outcomes with.
func (s *Sweeper) Approver() *Approver {
	return s.approver
}

// Run ticks every interval until ctx is done. Ticks run on the calling
// goroutine, so ticks that fall due while one is running are dropped and Run
// only returns once the current tick has recorded every claimed attempt.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.WithField("interval", interval.String()).Info("sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.tickAndLog(ctx)
		}
	}
}

func (s *Sweeper) tickAndLog(ctx context.Context) {
	if _, err := s.Tick(ctx); err != nil {
		switch {
		case errors.Is(err, ErrTickInProgress):
			s.log.Warn("previous sweep tick still running, skipping")
			return
		case errors.Is(err, context.Canceled):
			s.log.Info("sweep tick interrupted by shutdown")
			return
		}
		s.log.WithError(err).Error("sweep tick failed")
	}
}

// Tick runs one reconciliation pass: pending approvals first, then expiry.
// It returns ErrTickInProgress without doing anything if another tick on
// this sweeper has not finished.
func (s *Sweeper) Tick(ctx context.Context) (*Result, error) {
	if !s.running.CompareAndSwap(false, true) {
		sweepTicksTotal.WithLabelValues("skipped").Inc()
		return nil, ErrTickInProgress
	}
	defer s.running.Store(false)

	timer := prometheus.NewTimer(sweepTickDuration)
	defer timer.ObserveDuration()

	t := &tally{}
	if err := s.approvePending(ctx, t); err != nil {
		sweepTicksTotal.WithLabelValues("error").Inc()
		return t.result(), err
	}
	if err := s.expireOverdue(ctx, t); err != nil {
		sweepTicksTotal.WithLabelValues("error").Inc()
		return t.result(), err
	}

	res := t.result()
	sweepTicksTotal.WithLabelValues("ok").Inc()
	s.log.WithFields(logrus.Fields{
		"approved": res.Approved,
		"failed":   res.Failed,
		"expired":  res.Expired,
		"skipped":  res.Skipped,
		"errors":   res.Errors,
	}).Info("sweep tick finished")
	return res, nil
}

func (s *Sweeper) approvePending(ctx context.Context, t *tally) error {
	pending, err := s.store.FindPendingApprovals(ctx)
	if err != nil {
		return err
	}

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i := range pending {
		if ctx.Err() != nil {
			break
		}
		c := &pending[i]
		g.Go(func() error {
			t.add(s.approveOne(ctx, c))
			return nil
		})
	}
	g.Wait()
	return ctx.Err()
}

type tickOutcome int

const (
	tickApproved tickOutcome = iota
	tickFailed
	tickExpired
	tickSkipped
	tickError
)

func (s *Sweeper) approveOne(ctx context.Context, c *models.XeContract) tickOutcome {
	log := s.log.WithFields(logrus.Fields{
		"contract_id":     c.ID,
		"contract_number": c.Payment.ContractNumber,
	})

	now := s.now()
	if c.IsQuoteExpired(now) {
		log.Debug("quote deadline passed, leaving contract to expiry")
		return tickSkipped
	}

	claimed, err := s.store.ClaimAutoApproval(ctx, c.ID, now)
	if err != nil {
		log.WithError(err).Error("failed to claim auto approval")
		return tickError
	}
	if !claimed {
		log.Debug("auto approval already claimed elsewhere")
		return tickSkipped
	}

	userID := c.UserID
	if c.User != nil {
		userID = c.User.ID
		log = log.WithField("approved_by", c.User.DisplayName())
	}

	updated, outcome, err := s.approver.Approve(ctx, c, userID, SourceSweep)
	if err != nil {
		log.WithError(err).Error("failed to record auto approval outcome")
		return tickError
	}
	if outcome == OutcomeFailed {
		log.WithFields(logrus.Fields{
			"code":        updated.ErrorInfo.LastError.Code,
			"retry_count": updated.ErrorInfo.RetryCount,
		}).Warnf("auto approval failed: %s", updated.ErrorInfo.LastError.Message)
		return tickFailed
	}
	log.Info("contract auto-approved")
	return tickApproved
}

func (s *Sweeper) expireOverdue(ctx context.Context, t *tally) error {
	now := s.now()
	overdue, err := s.store.FindExpiredContracts(ctx, now)
	if err != nil {
		return err
	}

	for _, c := range overdue {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log := s.log.WithFields(logrus.Fields{
			"contract_id":     c.ID,
			"contract_number": c.Payment.ContractNumber,
		})

		_, changed, err := s.store.MarkExpired(ctx, c.ID, now)
		switch {
		case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, models.ErrQuoteNotExpired):
			log.WithError(err).Debug("contract moved on before it could be expired")
			t.add(tickSkipped)
		case err != nil:
			log.WithError(err).Error("failed to expire contract")
			t.add(tickError)
		case !changed:
			t.add(tickSkipped)
		default:
			contractTransitionsTotal.WithLabelValues(string(models.OverallStatusExpired), SourceSweep).Inc()
			log.Info("contract quote expired")
			t.add(tickExpired)
		}
	}
	return nil
}

type tally struct {
	mu  sync.Mutex
	res Result
}

func (t *tally) add(o tickOutcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch o {
	case tickApproved:
		t.res.Approved++
	case tickFailed:
		t.res.Failed++
	case tickExpired:
		t.res.Expired++
	case tickSkipped:
		t.res.Skipped++
	case tickError:
		t.res.Errors++
	}
}

func (t *tally) result() *Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	res := t.res
	return &res
}
