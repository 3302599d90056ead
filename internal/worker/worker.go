package worker

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/crowdfactor/backend/internal/config"
	"github.com/crowdfactor/backend/internal/models"
	"github.com/crowdfactor/backend/internal/services"
)

// Worker completes fund distribution in the background. A cron sweep
// walks every auction with outstanding transfers, and a drain loop pulls
// single-bidder work items off the Redis queue between sweeps. Both paths
// call the same idempotent distribution operations, so an item handled
// twice or picked up by both paths settles to a no-op.
type Worker struct {
	cfg          *config.WorkerConfig
	distribution *services.DistributionService
	queue        *services.DistributionQueue

	cron   *cron.Cron
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg *config.WorkerConfig, distribution *services.DistributionService, queue *services.DistributionQueue) *Worker {
	return &Worker{
		cfg:          cfg,
		distribution: distribution,
		queue:        queue,
		done:         make(chan struct{}),
	}
}

// Start schedules the sweep and launches the drain loop.
func (w *Worker) Start() error {
	w.cron = cron.New(cron.WithSeconds())
	if _, err := w.cron.AddFunc(w.cfg.SweepSchedule, w.Sweep); err != nil {
		return err
	}
	w.cron.Start()

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go w.drainLoop(ctx)

	logrus.Infof("[WORKER] Started as %s (sweep %q, drain every %s)",
		w.cfg.Identity, w.cfg.SweepSchedule, w.cfg.DrainInterval)
	return nil
}

// Stop halts the cron scheduler, waits for a running sweep to finish and
// shuts down the drain loop.
func (w *Worker) Stop() {
	if w.cron != nil {
		<-w.cron.Stop().Done()
	}
	if w.cancel != nil {
		w.cancel()
		<-w.done
	}
	logrus.Info("[WORKER] Stopped")
}

// Sweep finds every auction with undelivered funds and pushes each one as
// far as its state allows. Batch operations bound the work per call, so
// the sweep loops until an auction reports nothing remaining.
func (w *Worker) Sweep() {
	targets, err := w.distribution.Outstanding()
	if err != nil {
		logrus.Errorf("[WORKER] Sweep could not list outstanding auctions: %v", err)
		return
	}
	if len(targets) == 0 {
		return
	}
	logrus.Infof("[WORKER] Sweeping %d auctions with outstanding distributions", len(targets))

	for _, target := range targets {
		switch target.Status {
		case models.AuctionClosed:
			if _, _, err := w.distribution.FundBeneficiary(w.cfg.Identity, target.ID); err != nil {
				logrus.Errorf("[WORKER] Beneficiary funding failed for auction %s: %v", target.ID, err)
				continue
			}
			w.refundAll(target.ID)
		case models.AuctionNoWinner, models.AuctionWaitingForInvoicePayment:
			w.refundAll(target.ID)
		case models.AuctionPaymentReceived:
			w.refundAll(target.ID)
			w.payoutAll(target.ID)
		}
	}
}

func (w *Worker) refundAll(auctionID string) {
	for {
		processed, remaining, err := w.distribution.RefundLosingGroups(w.cfg.Identity, auctionID)
		if err != nil {
			logrus.Errorf("[WORKER] Refund batch failed for auction %s: %v", auctionID, err)
			return
		}
		if processed == 0 || remaining == 0 {
			return
		}
	}
}

func (w *Worker) payoutAll(auctionID string) {
	for {
		processed, remaining, err := w.distribution.FundWinnerGroup(w.cfg.Identity, auctionID)
		if err != nil {
			logrus.Errorf("[WORKER] Payout batch failed for auction %s: %v", auctionID, err)
			return
		}
		if processed == 0 || remaining == 0 {
			return
		}
	}
}

func (w *Worker) drainLoop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.cfg.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drainQueue(ctx)
		}
	}
}

// drainQueue empties the work queue. Items that fail are dropped rather
// than requeued; the sweep re-discovers anything still outstanding.
func (w *Worker) drainQueue(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			logrus.Errorf("[WORKER] Dequeue failed: %v", err)
			return
		}
		if item == nil {
			return
		}
		w.process(item)
	}
}

func (w *Worker) process(item *services.WorkItem) {
	switch item.Kind {
	case services.WorkRefund:
		refunded, err := w.distribution.RefundLosingGroupBidder(w.cfg.Identity, item.AuctionID, item.GroupIndex, item.BidderIndex)
		if err != nil {
			w.logItemError("refund", item, err)
			return
		}
		if refunded {
			logrus.Infof("[WORKER] Refunded bidder %d/%d on auction %s",
				item.GroupIndex, item.BidderIndex, item.AuctionID)
		}
	case services.WorkPayout:
		funded, err := w.distribution.FundWinnerGroupBidder(w.cfg.Identity, item.AuctionID, item.BidderIndex)
		if err != nil {
			w.logItemError("payout", item, err)
			return
		}
		if funded {
			logrus.Infof("[WORKER] Paid out winner bidder %d on auction %s",
				item.BidderIndex, item.AuctionID)
		}
	default:
		logrus.Warnf("[WORKER] Dropping work item with unknown kind %q for auction %s", item.Kind, item.AuctionID)
	}
}

func (w *Worker) logItemError(kind string, item *services.WorkItem, err error) {
	if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrInvalidState) {
		logrus.Warnf("[WORKER] Dropping stale %s item for auction %s: %v", kind, item.AuctionID, err)
		return
	}
	logrus.Errorf("[WORKER] %s failed for auction %s (group %d, bidder %d): %v",
		kind, item.AuctionID, item.GroupIndex, item.BidderIndex, err)
}
