package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// Work item kinds drained from the distribution queue.
const (
	WorkRefund = "REFUND"
	WorkPayout = "PAYOUT"
)

const distributionQueueKey = "distribution_queue"

// WorkItem is one bidder-sized unit of distribution work. Items are an
// accelerator only: the worker's cron sweep re-derives outstanding work
// from auction flags, so a lost item is never lost money.
type WorkItem struct {
	AuctionID   string    `json:"auction_id"`
	Kind        string    `json:"kind"`
	GroupIndex  int       `json:"group_index"`
	BidderIndex int       `json:"bidder_index"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// DistributionQueue hands bidder-sized work items to the worker through
// a Redis list. All methods tolerate a nil client so deployments without
// Redis degrade to sweep-only distribution.
type DistributionQueue struct {
	redis *redis.Client
}

func NewDistributionQueue(client *redis.Client) *DistributionQueue {
	return &DistributionQueue{redis: client}
}

// Enqueue appends work items to the queue. Failures are logged and
// swallowed; the sweep covers anything the queue drops.
func (q *DistributionQueue) Enqueue(items ...WorkItem) {
	if q == nil || q.redis == nil || len(items) == 0 {
		return
	}

	ctx := context.Background()
	for _, item := range items {
		if item.EnqueuedAt.IsZero() {
			item.EnqueuedAt = time.Now()
		}
		data, err := json.Marshal(item)
		if err != nil {
			logrus.Errorf("[QUEUE] Failed to marshal work item: %v", err)
			continue
		}
		if err := q.redis.RPush(ctx, distributionQueueKey, data).Err(); err != nil {
			logrus.Errorf("[QUEUE] Failed to enqueue %s for auction %s: %v", item.Kind, item.AuctionID, err)
		}
	}
}

// Dequeue pops the oldest work item, returning nil when the queue is
// empty or unavailable.
func (q *DistributionQueue) Dequeue(ctx context.Context) (*WorkItem, error) {
	if q == nil || q.redis == nil {
		return nil, nil
	}

	data, err := q.redis.LPop(ctx, distributionQueueKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var item WorkItem
	if err := json.Unmarshal([]byte(data), &item); err != nil {
		logrus.Errorf("[QUEUE] Dropping malformed work item: %v", err)
		return nil, nil
	}
	return &item, nil
}

// Depth reports the number of queued work items.
func (q *DistributionQueue) Depth(ctx context.Context) (int64, error) {
	if q == nil || q.redis == nil {
		return 0, nil
	}
	return q.redis.LLen(ctx, distributionQueueKey).Result()
}
