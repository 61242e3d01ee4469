package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tradepost/tradepost-messaging/internal/apperr"
	"github.com/tradepost/tradepost-messaging/internal/models"
)

// Kind selects which daily counter an admission check reads.
type Kind string

const (
	KindMessage Kind = "msg"
	KindThread  Kind = "thread"
)

// Decision is the outcome of a pre-flight quota check.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"` // Unlimited for uncapped tiers
	ResetAt   time.Time `json:"reset_at"`
}

// Controller gates message sends and thread creation against per-user daily
// counters in Redis. The check happens before the mutation and the counter is
// committed only after the mutation succeeds; the check-then-act gap can let a
// burst of concurrent sends overshoot by a few — accepted.
type Controller struct {
	redis *redis.Client
	now   func() time.Time
}

func NewController(redisClient *redis.Client) *Controller {
	return &Controller{
		redis: redisClient,
		now:   time.Now,
	}
}

// CheckMessage verifies the user may send one more message today.
func (c *Controller) CheckMessage(ctx context.Context, userID uuid.UUID, tier models.Tier) (Decision, error) {
	return c.check(ctx, KindMessage, userID, tier, LimitsFor(tier).MessagesPerDay)
}

// CheckThread verifies the user may create one more thread today.
func (c *Controller) CheckThread(ctx context.Context, userID uuid.UUID, tier models.Tier) (Decision, error) {
	return c.check(ctx, KindThread, userID, tier, LimitsFor(tier).ThreadsPerDay)
}

// CheckContent validates content length against the tier ceiling. Runs before
// any transaction opens.
func (c *Controller) CheckContent(content string, tier models.Tier) error {
	limits := LimitsFor(tier)
	if content == "" {
		return apperr.Validation("content cannot be empty")
	}
	if len(content) > limits.MaxContentLen {
		return apperr.Validation("content exceeds the %d character limit of the %s tier", limits.MaxContentLen, tier)
	}
	return nil
}

// CommitMessage increments the daily message counter. Call only after the send
// has committed downstream.
func (c *Controller) CommitMessage(ctx context.Context, userID uuid.UUID) error {
	return c.commit(ctx, KindMessage, userID)
}

// CommitThread increments the daily thread counter.
func (c *Controller) CommitThread(ctx context.Context, userID uuid.UUID) error {
	return c.commit(ctx, KindThread, userID)
}

// Usage reports remaining message/thread quota for the GET /limits endpoint.
// Exhaustion is a reportable value here, not an error: a user at quota sees
// zero remaining and the reset time. Only storage failures error.
func (c *Controller) Usage(ctx context.Context, userID uuid.UUID, tier models.Tier) (messages Decision, threads Decision, err error) {
	limits := LimitsFor(tier)
	messages, err = c.peek(ctx, KindMessage, userID, limits.MessagesPerDay)
	if err != nil {
		return Decision{}, Decision{}, err
	}
	threads, err = c.peek(ctx, KindThread, userID, limits.ThreadsPerDay)
	if err != nil {
		return Decision{}, Decision{}, err
	}
	return messages, threads, nil
}

func (c *Controller) check(ctx context.Context, kind Kind, userID uuid.UUID, tier models.Tier, limit int) (Decision, error) {
	decision, err := c.peek(ctx, kind, userID, limit)
	if err != nil {
		return Decision{}, err
	}
	if !decision.Allowed {
		return decision, apperr.LimitExceeded(string(tier), decision.ResetAt)
	}
	return decision, nil
}

// peek reads the counter without judging the outcome.
func (c *Controller) peek(ctx context.Context, kind Kind, userID uuid.UUID, limit int) (Decision, error) {
	resetAt := c.nextReset()

	if limit == Unlimited {
		return Decision{Allowed: true, Remaining: Unlimited, ResetAt: resetAt}, nil
	}

	count, err := c.redis.Get(ctx, c.key(kind, userID)).Int()
	if err != nil && err != redis.Nil {
		return Decision{}, apperr.TransientStorage(err)
	}

	remaining := limit - count
	if remaining <= 0 {
		return Decision{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}

	return Decision{Allowed: true, Remaining: remaining, ResetAt: resetAt}, nil
}

func (c *Controller) commit(ctx context.Context, kind Kind, userID uuid.UUID) error {
	key := c.key(kind, userID)

	// Atomic INCR; expire the counter at the daily boundary on first use
	count, err := c.redis.Incr(ctx, key).Result()
	if err != nil {
		return apperr.TransientStorage(err)
	}
	if count == 1 {
		if err := c.redis.ExpireAt(ctx, key, c.nextReset()).Err(); err != nil {
			return apperr.TransientStorage(err)
		}
	}
	return nil
}

// key buckets counters by UTC day so the reset boundary is fixed, not rolling.
func (c *Controller) key(kind Kind, userID uuid.UUID) string {
	day := c.now().UTC().Format("20060102")
	return fmt.Sprintf("quota:%s:%s:%s", kind, userID, day)
}

func (c *Controller) nextReset() time.Time {
	now := c.now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}
