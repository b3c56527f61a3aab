package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/prohmpiriya/rail-reservation/internal/domain"
	pkgredis "github.com/prohmpiriya/rail-reservation/pkg/redis"
	"github.com/prohmpiriya/rail-reservation/pkg/telemetry"
)

//go:embed scripts/reserve_seats.lua
var reserveSeatsScript string

//go:embed scripts/confirm_hold.lua
var confirmHoldScript string

//go:embed scripts/release_hold.lua
var releaseHoldScript string

//go:embed scripts/release_seats.lua
var releaseSeatsScript string

// Script names for caching
const (
	scriptReserveSeats = "reserve_seats"
	scriptConfirmHold  = "confirm_hold"
	scriptReleaseHold  = "release_hold"
	scriptReleaseSeats = "release_seats"
)

const (
	bucketKeyPrefix  = "seats:"
	holdKeyPrefix    = "hold:"
	releaseKeyPrefix = "release:"
	pendingHoldsKey  = "holds:pending"

	settledHoldRetention = 24 * time.Hour
	releaseRetention     = 30 * 24 * time.Hour
)

// ErrUnknownHold is returned when a hold id was never reserved or has aged out
var ErrUnknownHold = errors.New("unknown seat hold")

// ErrHoldConflict is returned by Reserve when the hold id already names a
// different reservation. It wraps domain.ErrDuplicatePNR so callers redraw.
var ErrHoldConflict = fmt.Errorf("seat hold id in use: %w", domain.ErrDuplicatePNR)

// RedisSeatLedger keeps bucket counters in Redis and mutates them only through Lua scripts
type RedisSeatLedger struct {
	client *pkgredis.Client
}

// NewRedisSeatLedger creates a new RedisSeatLedger
func NewRedisSeatLedger(client *pkgredis.Client) *RedisSeatLedger {
	return &RedisSeatLedger{client: client}
}

// LoadScripts loads all Lua scripts into Redis
func (l *RedisSeatLedger) LoadScripts(ctx context.Context) error {
	scripts := map[string]string{
		scriptReserveSeats: reserveSeatsScript,
		scriptConfirmHold:  confirmHoldScript,
		scriptReleaseHold:  releaseHoldScript,
		scriptReleaseSeats: releaseSeatsScript,
	}

	for name, script := range scripts {
		if _, err := l.client.LoadScript(ctx, name, script); err != nil {
			return fmt.Errorf("failed to load script %s: %w", name, err)
		}
	}
	return nil
}

func bucketRedisKey(key domain.BucketKey) string {
	return bucketKeyPrefix + key.String()
}

// Reserve atomically holds seats
func (l *RedisSeatLedger) Reserve(ctx context.Context, key domain.BucketKey, holdID string, seats, capacity int, ttl time.Duration) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.ledger.reserve")
	defer span.End()

	span.SetAttributes(
		attribute.String("bucket", key.String()),
		attribute.String("hold_id", holdID),
		attribute.Int("seats", seats),
	)

	deadline := time.Now().Add(ttl).UnixMilli()
	keys := []string{bucketRedisKey(key), holdKeyPrefix + holdID, pendingHoldsKey}
	args := []interface{}{
		holdID,   // ARGV[1]
		seats,    // ARGV[2]
		capacity, // ARGV[3]
		deadline, // ARGV[4]
		key.TrainID,
		key.ClassCode,
		key.JourneyDate.Format(domain.DateLayout),
	}

	values, err := l.eval(ctx, scriptReserveSeats, reserveSeatsScript, keys, args...)
	if err != nil {
		return 0, spanFail(span, err)
	}

	ok, committed := values[0], int(values[1])
	span.SetAttributes(attribute.Int("committed", committed))
	if ok < 0 {
		return committed, spanFail(span, ErrHoldConflict)
	}
	if ok != 1 {
		err := domain.NewInsufficientSeatsError(seats, capacity-committed)
		span.SetStatus(codes.Error, err.Error())
		return committed, err
	}

	span.SetStatus(codes.Ok, "")
	return committed, nil
}

// Confirm settles a hold so the reconciler no longer considers it
func (l *RedisSeatLedger) Confirm(ctx context.Context, holdID string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.ledger.confirm")
	defer span.End()

	span.SetAttributes(attribute.String("hold_id", holdID))

	bucket, err := l.holdBucket(ctx, holdID)
	if err != nil {
		return spanFail(span, err)
	}

	keys := []string{bucket, holdKeyPrefix + holdID, pendingHoldsKey}
	result := l.client.EvalWithFallback(ctx, scriptConfirmHold, confirmHoldScript, keys, holdID, int(settledHoldRetention.Seconds()))
	if result.Err() != nil {
		return spanFail(span, fmt.Errorf("failed to execute %s script: %w", scriptConfirmHold, result.Err()))
	}

	code, _ := toInt64(result.Val())
	switch code {
	case 1:
		span.SetStatus(codes.Ok, "")
		return nil
	case 0:
		return spanFail(span, fmt.Errorf("hold %s was released and no longer fits: %w", holdID, domain.ErrInsufficientSeats))
	default:
		return spanFail(span, ErrUnknownHold)
	}
}

// ReleaseHold returns the seats of a hold that never got confirmed
func (l *RedisSeatLedger) ReleaseHold(ctx context.Context, holdID string) (*LedgerRelease, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.ledger.release_hold")
	defer span.End()

	span.SetAttributes(attribute.String("hold_id", holdID))

	bucket, err := l.holdBucket(ctx, holdID)
	if errors.Is(err, ErrUnknownHold) {
		// Reservation never happened; nothing to compensate
		_ = l.client.Client().ZRem(ctx, pendingHoldsKey, holdID).Err()
		span.SetStatus(codes.Ok, "")
		return &LedgerRelease{}, nil
	}
	if err != nil {
		return nil, spanFail(span, err)
	}

	keys := []string{bucket, holdKeyPrefix + holdID, pendingHoldsKey}
	values, err := l.eval(ctx, scriptReleaseHold, releaseHoldScript, keys, holdID, int(settledHoldRetention.Seconds()))
	if err != nil {
		return nil, spanFail(span, err)
	}

	span.SetStatus(codes.Ok, "")
	return releaseFromValues(values), nil
}

// Release returns seats for a cancelled booking once per releaseID and
// settles the booking's hold in the same script. Seats of a hold that was
// already released are not returned twice.
func (l *RedisSeatLedger) Release(ctx context.Context, key domain.BucketKey, releaseID, holdID string, seats int) (*LedgerRelease, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.redis.ledger.release")
	defer span.End()

	span.SetAttributes(
		attribute.String("bucket", key.String()),
		attribute.String("release_id", releaseID),
		attribute.String("hold_id", holdID),
		attribute.Int("seats", seats),
	)

	keys := []string{bucketRedisKey(key), releaseKeyPrefix + releaseID, holdKeyPrefix + holdID, pendingHoldsKey}
	values, err := l.eval(ctx, scriptReleaseSeats, releaseSeatsScript, keys,
		seats, int(releaseRetention.Seconds()), holdID, int(settledHoldRetention.Seconds()))
	if err != nil {
		return nil, spanFail(span, err)
	}

	span.SetStatus(codes.Ok, "")
	return releaseFromValues(values), nil
}

// Committed reads the current bucket count
func (l *RedisSeatLedger) Committed(ctx context.Context, key domain.BucketKey) (int, error) {
	val, err := l.client.Get(ctx, bucketRedisKey(key)).Result()
	if errors.Is(err, pkgredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read bucket: %w", err)
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("corrupt bucket value %q: %w", val, err)
	}
	return n, nil
}

// ExpiredHolds lists holds past their deadline, oldest first
func (l *RedisSeatLedger) ExpiredHolds(ctx context.Context, before time.Time, limit int) ([]Hold, error) {
	ids, err := l.client.ZRangeByScore(ctx, pendingHoldsKey, "-inf", strconv.FormatInt(before.UnixMilli(), 10), int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan pending holds: %w", err)
	}

	holds := make([]Hold, 0, len(ids))
	for _, id := range ids {
		fields, err := l.client.Client().HGetAll(ctx, holdKeyPrefix+id).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read hold %s: %w", id, err)
		}
		if len(fields) == 0 {
			// Index entry without a hold body
			_ = l.client.Client().ZRem(ctx, pendingHoldsKey, id).Err()
			continue
		}
		hold, err := parseHold(id, fields)
		if err != nil {
			return nil, err
		}
		holds = append(holds, hold)
	}
	return holds, nil
}

func (l *RedisSeatLedger) holdBucket(ctx context.Context, holdID string) (string, error) {
	bucket, err := l.client.Client().HGet(ctx, holdKeyPrefix+holdID, "bucket").Result()
	if errors.Is(err, pkgredis.Nil) {
		return "", ErrUnknownHold
	}
	if err != nil {
		return "", fmt.Errorf("failed to read hold: %w", err)
	}
	return bucket, nil
}

func (l *RedisSeatLedger) eval(ctx context.Context, name, script string, keys []string, args ...interface{}) ([]int64, error) {
	result := l.client.EvalWithFallback(ctx, name, script, keys, args...)
	if result.Err() != nil {
		return nil, fmt.Errorf("failed to execute %s script: %w", name, result.Err())
	}

	raw, err := result.Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s result: %w", name, err)
	}
	if len(raw) < 2 {
		return nil, fmt.Errorf("unexpected %s result length: %d", name, len(raw))
	}

	values := make([]int64, len(raw))
	for i, v := range raw {
		n, ok := toInt64(v)
		if !ok {
			return nil, fmt.Errorf("unexpected %s result value %v", name, v)
		}
		values[i] = n
	}
	return values, nil
}

func releaseFromValues(values []int64) *LedgerRelease {
	rel := &LedgerRelease{
		Applied:   values[0] == 1,
		Committed: int(values[1]),
	}
	if len(values) > 2 {
		rel.Underflow = values[2] == 1
	}
	return rel
}

func parseHold(id string, fields map[string]string) (Hold, error) {
	date, err := domain.ParseDate(fields["date"])
	if err != nil {
		return Hold{}, fmt.Errorf("hold %s has bad date %q", id, fields["date"])
	}
	seats, err := strconv.Atoi(fields["seats"])
	if err != nil {
		return Hold{}, fmt.Errorf("hold %s has bad seats %q", id, fields["seats"])
	}
	deadline, err := strconv.ParseInt(fields["deadline"], 10, 64)
	if err != nil {
		return Hold{}, fmt.Errorf("hold %s has bad deadline %q", id, fields["deadline"])
	}
	return Hold{
		ID:       id,
		Key:      domain.NewBucketKey(fields["train"], fields["class"], date),
		Seats:    seats,
		Deadline: time.UnixMilli(deadline),
	}, nil
}

// toInt64 converts a script reply element to int64
func toInt64(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	case string:
		i, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

// Ensure RedisSeatLedger implements SeatLedger
var _ SeatLedger = (*RedisSeatLedger)(nil)
