package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/kursadbilgin/practice-sync/internal/domain"
	"github.com/kursadbilgin/practice-sync/internal/mirror"
	goredis "github.com/redis/go-redis/v9"
)

// upsertScript stores one record under its position key and moves the
// appointment projection forward only when the record is newer than the one
// it holds. Replaying a record leaves every key unchanged.
//
// KEYS: action hash, appointment projection hash, position index.
// ARGV: position key, record JSON, appointment id, action type.
const upsertScript = `
redis.call("HSET", KEYS[1], "record", ARGV[2], "appointmentId", ARGV[3], "actionType", ARGV[4])
redis.call("ZADD", KEYS[3], 0, ARGV[1])
local current = redis.call("HGET", KEYS[2], "position")
if (not current) or current < ARGV[1] then
  redis.call("HSET", KEYS[2], "position", ARGV[1], "actionType", ARGV[4], "record", ARGV[2])
  return 1
end
return 0
`

var _ mirror.Mirror = (*RedisMirror)(nil)

// RedisMirror keeps a secondary copy of the action log and a per-appointment
// projection in Redis.
type RedisMirror struct {
	client goredis.UniversalClient
	prefix string
}

func NewRedisMirror(client goredis.UniversalClient, name string) (*RedisMirror, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("mirror name is required")
	}
	return &RedisMirror{client: client, prefix: "mirror:" + name}, nil
}

func (m *RedisMirror) actionKey(key string) string { return m.prefix + ":action:" + key }
func (m *RedisMirror) appointmentKey(id string) string { return m.prefix + ":appointment:" + id }
func (m *RedisMirror) indexKey() string { return m.prefix + ":log" }

// UpsertBatch writes the batch in one pipeline. Commands run in order, so
// the first failed command marks the first rejected entry.
func (m *RedisMirror) UpsertBatch(ctx context.Context, entries []domain.ActionLogEntry) (mirror.Result, error) {
	if len(entries) == 0 {
		return mirror.Result{}, nil
	}

	records, err := mirror.NewRecords(entries)
	if err != nil {
		return mirror.Result{}, err
	}

	pipe := m.client.Pipeline()
	cmds := make([]*goredis.Cmd, 0, len(records))
	for _, rec := range records {
		value, err := json.Marshal(rec)
		if err != nil {
			return mirror.Result{}, fmt.Errorf("failed to encode record %s: %w", rec.Key(), err)
		}
		keys := []string{m.actionKey(rec.Key()), m.appointmentKey(rec.AppointmentID), m.indexKey()}
		cmds = append(cmds, pipe.Eval(ctx, upsertScript, keys, rec.Key(), string(value), rec.AppointmentID, rec.ActionType))
	}

	_, execErr := pipe.Exec(ctx)
	for i, cmd := range cmds {
		if err := cmd.Err(); err != nil {
			return mirror.Rejected(i), fmt.Errorf("%w: record %s: %v", domain.ErrMirrorRejected, records[i].Key(), err)
		}
	}
	if execErr != nil {
		return mirror.Result{}, fmt.Errorf("redis mirror pipeline failed: %w", execErr)
	}

	return mirror.Result{AcceptedCount: len(records)}, nil
}

// Projection returns the latest mirrored state of one appointment.
func (m *RedisMirror) Projection(ctx context.Context, appointmentID string) (map[string]string, error) {
	return m.client.HGetAll(ctx, m.appointmentKey(appointmentID)).Result()
}

// Head returns the highest position key stored in the mirror, or "" when empty.
func (m *RedisMirror) Head(ctx context.Context) (string, error) {
	keys, err := m.client.ZRevRangeByLex(ctx, m.indexKey(), &goredis.ZRangeBy{Min: "-", Max: "+", Count: 1}).Result()
	if err != nil {
		return "", err
	}
	if len(keys) == 0 {
		return "", nil
	}
	return keys[0], nil
}
