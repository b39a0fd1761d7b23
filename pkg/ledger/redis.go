package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// recordScript applies the forward-only transition rule server-side.
// KEYS[1] current-status key, KEYS[2] history list key,
// ARGV[1] status, ARGV[2] rank, ARGV[3] terminal ("1"/"0"), ARGV[4] entry
// json, ARGV[5] retention millis.
// Returns 1 accepted-and-appended, 2 accepted duplicate, 0 discarded.
var recordScript = redis.NewScript(`
local cur = redis.call('HMGET', KEYS[1], 'status', 'rank', 'terminal')
if cur[1] then
  if cur[1] == ARGV[1] then
    return 2
  end
  if tonumber(ARGV[2]) < tonumber(cur[2]) or cur[3] == '1' then
    return 0
  end
end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'rank', ARGV[2], 'terminal', ARGV[3])
redis.call('RPUSH', KEYS[2], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
redis.call('PEXPIRE', KEYS[2], ARGV[5])
return 1
`)

// ledgerRetention bounds how long finished call records stay readable for
// dashboards before Redis evicts them.
const ledgerRetention = 24 * time.Hour

// RedisLedger is the Ledger used when several dialer processes report into
// one status view. Keys are namespaced under "ledger:".
type RedisLedger struct {
	client *redis.Client
}

func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client}
}

func (l *RedisLedger) statusKey(callID string) string  { return "ledger:cur:" + callID }
func (l *RedisLedger) historyKey(callID string) string { return "ledger:hist:" + callID }

func (l *RedisLedger) Record(ctx context.Context, callID string, status Status, metadata map[string]string) (bool, error) {
	entry := Entry{Status: status, Metadata: metadata, RecordedAt: time.Now()}
	data, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("ledger: marshal entry: %w", err)
	}

	terminal := "0"
	if status.Terminal() {
		terminal = "1"
	}

	res, err := recordScript.Run(ctx, l.client,
		[]string{l.statusKey(callID), l.historyKey(callID)},
		status.String(), strconv.Itoa(status.rank()), terminal,
		data, ledgerRetention.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("ledger: redis record: %w", err)
	}
	return res != 0, nil
}

func (l *RedisLedger) Current(ctx context.Context, callID string) (Status, error) {
	raw, err := l.client.HGet(ctx, l.statusKey(callID), "status").Result()
	if errors.Is(err, redis.Nil) {
		return StatusInitiated, ErrNotFound
	}
	if err != nil {
		return StatusInitiated, fmt.Errorf("ledger: redis current: %w", err)
	}

	status, ok := ParseStatus(raw)
	if !ok {
		return StatusInitiated, fmt.Errorf("ledger: unknown stored status %q", raw)
	}
	return status, nil
}

func (l *RedisLedger) History(ctx context.Context, callID string) ([]Entry, error) {
	items, err := l.client.LRange(ctx, l.historyKey(callID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("ledger: redis history: %w", err)
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}

	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("ledger: unmarshal entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (l *RedisLedger) Close() error {
	return l.client.Close()
}

var _ Ledger = (*RedisLedger)(nil)
