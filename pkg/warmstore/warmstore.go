// Package warmstore persists each device's last bit_state/can_bit_state/
// last_online to Redis so an Account can seed telemetry before the first
// snapshot arrives. It is entirely optional — a nil *Store is a valid
// no-op implementation — and restored state is advisory: the monotonic
// last_online rule still governs once fresh data arrives.
package warmstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// Record is the persisted shape for one device.
type Record struct {
	DeviceID    int64
	BitState    uint64
	CanBitState uint32
	LastOnline  time.Time
}

// Config addresses and scopes a warm-start Redis instance.
type Config struct {
	Addr      string
	DB        int
	KeyPrefix string
}

// DefaultKeyPrefix is used when Config.KeyPrefix is empty.
const DefaultKeyPrefix = "pandora-cas"

// Store is a Redis-hash-backed warm-start cache, one hash key per device
// under "<prefix>:device:<id>".
type Store struct {
	client *redis.Client
	prefix string
}

// New connects to Redis per cfg. The caller should treat a non-nil error as
// fatal only for explicit warm-store configuration; Account treats a nil
// *Store (warm store not configured) as a no-op.
func New(cfg Config) (*Store, error) {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, DB: cfg.DB})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to warm store at %s: %w", cfg.Addr, err)
	}
	return &Store{client: client, prefix: prefix}, nil
}

// Close releases the Redis connection.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.client.Close()
}

func (s *Store) key(deviceID int64) string {
	return fmt.Sprintf("%s:device:%d", s.prefix, deviceID)
}

// Save persists rec, overwriting any prior record for the same device.
func (s *Store) Save(ctx context.Context, rec Record) error {
	if s == nil {
		return nil
	}
	fields := map[string]interface{}{
		"bit_state":     strconv.FormatUint(rec.BitState, 10),
		"can_bit_state": strconv.FormatUint(uint64(rec.CanBitState), 10),
		"last_online":   strconv.FormatInt(rec.LastOnline.Unix(), 10),
	}
	key := s.key(rec.DeviceID)
	if err := s.client.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("warm store save %s: %w", key, err)
	}
	return nil
}

// Load reads back the record for deviceID. ok is false if no record exists
// (a fresh device, or warm store disabled).
func (s *Store) Load(ctx context.Context, deviceID int64) (rec Record, ok bool, err error) {
	if s == nil {
		return Record{}, false, nil
	}
	key := s.key(deviceID)
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return Record{}, false, fmt.Errorf("warm store load %s: %w", key, err)
	}
	if len(vals) == 0 {
		return Record{}, false, nil
	}
	return parseRecord(deviceID, vals), true, nil
}

// LoadAll scans every persisted device record under this Store's prefix.
func (s *Store) LoadAll(ctx context.Context) (map[int64]Record, error) {
	out := make(map[int64]Record)
	if s == nil {
		return out, nil
	}
	pattern := s.prefix + ":device:*"
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		var id int64
		if _, err := fmt.Sscanf(key, s.prefix+":device:%d", &id); err != nil {
			continue
		}
		vals, err := s.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("warm store scan %s: %w", key, err)
		}
		if len(vals) == 0 {
			continue
		}
		out[id] = parseRecord(id, vals)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("warm store scan: %w", err)
	}
	return out, nil
}

func parseRecord(deviceID int64, vals map[string]string) Record {
	rec := Record{DeviceID: deviceID}
	if v, err := strconv.ParseUint(vals["bit_state"], 10, 64); err == nil {
		rec.BitState = v
	}
	if v, err := strconv.ParseUint(vals["can_bit_state"], 10, 32); err == nil {
		rec.CanBitState = uint32(v)
	}
	if v, err := strconv.ParseInt(vals["last_online"], 10, 64); err == nil {
		rec.LastOnline = time.Unix(v, 0).UTC()
	}
	return rec
}
