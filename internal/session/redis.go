package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	models "kadmin/internal/model"
)

// Stream entry fields with a fixed meaning; every other field becomes a header
const (
	redisKeyField   = "key"
	redisValueField = "value"
	redisIDHeader   = "redis.id"
)

// RedisFactory creates sessions that tail a redis stream named after the topic
type RedisFactory struct {
	Block       time.Duration
	Count       int64
	DialTimeout time.Duration
}

// NewRedisFactory creates a RedisFactory blocking up to 2s per XREAD
func NewRedisFactory() *RedisFactory {
	return &RedisFactory{
		Block:       2 * time.Second,
		Count:       100,
		DialTimeout: 5 * time.Second,
	}
}

// Create connects to cfg.BrokerURL and reads entries appended after the call
func (f *RedisFactory) Create(ctx context.Context, cfg Config, deliver DeliverFunc) (Session, error) {
	opts, err := redis.ParseURL(cfg.BrokerURL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	if f.DialTimeout > 0 {
		opts.DialTimeout = f.DialTimeout
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", opts.Addr, err)
	}

	s := newLoopSession(NewGroupID(), cfg, client.Close)
	s.start(func(ctx context.Context) {
		lastID := "$"
		for ctx.Err() == nil {
			streams, err := client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{cfg.Topic, lastID},
				Count:   f.Count,
				Block:   f.Block,
			}).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn().Err(err).Msg("Redis XREAD failed")
				if !sleepCtx(ctx, time.Second) {
					return
				}
				continue
			}
			for _, stream := range streams {
				for _, entry := range stream.Messages {
					lastID = entry.ID
					deliver(recordFromStream(stream.Stream, entry))
				}
			}
		}
	})

	return s, nil
}

// recordFromStream maps a stream entry onto a record.
// The entry id "<ms>-<seq>" supplies the offset (ms) and partition stays 0.
func recordFromStream(stream string, entry redis.XMessage) models.Record {
	rec := models.Record{
		Topic:   stream,
		Headers: map[string][]byte{redisIDHeader: []byte(entry.ID)},
	}
	if ms, _, ok := strings.Cut(entry.ID, "-"); ok {
		rec.Offset, _ = strconv.ParseInt(ms, 10, 64)
	}

	rest := make(map[string]interface{}, len(entry.Values))
	for field, v := range entry.Values {
		switch field {
		case redisKeyField:
			rec.Key = fmt.Sprint(v)
		case redisValueField:
			rec.Value = []byte(fmt.Sprint(v))
		default:
			rest[field] = v
			rec.Headers[field] = []byte(fmt.Sprint(v))
		}
	}

	// entries without a value field are passed on as a JSON object of their fields
	if rec.Value == nil {
		rec.Value, _ = json.Marshal(rest)
	}
	return rec
}
