// Package redis is the optional embedding cache. Vectors are stored as
// packed little-endian float32 so a 1024-dim passage costs 4 KiB.
package redis

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/legal-rag/backend/pkg/logger"
)

// Bump the version segment when the vector encoding changes.
const embeddingKeyPrefix = "legalrag:embedding:v2:"

const flushBatchSize = 256

var errCorruptVector = errors.New("cached vector has invalid length")

type Client struct {
	rdb *redis.Client
}

func NewClient(ctx context.Context, host string, port int, password string, db int) (*Client, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Embedding cache connected", zap.String("addr", addr), zap.Int("db", db))
	return &Client{rdb: rdb}, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func embeddingKey(textHash string) string {
	return embeddingKeyPrefix + textHash
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil, errCorruptVector
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v, nil
}

func (c *Client) SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, embeddingKey(textHash), encodeVector(embedding), ttl).Err(); err != nil {
		return fmt.Errorf("failed to set embedding cache: %w", err)
	}
	return nil
}

// GetEmbedding reports a miss for absent keys. A corrupt entry is removed and
// also reported as a miss.
func (c *Client) GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error) {
	key := embeddingKey(textHash)
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get embedding cache: %w", err)
	}

	vec, err := decodeVector(raw)
	if err != nil {
		logger.Warn("Dropping corrupt cache entry", zap.String("key", key), zap.Int("bytes", len(raw)))
		_ = c.rdb.Unlink(ctx, key).Err()
		return nil, false, nil
	}
	return vec, true, nil
}

// Flush drops every cached embedding, e.g. after switching embedding models.
// Keys are unlinked in batches while scanning.
func (c *Client) Flush(ctx context.Context) (int, error) {
	var (
		removed int
		batch   = make([]string, 0, flushBatchSize)
	)

	unlink := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.rdb.Unlink(ctx, batch...).Result()
		if err != nil {
			return fmt.Errorf("failed to unlink cache keys: %w", err)
		}
		removed += int(n)
		batch = batch[:0]
		return nil
	}

	iter := c.rdb.Scan(ctx, 0, embeddingKeyPrefix+"*", flushBatchSize).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == flushBatchSize {
			if err := unlink(); err != nil {
				return removed, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to scan cache keys: %w", err)
	}
	if err := unlink(); err != nil {
		return removed, err
	}

	logger.Info("Embedding cache flushed", zap.Int("removed", removed))
	return removed, nil
}
