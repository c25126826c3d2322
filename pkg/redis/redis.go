package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var ErrViewNotFound = errors.New("no view stored for screen")

// IRedis fans rendered screen views out to other consumers. Views are
// published on screen:<id>:view and the latest one is kept under
// screen:<id>:latest.
type IRedis interface {
	PublishView(ctx context.Context, screenID string, payload []byte) error
	SetLatestView(ctx context.Context, screenID string, payload []byte, expiration time.Duration) error
	GetLatestView(ctx context.Context, screenID string) ([]byte, error)
	DeleteLatestView(ctx context.Context, screenID string) error
	Close() error
}

type redisClient struct {
	client *redis.Client
}

// New connects to REDIS_ADDRESS. When the address is empty the returned
// client does nothing, so the service runs without Redis.
func New() IRedis {
	redisAddr := os.Getenv("REDIS_ADDRESS")
	if redisAddr == "" {
		logrus.Info("REDIS_ADDRESS not set, view fan-out disabled")
		return noop{}
	}

	db, _ := strconv.Atoi(os.Getenv("REDIS_DB"))
	redisPassword := os.Getenv("REDIS_PASSWORD")

	logrus.Info(fmt.Sprintf("Connecting to Redis at %s...", redisAddr))

	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: redisPassword,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		logrus.Error(fmt.Sprintf("Failed to connect to Redis: %v", err))
	} else {
		logrus.Info("Successfully connected to Redis")
	}

	return &redisClient{client: client}
}

func ViewChannel(screenID string) string {
	return fmt.Sprintf("screen:%s:view", screenID)
}

func LatestViewKey(screenID string) string {
	return fmt.Sprintf("screen:%s:latest", screenID)
}

func (r *redisClient) PublishView(ctx context.Context, screenID string, payload []byte) error {
	if err := r.client.Publish(ctx, ViewChannel(screenID), payload).Err(); err != nil {
		logrus.Error(fmt.Sprintf("Error publishing view for screen %s: %v", screenID, err))
		return err
	}
	return nil
}

func (r *redisClient) SetLatestView(ctx context.Context, screenID string, payload []byte, expiration time.Duration) error {
	logrus.Debug(fmt.Sprintf("Storing latest view for screen %s with expiration %v", screenID, expiration))
	if err := r.client.Set(ctx, LatestViewKey(screenID), payload, expiration).Err(); err != nil {
		logrus.Error(fmt.Sprintf("Error storing view for screen %s: %v", screenID, err))
		return err
	}
	return nil
}

func (r *redisClient) GetLatestView(ctx context.Context, screenID string) ([]byte, error) {
	val, err := r.client.Get(ctx, LatestViewKey(screenID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrViewNotFound
	} else if err != nil {
		logrus.Error(fmt.Sprintf("Error getting view for screen %s: %v", screenID, err))
		return nil, err
	}
	return val, nil
}

func (r *redisClient) DeleteLatestView(ctx context.Context, screenID string) error {
	result, err := r.client.Del(ctx, LatestViewKey(screenID)).Result()
	if err != nil {
		logrus.Error(fmt.Sprintf("Error deleting view for screen %s: %v", screenID, err))
		return err
	}

	if result == 0 {
		logrus.Debug(fmt.Sprintf("View key for screen %s not found for deletion", screenID))
	}
	return nil
}

func (r *redisClient) Close() error {
	return r.client.Close()
}

type noop struct{}

func (noop) PublishView(context.Context, string, []byte) error { return nil }
func (noop) SetLatestView(context.Context, string, []byte, time.Duration) error { return nil }
func (noop) GetLatestView(context.Context, string) ([]byte, error) { return nil, ErrViewNotFound }
func (noop) DeleteLatestView(context.Context, string) error { return nil }
func (noop) Close() error { return nil }
