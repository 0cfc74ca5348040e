package cache

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zuri-app/zuri/internal/pkg/env"
)

var (
	client *redis.Client
	ctx    = context.Background()
)

const userPlanTTL = 15 * time.Minute

// SetupCache initializes the connection to the Redis cache server
func SetupCache() {
	host := env.GetEnv("CACHE_HOST", "localhost")
	port := env.GetEnv("CACHE_PORT", "6379")

	client = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: "", // no password set
		DB:       0,  // use default DB
	})

	// Test the connection
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		log.Printf("Warning: Could not connect to Redis cache: %v", err)
	} else {
		log.Printf("Successfully connected to Redis cache: %s", pong)
	}
}

// GetClient returns the Redis client instance
func GetClient() *redis.Client {
	if client == nil {
		SetupCache()
	}
	return client
}

// Set stores a value in the cache with the given key and expiration time
func Set(key string, value interface{}, expiration time.Duration) error {
	return GetClient().Set(ctx, key, value, expiration).Err()
}

// Get retrieves a value from the cache by key
func Get(key string) (string, error) {
	return GetClient().Get(ctx, key).Result()
}

// Delete removes a value from the cache by key
func Delete(key string) error {
	return GetClient().Del(ctx, key).Err()
}

func userPlanKey(userID uint) string {
	return "user_plan:" + strconv.FormatUint(uint64(userID), 10)
}

// SetUserPlan caches a user's effective plan. Written through by the billing
// reconciler after every plan change.
func SetUserPlan(userID uint, plan string) error {
	return Set(userPlanKey(userID), plan, userPlanTTL)
}

// GetUserPlan returns the cached effective plan, or "" on miss.
func GetUserPlan(userID uint) string {
	plan, err := Get(userPlanKey(userID))
	if err != nil {
		return ""
	}
	return plan
}

// InvalidateUserPlan drops the cached plan for a user.
func InvalidateUserPlan(userID uint) error {
	return Delete(userPlanKey(userID))
}
