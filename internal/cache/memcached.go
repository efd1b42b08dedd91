package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/IliaW/portal-checker/config"
	"github.com/bradfitz/gomemcache/memcache"
	jsoniter "github.com/json-iterator/go"
)

var ErrCacheMiss = errors.New("cache miss")

const keyNamespace = "portal-checker:"

type CachedClient interface {
	Get(key string) (string, error)
	Set(key string, value string, ttl time.Duration) error
	Close()
}

type MemcachedClient struct {
	client *memcache.Client
	cfg    *config.CacheConfig
	log    *slog.Logger
}

func NewMemcachedClient(cacheConfig *config.CacheConfig, log *slog.Logger) *MemcachedClient {
	log.Info("connecting to memcached...")
	ss := new(memcache.ServerList)
	servers := strings.Split(cacheConfig.Servers, ",")
	err := ss.SetServers(servers...)
	if err != nil {
		log.Error("failed to set memcached servers.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	c := &MemcachedClient{
		client: memcache.NewFromSelector(ss),
		cfg:    cacheConfig,
		log:    log,
	}
	c.log.Info("pinging the memcached.")
	err = c.client.Ping()
	if err != nil {
		log.Error("connection to the memcached is failed.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	c.log.Info("connected to memcached!")

	return c
}

// Set stores the value as JSON under a hashed key. A zero ttl never expires.
func (mc *MemcachedClient) Set(key string, value string, ttl time.Duration) error {
	byteValue, err := jsoniter.Marshal(value)
	if err != nil {
		return err
	}
	hashed := hashKey(key)
	err = mc.client.Set(&memcache.Item{
		Key:        hashed,
		Value:      byteValue,
		Expiration: int32(ttl.Seconds()),
	})
	if err != nil {
		mc.log.Error("failed to save value to cache.", slog.String("key", key), slog.String("err", err.Error()))
		return err
	}
	mc.log.Debug("value saved to cache.", slog.String("key", key))

	return nil
}

func (mc *MemcachedClient) Get(key string) (string, error) {
	item, err := mc.client.Get(hashKey(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			mc.log.Debug("cache expired.", slog.String("key", key))
			return "", ErrCacheMiss
		}
		return "", err
	}
	var value string
	if err = jsoniter.Unmarshal(item.Value, &value); err != nil {
		return "", err
	}

	return value, nil
}

func (mc *MemcachedClient) Close() {
	mc.log.Info("closing memcached connection.")
	err := mc.client.Close()
	if err != nil {
		mc.log.Error("failed to close memcached connection.", slog.String("err", err.Error()))
	}
}

// hashKey keeps keys within the memcached limits whatever the caller passes.
func hashKey(key string) string {
	hash := sha256.New()
	hash.Write([]byte(keyNamespace + key))
	return hex.EncodeToString(hash.Sum(nil))
}
