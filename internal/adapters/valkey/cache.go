package valkey

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"
)

const keyPrefix = "opzones:"

// Cache implements ports.CacheService using Valkey. Keys are namespaced under
// "opzones:". Reads go through valkey-go's server-assisted client-side cache
// when localTTL is positive, so hot viewports are served from process memory
// until the server invalidates them.
type Cache struct {
	client   valkey.Client
	localTTL time.Duration
}

// New connects to addr. localTTL bounds how long a read may be served from
// the client-side cache; zero disables it.
func New(addr string, localTTL time.Duration) (*Cache, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:  []string{addr},
		ClientName:   "opzones",
		DisableCache: localTTL <= 0,
	})
	if err != nil {
		return nil, fmt.Errorf("valkey connect: %w", err)
	}
	return &Cache{client: client, localTTL: localTTL}, nil
}

// Get returns the value for key, or nil when it is absent.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	var res valkey.ValkeyResult
	if c.localTTL > 0 {
		res = c.client.DoCache(ctx, c.client.B().Get().Key(keyPrefix+key).Cache(), c.localTTL)
	} else {
		res = c.client.Do(ctx, c.client.B().Get().Key(keyPrefix+key).Build())
	}
	b, err := res.AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("valkey get %s: %w", key, err)
	}
	return b, nil
}

// Set stores value under key for ttl. ttl must be at least one second.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < time.Second {
		ttl = time.Second
	}
	cmd := c.client.B().Set().Key(keyPrefix + key).Value(valkey.BinaryString(value)).Ex(ttl).Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("valkey set %s: %w", key, err)
	}
	return nil
}

// Ping checks the connection.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Do(ctx, c.client.B().Ping().Build()).Error()
}

// Close releases the client.
func (c *Cache) Close() {
	c.client.Close()
}
