package redis

import (
	"context"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"
)

// notify-keyspace-events flags needed for expired-key notifications on
// keyspace channels: K = keyspace channel, x = expired event class.
const keyspaceEventFlags = "Kx"

// EnsureKeyspaceEvents enables expired-key keyspace notifications on the
// server. Managed deployments may reject CONFIG SET; callers should treat
// the error as a warning and rely on the server being preconfigured.
func EnsureKeyspaceEvents(ctx context.Context, client goredis.UniversalClient) error {
	if err := client.ConfigSet(ctx, "notify-keyspace-events", keyspaceEventFlags).Err(); err != nil {
		return fmt.Errorf("config set notify-keyspace-events: %w", err)
	}
	return nil
}

// SubscribeExpired listens for expired-key events on keys matching pattern
// (a keyspace pattern such as "c:*") and invokes handler with each expired
// key. Blocks until ctx is cancelled or the subscription drops.
func SubscribeExpired(ctx context.Context, client goredis.UniversalClient, pattern string, handler func(key string)) error {
	sub := client.PSubscribe(ctx, "__keyspace@*__:"+pattern)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe keyspace events: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if msg.Payload != "expired" {
				continue
			}
			if key, ok := keyFromChannel(msg.Channel); ok {
				handler(key)
			}
		}
	}
}

// keyFromChannel extracts the key from a "__keyspace@<db>__:<key>" channel
// name. The key may itself contain colons, so only the prefix terminator
// is split on.
func keyFromChannel(channel string) (string, bool) {
	i := strings.Index(channel, "__:")
	if i < 0 {
		return "", false
	}
	return channel[i+3:], true
}
