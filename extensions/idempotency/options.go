package idempotency

import "time"

// DefaultTTL is how long successful completions are cached
const DefaultTTL = 10 * time.Minute

// config holds the configuration for IdempotentSequencer.
type config struct {
	ttl          time.Duration
	store        CompletionStore
	keyGenerator KeyGenerator
}

// Option configures an IdempotentSequencer.
type Option func(*config)

// WithTTL sets the cache TTL for successful completions.
//
// Only applies when using the default InMemoryStore.
//
// Default: 10 minutes
func WithTTL(ttl time.Duration) Option {
	return func(c *config) {
		c.ttl = ttl
	}
}

// WithStore sets a custom CompletionStore implementation.
// When specified, WithTTL is ignored.
func WithStore(store CompletionStore) Option {
	return func(c *config) {
		c.store = store
	}
}

// WithKeyGenerator sets a custom key generation function.
func WithKeyGenerator(gen KeyGenerator) Option {
	return func(c *config) {
		c.keyGenerator = gen
	}
}
