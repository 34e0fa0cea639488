// Package redis provides a Redis-backed conversation store and a distributed
// locker for running several server replicas against the same conversations.
package redis
