package session

import (
	"context"
	"time"
)

type conditionKind int

const (
	keyAbsent conditionKind = iota
	keyEquals
)

// Precondition is a fact about one key that must still hold when a
// multi-key write commits.
type Precondition struct {
	Key   string
	kind  conditionKind
	Value string
}

func Absent(key string) Precondition {
	return Precondition{Key: key, kind: keyAbsent}
}

func Equals(key, value string) Precondition {
	return Precondition{Key: key, kind: keyEquals, Value: value}
}

// Holds reports whether the precondition is satisfied by a key's current state.
func (p Precondition) Holds(value string, exists bool) bool {
	if p.kind == keyAbsent {
		return !exists
	}
	return exists && value == p.Value
}

type writeKind int

const (
	writeSet writeKind = iota
	writeDelete
	writeExpire
)

// Write is a single key mutation inside an atomic batch.
type Write struct {
	Key   string
	kind  writeKind
	Value string
	TTL   time.Duration
}

func Set(key, value string, ttl time.Duration) Write {
	return Write{Key: key, kind: writeSet, Value: value, TTL: ttl}
}

func Delete(key string) Write {
	return Write{Key: key, kind: writeDelete}
}

func Expire(key string, ttl time.Duration) Write {
	return Write{Key: key, kind: writeExpire, TTL: ttl}
}

// Backend is the key-value capability the session store is built on.
//
// AtomicMultiSet applies writes as one unit if and only if every
// precondition holds at commit time. committed is false when a precondition
// failed or a concurrent writer touched a guarded key; err is reserved for
// infrastructure failures, in which case nothing may be assumed committed.
type Backend interface {
	Get(ctx context.Context, key string) (value string, exists bool, err error)
	AtomicMultiSet(ctx context.Context, preconditions []Precondition, writes []Write) (committed bool, err error)
}
