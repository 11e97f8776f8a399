package db

import (
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Entity Kinds
// --------------------------------------------------------------------------

// Kind identifies the keyspace an entity lives in. The set of kinds is closed:
// every kind declares its key shape and whether it can expire.
type Kind uint8

const (
	KindJob               Kind = iota // Jobs, keyed by their string id
	KindQueueEntry                    // Enqueued job references
	KindCounter                       // Raw counter deltas
	KindAggregatedCounter             // Compacted per-key counter totals
	KindSet                           // Scored set members
	KindList                          // List items, ordered by id
	KindHash                          // Hash fields
	KindServer                        // Announced servers, keyed by their string id
	numKinds
)

// Kinds lists every kind in declaration order.
var Kinds = []Kind{
	KindJob,
	KindQueueEntry,
	KindCounter,
	KindAggregatedCounter,
	KindSet,
	KindList,
	KindHash,
	KindServer,
}

// ExpirableKinds lists the kinds carrying an expiry, in the order the
// expiration sweeper visits them.
var ExpirableKinds = []Kind{
	KindAggregatedCounter,
	KindJob,
	KindList,
	KindSet,
	KindHash,
}

func (k Kind) String() string {
	switch k {
	case KindJob:
		return "job"
	case KindQueueEntry:
		return "queue"
	case KindCounter:
		return "counter"
	case KindAggregatedCounter:
		return "aggregated_counter"
	case KindSet:
		return "set"
	case KindList:
		return "list"
	case KindHash:
		return "hash"
	case KindServer:
		return "server"
	default:
		return "unknown"
	}
}

// KeyShape describes whether a kind is addressed by a generated integer id or
// by a caller supplied string.
type KeyShape uint8

const (
	KeyShapeInt    KeyShape = iota // Generated by the IDGenerator
	KeyShapeString                 // Supplied by the caller
)

// KeyShape returns the key shape of the kind.
func (k Kind) KeyShape() KeyShape {
	switch k {
	case KindJob, KindServer:
		return KeyShapeString
	default:
		return KeyShapeInt
	}
}

// Expirable reports whether entities of the kind carry an optional expiry.
func (k Kind) Expirable() bool {
	switch k {
	case KindAggregatedCounter, KindJob, KindList, KindSet, KindHash:
		return true
	default:
		// raw counters carry an expiry too, but it is only consumed by the aggregator
		return false
	}
}

// Named reports whether the kind has a unique natural key besides its id.
func (k Kind) Named() bool {
	switch k {
	case KindAggregatedCounter, KindSet, KindHash:
		return true
	default:
		return false
	}
}

// --------------------------------------------------------------------------
// Keys
// --------------------------------------------------------------------------

// Key addresses an entity within the keyspace of its kind. A Key holds either
// an integer or a string, never both. Keys are comparable and can be used as
// map keys.
type Key struct {
	id   int64
	name string
}

// IntKey creates an integer shaped key.
func IntKey(id int64) Key {
	return Key{id: id}
}

// StringKey creates a string shaped key.
func StringKey(name string) Key {
	return Key{name: name}
}

// Int returns the integer value of the key (0 for string keys).
func (k Key) Int() int64 {
	return k.id
}

func (k Key) String() string {
	if k.name != "" {
		return k.name
	}
	return strconv.FormatInt(k.id, 10)
}

// CompositeKey joins the parts of a natural key. The separator cannot occur in
// keys produced by the job framework.
func CompositeKey(parts ...string) string {
	return strings.Join(parts, "\x00")
}
