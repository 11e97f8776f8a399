package lstore

import (
	"fmt"
	"github.com/ValentinKolb/memjob/lib/db"
	"github.com/ValentinKolb/memjob/lib/store"
	"time"
)

// CommandType defines the mutations a transaction can buffer.
type CommandType uint8

const (
	CommandTSetJobState    CommandType = iota // Set the current state of a job and append it to the history.
	CommandTAddJobState                       // Append a state to the history of a job.
	CommandTExpireJob                         // Let a job expire after ExpireIn.
	CommandTPersistJob                        // Remove the expiry of a job.
	CommandTAddToQueue                        // Enqueue a job (Key = queue, Value = job id).
	CommandTCounter                           // Record a counter delta (optionally expiring).
	CommandTAddToSet                          // Add or rescore a set member.
	CommandTAddRangeToSet                     // Add several set members, keeping existing scores.
	CommandTRemoveFromSet                     // Remove a set member.
	CommandTRemoveSet                         // Remove all members of a set.
	CommandTInsertToList                      // Append an item to a list.
	CommandTRemoveFromList                    // Remove all items of a list equal to Value.
	CommandTTrimList                          // Keep only the list items at positions [From, To].
	CommandTSetRangeInHash                    // Set fields of a hash.
	CommandTRemoveHash                        // Remove all fields of a hash.
	CommandTExpireKey                         // Let every row of a set, list or hash expire after ExpireIn.
	CommandTPersistKey                        // Remove the expiry of every row of a set, list or hash.
)

func (ct CommandType) String() string {
	switch ct {
	case CommandTSetJobState:
		return "SetJobState"
	case CommandTAddJobState:
		return "AddJobState"
	case CommandTExpireJob:
		return "ExpireJob"
	case CommandTPersistJob:
		return "PersistJob"
	case CommandTAddToQueue:
		return "AddToQueue"
	case CommandTCounter:
		return "Counter"
	case CommandTAddToSet:
		return "AddToSet"
	case CommandTAddRangeToSet:
		return "AddRangeToSet"
	case CommandTRemoveFromSet:
		return "RemoveFromSet"
	case CommandTRemoveSet:
		return "RemoveSet"
	case CommandTInsertToList:
		return "InsertToList"
	case CommandTRemoveFromList:
		return "RemoveFromList"
	case CommandTTrimList:
		return "TrimList"
	case CommandTSetRangeInHash:
		return "SetRangeInHash"
	case CommandTRemoveHash:
		return "RemoveHash"
	case CommandTExpireKey:
		return "ExpireKey"
	case CommandTPersistKey:
		return "PersistKey"
	default:
		return fmt.Sprintf("Unknown(%d)", ct)
	}
}

// Command is a single buffered mutation. Only the fields relevant for its
// Type are set.
type Command struct {
	Type     CommandType
	Kind     db.Kind // target kind of CommandTExpireKey and CommandTPersistKey
	Key      string  // job id, queue name or set/list/hash/counter key
	Value    string
	Values   []string
	Fields   map[string]string
	Score    float64
	Delta    int64
	ExpireIn time.Duration // 0 = no expiry (CommandTCounter only)
	From     int
	To       int
	State    store.State
}

func (c Command) String() string {
	switch c.Type {
	case CommandTExpireKey, CommandTPersistKey:
		return fmt.Sprintf("%s(%s %q)", c.Type, c.Kind, c.Key)
	case CommandTAddToQueue, CommandTAddToSet, CommandTRemoveFromSet, CommandTInsertToList, CommandTRemoveFromList:
		return fmt.Sprintf("%s(%q, %q)", c.Type, c.Key, c.Value)
	default:
		return fmt.Sprintf("%s(%q)", c.Type, c.Key)
	}
}
