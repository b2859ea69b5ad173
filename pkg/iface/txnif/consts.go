package txnif

import (
	"fmt"
	"strings"
)

const (
	UncommitTS = ^uint64(0)
	// GCOwner marks a slot claimed by the garbage collector.
	GCOwner = ^uint64(0) - 1
)

const (
	TxnStateActive int32 = iota
	TxnStateCommitting
	TxnStateRollbacking
	TxnStateCommitted
	TxnStateRollbacked
)

var TxnStateNames = map[int32]string{
	TxnStateActive:      "Active",
	TxnStateCommitting:  "Committing",
	TxnStateRollbacking: "Rollbacking",
	TxnStateCommitted:   "Committed",
	TxnStateRollbacked:  "Rollbacked",
}

// Protocol selects the concurrency control rule for the whole process.
type Protocol int8

const (
	TimestampOrdering Protocol = iota
	Optimistic
	Pessimistic
)

var protocolNames = map[Protocol]string{
	TimestampOrdering: "to",
	Optimistic:        "occ",
	Pessimistic:       "2pl",
}

func (p Protocol) String() string {
	if name, ok := protocolNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Protocol(%d)", int8(p))
}

func ParseProtocol(name string) (Protocol, error) {
	switch strings.ToLower(name) {
	case "to", "timestamp-ordering", "timestamp_ordering":
		return TimestampOrdering, nil
	case "occ", "optimistic":
		return Optimistic, nil
	case "2pl", "pessimistic":
		return Pessimistic, nil
	}
	return TimestampOrdering, fmt.Errorf("%w: %q", ErrUnknownProtocol, name)
}

type WriteOp int8

const (
	OpUpdate WriteOp = iota
	OpDelete
	// OpReinsert writes a row over a committed tombstone.
	OpReinsert
)

type RWType int8

const (
	RWInsert RWType = iota
	RWUpdate
	RWDelete
	RWInsDel
)

var RWTypeNames = map[RWType]string{
	RWInsert: "Insert",
	RWUpdate: "Update",
	RWDelete: "Delete",
	RWInsDel: "InsDel",
}

type VisibilityType int8

const (
	VisibilityInvisible VisibilityType = iota
	VisibilityOK
	VisibilityDeleted
)
