package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hredostate/yebo-sub011/models"
)

// Kind tags the closed set of queued write operations.
type Kind string

const (
	KindInsert   Kind = "insert"
	KindUpdate   Kind = "update"
	KindDelete   Kind = "delete"
	KindRPC      Kind = "rpc"
	KindFunction Kind = "function"
	KindUpload   Kind = "upload"
)

// Op is one pending write. Each variant carries only the fields that matter
// for its kind, so replay dispatch is an exhaustive type switch.
type Op interface {
	Kind() Kind
}

type InsertOp struct {
	Table   string     `json:"table"`
	Payload models.Row `json:"payload"`
}

func (InsertOp) Kind() Kind { return KindInsert }

type UpdateOp struct {
	Table   string     `json:"table"`
	Payload models.Row `json:"payload"`
	Match   models.Row `json:"match"`
}

func (UpdateOp) Kind() Kind { return KindUpdate }

type DeleteOp struct {
	Table string     `json:"table"`
	Match models.Row `json:"match"`
}

func (DeleteOp) Kind() Kind { return KindDelete }

type RPCOp struct {
	Name string     `json:"name"`
	Args models.Row `json:"args"`
}

func (RPCOp) Kind() Kind { return KindRPC }

type FunctionOp struct {
	Name string     `json:"name"`
	Body models.Row `json:"body"`
}

func (FunctionOp) Kind() Kind { return KindFunction }

type UploadOp struct {
	Bucket  string               `json:"bucket"`
	Path    string               `json:"path"`
	FileID  string               `json:"fileId"` // reference into the blob store, never the bytes
	Options models.UploadOptions `json:"options"`
}

func (UploadOp) Kind() Kind { return KindUpload }

// Item is one queued entry. Items are immutable once enqueued; they are only
// ever removed, never rewritten.
type Item struct {
	ID        uint64
	CreatedAt time.Time
	Op        Op
}

// ErrUnknownKind is returned when a stored entry carries a kind this build
// does not know how to replay.
type ErrUnknownKind struct {
	ID   uint64
	Kind Kind
}

func (e *ErrUnknownKind) Error() string {
	return fmt.Sprintf("queue entry %d has unknown kind '%s'", e.ID, e.Kind)
}

type envelope struct {
	ID        uint64          `json:"id"`
	Kind      Kind            `json:"kind"`
	CreatedAt time.Time       `json:"createdAt"`
	Op        json.RawMessage `json:"op"`
}

func encodeItem(item Item) ([]byte, error) {
	opData, err := json.Marshal(item.Op)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{
		ID:        item.ID,
		Kind:      item.Op.Kind(),
		CreatedAt: item.CreatedAt,
		Op:        opData,
	})
}

func decodeItem(data []byte) (Item, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Item{}, err
	}

	item := Item{ID: env.ID, CreatedAt: env.CreatedAt}

	var op Op
	switch env.Kind {
	case KindInsert:
		op = &InsertOp{}
	case KindUpdate:
		op = &UpdateOp{}
	case KindDelete:
		op = &DeleteOp{}
	case KindRPC:
		op = &RPCOp{}
	case KindFunction:
		op = &FunctionOp{}
	case KindUpload:
		op = &UploadOp{}
	default:
		return item, &ErrUnknownKind{ID: env.ID, Kind: env.Kind}
	}

	if err := json.Unmarshal(env.Op, op); err != nil {
		return item, err
	}
	item.Op = deref(op)
	return item, nil
}

func deref(op Op) Op {
	switch v := op.(type) {
	case *InsertOp:
		return *v
	case *UpdateOp:
		return *v
	case *DeleteOp:
		return *v
	case *RPCOp:
		return *v
	case *FunctionOp:
		return *v
	case *UploadOp:
		return *v
	}
	return op
}
