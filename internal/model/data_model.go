package model

// OpsType tags an entry of the durable key-value commit log.
type OpsType byte

const (
	PUT OpsType = iota
	DELETE
)

// Mutation is one commit-log entry: a PUT of Value under Key, or a DELETE of Key.
// Sequence is assigned by the commit log and preserved across replay.
type Mutation struct {
	Sequence uint64
	Op       OpsType
	Key      []byte
	Value    []byte
}
