package paxos

// MsgType tags the closed set of protocol messages. Handlers switch over it
// exhaustively; adding a kind means touching every switch.
type MsgType uint8

const (
	Empty MsgType = iota
	Prepare
	Promise
	Accept
	Accepted
	Nack
)

func (m MsgType) String() string {
	switch m {
	case Empty:
		return "Empty"
	case Prepare:
		return "Prepare"
	case Promise:
		return "Promise"
	case Accept:
		return "Accept"
	case Accepted:
		return "Accepted"
	case Nack:
		return "Nack"
	}
	return "INVALID"
}

// AcceptedValue pairs a ballot with the value accepted under it.
type AcceptedValue struct {
	Ballot Ballot
	Value  []byte
}

// Msg is the envelope exchanged between nodes. Every message carries the
// consensus instance it belongs to and the identity of its sender; a Msg is
// immutable once constructed.
//
// Field use per type:
//
//	Prepare:  Ballot
//	Promise:  Ballot (the promised one), Prior (acceptance before the promise, if any)
//	Accept:   Ballot, Value
//	Accepted: Ballot, Value
//	Nack:     Ballot (the rejected one), Promised (the higher ballot to beat), Reason
type Msg struct {
	Type     MsgType
	Instance uint64
	From     uint64
	To       uint64

	Ballot   Ballot
	Value    []byte
	Prior    *AcceptedValue
	Promised Ballot
	Reason   string
}
