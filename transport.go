package paxos

// Transport delivers protocol messages between named peers.
// Send is fire-and-forget: the transport may silently drop, duplicate or
// reorder messages, and the protocol stays correct under all of it. Replies
// travel as independent messages, never as return values.
type Transport interface {
	Send(to uint64, m Msg) error
}
