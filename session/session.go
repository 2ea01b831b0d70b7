// Package session declares the contracts the dispatcher relies on for the
// per-connection session/stream-layer state machine. spec.md §1 scopes that
// state machine itself out of this repository; only the narrow interface
// the Dispatcher calls into, and the callback it expects back, live here.
package session

import "net"

// Session is everything the Dispatcher needs from an established QUIC
// connection once a session has been created for it (spec.md §4.G's
// `create_session(id, self_addr, peer_addr, alpn, version) -> session`
// factory result).
type Session interface {
	// ProcessPacket delivers one more already-classified datagram to this
	// session, in arrival order.
	ProcessPacket(selfAddr, peerAddr net.Addr, packet []byte)

	// Version reports the QUIC version this session negotiated. The
	// Dispatcher does not compare it against an inbound packet's version
	// before delivering the packet.
	Version() uint32
}

// Writable is implemented by a Session that wants a turn to flush queued
// writes once the dispatcher's underlying socket reports it can write
// again. OnCanWrite reports whether the session is still blocked and
// should be re-registered for the next turn.
type Writable interface {
	OnCanWrite() bool
}

// ClosedReason is passed to Factory's OnConnectionClosed callback, mirroring
// QuicDispatcher::CleanUpSession's ConnectionCloseSource parameter.
type ClosedReason int

const (
	ClosedBySelf ClosedReason = iota
	ClosedByPeer
)

// Factory creates sessions on demand and is notified when one closes.
// ProcessChlo calls Create once a full ClientHello is available and
// session-creation budget remains (spec.md §4.G).
type Factory interface {
	// Create builds a new Session for connectionID, bound to version and
	// alpn (the result of the dispatcher's ALPN selection).
	Create(connectionID string, selfAddr, peerAddr net.Addr, alpn string, version uint32) Session

	// OnConnectionClosed is invoked once a Session signals it is done;
	// the Dispatcher has already removed it from its session map by the
	// time this is called.
	OnConnectionClosed(connectionID string, reason ClosedReason)
}
