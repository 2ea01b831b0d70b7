package dispatch

import (
	"net"

	"github.com/quicrelay/qdispatch/bufferedpacket"
	"github.com/quicrelay/qdispatch/session"
)

// PacketInfo carries everything the Dispatcher has learned about one
// inbound datagram by the time a Visitor callback needs it, mirroring
// ReceivedPacketInfo.
type PacketInfo struct {
	SelfAddr, PeerAddr net.Addr
	ConnectionID       string
	SourceConnectionID string
	Version            uint32
	VersionLabel       uint32
	VersionFlag        bool
	VersionSupported   bool
	IETFQUIC           bool
	LengthPrefixedCID  bool
	Packet             []byte
}

// Visitor is everything the Dispatcher calls out to beyond the narrow
// collaborators (Store, time-wait Manager, Framer): session creation and
// the handful of observability/policy hooks spec.md §6 enumerates.
type Visitor interface {
	session.Factory

	// OnBufferPacketFailure reports that Store.Enqueue refused a packet.
	OnBufferPacketFailure(reason bufferedpacket.EnqueueResult, connectionID string)

	// OnExpiredPackets reports a buffered connection's lifetime expiring
	// before a session was created for it, whether or not its CHLO had
	// completed.
	OnExpiredPackets(connectionID string, list bufferedpacket.List)

	// OnNewConnectionRejected reports that a packet carrying a new
	// connection ID was rejected because AcceptNewConnections is false.
	OnNewConnectionRejected()

	// OnConnectionAddedToTimeWaitList reports a connection ID's admission
	// to the time-wait list.
	OnConnectionAddedToTimeWaitList(connectionID string)

	// ShouldCreateOrBufferPacketForConnection reports whether the
	// dispatcher may start tracking a brand-new connection ID at all.
	ShouldCreateOrBufferPacketForConnection(info PacketInfo) bool

	// ShouldCreateSessionForUnknownVersion lets the visitor special-case a
	// version label the dispatcher does not itself understand, bypassing
	// version negotiation entirely.
	ShouldCreateSessionForUnknownVersion(versionLabel uint32) bool

	// OnFailedToDispatchPacket gives the visitor one last chance to handle
	// a packet the fast path could not place; true means it was handled.
	OnFailedToDispatchPacket(info PacketInfo) bool
}
