package main

import (
	"net"

	"github.com/sirupsen/logrus"

	"github.com/quicrelay/qdispatch/bufferedpacket"
	"github.com/quicrelay/qdispatch/dispatch"
	"github.com/quicrelay/qdispatch/session"
)

// loggingVisitor is the dispatch.Visitor this binary runs with: it admits
// every new connection and reports every dispatcher callback as a log
// line, since the session/stream-layer state machine a real visitor would
// drive lives outside this module.
type loggingVisitor struct {
	log *logrus.Logger
}

func newLoggingVisitor(log *logrus.Logger) *loggingVisitor {
	return &loggingVisitor{log: log}
}

func (v *loggingVisitor) Create(connectionID string, selfAddr, peerAddr net.Addr, alpn string, version uint32) session.Session {
	v.log.WithFields(logrus.Fields{
		"connection_id": connectionID,
		"peer":          peerAddr,
		"alpn":          alpn,
		"version":       version,
	}).Info("session created")
	return &loggingSession{id: connectionID, version: version, log: v.log}
}

func (v *loggingVisitor) OnConnectionClosed(connectionID string, reason session.ClosedReason) {
	v.log.WithFields(logrus.Fields{
		"connection_id": connectionID,
		"reason":        reason,
	}).Info("session closed")
}

func (v *loggingVisitor) OnBufferPacketFailure(reason bufferedpacket.EnqueueResult, connectionID string) {
	v.log.WithFields(logrus.Fields{
		"connection_id": connectionID,
		"reason":        reason.String(),
	}).Warn("refused to buffer packet")
}

func (v *loggingVisitor) OnExpiredPackets(connectionID string, list bufferedpacket.List) {
	v.log.WithFields(logrus.Fields{
		"connection_id": connectionID,
		"packets":       len(list.Packets),
	}).Warn("buffered packets expired before a session was created")
}

func (v *loggingVisitor) OnNewConnectionRejected() {
	v.log.Warn("rejected new connection: not accepting new connections")
}

func (v *loggingVisitor) OnConnectionAddedToTimeWaitList(connectionID string) {
	v.log.WithField("connection_id", connectionID).Debug("added to time-wait list")
}

func (v *loggingVisitor) ShouldCreateOrBufferPacketForConnection(info dispatch.PacketInfo) bool {
	return true
}

func (v *loggingVisitor) ShouldCreateSessionForUnknownVersion(versionLabel uint32) bool {
	return false
}

func (v *loggingVisitor) OnFailedToDispatchPacket(info dispatch.PacketInfo) bool {
	return false
}

// loggingSession is a placeholder session.Session: it logs every packet it
// receives instead of driving a handshake, since the per-connection
// session/stream-layer state machine is an external collaborator this
// module only defines the contract for.
type loggingSession struct {
	id      string
	version uint32
	log     *logrus.Logger
}

func (s *loggingSession) ProcessPacket(selfAddr, peerAddr net.Addr, packet []byte) {
	s.log.WithFields(logrus.Fields{
		"connection_id": s.id,
		"peer":          peerAddr,
		"bytes":         len(packet),
	}).Debug("session received packet")
}

func (s *loggingSession) Version() uint32 { return s.version }
