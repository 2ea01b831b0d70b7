package transport

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Supported log events
// https://quiclog.github.io/internet-drafts/draft-marx-qlog-event-definitions-quic-h3.html
const (
	logEventPacketReceived  = "packet_received"
	logEventPacketSent      = "packet_sent"
	logEventPacketDropped   = "packet_dropped"
	logEventFramesProcessed = "frames_processed"
)

// LogEvent is an event describing a packet, a frame, or a dispatcher
// decision, shaped for structured logging (spec.md's ambient logging
// concern follows the teacher's qlog-flavored event/field model).
type LogEvent struct {
	Time   time.Time
	Type   string
	Fields []LogField
}

func newLogEvent(tm time.Time, tp string) LogEvent {
	return LogEvent{
		Time:   tm,
		Type:   tp,
		Fields: make([]LogField, 0, 8),
	}
}

func (s *LogEvent) addField(k string, v interface{}) {
	s.Fields = append(s.Fields, newLogField(k, v))
}

func (s LogEvent) String() string {
	buf := bytes.Buffer{}
	buf.WriteString(s.Time.Format(time.RFC3339))
	buf.WriteString(" ")
	buf.WriteString(s.Type)
	for _, f := range s.Fields {
		buf.WriteString(" ")
		buf.WriteString(f.String())
	}
	return buf.String()
}

// LogField represents a number or string value.
type LogField struct {
	Key string // Field name
	Str string // String value
	Num uint64 // Number value
}

func newLogField(key string, val interface{}) LogField {
	s := LogField{
		Key: key,
	}
	switch val := val.(type) {
	case int:
		s.Num = uint64(val)
	case int8:
		s.Num = uint64(val)
	case int16:
		s.Num = uint64(val)
	case int32:
		s.Num = uint64(val)
	case int64:
		s.Num = uint64(val)
	case uint:
		s.Num = uint64(val)
	case uint8:
		s.Num = uint64(val)
	case uint16:
		s.Num = uint64(val)
	case uint32:
		s.Num = uint64(val)
	case uint64:
		s.Num = val
	case bool:
		s.Str = strconv.FormatBool(val)
	case string:
		s.Str = val
	case []byte:
		s.Str = hex.EncodeToString(val)
	case []uint32:
		b := make([]byte, 0, 32)
		b = append(b, '[')
		for i, v := range val {
			if i > 0 {
				b = append(b, ',')
			}
			b = strconv.AppendUint(b, uint64(v), 10)
		}
		b = append(b, ']')
		s.Str = string(b)
	default:
		panic("unsupported type for log field")
	}
	return s
}

func (s LogField) String() string {
	if s.Str == "" {
		return fmt.Sprintf("%s=%d", s.Key, s.Num)
	}
	return fmt.Sprintf("%s=%s", s.Key, s.Str)
}

// Log packets

// newLogEventPacketHeader describes a parsed public header, before or in
// place of a full authenticated parse — the cheap path spec.md §4.B
// describes as "the only hot path used by the dispatcher before it knows
// whether a session exists".
func newLogEventPacketHeader(tm time.Time, tp string, h *PublicHeader) LogEvent {
	e := newLogEvent(tm, tp)
	switch h.Form {
	case FormLong:
		e.addField("packet_type", h.LongType.String())
	case FormShort:
		e.addField("packet_type", "1RTT")
	default:
		e.addField("packet_type", "legacy")
	}
	if h.HasVersion {
		e.addField("version", h.VersionLabel)
	}
	if len(h.DestinationCID) > 0 {
		e.addField("dcid", h.DestinationCID)
	}
	if len(h.SourceCID) > 0 {
		e.addField("scid", h.SourceCID)
	}
	if h.HasToken {
		e.addField("token_length", len(h.Token))
	}
	return e
}

// logPacketDropped records a datagram the dispatcher refused, identified
// by reason rather than by a fully parsed header when parsing itself is
// what failed.
func logPacketDropped(tm time.Time, reason string) LogEvent {
	e := newLogEvent(tm, logEventPacketDropped)
	e.addField("reason", reason)
	return e
}

// Log frames

func newLogEventFrame(tm time.Time, tp string, f Frame) LogEvent {
	e := newLogEvent(tm, tp)
	switch f := f.(type) {
	case *PaddingFrame:
		logFramePadding(&e, f)
	case *PingFrame:
		logFramePing(&e, f)
	case *AckFrame:
		logFrameAck(&e, f)
	case *ResetStreamFrame:
		logFrameResetStream(&e, f)
	case *StopSendingFrame:
		logFrameStopSending(&e, f)
	case *CryptoFrame:
		logFrameCrypto(&e, f)
	case *NewTokenFrame:
		logFrameNewToken(&e, f)
	case *StreamFrame:
		logFrameStream(&e, f)
	case *MaxDataFrame:
		logFrameMaxData(&e, f)
	case *MaxStreamDataFrame:
		logFrameMaxStreamData(&e, f)
	case *MaxStreamsFrame:
		logFrameMaxStreams(&e, f)
	case *DataBlockedFrame:
		logFrameDataBlocked(&e, f)
	case *StreamDataBlockedFrame:
		logFrameStreamDataBlocked(&e, f)
	case *StreamsBlockedFrame:
		logFrameStreamsBlocked(&e, f)
	case *NewConnectionIDFrame:
		logFrameNewConnectionID(&e, f)
	case *RetireConnectionIDFrame:
		logFrameRetireConnectionID(&e, f)
	case *PathChallengeFrame:
		e.addField("frame_type", "path_challenge")
	case *PathResponseFrame:
		e.addField("frame_type", "path_response")
	case *ConnectionCloseFrame:
		logFrameConnectionClose(&e, f)
	case *HandshakeDoneFrame:
		e.addField("frame_type", "handshake_done")
	case *MessageFrame:
		logFrameMessage(&e, f)
	case *StopWaitingFrame:
		logFrameStopWaiting(&e, f)
	case *GoAwayFrame:
		logFrameGoAway(&e, f)
	}
	return e
}

func logFramePadding(e *LogEvent, s *PaddingFrame) {
	e.addField("frame_type", "padding")
	e.addField("length", s.Length)
}

func logFramePing(e *LogEvent, s *PingFrame) {
	e.addField("frame_type", "ping")
}

func logFrameAck(e *LogEvent, s *AckFrame) {
	e.addField("frame_type", "ack")
	e.addField("largest_acked", s.LargestAcked)
	e.addField("ack_delay", s.AckDelay)
	e.addField("ack_range_count", len(s.Ranges))
	if s.ECN != nil {
		e.addField("ect0", s.ECN.ECT0)
		e.addField("ect1", s.ECN.ECT1)
		e.addField("ecn_ce", s.ECN.ECNCE)
	}
}

func logFrameResetStream(e *LogEvent, s *ResetStreamFrame) {
	e.addField("frame_type", "reset_stream")
	e.addField("stream_id", s.StreamID)
	e.addField("error_code", s.ErrorCode)
	e.addField("final_size", s.FinalSize)
}

func logFrameStopSending(e *LogEvent, s *StopSendingFrame) {
	e.addField("frame_type", "stop_sending")
	e.addField("stream_id", s.StreamID)
	e.addField("error_code", s.ErrorCode)
}

func logFrameCrypto(e *LogEvent, s *CryptoFrame) {
	e.addField("frame_type", "crypto")
	e.addField("offset", s.Offset)
	e.addField("length", len(s.Data))
}

func logFrameNewToken(e *LogEvent, s *NewTokenFrame) {
	e.addField("frame_type", "new_token")
	e.addField("length", len(s.Token))
}

func logFrameStream(e *LogEvent, s *StreamFrame) {
	e.addField("frame_type", "stream")
	e.addField("stream_id", s.StreamID)
	e.addField("offset", s.Offset)
	e.addField("length", len(s.Data))
	e.addField("fin", s.Fin)
}

func logFrameMaxData(e *LogEvent, s *MaxDataFrame) {
	e.addField("frame_type", "max_data")
	e.addField("maximum", s.MaximumData)
}

func logFrameMaxStreamData(e *LogEvent, s *MaxStreamDataFrame) {
	e.addField("frame_type", "max_stream_data")
	e.addField("stream_id", s.StreamID)
	e.addField("maximum", s.MaximumData)
}

func logFrameMaxStreams(e *LogEvent, s *MaxStreamsFrame) {
	e.addField("frame_type", "max_streams")
	e.addField("stream_type", streamTypeString(s.Bidi))
	e.addField("maximum", s.MaximumStreams)
}

func logFrameDataBlocked(e *LogEvent, s *DataBlockedFrame) {
	e.addField("frame_type", "data_blocked")
	e.addField("limit", s.DataLimit)
}

func logFrameStreamDataBlocked(e *LogEvent, s *StreamDataBlockedFrame) {
	e.addField("frame_type", "stream_data_blocked")
	e.addField("stream_id", s.StreamID)
	e.addField("limit", s.DataLimit)
}

func logFrameStreamsBlocked(e *LogEvent, s *StreamsBlockedFrame) {
	e.addField("frame_type", "streams_blocked")
	e.addField("stream_type", streamTypeString(s.Bidi))
	e.addField("limit", s.StreamLimit)
}

func logFrameNewConnectionID(e *LogEvent, s *NewConnectionIDFrame) {
	e.addField("frame_type", "new_connection_id")
	e.addField("sequence_number", s.SequenceNumber)
	e.addField("retire_prior_to", s.RetirePriorTo)
	e.addField("connection_id", s.ConnectionID)
}

func logFrameRetireConnectionID(e *LogEvent, s *RetireConnectionIDFrame) {
	e.addField("frame_type", "retire_connection_id")
	e.addField("sequence_number", s.SequenceNumber)
}

func logFrameConnectionClose(e *LogEvent, s *ConnectionCloseFrame) {
	e.addField("frame_type", "connection_close")
	if s.Application {
		e.addField("error_space", "application")
	} else {
		e.addField("error_space", "transport")
	}
	e.addField("raw_error_code", s.ErrorCode)
	e.addField("reason", string(s.ReasonPhrase))
	if !s.Application && s.TriggerFrameType > 0 {
		e.addField("trigger_frame_type", s.TriggerFrameType)
	}
	if s.Legacy && s.ExtractedErrorCode != MissingExtractedErrorCode {
		e.addField("extracted_error_code", s.ExtractedErrorCode)
	}
}

func logFrameMessage(e *LogEvent, s *MessageFrame) {
	e.addField("frame_type", "message")
	e.addField("length", len(s.Data))
}

func logFrameStopWaiting(e *LogEvent, s *StopWaitingFrame) {
	e.addField("frame_type", "stop_waiting")
	e.addField("least_unacked", s.LeastUnacked)
}

func logFrameGoAway(e *LogEvent, s *GoAwayFrame) {
	e.addField("frame_type", "goaway")
	e.addField("error_code", s.ErrorCode)
	e.addField("last_good_stream_id", s.LastGoodStream)
	e.addField("reason", string(s.ReasonPhrase))
}

func streamTypeString(bidi bool) string {
	if bidi {
		return "bidirectional"
	}
	return "unidirectional"
}

func logUnknownFrame(e *LogEvent, frameType uint64, b []byte) {
	e.addField("frame_type", "unknown")
	e.addField("raw_frame_type", frameType)
	e.addField("raw", b)
}
