package transport

import (
	"testing"
	"time"
)

func TestLogFramePadding(t *testing.T) {
	testLogFrame(t, &PaddingFrame{Length: 1}, "frame_type=padding length=1")
}

func TestLogFramePing(t *testing.T) {
	testLogFrame(t, &PingFrame{}, "frame_type=ping")
}

func TestLogFrameAck(t *testing.T) {
	f := &AckFrame{LargestAcked: 1, AckDelay: 2, FirstRange: 3}
	testLogFrame(t, f, "frame_type=ack largest_acked=1 ack_delay=2 ack_range_count=0")
}

func TestLogFrameResetStream(t *testing.T) {
	f := &ResetStreamFrame{StreamID: 1, ErrorCode: 2, FinalSize: 3}
	testLogFrame(t, f, "frame_type=reset_stream stream_id=1 error_code=2 final_size=3")
}

func TestLogFrameStopSending(t *testing.T) {
	f := &StopSendingFrame{StreamID: 1, ErrorCode: 2}
	testLogFrame(t, f, "frame_type=stop_sending stream_id=1 error_code=2")
}

func TestLogFrameCrypto(t *testing.T) {
	f := &CryptoFrame{Offset: 1, Data: make([]byte, 5)}
	testLogFrame(t, f, "frame_type=crypto offset=1 length=5")
}

func TestLogFrameNewToken(t *testing.T) {
	f := &NewTokenFrame{Token: make([]byte, 4)}
	testLogFrame(t, f, "frame_type=new_token length=4")
}

func TestLogFrameStream(t *testing.T) {
	f := &StreamFrame{StreamID: 2, Offset: 3, Data: make([]byte, 4), Fin: true}
	testLogFrame(t, f, "frame_type=stream stream_id=2 offset=3 length=4 fin=true")
}

func TestLogFrameMaxData(t *testing.T) {
	f := &MaxDataFrame{MaximumData: 1}
	testLogFrame(t, f, "frame_type=max_data maximum=1")
}

func TestLogFrameMaxStreamData(t *testing.T) {
	f := &MaxStreamDataFrame{StreamID: 1, MaximumData: 2}
	testLogFrame(t, f, "frame_type=max_stream_data stream_id=1 maximum=2")
}

func TestLogFrameMaxStreams(t *testing.T) {
	f := &MaxStreamsFrame{MaximumStreams: 1, Bidi: false}
	testLogFrame(t, f, "frame_type=max_streams stream_type=unidirectional maximum=1")
	f = &MaxStreamsFrame{MaximumStreams: 2, Bidi: true}
	testLogFrame(t, f, "frame_type=max_streams stream_type=bidirectional maximum=2")
}

func TestLogFrameDataBlocked(t *testing.T) {
	f := &DataBlockedFrame{DataLimit: 1}
	testLogFrame(t, f, "frame_type=data_blocked limit=1")
}

func TestLogFrameStreamDataBlocked(t *testing.T) {
	f := &StreamDataBlockedFrame{StreamID: 1, DataLimit: 2}
	testLogFrame(t, f, "frame_type=stream_data_blocked stream_id=1 limit=2")
}

func TestLogFrameStreamsBlocked(t *testing.T) {
	f := &StreamsBlockedFrame{StreamLimit: 1, Bidi: false}
	testLogFrame(t, f, "frame_type=streams_blocked stream_type=unidirectional limit=1")
	f = &StreamsBlockedFrame{StreamLimit: 2, Bidi: true}
	testLogFrame(t, f, "frame_type=streams_blocked stream_type=bidirectional limit=2")
}

func TestLogFrameConnectionClose(t *testing.T) {
	f := &ConnectionCloseFrame{ErrorCode: 0x122, TriggerFrameType: 99, ReasonPhrase: []byte("reason")}
	testLogFrame(t, f, "frame_type=connection_close error_space=transport raw_error_code=290 reason=reason trigger_frame_type=99")
}

func TestLogFrameHandshakeDone(t *testing.T) {
	testLogFrame(t, &HandshakeDoneFrame{}, "frame_type=handshake_done")
}

func TestLogFrameNewConnectionID(t *testing.T) {
	f := &NewConnectionIDFrame{SequenceNumber: 1, RetirePriorTo: 0, ConnectionID: []byte{0xab, 0xcd}}
	testLogFrame(t, f, "frame_type=new_connection_id sequence_number=1 retire_prior_to=0 connection_id=abcd")
}

func TestLogFrameGoAway(t *testing.T) {
	f := &GoAwayFrame{ErrorCode: 1, LastGoodStream: 4, ReasonPhrase: []byte("bye")}
	testLogFrame(t, f, "frame_type=goaway error_code=1 last_good_stream_id=4 reason=bye")
}

func testLogFrame(t *testing.T, f Frame, expect string) {
	tm := time.Date(2020, time.January, 5, 2, 3, 4, 5, time.UTC)
	e := newLogEventFrame(tm, logEventFramesProcessed, f)
	expect = "2020-01-05T02:03:04Z frames_processed " + expect
	actual := e.String()
	if expect != actual {
		t.Helper()
		t.Fatalf("\nexpect %v\nactual %v", expect, actual)
	}
}
