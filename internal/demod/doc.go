// Package demod provides the AFSK decoder used by receive sessions.
//
// A Decoder owns one goroutine that reads raw AX.25 frames from a
// radio.FrameSource, checks them and hands good frames to the session's
// radio.FrameSink. The goroutine moves through these states:
//
//	Wait -> Active <-> Suspend
//	  any -> Close -> Terminated
//
// Frames read outside Active are discarded so the source never backs up.
// Close is acknowledged with radio.DecoderCloseAck on the event channel
// before the goroutine exits.
package demod
