package kiss

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radio-control/tracker/internal/config"
	"github.com/radio-control/tracker/internal/lld/lldtest"
	"github.com/radio-control/tracker/internal/radio"
)

func TestEncodeEscapes(t *testing.T) {
	got := Encode(1, CmdData, []byte{0x01, FEND, 0x02, FESC})
	want := []byte{FEND, 0x10, 0x01, FESC, TFEND, 0x02, FESC, TFESC, FEND}
	assert.Equal(t, want, got)

	assert.Equal(t, []byte{FEND, 0xFF, FEND}, Encode(3, CmdReturn, nil))
}

func TestDecoderRoundTrip(t *testing.T) {
	payload := []byte{0x00, FEND, FESC, 0x7E, 0xFF}
	stream := append([]byte{0x55, 0x55}, Encode(2, CmdData, payload)...)
	stream = append(stream, Encode(0, CmdTxDelay, []byte{30})...)

	dec := NewDecoder(MaxFrame)
	var frames []Frame
	// Feed one byte at a time to exercise reassembly.
	for _, b := range stream {
		frames = append(frames, dec.Feed([]byte{b})...)
	}

	require.Len(t, frames, 2)
	assert.Equal(t, Frame{Port: 2, Command: CmdData, Data: payload}, frames[0])
	assert.Equal(t, Frame{Port: 0, Command: CmdTxDelay, Data: []byte{30}}, frames[1])
}

func TestDecoderDropsBadFrames(t *testing.T) {
	dec := NewDecoder(8)

	bad := []byte{FEND, 0x00, FESC, 0x01, 0x02, FEND}
	assert.Empty(t, dec.Feed(bad), "invalid escape")

	long := append([]byte{FEND, 0x00}, make([]byte, 20)...)
	long = append(long, FEND)
	assert.Empty(t, dec.Feed(long), "oversize")

	assert.Len(t, dec.Feed(Encode(0, CmdData, []byte("ok"))), 1)
}

// pipePort is a fake serial line. The test plays the TNC on the far end.
type pipePort struct {
	*io.PipeReader
	*io.PipeWriter
}

func (p pipePort) Close() error {
	p.PipeReader.Close()
	return p.PipeWriter.Close()
}

type farEnd struct {
	toHost *io.PipeWriter

	mu     sync.Mutex
	frames []Frame
	got    chan struct{}
}

func newLink(t *testing.T) (*TNC, *farEnd) {
	t.Helper()
	hostR, tncW := io.Pipe()
	tncR, hostW := io.Pipe()

	far := &farEnd{toHost: tncW, got: make(chan struct{}, 64)}
	go func() {
		dec := NewDecoder(MaxFrame)
		buf := make([]byte, 64)
		for {
			n, err := tncR.Read(buf)
			for _, f := range dec.Feed(buf[:n]) {
				far.mu.Lock()
				far.frames = append(far.frames, f)
				far.mu.Unlock()
				far.got <- struct{}{}
			}
			if err != nil {
				return
			}
		}
	}()

	tnc := NewTNC("pipe", pipePort{PipeReader: hostR, PipeWriter: hostW})
	t.Cleanup(func() {
		tncW.Close()
		_ = tnc.Close()
	})
	return tnc, far
}

func (f *farEnd) wait(t *testing.T, n int) []Frame {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-f.got:
		case <-time.After(time.Second):
			t.Fatalf("TNC received %d frames, want %d", len(f.snapshot()), n)
		}
	}
	return f.snapshot()
}

func (f *farEnd) snapshot() []Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Frame(nil), f.frames...)
}

func mustRadio(t *testing.T, tnc *TNC, port int) *Radio {
	t.Helper()
	r, err := tnc.Radio(0, port, DefaultParams)
	require.NoError(t, err)
	return r
}

func TestRadioPortRange(t *testing.T) {
	tnc, _ := newLink(t)
	for _, port := range []int{-1, MaxPort + 1, 200} {
		_, err := tnc.Radio(0, port, DefaultParams)
		assert.Error(t, err, "port %d", port)
	}
	r := mustRadio(t, tnc, MaxPort)
	assert.Equal(t, uint8(MaxPort), r.port)
}

func TestInitSendsParameters(t *testing.T) {
	tnc, far := newLink(t)
	r := mustRadio(t, tnc, 1)

	require.NoError(t, r.Init())
	frames := far.wait(t, 4)
	assert.Equal(t, Frame{Port: 1, Command: CmdTxDelay, Data: []byte{30}}, frames[0])
	assert.Equal(t, Frame{Port: 1, Command: CmdPersistence, Data: []byte{63}}, frames[1])
	assert.Equal(t, Frame{Port: 1, Command: CmdSlotTime, Data: []byte{10}}, frames[2])
	assert.Equal(t, Frame{Port: 1, Command: CmdTxTail, Data: []byte{1}}, frames[3])
	assert.Same(t, r, mustRadio(t, tnc, 1))
}

func TestReceiveGatedByEnable(t *testing.T) {
	tnc, far := newLink(t)
	r := mustRadio(t, tnc, 0)
	frame := []byte("N0CALL>APRS:test")

	_, err := far.toHost.Write(Encode(0, CmdData, frame))
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return r.Dropped() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, r.EnableReceive(radio.ReceiveConfig{}))
	_, err = far.toHost.Write(Encode(0, CmdData, frame))
	require.NoError(t, err)

	select {
	case got := <-r.Frames():
		assert.Equal(t, frame, got)
	case <-time.After(time.Second):
		t.Fatal("frame not delivered")
	}
}

func TestTransmitThroughManager(t *testing.T) {
	tnc, far := newLink(t)
	r := mustRadio(t, tnc, 3)

	timing := config.LoadTimingBaseline()
	timing.IdlePoll = 10 * time.Millisecond
	timing.TxPoll = 5 * time.Millisecond
	mgr, err := radio.NewManager(radio.Options{
		Timing: timing,
		Units: []radio.UnitSpec{{
			Unit:  0,
			Band:  radio.Band{Min: 144000000, Max: 148000000, Default: 144390000, Step: 12500},
			Radio: r,
		}},
	})
	require.NoError(t, err)
	defer mgr.Close()

	payload := []byte{0x82, 0xA0, FEND, 0x03, 0xF0}
	_, err = mgr.Transmit(context.Background(), 0, radio.TransmitRequest{
		Modulation: radio.ModAFSK,
		Frequency:  144390000,
		Packet:     radio.NewPacket(payload, nil),
	})
	require.NoError(t, err)

	frames := far.wait(t, 1)
	assert.Equal(t, Frame{Port: 3, Command: CmdData, Data: payload}, frames[0])

	_, err = mgr.Transmit(context.Background(), 0, radio.TransmitRequest{
		Modulation: radio.Mod2FSK,
		Frequency:  144390000,
		Packet:     radio.NewPacket(payload, nil),
	})
	assert.ErrorIs(t, err, radio.ErrSendRejected, "a TNC cannot do 2FSK")
}

func TestClosedLink(t *testing.T) {
	tnc, _ := newLink(t)
	r := mustRadio(t, tnc, 0)
	require.NoError(t, tnc.Close())

	assert.ErrorIs(t, r.Init(), ErrClosed)
	assert.False(t, r.ResumeReceive(radio.ReceiveConfig{}))
	_, open := <-r.Frames()
	assert.False(t, open, "frame source closed with the link")
}

func TestKISSConformance(t *testing.T) {
	lldtest.RunConformance(t, "kiss", func(t *testing.T) lldtest.Instance {
		tnc, far := newLink(t)
		r := mustRadio(t, tnc, 2)
		return lldtest.Instance{
			Radio:  r,
			Source: r,
			Inject: func(_ radio.Frequency, frame []byte) {
				_, _ = far.toHost.Write(Encode(2, CmdData, frame))
			},
			Sent: func() [][]byte {
				var out [][]byte
				for _, f := range far.snapshot() {
					if f.Command == CmdData {
						out = append(out, f.Data)
					}
				}
				return out
			},
		}
	}, lldtest.Capabilities{
		Band:        radio.Band{Min: 144000000, Max: 148000000, Default: 144390000, Step: 12500},
		Modulations: []radio.Modulation{radio.ModAFSK},
	})
}
