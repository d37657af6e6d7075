package radio

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManagerRejectsBadRegistry(t *testing.T) {
	radio := &fakeRadio{}
	tests := []struct {
		name  string
		units []UnitSpec
	}{
		{"no units", nil},
		{"negative unit", []UnitSpec{{Unit: -1, Band: testBand, Radio: radio}}},
		{"duplicate unit", []UnitSpec{{Unit: 1, Band: testBand, Radio: radio}, {Unit: 1, Band: testBand, Radio: radio}}},
		{"nil radio", []UnitSpec{{Unit: 0, Band: testBand}}},
		{"empty band", []UnitSpec{{Unit: 0, Band: Band{Min: 10, Max: 10, Default: 10, Step: 1}, Radio: radio}}},
		{"default outside band", []UnitSpec{{Unit: 0, Band: Band{Min: 10, Max: 20, Default: 20, Step: 1}, Radio: radio}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr, err := NewManager(Options{Timing: testTiming(), Units: tt.units})
			assert.Error(t, err)
			assert.Nil(t, mgr)
		})
	}

	_, err := NewManager(Options{Units: []UnitSpec{{Unit: 0, Band: testBand, Radio: radio}}})
	assert.Error(t, err, "missing timing must be rejected")
}

func TestInvalidUnit(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	_, err := rig.mgr.GetTaskObject(ctx, 7, time.Millisecond)
	assert.ErrorIs(t, err, ErrInvalidUnit)
	assert.ErrorIs(t, rig.mgr.AcquireRadio(ctx, 7, time.Millisecond), ErrInvalidUnit)
	assert.ErrorIs(t, rig.mgr.ReleaseRadio(7), ErrInvalidUnit)
	_, err = rig.mgr.ComputeOperatingFrequency(7, 144390000, 0, 0, ModeReceive)
	assert.ErrorIs(t, err, ErrInvalidUnit)
	assert.False(t, rig.mgr.IsFrequencyInBand(7, 144390000))
	_, err = rig.mgr.Status(7)
	assert.ErrorIs(t, err, ErrInvalidUnit)
}

// Scenario: RxOpen(AFSK), RxStart(144390000, 0, 0, 0x3F), two TxSend 50ms
// apart, RxStop, RxClose.
func TestReceiveTransmitScenario(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	g := make(gate)
	rig.radio.BurstFunc = g.burst

	require.NoError(t, rig.mgr.OpenReceive(ctx, 0, ModAFSK, nil))
	require.NoError(t, rig.mgr.StartReceive(ctx, 0, 144390000, 0, 0, 0x3F))

	st, err := rig.mgr.Status(0)
	require.NoError(t, err)
	assert.True(t, st.SessionOpen)
	assert.True(t, st.Receiving)
	assert.Equal(t, Frequency(144390000), st.Frequency)
	assert.Equal(t, "afsk", st.Modulation)

	results := make(chan TransmitResult, 2)
	send := func(payload string) {
		err := rig.mgr.TransmitAsync(ctx, 0, TransmitRequest{
			Modulation: ModAFSK,
			Frequency:  FreqReceive,
			Packet:     NewPacket([]byte(payload), nil),
		}, func(res TransmitResult) { results <- res })
		require.NoError(t, err)
	}

	send("first")
	first := rig.events.waitFor(t, EventTransmitQueued)
	time.Sleep(50 * time.Millisecond)
	send("second")
	second := rig.events.waitFor(t, EventTransmitQueued)
	assert.Equal(t, uint32(1), first.Sequence)
	assert.Equal(t, uint32(2), second.Sequence)

	st, _ = rig.mgr.Status(0)
	assert.Equal(t, int32(2), st.InFlight)
	assert.True(t, st.Paused, "reception is paused while bursts are on air")

	close(g)
	got := map[uint32]error{}
	for i := 0; i < 2; i++ {
		select {
		case res := <-results:
			got[res.Sequence] = res.Err
		case <-time.After(2 * time.Second):
			t.Fatal("transmit results not delivered")
		}
	}
	assert.Equal(t, map[uint32]error{1: nil, 2: nil}, got)
	rig.events.waitFor(t, EventTransmitDone)

	require.NoError(t, rig.mgr.StopReceive(ctx, 0))
	require.NoError(t, rig.mgr.CloseReceive(ctx, 0))

	st, _ = rig.mgr.Status(0)
	assert.False(t, st.SessionOpen)
	assert.False(t, st.Receiving)
	assert.Equal(t, int32(0), st.InFlight)

	// Decoder created once and destroyed once.
	rig.decoders.mu.Lock()
	created := len(rig.decoders.created)
	rig.decoders.mu.Unlock()
	assert.Equal(t, 1, created)
	select {
	case <-rig.decoders.last().done:
	default:
		t.Error("decoder not closed")
	}

	// Both sends resolved FreqReceive to the receive tuning.
	for _, req := range rig.radio.Sends() {
		assert.Equal(t, Frequency(144390000), req.Frequency)
	}
	// One resume once the last burst is reclaimed.
	assert.Equal(t, 1, rig.radio.Count("ResumeReceive"))
	assert.Equal(t, []string{"Init", "SetBand", "EnableReceive", "SendAFSK", "SendAFSK", "ResumeReceive", "DisableReceive"},
		rig.radio.Calls())

	flags := rig.events.Flags()
	require.NotEmpty(t, flags)
	assert.Equal(t, EventReceiveOpened, flags[0])
	assert.Equal(t, EventReceiveStarted, flags[1])
	assert.Equal(t, EventReceiveClosed, flags[len(flags)-1])
	assert.Equal(t, EventReceiveStopped, flags[len(flags)-2])

	assert.Equal(t, []string{"rxOpen", "rxStart", "txThreadDone", "txThreadDone", "rxStop", "rxClose"}, rig.audit.Actions())
}

func TestTransmitCountNeverNegative(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res, err := rig.mgr.Transmit(ctx, 0, TransmitRequest{
			Modulation: Mod2FSK,
			Frequency:  144800000,
			Packet:     NewPacket([]byte{byte(i)}, nil),
		})
		require.NoError(t, err)
		assert.Equal(t, uint32(i+1), res.Sequence)

		st, _ := rig.mgr.Status(0)
		assert.GreaterOrEqual(t, st.InFlight, int32(0))
	}

	// A stray completion must not drive the count below zero.
	u := rig.mgr.units[0]
	assert.Equal(t, int32(0), u.decrementTx())
	assert.Equal(t, int32(0), u.txCount.Load())
}

func TestTransmitWithoutSessionShutsDownRadio(t *testing.T) {
	rig := newTestRig(t)

	_, err := rig.mgr.Transmit(context.Background(), 0, TransmitRequest{
		Modulation: ModAFSK,
		Frequency:  144390000,
		Packet:     NewPacket([]byte("beacon"), nil),
	})
	require.NoError(t, err)
	rig.events.waitFor(t, EventRadioShutdown)
	assert.Equal(t, 0, rig.radio.Count("ResumeReceive"))
}

func TestTransmitIsNonBlocking(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	g := make(gate)
	rig.radio.BurstFunc = g.burst
	defer close(g)

	start := time.Now()
	require.NoError(t, rig.mgr.TransmitAsync(ctx, 0, TransmitRequest{
		Modulation: ModAFSK,
		Frequency:  144390000,
		Packet:     NewPacket([]byte("x"), nil),
	}, nil))
	rig.events.waitFor(t, EventTransmitQueued)

	// The dispatcher keeps serving while the burst is on air.
	require.NoError(t, rig.mgr.OpenReceive(ctx, 0, ModAFSK, nil))
	require.NoError(t, rig.mgr.StartReceive(ctx, 0, FreqDynamic, 0, 0, 0))
	assert.Less(t, time.Since(start), time.Second)

	st, _ := rig.mgr.Status(0)
	assert.Equal(t, int32(1), st.InFlight)
	assert.True(t, st.Paused, "receive started mid-burst waits for the burst")
	assert.Equal(t, 0, rig.radio.Count("EnableReceive"))
}

func TestCloseWaitsForTransmit(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	g := make(gate)
	rig.radio.BurstFunc = g.burst

	require.NoError(t, rig.mgr.OpenReceive(ctx, 0, ModAFSK, nil))
	require.NoError(t, rig.mgr.TransmitAsync(ctx, 0, TransmitRequest{
		Modulation: ModAFSK,
		Frequency:  144390000,
		Packet:     NewPacket([]byte("x"), nil),
	}, nil))
	rig.events.waitFor(t, EventTransmitQueued)

	closed := make(chan error, 1)
	go func() { closed <- rig.mgr.CloseReceive(ctx, 0) }()

	select {
	case err := <-closed:
		t.Fatalf("CloseReceive returned %v with a burst in flight", err)
	case <-time.After(80 * time.Millisecond):
	}
	assert.Equal(t, 0, rig.radio.Count("DisableReceive"))

	close(g)
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("CloseReceive never returned")
	}

	flags := rig.events.Flags()
	done, closedAt := -1, -1
	for i, f := range flags {
		switch f {
		case EventTransmitDone:
			done = i
		case EventReceiveClosed:
			closedAt = i
		}
	}
	assert.True(t, done >= 0 && closedAt > done, "close after transmit done: %v", flags)
}

func TestTransmitRejected(t *testing.T) {
	t.Run("driver refuses", func(t *testing.T) {
		rig := newTestRig(t)
		rig.radio.RefuseSend = true
		released := false
		_, err := rig.mgr.Transmit(context.Background(), 0, TransmitRequest{
			Modulation: ModAFSK,
			Frequency:  144390000,
			Packet:     NewPacket([]byte("x"), func() { released = true }),
		})
		assert.ErrorIs(t, err, ErrSendRejected)
		assert.True(t, released)
		rig.events.waitFor(t, EventTransmitRejected)
	})

	t.Run("out of band", func(t *testing.T) {
		rig := newTestRig(t)
		_, err := rig.mgr.Transmit(context.Background(), 0, TransmitRequest{
			Modulation: ModAFSK,
			Frequency:  433000000,
			Packet:     NewPacket([]byte("x"), nil),
		})
		assert.ErrorIs(t, err, ErrInvalidFrequency)
		assert.Empty(t, rig.radio.Sends())
	})

	t.Run("no modulation", func(t *testing.T) {
		rig := newTestRig(t)
		_, err := rig.mgr.Transmit(context.Background(), 0, TransmitRequest{
			Frequency: 144390000,
			Packet:    NewPacket([]byte("x"), nil),
		})
		assert.ErrorIs(t, err, ErrSendRejected)
	})

	t.Run("empty packet", func(t *testing.T) {
		rig := newTestRig(t)
		_, err := rig.mgr.Transmit(context.Background(), 0, TransmitRequest{Modulation: ModAFSK, Frequency: 144390000})
		assert.ErrorIs(t, err, ErrSendRejected)
	})

	t.Run("rejection resumes receive", func(t *testing.T) {
		rig := newTestRig(t)
		ctx := context.Background()
		require.NoError(t, rig.mgr.OpenReceive(ctx, 0, ModAFSK, nil))
		require.NoError(t, rig.mgr.StartReceive(ctx, 0, 144390000, 0, 0, 0))
		rig.radio.RefuseSend = true

		_, err := rig.mgr.Transmit(ctx, 0, TransmitRequest{
			Modulation: ModAFSK,
			Frequency:  FreqReceive,
			Packet:     NewPacket([]byte("x"), nil),
		})
		assert.ErrorIs(t, err, ErrSendRejected)
		st, _ := rig.mgr.Status(0)
		assert.False(t, st.Paused)
	})
}

func TestTransmitFailuresClassified(t *testing.T) {
	tests := []struct {
		name  string
		burst func(ctx context.Context, req *SendRequest) error
		flag  EventFlag
		want  error
	}{
		{"start failure", func(context.Context, *SendRequest) error { return errBoom }, EventTransmitStartFailed, ErrTransmitStart},
		{"timeout", func(ctx context.Context, _ *SendRequest) error { <-ctx.Done(); return ctx.Err() }, EventTransmitTimeout, ErrTransmitTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig := newTestRig(t)
			rig.mgr.timing.TransmitTimeout = 50 * time.Millisecond
			rig.radio.BurstFunc = tt.burst

			res, err := rig.mgr.Transmit(context.Background(), 0, TransmitRequest{
				Modulation: ModAFSK,
				Frequency:  144390000,
				Packet:     NewPacket([]byte("x"), nil),
			})
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, uint32(1), res.Sequence)
			ev := rig.events.waitFor(t, tt.flag)
			assert.ErrorIs(t, ev.Err, tt.want)

			st, _ := rig.mgr.Status(0)
			assert.Equal(t, int32(0), st.InFlight)
		})
	}
}

func TestResumeFailureReported(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	rig.radio.ResumeReceiveFunc = func(ReceiveConfig) bool { return false }

	require.NoError(t, rig.mgr.OpenReceive(ctx, 0, ModAFSK, nil))
	require.NoError(t, rig.mgr.StartReceive(ctx, 0, 144390000, 0, 0, 0))
	_, err := rig.mgr.Transmit(ctx, 0, TransmitRequest{
		Modulation: ModAFSK,
		Frequency:  FreqReceive,
		Packet:     NewPacket([]byte("x"), nil),
	})
	require.NoError(t, err)

	ev := rig.events.waitFor(t, EventReceiveResumeFailed)
	assert.ErrorIs(t, ev.Err, ErrReceiveResume)
	st, _ := rig.mgr.Status(0)
	assert.False(t, st.Paused)
}

func TestPoolExhaustion(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	var held []*Task
	for i := 0; i < rig.mgr.timing.PoolSize; i++ {
		task, err := rig.mgr.GetTaskObject(ctx, 0, 10*time.Millisecond)
		require.NoError(t, err)
		held = append(held, task)
	}

	start := time.Now()
	_, err := rig.mgr.GetTaskObject(ctx, 0, 30*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	// Returning one makes the next request succeed.
	rig.mgr.ReleaseTaskObject(held[0])
	task, err := rig.mgr.GetTaskObject(ctx, 0, 10*time.Millisecond)
	require.NoError(t, err)
	held[0] = task

	for _, task := range held {
		rig.mgr.ReleaseTaskObject(task)
	}
	st, _ := rig.mgr.Status(0)
	assert.Equal(t, rig.mgr.timing.PoolSize, st.FreeTasks)
}

func TestSubmitTaskOwnership(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	task, err := rig.mgr.GetTaskObject(ctx, 0, time.Second)
	require.NoError(t, err)
	task.Command = RxStop

	done := make(chan error, 1)
	require.NoError(t, rig.mgr.SubmitTask(0, task, func(t *Task) { done <- t.Result }))
	assert.ErrorIs(t, rig.mgr.SubmitTask(0, task, nil), ErrTaskInUse, "double submit")

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrNoSession)
	case <-time.After(time.Second):
		t.Fatal("callback not invoked")
	}

	other, err := rig.mgr.GetTaskObject(ctx, 0, time.Second)
	require.NoError(t, err)
	other.Command = TxThreadDone
	assert.Error(t, rig.mgr.SubmitTask(0, other, nil), "TxThreadDone is internal")
}

func TestReceiveOpenAllOrNothing(t *testing.T) {
	tests := []struct {
		name     string
		services *stubServices
		decoders func(Unit, FrameSink) (Decoder, error)
		init     func() error
		flag     EventFlag
		want     error
	}{
		{
			name:     "buffer pool",
			services: &stubServices{poolErr: errBoom},
			flag:     EventBufferManagerFailed,
			want:     ErrBufferManager,
		},
		{
			name:     "callback manager",
			services: &stubServices{callbackErr: errBoom},
			flag:     EventCallbackManagerFailed,
			want:     ErrCallbackManager,
		},
		{
			name:     "decoder",
			services: &stubServices{},
			decoders: func(Unit, FrameSink) (Decoder, error) { return nil, errBoom },
			flag:     EventDecoderStartFailed,
			want:     ErrDecoderStart,
		},
		{
			name:     "radio init",
			services: &stubServices{},
			init:     func() error { return errBoom },
			want:     errBoom,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig := newTestRig(t, withServices(tt.services))
			rig.decoders.CreateFunc = tt.decoders
			rig.radio.InitFunc = tt.init

			var got []Event
			err := rig.mgr.OpenReceive(context.Background(), 0, ModAFSK, func(ev Event) { got = append(got, ev) })
			assert.ErrorIs(t, err, tt.want)

			if tt.flag != 0 {
				require.Len(t, got, 1)
				assert.Equal(t, tt.flag, got[0].Flags)
			}
			if tt.services.pool != nil {
				assert.True(t, tt.services.pool.Released(), "buffer pool leaked")
			}
			if tt.services.callbacks != nil {
				assert.True(t, tt.services.callbacks.Released(), "callback manager leaked")
			}

			st, _ := rig.mgr.Status(0)
			assert.False(t, st.SessionOpen)

			// Nothing stuck: a second open with working parts succeeds.
			tt.services.poolErr, tt.services.callbackErr = nil, nil
			rig.decoders.CreateFunc = nil
			rig.radio.InitFunc = nil
			require.NoError(t, rig.mgr.OpenReceive(context.Background(), 0, ModAFSK, nil))
		})
	}
}

func TestReceiveSessionLifecycleErrors(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	assert.ErrorIs(t, rig.mgr.StartReceive(ctx, 0, 144390000, 0, 0, 0), ErrNoSession)
	assert.ErrorIs(t, rig.mgr.StopReceive(ctx, 0), ErrNoSession)
	assert.ErrorIs(t, rig.mgr.CloseReceive(ctx, 0), ErrNoSession)

	require.NoError(t, rig.mgr.OpenReceive(ctx, 0, Mod2FSK, nil))
	assert.ErrorIs(t, rig.mgr.OpenReceive(ctx, 0, ModAFSK, nil), ErrSessionOpen)
	assert.ErrorIs(t, rig.mgr.StartReceive(ctx, 0, 150000000, 0, 0, 0), ErrInvalidFrequency)
	assert.Nil(t, rig.decoders.last(), "2FSK is demodulated by the chip")
	require.NoError(t, rig.mgr.CloseReceive(ctx, 0))
}

func TestDecoderCloseTimeout(t *testing.T) {
	rig := newTestRig(t)
	rig.decoders.Hang = true
	ctx := context.Background()

	require.NoError(t, rig.mgr.OpenReceive(ctx, 0, ModAFSK, nil))
	err := rig.mgr.CloseReceive(ctx, 0)
	assert.Error(t, err)
	rig.events.waitFor(t, EventDecoderCloseTimeout)

	st, _ := rig.mgr.Status(0)
	assert.False(t, st.SessionOpen, "session is torn down even without an ack")
}

func TestInitFailureWithHungDecoder(t *testing.T) {
	rig := newTestRig(t)
	rig.decoders.Hang = true
	rig.radio.InitFunc = func() error { return errBoom }

	err := rig.mgr.OpenReceive(context.Background(), 0, ModAFSK, nil)
	assert.ErrorIs(t, err, errBoom, "the init failure is what the caller sees")
	rig.events.waitFor(t, EventDecoderCloseTimeout)

	st, _ := rig.mgr.Status(0)
	assert.False(t, st.SessionOpen)
}

func TestFramesDeliveredAndDroppedWhilePaused(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	frames := make(chan string, 4)

	require.NoError(t, rig.mgr.OpenReceive(ctx, 0, ModAFSK, func(ev Event) {
		if ev.Flags.Has(EventFrame) {
			frames <- string(ev.Frame)
		}
	}))
	require.NoError(t, rig.mgr.StartReceive(ctx, 0, 144390000, 0, 0, 0))

	dec := rig.decoders.last()
	require.NotNil(t, dec)
	dec.sink.Deliver([]byte("hello"))
	select {
	case f := <-frames:
		assert.Equal(t, "hello", f)
	case <-time.After(time.Second):
		t.Fatal("frame not delivered")
	}

	s := rig.mgr.units[0]
	s.paused.Store(true)
	sess := dec.sink.(*receiveSession)
	sess.paused.Store(true)
	dec.sink.Deliver([]byte("lost"))
	assert.Equal(t, uint64(1), sess.dropped.Load())
	sess.paused.Store(false)
	s.paused.Store(false)

	require.NoError(t, rig.mgr.CloseReceive(ctx, 0))
}

func TestAcquireReleaseRadio(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	require.NoError(t, rig.mgr.AcquireRadio(ctx, 0, time.Second))
	assert.ErrorIs(t, rig.mgr.AcquireRadio(ctx, 0, 20*time.Millisecond), ErrTimeout)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, rig.mgr.AcquireRadio(cctx, 0, 0), ErrAborted)

	require.NoError(t, rig.mgr.ReleaseRadio(0))
	require.NoError(t, rig.mgr.AcquireRadio(ctx, 0, time.Second))
	require.NoError(t, rig.mgr.ReleaseRadio(0))
}

func TestCloseFailsQueuedWork(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	require.NoError(t, rig.mgr.OpenReceive(ctx, 0, ModAFSK, nil))

	require.NoError(t, rig.mgr.Close())
	assert.Equal(t, 1, rig.radio.Count("DisableReceive"))
	assert.Equal(t, 1, rig.radio.Count("Shutdown"))

	_, err := rig.mgr.GetTaskObject(ctx, 0, time.Millisecond)
	assert.ErrorIs(t, err, ErrTerminated)
	assert.ErrorIs(t, rig.mgr.AcquireRadio(ctx, 0, time.Millisecond), ErrAborted)
	assert.NoError(t, rig.mgr.Close(), "second close is a no-op")
}

func TestCloseWaitsForBurst(t *testing.T) {
	rig := newTestRig(t)
	g := make(gate)
	rig.radio.BurstFunc = g.burst

	var res TransmitResult
	var wg sync.WaitGroup
	wg.Add(1)
	require.NoError(t, rig.mgr.TransmitAsync(context.Background(), 0, TransmitRequest{
		Modulation: ModAFSK,
		Frequency:  144390000,
		Packet:     NewPacket([]byte("x"), nil),
	}, func(r TransmitResult) { res = r; wg.Done() }))
	rig.events.waitFor(t, EventTransmitQueued)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(g)
	}()
	require.NoError(t, rig.mgr.Close())
	wg.Wait()
	assert.NoError(t, res.Err, "in-flight burst completes before the dispatcher exits")
}

func TestCloseDuringBurstSkipsResume(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	g := make(gate)
	rig.radio.BurstFunc = g.burst

	require.NoError(t, rig.mgr.OpenReceive(ctx, 0, ModAFSK, nil))
	require.NoError(t, rig.mgr.StartReceive(ctx, 0, 144390000, 0, 0, 0))
	require.NoError(t, rig.mgr.TransmitAsync(ctx, 0, TransmitRequest{
		Modulation: ModAFSK,
		Frequency:  FreqReceive,
		Packet:     NewPacket([]byte("x"), nil),
	}, nil))
	rig.events.waitFor(t, EventTransmitQueued)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(g)
	}()
	require.NoError(t, rig.mgr.Close())

	flags := rig.events.Flags()
	assert.NotContains(t, flags, EventReceiveResumeFailed, "shutdown is not a resume failure: %v", flags)
	assert.Contains(t, flags, EventReceiveClosed)
	assert.Contains(t, flags, EventTransmitDone)
}

// stubServices allocates real session services unless told to fail, and
// keeps what it allocated for inspection.
type stubServices struct {
	poolErr     error
	callbackErr error
	pool        *BufferPool
	callbacks   *CallbackManager
}

func (s *stubServices) NewBufferPool(unit Unit) (*BufferPool, error) {
	if s.poolErr != nil {
		return nil, s.poolErr
	}
	p, err := NewBufferPool(unit, 2, 64)
	s.pool = p
	return p, err
}

func (s *stubServices) NewCallbackManager(unit Unit, handler Handler) (*CallbackManager, error) {
	if s.callbackErr != nil {
		return nil, s.callbackErr
	}
	c, err := NewCallbackManager(unit, handler, 2)
	s.callbacks = c
	return c, err
}
