package listener

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/HerbHall/tagwatch/internal/event"
	"github.com/HerbHall/tagwatch/internal/sink"
	"github.com/HerbHall/tagwatch/internal/testutil"
	"github.com/HerbHall/tagwatch/pkg/plugin"
	"github.com/HerbHall/tagwatch/pkg/reader"
	"github.com/HerbHall/tagwatch/pkg/reader/readertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var fixedNow = time.Date(2025, 5, 20, 9, 15, 0, 0, time.UTC)

type harness struct {
	c    *Controller
	sess *readertest.Session
	out  *sink.Recorder
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	if cfg.Port == 0 {
		cfg.Port = 10005
	}
	sess := readertest.New()
	out := &sink.Recorder{}
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	c, err := New(cfg, readertest.Opener(sess), out, zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	return &harness{c: c, sess: sess, out: out}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.c.Start())
	require.Equal(t, StateListening, h.c.State())
	h.out.Reset()
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		field string
	}{
		{name: "port zero", cfg: Config{Port: 0}, field: "port"},
		{name: "port too large", cfg: Config{Port: 65536}, field: "port"},
		{name: "bind address", cfg: Config{Port: 10005, BindAddress: "reader.local"}, field: "bind_address"},
		{name: "variant", cfg: Config{Port: 10005, Variant: "lr2500"}, field: "variant"},
		{name: "max drain", cfg: Config{Port: 10005, MaxDrain: -1}, field: "max_drain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, readertest.Opener(readertest.New()), nil, nil)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestNew_DefaultsToNotifyVariant(t *testing.T) {
	h := newHarness(t, Config{Port: 4000})
	assert.Equal(t, VariantNotify, h.c.Config().Variant)
	assert.True(t, h.c.Variant().NeedsExtension)
	assert.Equal(t, StateIdle, h.c.State())
}

func TestStart_Sequence(t *testing.T) {
	h := newHarness(t, Config{Port: 10005, BindAddress: "192.168.10.2", KeepAlive: true, ReaderType: "LRU1002"})

	require.NoError(t, h.c.Start())

	assert.Equal(t, StateListening, h.c.State())
	assert.Equal(t, []string{
		readertest.CallOpen,
		readertest.CallSetReaderType,
		readertest.CallClearBRM,
		readertest.CallOpenExtension,
		readertest.CallStartNotification,
		readertest.CallStartListenerThread,
	}, h.sess.Calls())
	assert.Equal(t, reader.ListenerParam{Port: 10005, BindAddress: "192.168.10.2", KeepAlive: true}, h.sess.Param())
	assert.Equal(t, "LRU1002", h.sess.ReaderType())
	assert.Equal(t, 0, h.sess.BRMMaxItemCount())
	assert.Equal(t, []string{"notification started: OK", "listener thread started: OK"}, h.out.Texts())

	st := h.c.Status()
	assert.Equal(t, "listening", st.State)
	require.NotNil(t, st.ListeningSince)
	assert.Equal(t, fixedNow, *st.ListeningSince)
}

func TestStart_BRMVariantSkipsExtension(t *testing.T) {
	h := newHarness(t, Config{Port: 10005, Variant: VariantBRM})
	require.NoError(t, h.c.Start())
	assert.NotContains(t, h.sess.Calls(), readertest.CallOpenExtension)
}

func TestStart_AlreadyListening(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t)
	before := len(h.sess.Calls())

	err := h.c.Start()

	var ale *AlreadyListeningError
	require.ErrorAs(t, err, &ale)
	assert.Equal(t, StateListening, ale.State)
	assert.Len(t, h.sess.Calls(), before, "a rejected Start must not touch the session")
	assert.Equal(t, StateListening, h.c.State())
}

func TestStart_RollsBackFailedStage(t *testing.T) {
	tests := []struct {
		name      string
		fail      string
		stage     string
		call      string
		wantCalls []string
	}{
		{
			name:      "open",
			fail:      readertest.CallOpen,
			stage:     StageOpen,
			call:      "open",
			wantCalls: []string{"Open"},
		},
		{
			name:      "reader type",
			fail:      readertest.CallSetReaderType,
			stage:     StageReaderType,
			call:      "setReaderType",
			wantCalls: []string{"Open", "SetReaderType", "Close"},
		},
		{
			name:      "extension",
			fail:      readertest.CallOpenExtension,
			stage:     StageExtension,
			call:      "openExtension",
			wantCalls: []string{"Open", "SetReaderType", "BRM.ClearQueue", "OpenExtension", "Close"},
		},
		{
			name:  "notification",
			fail:  readertest.CallStartNotification,
			stage: StageNotification,
			call:  "startNotification",
			wantCalls: []string{
				"Open", "SetReaderType", "BRM.ClearQueue", "OpenExtension", "StartNotification",
				"Extension.Close", "Close",
			},
		},
		{
			name:  "listener",
			fail:  readertest.CallStartListenerThread,
			stage: StageListener,
			call:  "startListenerThread",
			wantCalls: []string{
				"Open", "SetReaderType", "BRM.ClearQueue", "OpenExtension", "StartNotification", "StartListenerThread",
				"StopNotification", "Extension.Close", "Close",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{ReaderType: "LRU1002"})
			h.sess.Fail(tt.fail, reader.StatusInternal, "injected failure")

			err := h.c.Start()

			var se *StartupError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.stage, se.Stage)
			assert.Equal(t, reader.StatusInternal, se.Code)
			assert.Equal(t, "injected failure", se.Text)
			assert.Equal(t, StateIdle, h.c.State())
			assert.False(t, h.sess.IsOpen())
			assert.False(t, h.sess.Listening())
			assert.Equal(t, tt.wantCalls, h.sess.Calls())
			assert.Contains(t, h.out.Texts(), "Error: "+tt.call+": injected failure")

			// Start may be retried from idle once the cause is gone.
			h.sess.Clear(tt.fail)
			require.NoError(t, h.c.Start())
			assert.Equal(t, StateListening, h.c.State())
		})
	}
}

func TestStart_OpenerError(t *testing.T) {
	out := &sink.Recorder{}
	c, err := New(Config{Port: 10005}, func() (reader.Session, error) {
		return nil, errors.New("reader library not loaded")
	}, out, zaptest.NewLogger(t))
	require.NoError(t, err)

	err = c.Start()

	var se *StartupError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageOpen, se.Stage)
	assert.Equal(t, reader.StatusInternal, se.Code)
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, []string{"Error: open: reader library not loaded"}, out.Texts())
	assert.Contains(t, c.Status().LastError, "reader library not loaded")
}

func TestStart_PortAlreadyBound(t *testing.T) {
	h := newHarness(t, Config{Port: 3000})
	h.sess.Fail(readertest.CallStartListenerThread, reader.StatusListenFailed, "bind: address already in use")

	err := h.c.Start()

	var se *StartupError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageListener, se.Stage)
	assert.Equal(t, reader.StatusListenFailed, reader.CodeOf(err))
	assert.Equal(t, StateIdle, h.c.State())

	var errLines []string
	for _, l := range h.out.Lines() {
		if strings.HasPrefix(l.Text, "Error") {
			errLines = append(errLines, l.Text)
			assert.Equal(t, sink.LevelError, l.Level)
		}
	}
	require.Len(t, errLines, 1)
	assert.Contains(t, errLines[0], "bind: address already in use")
}

func TestStop_IdleIsNoop(t *testing.T) {
	h := newHarness(t, Config{})
	assert.NoError(t, h.c.Stop())
	assert.Empty(t, h.sess.Calls())
	assert.Empty(t, h.out.Lines())
}

func TestStop_TeardownOrderAndIdempotence(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t)
	startCalls := len(h.sess.Calls())

	require.NoError(t, h.c.Stop())
	assert.Equal(t, StateIdle, h.c.State())
	assert.Equal(t, []string{
		readertest.CallStopListenerThread,
		readertest.CallStopNotification,
		readertest.CallCloseExtension,
		readertest.CallClose,
	}, h.sess.Calls()[startCalls:])
	assert.Equal(t, []string{
		"stopListenerThread: OK",
		"stopNotification: OK",
		"Extension module disposed",
		"Reader module disposed",
	}, h.out.Texts())

	calls := len(h.sess.Calls())
	assert.NoError(t, h.c.Stop())
	assert.Len(t, h.sess.Calls(), calls)
}

func TestStop_ContinuesAfterFailures(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t)
	h.sess.Fail(readertest.CallStopListenerThread, reader.StatusNotRunning, "listener not running")
	h.sess.Fail(readertest.CallCloseExtension, reader.StatusReleased, "extension released")

	err := h.c.Stop()

	require.Error(t, err)
	var td *TeardownError
	require.ErrorAs(t, err, &td)
	assert.Equal(t, TeardownListener, td.Stage)

	var stages []string
	for _, e := range unwrapAll(err) {
		var te *TeardownError
		require.ErrorAs(t, e, &te)
		stages = append(stages, te.Stage)
	}
	assert.Equal(t, []string{TeardownListener, TeardownExtension}, stages)

	assert.Equal(t, StateIdle, h.c.State())
	assert.False(t, h.sess.IsOpen(), "session must be closed despite earlier failures")
	texts := h.out.Texts()
	assert.Contains(t, texts, "Error: stopListenerThread: listener not running")
	assert.Contains(t, texts, "Error: closeExtension: extension released")
	assert.Contains(t, texts, "Reader module disposed")
}

func TestOnNotification_DrainsFIFO(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t)

	ids := [][]byte{{0x01}, {0x02}, {0x03}, {0x04}, {0x05}}
	for _, id := range ids {
		h.sess.PushTag(testutil.NewTagEvent(testutil.WithIDD(id...)))
	}

	h.sess.Notify()

	texts := h.out.Texts()
	require.Len(t, texts, len(ids))
	for i, text := range texts {
		assert.Contains(t, text, "Tag ID: 0"+string(rune('1'+i)))
	}
	assert.Equal(t, []string{"01", "02", "03", "04", "05"}, h.out.Tags())
	assert.Zero(t, h.sess.Pending())

	st := h.c.Status()
	assert.Equal(t, uint64(5), st.Events)
	assert.Equal(t, uint64(5), st.Reports)
	assert.Equal(t, uint64(5), st.TagsObserved)
}

func TestOnNotification_TagWithTwoReadings(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t)
	h.sess.PushTag(testutil.NewTagEvent(
		testutil.WithIDD(0xE2, 0x00, 0x41, 0x00, 0x00, 0x01),
		testutil.WithRSSI(
			reader.RSSIItem{Valid: true, RSSI: -48, Antenna: 1},
			reader.RSSIItem{Valid: true, RSSI: -57, Antenna: 2},
		),
	))

	h.sess.Notify()

	lines := h.out.Lines()
	require.Len(t, lines, 1)
	text := lines[0].Text
	assert.True(t, strings.HasPrefix(text, "Tag Event\n"))
	assert.Contains(t, text, "Tag ID: E20041000001")
	first, second := strings.Index(text, "RSSI: -48"), strings.Index(text, "RSSI: -57")
	assert.True(t, first > 0 && second > first, "readings out of order:\n%s", text)
	assert.Equal(t, []string{"E20041000001"}, h.out.Tags())
	assert.Equal(t, "09:15:00 - Tag Event", strings.SplitN(lines[0].String(), "\n", 2)[0])
}

func TestOnNotification_InvalidTagIDRaisesNoSignal(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t)
	h.sess.PushTag(testutil.NewTagEvent())

	h.sess.Notify()

	require.Len(t, h.out.Lines(), 1)
	assert.Contains(t, h.out.Texts()[0], "Tag ID: not valid")
	assert.Empty(t, h.out.Tags())
}

func TestOnNotification_MixedKinds(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t)

	h.sess.PushBRM(testutil.NewBRM(-60, 1, 0x30, 0x01))
	h.sess.PushDiag(testutil.NewDiag("RF-Warning", reader.WarningHFNoise))
	h.sess.PushInput(&reader.InputEventItem{Current: 1, Previous: 0})
	h.sess.PushIdentification(&reader.Identification{Valid: true, DeviceID: []byte{0x12}, ReaderType: "LRU1002", Firmware: "2.1"})

	h.sess.Notify()

	lines := h.out.Lines()
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0].Text, "BRM Event"))
	assert.True(t, strings.HasPrefix(lines[1].Text, "Diagnostic Status Event"))
	assert.Equal(t, sink.LevelWarn, lines[1].Level)
	assert.True(t, strings.HasPrefix(lines[2].Text, "Input Event"))
	assert.True(t, strings.HasPrefix(lines[3].Text, "Identification"))
	assert.Empty(t, h.out.Tags(), "only tag events raise the signal")
}

func TestOnNotification_BRMVariantIgnoresOtherKinds(t *testing.T) {
	h := newHarness(t, Config{Variant: VariantBRM})
	h.start(t)

	h.sess.PushTag(testutil.NewTagEvent(testutil.WithIDD(0xAA)))
	h.sess.PushBRM(testutil.NewBRM(-40, 2, 0xBB))
	h.sess.PushEvent(reader.EventKind(99))

	h.sess.Notify()

	texts := h.out.Texts()
	require.Len(t, texts, 3)
	assert.Equal(t, "Ignored EventType: TagEvent", texts[0])
	assert.True(t, strings.HasPrefix(texts[1], "BRM Event"))
	assert.Equal(t, "Ignored EventType: EventKind(99)", texts[2])
	assert.Empty(t, h.out.Tags())
}

func TestOnNotification_IgnoredKindRecordsAreDropped(t *testing.T) {
	h := newHarness(t, Config{Variant: VariantBRM})
	h.start(t)

	for i := range 50 {
		h.sess.PushTag(testutil.NewTagEvent(testutil.WithIDD(byte(i))))
	}
	h.sess.PushInput(&reader.InputEventItem{Current: 1})
	h.sess.Notify()

	assert.Zero(t, h.sess.Pending())
	assert.Zero(t, h.sess.Queued(), "records of ignored kinds must not pile up")

	h.out.Reset()
	h.sess.PushBRM(testutil.NewBRM(-40, 2, 0xBB))
	h.sess.Notify()
	require.Len(t, h.out.Texts(), 1)
	assert.True(t, strings.HasPrefix(h.out.Texts()[0], "BRM Event"))
}

func TestStart_DropsResidualRecords(t *testing.T) {
	h := newHarness(t, Config{Port: 10005})
	h.sess.PushTag(testutil.NewTagEvent(testutil.WithIDD(0xAA)))
	h.sess.PushDiag(testutil.NewDiag("ok"))
	h.sess.PushBRM(testutil.NewBRM(-40, 2, 0xBB))

	h.start(t)
	assert.Zero(t, h.sess.Pending())
	assert.Zero(t, h.sess.Queued())

	h.sess.Notify()
	assert.Empty(t, h.out.Texts())
	assert.Empty(t, h.out.Tags())
}

func TestOnNotification_PeopleCounterAdvancesPastInvalidItems(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t)
	h.sess.PushPeopleCounter(
		&reader.PeopleCounterItem{Valid: false},
		&reader.PeopleCounterItem{Valid: true, Detector1Counter1: 7},
		&reader.PeopleCounterItem{Valid: false},
	)

	done := make(chan struct{})
	go func() { h.sess.Notify(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("drain did not advance past an invalid people counter item")
	}

	texts := h.out.Texts()
	require.Len(t, texts, 3)
	assert.Contains(t, texts[0], "DetectorCounter 1/1: not valid")
	assert.Contains(t, texts[1], "DetectorCounter 1/1: 7")
	assert.Contains(t, texts[2], "DetectorCounter 1/1: not valid")
}

func TestOnNotification_IdentificationWithoutSnapshot(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t)
	h.sess.PushEvent(reader.EventIdentification)

	h.sess.Notify()

	lines := h.out.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, sink.LevelWarn, lines[0].Level)
	assert.Contains(t, lines[0].Text, "Record: not valid")
}

func TestOnNotification_BoundedWindows(t *testing.T) {
	h := newHarness(t, Config{MaxDrain: 2})
	h.start(t)
	for i := 0; i < 5; i++ {
		h.sess.PushDiag(testutil.NewDiag("ok"))
	}

	h.sess.Notify()

	assert.Len(t, h.out.Lines(), 5)
	assert.Zero(t, h.sess.Pending())
}

func TestOnNotification_IgnoredWhenIdle(t *testing.T) {
	h := newHarness(t, Config{})
	h.sess.PushTag(testutil.NewTagEvent(testutil.WithIDD(0x01)))

	h.c.OnNotification()

	assert.Empty(t, h.out.Lines())
	assert.Equal(t, 1, h.sess.Pending())
}

func TestConnectCallbacks(t *testing.T) {
	h := newHarness(t, Config{})

	h.c.OnConnect(reader.PeerInfo{Address: "10.0.0.9"})
	assert.Empty(t, h.out.Lines(), "callbacks are ignored while idle")

	h.start(t)
	h.sess.Connect("10.0.0.9")
	st := h.c.Status()
	assert.True(t, st.Connected)
	assert.Equal(t, "10.0.0.9", st.Peer)

	h.sess.Disconnect()
	assert.False(t, h.c.Status().Connected)
	assert.Equal(t, []string{"Reader connected at: 10.0.0.9", "Reader disconnected"}, h.out.Texts())

	h.sess.Connect("10.0.0.9")
	require.NoError(t, h.c.Stop())
	assert.False(t, h.c.Status().Connected)
	assert.Empty(t, h.c.Status().Peer)
}

func TestWithBus_PublishesStateChanges(t *testing.T) {
	bus := event.NewBus(zaptest.NewLogger(t))
	states := make(chan event.StatePayload, 8)
	bus.Subscribe(event.TopicState, func(_ context.Context, e plugin.Event) {
		states <- e.Payload.(event.StatePayload)
	})
	h := newHarness(t, Config{}, WithBus(bus))

	require.NoError(t, h.c.Start())
	require.NoError(t, h.c.Stop())

	seen := map[string]bool{}
	timeout := time.After(2 * time.Second)
	for len(seen) < 2 {
		select {
		case p := <-states:
			seen[p.State] = true
		case <-timeout:
			t.Fatalf("state events seen: %v", seen)
		}
	}
	assert.True(t, seen["listening"])
	assert.True(t, seen["idle"])
}

func TestConcurrentNotifyAndStop(t *testing.T) {
	h := newHarness(t, Config{MaxDrain: 1})
	h.start(t)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				h.sess.PushTag(testutil.NewTagEvent(testutil.WithIDD(byte(g), byte(i))))
				h.sess.Notify()
				h.sess.Connect("10.0.0.1")
				_ = h.c.Status()
			}
		}(g)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(time.Millisecond)
		_ = h.c.Stop()
	}()
	wg.Wait()

	assert.Equal(t, StateIdle, h.c.State())
	assert.False(t, h.sess.IsOpen())
	require.NoError(t, h.c.Stop())
}
