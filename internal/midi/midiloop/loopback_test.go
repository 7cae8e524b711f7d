package midiloop

import (
	"bytes"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leandrodaf/midikit/internal/logger"
	"github.com/leandrodaf/midikit/sdk/contracts"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newBackend(t *testing.T, names ...string) *Backend {
	t.Helper()
	b := New(logger.NewZapLoggerFrom(zaptest.NewLogger(t)), names...)
	t.Cleanup(func() { b.Close() })
	return b
}

func openPair(t *testing.T, b *Backend, handler contracts.MessageHandler) (contracts.InputPort, contracts.OutputPort) {
	t.Helper()
	ins, err := b.ListPorts(contracts.Input)
	if err != nil || len(ins) == 0 {
		t.Fatalf("ListPorts(Input) = %v, %v", ins, err)
	}
	outs, err := b.ListPorts(contracts.Output)
	if err != nil || len(outs) == 0 {
		t.Fatalf("ListPorts(Output) = %v, %v", outs, err)
	}
	in, err := b.OpenInput(ins[0], "test", handler)
	if err != nil {
		t.Fatalf("OpenInput: %v", err)
	}
	out, err := b.OpenOutput(outs[0], "test")
	if err != nil {
		t.Fatalf("OpenOutput: %v", err)
	}
	return in, out
}

func TestSendReachesInput(t *testing.T) {
	b := newBackend(t)
	got := make(chan contracts.Message, 4)
	_, out := openPair(t, b, func(m contracts.Message) { got <- m })

	if err := out.Send([]byte{0x90, 60, 100}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if ok, err := b.Inject(0, []byte{0xB0, 7, 90}); !ok || err != nil {
		t.Fatalf("Inject = %v, %v", ok, err)
	}

	var prev uint64
	for _, want := range [][]byte{{0x90, 60, 100}, {0xB0, 7, 90}} {
		select {
		case m := <-got:
			if !bytes.Equal(m.Data, want) {
				t.Fatalf("received % x, want % x", m.Data, want)
			}
			if m.Timestamp == 0 || m.Timestamp < prev {
				t.Fatalf("timestamp %d after %d", m.Timestamp, prev)
			}
			prev = m.Timestamp
		case <-time.After(time.Second):
			t.Fatal("message not delivered")
		}
	}
}

func TestInputIsExclusive(t *testing.T) {
	b := newBackend(t)
	ins, _ := b.ListPorts(contracts.Input)
	first, err := b.OpenInput(ins[0], "a", func(contracts.Message) {})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.OpenInput(ins[0], "b", func(contracts.Message) {}); !errors.Is(err, contracts.ErrDeviceUnavailable) {
		t.Fatalf("second OpenInput = %v, want ErrDeviceUnavailable", err)
	}
	if first.Err() != nil {
		t.Fatalf("Err on an open port = %v", first.Err())
	}
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-first.Done():
	default:
		t.Fatal("Done not closed by Close")
	}
	if first.Err() != nil {
		t.Fatalf("Err after Close = %v", first.Err())
	}
	again, err := b.OpenInput(ins[0], "b", func(contracts.Message) {})
	if err != nil {
		t.Fatalf("OpenInput after close: %v", err)
	}
	again.Close()
}

func TestCloseJoinsCallbacks(t *testing.T) {
	b := newBackend(t)
	var (
		calls   atomic.Int64
		closed  atomic.Bool
		late    atomic.Bool
		started = make(chan struct{}, 1)
	)
	in, out := openPair(t, b, func(contracts.Message) {
		if closed.Load() {
			late.Store(true)
		}
		calls.Add(1)
		select {
		case started <- struct{}{}:
		default:
		}
		time.Sleep(time.Millisecond)
	})

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				out.Send([]byte{0xF8})
			}
		}
	}()

	<-started
	if err := in.Close(); err != nil {
		t.Fatal(err)
	}
	closed.Store(true)
	time.Sleep(10 * time.Millisecond)
	close(stop)
	<-done

	if in.IsOpen() {
		t.Fatal("input still open")
	}
	if late.Load() {
		t.Fatal("handler ran after Close returned")
	}
	if calls.Load() == 0 {
		t.Fatal("handler never ran")
	}
	if err := in.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestSendAfterClose(t *testing.T) {
	b := newBackend(t)
	_, out := openPair(t, b, func(contracts.Message) {})
	out.Close()
	for i := 0; i < 3; i++ {
		if err := out.Send([]byte{0x90, 1, 1}); !errors.Is(err, contracts.ErrPortClosed) {
			t.Fatalf("Send after Close = %v", err)
		}
	}
}

func TestUnplug(t *testing.T) {
	b := newBackend(t, "A", "B")
	in, out := openPair(t, b, func(contracts.Message) {})

	if err := b.Unplug(0); err != nil {
		t.Fatal(err)
	}
	if in.IsOpen() {
		t.Fatal("input survived unplug")
	}
	select {
	case <-in.Done():
	default:
		t.Fatal("Done not closed by unplug")
	}
	if err := in.Err(); !errors.Is(err, ErrUnplugged) || !errors.Is(err, contracts.ErrDeviceUnavailable) {
		t.Fatalf("Err after unplug = %v", err)
	}
	if err := in.Close(); err != nil || !errors.Is(in.Err(), ErrUnplugged) {
		t.Fatalf("Close after unplug = %v, Err = %v", err, in.Err())
	}
	if err := out.Send([]byte{0x90, 1, 1}); !errors.Is(err, contracts.ErrSendFailed) {
		t.Fatalf("first send after unplug = %v, want ErrSendFailed", err)
	}
	if err := out.Send([]byte{0x90, 1, 1}); !errors.Is(err, contracts.ErrPortClosed) {
		t.Fatalf("second send after unplug = %v, want ErrPortClosed", err)
	}

	ports, _ := b.ListPorts(contracts.Output)
	if len(ports) != 1 || ports[0].Name != "B" || ports[0].Index != 0 {
		t.Fatalf("ports after unplug = %v", ports)
	}
	if _, err := b.Inject(0, []byte{0xF8}); !errors.Is(err, contracts.ErrDeviceUnavailable) {
		t.Fatalf("Inject on unplugged cable = %v", err)
	}
}

func TestInjectWithoutListener(t *testing.T) {
	b := newBackend(t)
	ok, err := b.Inject(0, []byte{0x90, 1, 1})
	if ok || err != nil {
		t.Fatalf("Inject = %v, %v", ok, err)
	}
	if _, err := b.Inject(5, []byte{0x90, 1, 1}); !errors.Is(err, ErrNoSuchCable) {
		t.Fatalf("Inject(5) = %v", err)
	}
}
