package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/leandrodaf/midikit/sdk/contracts"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func msg(b ...byte) contracts.Message {
	return contracts.Message{Data: b}
}

func TestQueueOrdering(t *testing.T) {
	q := NewQueue(8)
	for _, m := range []contracts.Message{msg(0xA), msg(0xB), msg(0xC)} {
		if !q.Push(m) {
			t.Fatal("Push refused")
		}
	}
	var got []byte
	for {
		m, err := q.TryRecv()
		if errors.Is(err, contracts.ErrEmpty) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, m.Data[0])
	}
	if string(got) != "\x0a\x0b\x0c" {
		t.Fatalf("got % x, want 0a 0b 0c", got)
	}
}

func TestQueueDropsOldest(t *testing.T) {
	const k = 4
	q := NewQueue(k)
	for i := 0; i <= k; i++ {
		q.Push(msg(byte(i)))
	}
	if q.Dropped() != 1 || q.Len() != k {
		t.Fatalf("dropped %d, len %d", q.Dropped(), q.Len())
	}
	for want := 1; want <= k; want++ {
		m, err := q.TryRecv()
		if err != nil || m.Data[0] != byte(want) {
			t.Fatalf("TryRecv = %v, %v; want message %d", m, err, want)
		}
	}
	if _, err := q.TryRecv(); !errors.Is(err, contracts.ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestQueueTimeout(t *testing.T) {
	q := NewQueue(1)
	start := time.Now()
	if _, err := q.RecvBlocking(20 * time.Millisecond); !errors.Is(err, contracts.ErrTimeout) {
		t.Fatalf("RecvBlocking = %v, want ErrTimeout", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("returned before the timeout")
	}
	if _, err := q.RecvBlocking(0); !errors.Is(err, contracts.ErrTimeout) {
		t.Fatalf("RecvBlocking(0) = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := q.Recv(ctx); !errors.Is(err, contracts.ErrTimeout) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Recv with deadline = %v", err)
	}
	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	if _, err := q.Recv(ctx); !errors.Is(err, contracts.ErrCancelled) || !errors.Is(err, context.Canceled) {
		t.Fatalf("Recv with cancelled context = %v", err)
	}
}

func TestQueueRecvBlockingWakesOnPush(t *testing.T) {
	q := NewQueue(1)
	go func() {
		time.Sleep(5 * time.Millisecond)
		q.Push(msg(0x90, 1, 1))
	}()
	m, err := q.RecvBlocking(time.Second)
	if err != nil || m.Status() != 0x90 {
		t.Fatalf("RecvBlocking = %v, %v", m, err)
	}
}

func TestQueueCloseWithError(t *testing.T) {
	q := NewQueue(4)
	lost := fmt.Errorf("%w: unplugged", contracts.ErrDeviceUnavailable)

	errc := make(chan error, 1)
	go func() {
		_, err := q.Recv(context.Background())
		errc <- err
	}()
	time.Sleep(5 * time.Millisecond)
	q.CloseWithError(lost)
	if err := <-errc; err != lost {
		t.Fatalf("blocked Recv = %v", err)
	}

	q = NewQueue(4)
	q.Push(msg(0x90, 1, 1))
	q.CloseWithError(lost)
	q.Close()
	if q.Push(msg(0x90, 2, 2)) {
		t.Fatal("push accepted after close")
	}
	if m, err := q.TryRecv(); err != nil || m.Data[1] != 1 {
		t.Fatalf("buffered message = %v, %v", m, err)
	}
	if _, err := q.TryRecv(); !errors.Is(err, contracts.ErrDeviceUnavailable) {
		t.Fatalf("TryRecv after drain = %v", err)
	}
	if _, err := q.RecvBlocking(time.Second); !errors.Is(err, contracts.ErrDeviceUnavailable) {
		t.Fatalf("RecvBlocking after drain = %v", err)
	}
	if _, err := q.RecvBlocking(0); !errors.Is(err, contracts.ErrDeviceUnavailable) {
		t.Fatalf("RecvBlocking(0) after drain = %v", err)
	}
}

func TestQueueCloseWakesReaders(t *testing.T) {
	q := NewQueue(4)
	const readers = 5
	var wg sync.WaitGroup
	errs := make(chan error, readers)
	ready := make(chan struct{}, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ready <- struct{}{}
			var err error
			if i%2 == 0 {
				_, err = q.RecvBlocking(time.Minute)
			} else {
				_, err = q.Recv(context.Background())
			}
			errs <- err
		}(i)
	}
	for i := 0; i < readers; i++ {
		<-ready
	}
	time.Sleep(10 * time.Millisecond)
	q.Close()
	wg.Wait()
	close(errs)
	for err := range errs {
		if !errors.Is(err, contracts.ErrCancelled) {
			t.Fatalf("blocked reader returned %v, want ErrCancelled", err)
		}
	}
}

func TestQueueDrainAfterClose(t *testing.T) {
	q := NewQueue(4)
	q.Push(msg(1))
	q.Push(msg(2))
	q.Close()
	q.Close()
	if q.Push(msg(3)) {
		t.Fatal("Push accepted after Close")
	}
	for want := byte(1); want <= 2; want++ {
		m, err := q.RecvBlocking(time.Second)
		if err != nil || m.Data[0] != want {
			t.Fatalf("drain = %v, %v", m, err)
		}
	}
	if _, err := q.TryRecv(); !errors.Is(err, contracts.ErrCancelled) {
		t.Fatalf("TryRecv after drain = %v", err)
	}
	if _, err := q.RecvBlocking(time.Second); !errors.Is(err, contracts.ErrCancelled) {
		t.Fatalf("RecvBlocking after drain = %v", err)
	}
}

func TestQueueConcurrentProducers(t *testing.T) {
	const (
		producers = 4
		each      = 1000
		capacity  = 16
	)
	q := NewQueue(capacity)
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				q.Push(contracts.Message{Data: []byte{byte(p)}, Timestamp: uint64(i)})
			}
		}(p)
	}

	received := 0
	last := make(map[byte]int64)
	for b := byte(0); b < producers; b++ {
		last[b] = -1
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	check := func(m contracts.Message) {
		received++
		p := m.Data[0]
		if int64(m.Timestamp) <= last[p] {
			t.Errorf("producer %d: message %d after %d", p, m.Timestamp, last[p])
		}
		last[p] = int64(m.Timestamp)
	}
loop:
	for {
		select {
		case <-done:
			break loop
		default:
		}
		if m, err := q.TryRecv(); err == nil {
			check(m)
		}
	}
	for {
		m, err := q.TryRecv()
		if err != nil {
			break
		}
		check(m)
	}
	if uint64(received)+q.Dropped() != producers*each {
		t.Fatalf("received %d + dropped %d != %d", received, q.Dropped(), producers*each)
	}
}
