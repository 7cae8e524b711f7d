package contracts

import (
	"context"
	"fmt"
	"time"

	"github.com/leandrodaf/midikit/sdk/event"
)

// Message is one complete live MIDI message as delivered by a backend.
type Message struct {
	Data      []byte // Raw bytes, status byte first.
	Timestamp uint64 // Monotonic clock reading in nanoseconds.
}

// Status returns the first byte, or 0 for an empty message.
func (m Message) Status() byte {
	if len(m.Data) == 0 {
		return 0
	}
	return m.Data[0]
}

// Event decodes the message.
func (m Message) Event() (event.Event, error) {
	return event.Parse(m.Data)
}

func (m Message) String() string {
	return fmt.Sprintf("%d %s", m.Timestamp, event.Describe(m.Data))
}

// Receiver is the consumer side of an open input port.
type Receiver interface {
	Info() PortInfo
	// TryRecv returns ErrEmpty when nothing is buffered.
	TryRecv() (Message, error)
	// RecvBlocking waits up to timeout and returns ErrTimeout.
	RecvBlocking(timeout time.Duration) (Message, error)
	// Recv waits until a message arrives, the receiver is closed or ctx is done.
	// Once the device is lost and the buffer drained, every receive returns
	// an error wrapping ErrDeviceUnavailable.
	Recv(ctx context.Context) (Message, error)
	// Dropped counts messages discarded because the buffer was full.
	Dropped() uint64
	Close() error
}

// Sender is the producer side of an open output port.
type Sender interface {
	Info() PortInfo
	IsOpen() bool
	Send(data []byte) error
	SendEvent(ev event.Event) error
	Close() error
}

// ClientMIDI lists, opens and releases ports of one backend.
type ClientMIDI interface {
	// Stop closes every open port and the backend.
	Stop() error
	// ListPorts lists the ports currently available.
	ListPorts(dir Direction) ([]PortInfo, error)
	// OpenInput opens an input port by enumeration index.
	OpenInput(index int) (Receiver, error)
	// OpenOutput opens an output port by enumeration index.
	OpenOutput(index int) (Sender, error)
	// Backend names the compiled-in backend.
	Backend() string
}
