package contracts

import "fmt"

// Direction tells input ports from output ports.
type Direction int

const (
	// Input ports deliver messages from a device.
	Input Direction = iota
	// Output ports transmit messages to a device.
	Output
)

func (d Direction) String() string {
	switch d {
	case Input:
		return "input"
	case Output:
		return "output"
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// PortInfo describes one endpoint returned by an enumeration. Index is only
// meaningful together with the enumeration that produced it; a hotplug
// requires listing the ports again.
type PortInfo struct {
	Index        int       // Position in the enumeration.
	Name         string    // Human readable endpoint name.
	Direction    Direction // Input or Output.
	Manufacturer string    // Device manufacturer, when the driver reports one.
	EntityName   string    // Name of the entity the endpoint belongs to.
	ID           string    // Backend specific address, e.g. a device node path.
}

func (p PortInfo) String() string {
	return fmt.Sprintf("%s %d: %s", p.Direction, p.Index, p.Name)
}

// MessageHandler receives messages from an input port on the driver's
// callback goroutine. It must not block.
type MessageHandler func(Message)

// Port is an open backend handle. Once closed it is never reopened.
type Port interface {
	Info() PortInfo
	IsOpen() bool
	// Close is idempotent. When it returns no further handler call for the
	// port is in flight.
	Close() error
}

// InputPort is an open input endpoint delivering to a MessageHandler.
type InputPort interface {
	Port
	// Done is closed once the port stops delivering, either because it was
	// closed or because the device went away.
	Done() <-chan struct{}
	// Err is nil until Done is closed. It stays nil after Close and wraps
	// ErrDeviceUnavailable after device loss.
	Err() error
}

// OutputPort is an open output endpoint.
type OutputPort interface {
	Port
	// Send transmits one complete message synchronously. It returns
	// ErrPortClosed after Close and wraps ErrSendFailed on driver errors.
	Send(data []byte) error
}

// Backend is one platform MIDI API. Exactly one is compiled in per target
// operating system.
type Backend interface {
	Name() string
	ListPorts(dir Direction) ([]PortInfo, error)
	OpenInput(port PortInfo, clientName string, handler MessageHandler) (InputPort, error)
	OpenOutput(port PortInfo, clientName string) (OutputPort, error)
	Close() error
}
