// Package midiloop is an in-memory MIDI backend. Each cable exposes one
// output and one input port with the same index; bytes sent to the output
// arrive on the input. Inject plays the part of a hardware device.
//
// The backend is built on every platform and is used where no native
// backend exists and as a test double.
package midiloop

import (
	"fmt"
	"sync"

	"github.com/ScaleFT/monotime"
	"github.com/leandrodaf/midikit/internal/logger"
	"github.com/leandrodaf/midikit/sdk/contracts"
	"go.uber.org/multierr"
)

// Name identifies the backend.
const Name = "loopback"

// delivery buffers messages between a sender and the input's callback
// goroutine.
const delivery = 256

var (
	ErrNoSuchCable = fmt.Errorf("%w: no such loopback cable", contracts.ErrDeviceUnavailable)
	ErrUnplugged   = fmt.Errorf("%w: loopback cable unplugged", contracts.ErrDeviceUnavailable)
)

type cable struct {
	name    string
	lost    bool
	in      *inputPort
	outputs map[*outputPort]struct{}
}

// Backend is a set of loopback cables.
type Backend struct {
	log contracts.Logger

	mu     sync.Mutex
	cables []*cable
	closed bool
}

// New returns a backend with one cable per name, or a single cable named
// "Loopback 0" when no names are given.
func New(log contracts.Logger, names ...string) *Backend {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if len(names) == 0 {
		names = []string{"Loopback 0"}
	}
	b := &Backend{log: log.With(log.Field().String("backend", Name))}
	for _, n := range names {
		b.cables = append(b.cables, &cable{name: n, outputs: make(map[*outputPort]struct{})})
	}
	return b
}

// Name implements contracts.Backend.
func (b *Backend) Name() string { return Name }

// ListPorts lists one port per connected cable.
func (b *Backend) ListPorts(dir contracts.Direction) ([]contracts.PortInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var ports []contracts.PortInfo
	for i, c := range b.cables {
		if c.lost {
			continue
		}
		ports = append(ports, contracts.PortInfo{
			Index:        len(ports),
			Name:         c.name,
			Direction:    dir,
			Manufacturer: "midikit",
			EntityName:   Name,
			ID:           fmt.Sprintf("loop:%d", i),
		})
	}
	return ports, nil
}

// cableFor resolves a PortInfo produced by ListPorts. Caller holds b.mu.
func (b *Backend) cableFor(info contracts.PortInfo) (*cable, error) {
	var i int
	if _, err := fmt.Sscanf(info.ID, "loop:%d", &i); err != nil || i < 0 || i >= len(b.cables) {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchCable, info.ID)
	}
	c := b.cables[i]
	if c.lost {
		return nil, fmt.Errorf("%w: %s", ErrUnplugged, c.name)
	}
	return c, nil
}

// OpenInput claims the input side of a cable. A cable has at most one open
// input.
func (b *Backend) OpenInput(info contracts.PortInfo, clientName string, handler contracts.MessageHandler) (contracts.InputPort, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, contracts.ErrPortClosed
	}
	c, err := b.cableFor(info)
	if err != nil {
		return nil, err
	}
	if c.in != nil {
		return nil, fmt.Errorf("%w: %s is already open", contracts.ErrDeviceUnavailable, c.name)
	}
	info.Direction = contracts.Input
	p := &inputPort{
		info:    info,
		cable:   c,
		backend: b,
		handler: handler,
		ch:      make(chan contracts.Message, delivery),
		done:    make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	c.in = p
	b.log.Debug("Loopback input opened", b.log.Field().String("port", c.name), b.log.Field().String("client", clientName))
	return p, nil
}

// OpenOutput opens the output side of a cable. Outputs are not exclusive.
func (b *Backend) OpenOutput(info contracts.PortInfo, clientName string) (contracts.OutputPort, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, contracts.ErrPortClosed
	}
	c, err := b.cableFor(info)
	if err != nil {
		return nil, err
	}
	info.Direction = contracts.Output
	p := &outputPort{info: info, cable: c, backend: b}
	p.open.Store(true)
	c.outputs[p] = struct{}{}
	b.log.Debug("Loopback output opened", b.log.Field().String("port", c.name), b.log.Field().String("client", clientName))
	return p, nil
}

// Inject delivers data to the input of cable index as if a device had
// produced it. It reports whether an open input received it.
func (b *Backend) Inject(index int, data []byte) (bool, error) {
	b.mu.Lock()
	if index < 0 || index >= len(b.cables) {
		b.mu.Unlock()
		return false, ErrNoSuchCable
	}
	c := b.cables[index]
	in := c.in
	lost := c.lost
	b.mu.Unlock()
	if lost {
		return false, ErrUnplugged
	}
	if in == nil {
		return false, nil
	}
	return in.deliver(data), nil
}

// Unplug simulates device loss. The cable's input stops with an error
// wrapping ErrUnplugged, sends fail with ErrSendFailed and the cable
// disappears from enumeration.
func (b *Backend) Unplug(index int) error {
	b.mu.Lock()
	if index < 0 || index >= len(b.cables) {
		b.mu.Unlock()
		return ErrNoSuchCable
	}
	c := b.cables[index]
	c.lost = true
	in := c.in
	for p := range c.outputs {
		p.lost.Store(true)
	}
	b.mu.Unlock()
	if in != nil {
		b.log.Warn("Loopback cable unplugged", b.log.Field().String("port", c.name))
		in.shutdown(fmt.Errorf("%w: %s", ErrUnplugged, c.name))
	}
	return nil
}

// Close closes every open port.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var (
		inputs  []*inputPort
		outputs []*outputPort
	)
	for _, c := range b.cables {
		if c.in != nil {
			inputs = append(inputs, c.in)
		}
		for p := range c.outputs {
			outputs = append(outputs, p)
		}
	}
	b.mu.Unlock()

	var err error
	for _, p := range inputs {
		err = multierr.Append(err, p.Close())
	}
	for _, p := range outputs {
		err = multierr.Append(err, p.Close())
	}
	return err
}

// stamp copies data into a timestamped message.
func stamp(data []byte) contracts.Message {
	return contracts.Message{Data: append([]byte(nil), data...), Timestamp: monotime.Now()}
}
