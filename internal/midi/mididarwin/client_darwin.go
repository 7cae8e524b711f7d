//go:build darwin
// +build darwin

package mididarwin

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ScaleFT/monotime"
	"github.com/leandrodaf/midikit/internal/logger"
	"github.com/leandrodaf/midikit/sdk/contracts"
	"github.com/leandrodaf/midikit/sdk/event"
	"github.com/youpy/go-coremidi"
	"go.uber.org/multierr"
)

// Error definitions for MIDI connection and handling issues.
var (
	ErrCreateClient        = errors.New("error creating CoreMIDI client")
	ErrCreateInputPort     = errors.New("error creating input port")
	ErrCreateOutputPort    = errors.New("error creating output port")
	ErrMIDIConnectionError = errors.New("error connecting to MIDI device")
)

// internalPortConnection is an interface for handling disconnection from a MIDI port.
type internalPortConnection interface {
	Disconnect()
}

// Backend talks to CoreMIDI. The CoreMIDI client is created on the first
// open and shared by every port.
type Backend struct {
	log contracts.Logger

	mu      sync.Mutex
	client  *coremidi.Client
	inputs  map[*inputPort]struct{}
	outputs map[*outputPort]struct{}
	closed  bool
}

// New returns the CoreMIDI backend.
func New(log contracts.Logger) (contracts.Backend, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Backend{
		log:     log.With(log.Field().String("backend", Name)),
		inputs:  make(map[*inputPort]struct{}),
		outputs: make(map[*outputPort]struct{}),
	}, nil
}

func (b *Backend) Name() string { return Name }

// ListPorts lists CoreMIDI sources for Input and destinations for Output.
// Listing sources also stops open inputs whose source has gone away.
func (b *Backend) ListPorts(dir contracts.Direction) ([]contracts.PortInfo, error) {
	if dir == contracts.Input {
		sources, err := coremidi.AllSources()
		if err != nil {
			return nil, fmt.Errorf("error listing MIDI sources: %w", err)
		}
		b.mu.Lock()
		b.sweepInputs(sources)
		b.mu.Unlock()
		ports := make([]contracts.PortInfo, len(sources))
		for i, source := range sources {
			entity := source.Entity()
			ports[i] = contracts.PortInfo{
				Index:        i,
				Name:         source.Name(),
				Direction:    dir,
				Manufacturer: entity.Manufacturer(),
				EntityName:   entity.Name(),
				ID:           fmt.Sprintf("source:%d", i),
			}
		}
		return ports, nil
	}

	destinations, err := coremidi.AllDestinations()
	if err != nil {
		return nil, fmt.Errorf("error listing MIDI destinations: %w", err)
	}
	ports := make([]contracts.PortInfo, len(destinations))
	for i, dest := range destinations {
		entity := dest.Entity()
		ports[i] = contracts.PortInfo{
			Index:        i,
			Name:         dest.Name(),
			Direction:    dir,
			Manufacturer: entity.Manufacturer(),
			EntityName:   entity.Name(),
			ID:           fmt.Sprintf("destination:%d", i),
		}
	}
	return ports, nil
}

// sweepInputs reports loss on open inputs whose source is no longer
// present. go-coremidi has no removal notification, so this runs whenever
// sources are enumerated. Caller holds b.mu.
func (b *Backend) sweepInputs(sources []coremidi.Source) {
	if len(b.inputs) == 0 {
		return
	}
	present := make(map[string]bool, len(sources))
	for _, s := range sources {
		present[s.Name()] = true
	}
	for p := range b.inputs {
		if !present[p.info.Name] {
			p.lost()
		}
	}
}

// clientFor returns the shared CoreMIDI client. Caller holds b.mu.
func (b *Backend) clientFor(name string) (*coremidi.Client, error) {
	if b.client != nil {
		return b.client, nil
	}
	client, err := coremidi.NewClient(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreateClient, err)
	}
	b.client = &client
	b.log.Info("MIDI client successfully created", b.log.Field().String("client", name))
	return b.client, nil
}

// OpenInput connects an input port to the source at info.Index. The source
// must still carry the name it was listed with.
func (b *Backend) OpenInput(info contracts.PortInfo, clientName string, handler contracts.MessageHandler) (contracts.InputPort, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, contracts.ErrPortClosed
	}

	sources, err := coremidi.AllSources()
	if err != nil {
		return nil, fmt.Errorf("error retrieving MIDI sources: %w", err)
	}
	b.sweepInputs(sources)
	if info.Index < 0 || info.Index >= len(sources) || sources[info.Index].Name() != info.Name {
		return nil, fmt.Errorf("%w: %s", contracts.ErrDeviceUnavailable, info)
	}
	client, err := b.clientFor(clientName)
	if err != nil {
		return nil, err
	}

	p := &inputPort{info: info, backend: b, handler: handler, parser: event.NewParser(), done: make(chan struct{})}
	p.open.Store(true)
	port, err := coremidi.NewInputPort(*client, clientName+" input", p.handleMIDIMessage)
	if err != nil {
		b.log.Error(ErrCreateInputPort.Error(), b.log.Field().Error("error", err))
		return nil, fmt.Errorf("%w: %v", ErrCreateInputPort, err)
	}
	p.conn, err = port.Connect(sources[info.Index])
	if err != nil {
		b.log.Error(ErrMIDIConnectionError.Error(), b.log.Field().Error("error", err))
		return nil, fmt.Errorf("%w: %w: %v", contracts.ErrDeviceUnavailable, ErrMIDIConnectionError, err)
	}
	b.inputs[p] = struct{}{}
	b.log.Info("MIDI device successfully connected", b.log.Field().String("port", info.Name))
	return p, nil
}

// OpenOutput opens an output port towards the destination at info.Index.
func (b *Backend) OpenOutput(info contracts.PortInfo, clientName string) (contracts.OutputPort, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, contracts.ErrPortClosed
	}

	destinations, err := coremidi.AllDestinations()
	if err != nil {
		return nil, fmt.Errorf("error retrieving MIDI destinations: %w", err)
	}
	if info.Index < 0 || info.Index >= len(destinations) || destinations[info.Index].Name() != info.Name {
		return nil, fmt.Errorf("%w: %s", contracts.ErrDeviceUnavailable, info)
	}
	client, err := b.clientFor(clientName)
	if err != nil {
		return nil, err
	}
	port, err := coremidi.NewOutputPort(*client, clientName+" output")
	if err != nil {
		b.log.Error(ErrCreateOutputPort.Error(), b.log.Field().Error("error", err))
		return nil, fmt.Errorf("%w: %v", ErrCreateOutputPort, err)
	}
	p := &outputPort{info: info, backend: b, port: port, dest: destinations[info.Index]}
	p.open.Store(true)
	b.outputs[p] = struct{}{}
	b.log.Info("MIDI output opened", b.log.Field().String("port", info.Name))
	return p, nil
}

// Close closes every open port. The CoreMIDI client lives until the
// process exits.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	inputs := make([]*inputPort, 0, len(b.inputs))
	for p := range b.inputs {
		inputs = append(inputs, p)
	}
	outputs := make([]*outputPort, 0, len(b.outputs))
	for p := range b.outputs {
		outputs = append(outputs, p)
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

type inputPort struct {
	info    contracts.PortInfo
	backend *Backend
	handler contracts.MessageHandler
	conn    internalPortConnection

	open atomic.Bool
	// mu is held for the whole of a callback; Close takes it to wait for
	// an in-flight one.
	mu     sync.Mutex
	parser *event.Parser
	once   sync.Once

	done chan struct{}
	err  error
	stop sync.Once
}

// handleMIDIMessage runs on the CoreMIDI thread. A packet may carry several
// messages or a SysEx fragment.
func (p *inputPort) handleMIDIMessage(source coremidi.Source, packet coremidi.Packet) {
	if !p.open.Load() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open.Load() {
		return
	}
	ts := monotime.Now()
	p.parser.Feed(packet.Data, func(data []byte) {
		p.handler(contracts.Message{Data: data, Timestamp: ts})
	})
}

func (p *inputPort) lost() {
	if !p.open.Load() {
		return
	}
	log := p.backend.log
	log.Warn("MIDI device disconnected", log.Field().String("port", p.info.Name))
	p.finish(fmt.Errorf("%w: %s: source removed", contracts.ErrDeviceUnavailable, p.info.Name))
}

func (p *inputPort) finish(cause error) {
	p.stop.Do(func() {
		p.err = cause
		p.open.Store(false)
		close(p.done)
	})
}

func (p *inputPort) Info() contracts.PortInfo { return p.info }

func (p *inputPort) IsOpen() bool { return p.open.Load() }

func (p *inputPort) Done() <-chan struct{} { return p.done }

func (p *inputPort) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

func (p *inputPort) Close() error {
	p.once.Do(func() {
		p.finish(nil)
		p.mu.Lock()
		p.mu.Unlock()
		p.conn.Disconnect()

		b := p.backend
		b.mu.Lock()
		delete(b.inputs, p)
		b.mu.Unlock()
		b.log.Info("MIDI input closed", b.log.Field().String("port", p.info.Name))
	})
	return nil
}

type outputPort struct {
	info    contracts.PortInfo
	backend *Backend
	port    coremidi.OutputPort
	dest    coremidi.Destination

	mu   sync.Mutex
	open atomic.Bool
	once sync.Once
}

func (p *outputPort) Info() contracts.PortInfo { return p.info }

func (p *outputPort) IsOpen() bool { return p.open.Load() }

// Send hands data to CoreMIDI in one packet. A failure means the destination
// went away and closes the port.
func (p *outputPort) Send(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty message", contracts.ErrInvalidMessage)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open.Load() {
		return contracts.ErrPortClosed
	}
	packet := coremidi.NewPacket(data, 0)
	if err := packet.Send(&p.port, &p.dest); err != nil {
		p.Close()
		return fmt.Errorf("%w: %s: %v", contracts.ErrSendFailed, p.info.Name, err)
	}
	return nil
}

func (p *outputPort) Close() error {
	p.once.Do(func() {
		p.open.Store(false)
		b := p.backend
		b.mu.Lock()
		delete(b.outputs, p)
		b.mu.Unlock()
		b.log.Info("MIDI output closed", b.log.Field().String("port", p.info.Name))
	})
	return nil
}
