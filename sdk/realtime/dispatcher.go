package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/leandrodaf/midikit/internal/logger"
	"github.com/leandrodaf/midikit/sdk/contracts"
	"github.com/leandrodaf/midikit/sdk/event"
	"go.uber.org/multierr"
)

// Dispatcher implements contracts.ClientMIDI over one backend. Each input
// port it opens gets its own Queue; output ports forward synchronously.
type Dispatcher struct {
	backend    contracts.Backend
	log        contracts.Logger
	clientName string
	queueSize  int
	ignore     contracts.IgnoreConfig
	filter     *contracts.MIDIEventFilter

	mu      sync.Mutex
	inputs  map[*receiver]struct{}
	outputs map[*sender]struct{}
	stopped bool
}

// NewDispatcher wraps backend. Zero option values fall back to defaults:
// a no-op logger, DefaultQueueSize, and ignoring timing and active sensing.
func NewDispatcher(backend contracts.Backend, opts *contracts.ClientOptions) *Dispatcher {
	if opts == nil {
		opts = &contracts.ClientOptions{}
	}
	d := &Dispatcher{
		backend:    backend,
		log:        opts.Logger,
		clientName: opts.ClientName,
		queueSize:  opts.QueueSize,
		ignore:     contracts.IgnoreConfig{Timing: true, ActiveSensing: true},
		filter:     opts.MIDIEventFilter,
		inputs:     make(map[*receiver]struct{}),
		outputs:    make(map[*sender]struct{}),
	}
	if d.log == nil {
		d.log = logger.NewNopLogger()
	}
	if d.clientName == "" {
		d.clientName = contracts.DefaultClientName
	}
	if d.queueSize <= 0 {
		d.queueSize = contracts.DefaultQueueSize
	}
	if opts.Ignore != nil {
		d.ignore = *opts.Ignore
	}
	return d
}

// Backend names the wrapped backend.
func (d *Dispatcher) Backend() string {
	return d.backend.Name()
}

// ListPorts lists the backend's ports in one direction.
func (d *Dispatcher) ListPorts(dir contracts.Direction) ([]contracts.PortInfo, error) {
	return d.backend.ListPorts(dir)
}

func (d *Dispatcher) lookup(dir contracts.Direction, index int) (contracts.PortInfo, error) {
	ports, err := d.backend.ListPorts(dir)
	if err != nil {
		return contracts.PortInfo{}, err
	}
	if index < 0 || index >= len(ports) {
		return contracts.PortInfo{}, fmt.Errorf("%w: no %s port %d (%d available)",
			contracts.ErrDeviceUnavailable, dir, index, len(ports))
	}
	return ports[index], nil
}

// accept applies the ignore flags and the command filter.
func (d *Dispatcher) accept(m contracts.Message) bool {
	if len(m.Data) == 0 {
		return false
	}
	status := m.Data[0]
	switch status {
	case 0xF0:
		if d.ignore.SysEx {
			return false
		}
	case event.StatusTimingClock, event.StatusMTCQuarterFrame:
		if d.ignore.Timing {
			return false
		}
	case event.StatusActiveSensing:
		if d.ignore.ActiveSensing {
			return false
		}
	}
	return d.filter.Allows(status)
}

// OpenInput opens the input port at index and starts buffering its
// messages.
func (d *Dispatcher) OpenInput(index int) (contracts.Receiver, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return nil, fmt.Errorf("%w: client stopped", contracts.ErrPortClosed)
	}
	info, err := d.lookup(contracts.Input, index)
	if err != nil {
		return nil, err
	}

	r := &receiver{d: d, queue: NewQueue(d.queueSize)}
	port, err := d.backend.OpenInput(info, d.clientName, func(m contracts.Message) {
		if d.accept(m) {
			r.queue.Push(m)
		}
	})
	if err != nil {
		d.log.Error("Failed to open input port", d.log.Field().String("port", info.Name), d.log.Field().Error("error", err))
		return nil, err
	}
	r.port = port
	r.wg.Add(1)
	go r.watch()
	d.inputs[r] = struct{}{}
	d.log.Info("Input port opened",
		d.log.Field().String("port", info.Name),
		d.log.Field().Int("index", info.Index),
		d.log.Field().Int("queue_size", d.queueSize),
	)
	return r, nil
}

// OpenOutput opens the output port at index.
func (d *Dispatcher) OpenOutput(index int) (contracts.Sender, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return nil, fmt.Errorf("%w: client stopped", contracts.ErrPortClosed)
	}
	info, err := d.lookup(contracts.Output, index)
	if err != nil {
		return nil, err
	}
	port, err := d.backend.OpenOutput(info, d.clientName)
	if err != nil {
		d.log.Error("Failed to open output port", d.log.Field().String("port", info.Name), d.log.Field().Error("error", err))
		return nil, err
	}
	s := &sender{d: d, port: port}
	d.outputs[s] = struct{}{}
	d.log.Info("Output port opened", d.log.Field().String("port", info.Name), d.log.Field().Int("index", info.Index))
	return s, nil
}

// Stop closes every port opened through d, then the backend.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	inputs := make([]*receiver, 0, len(d.inputs))
	for r := range d.inputs {
		inputs = append(inputs, r)
	}
	outputs := make([]*sender, 0, len(d.outputs))
	for s := range d.outputs {
		outputs = append(outputs, s)
	}
	d.mu.Unlock()

	var err error
	for _, r := range inputs {
		err = multierr.Append(err, r.Close())
	}
	for _, s := range outputs {
		err = multierr.Append(err, s.Close())
	}
	err = multierr.Append(err, d.backend.Close())
	d.log.Info("MIDI client stopped", d.log.Field().String("backend", d.backend.Name()))
	return err
}

func (d *Dispatcher) forgetInput(r *receiver) {
	d.mu.Lock()
	delete(d.inputs, r)
	d.mu.Unlock()
}

func (d *Dispatcher) forgetOutput(s *sender) {
	d.mu.Lock()
	delete(d.outputs, s)
	d.mu.Unlock()
}

// receiver is the contracts.Receiver of one open input port.
type receiver struct {
	d     *Dispatcher
	port  contracts.InputPort
	queue *Queue
	wg    sync.WaitGroup
	once  sync.Once
	err   error
}

// watch waits for the port to stop. On device loss it closes the queue with
// the port's error, which wakes blocked readers once the buffer is drained,
// and releases the port.
func (r *receiver) watch() {
	defer r.wg.Done()
	<-r.port.Done()
	err := r.port.Err()
	if err == nil {
		return
	}
	if !errors.Is(err, contracts.ErrDeviceUnavailable) {
		err = fmt.Errorf("%w: %w", contracts.ErrDeviceUnavailable, err)
	}
	log := r.d.log
	log.Warn("Input device lost",
		log.Field().String("port", r.port.Info().Name),
		log.Field().Error("error", err),
	)
	r.queue.CloseWithError(err)
	if cerr := r.port.Close(); cerr != nil {
		log.Error("Failed to release lost input", log.Field().String("port", r.port.Info().Name), log.Field().Error("error", cerr))
	}
}

func (r *receiver) Info() contracts.PortInfo { return r.port.Info() }

func (r *receiver) TryRecv() (contracts.Message, error) { return r.queue.TryRecv() }

func (r *receiver) RecvBlocking(timeout time.Duration) (contracts.Message, error) {
	return r.queue.RecvBlocking(timeout)
}

func (r *receiver) Recv(ctx context.Context) (contracts.Message, error) { return r.queue.Recv(ctx) }

func (r *receiver) Dropped() uint64 { return r.queue.Dropped() }

// Close closes the port first, so that no callback can push after the
// queue is closed.
func (r *receiver) Close() error {
	r.once.Do(func() {
		r.err = r.port.Close()
		r.wg.Wait()
		r.err = multierr.Append(r.err, r.queue.Close())
		r.d.forgetInput(r)
		r.d.log.Info("Input port closed",
			r.d.log.Field().String("port", r.port.Info().Name),
			r.d.log.Field().Uint64("dropped", r.queue.Dropped()),
		)
	})
	return r.err
}

// sender is the contracts.Sender of one open output port.
type sender struct {
	d    *Dispatcher
	port contracts.OutputPort
	once sync.Once
	err  error
}

func (s *sender) Info() contracts.PortInfo { return s.port.Info() }

func (s *sender) IsOpen() bool { return s.port.IsOpen() }

// Send validates data as one complete live message and hands it to the
// driver on the caller's goroutine.
func (s *sender) Send(data []byte) error {
	if !s.port.IsOpen() {
		return contracts.ErrPortClosed
	}
	if err := validateLive(data); err != nil {
		return err
	}
	if err := s.port.Send(data); err != nil {
		s.d.log.Error("Send failed", s.d.log.Field().String("port", s.port.Info().Name), s.d.log.Field().Error("error", err))
		return err
	}
	return nil
}

// SendEvent sends a channel-voice, SysEx or system event. Meta events exist
// only in files and are rejected.
func (s *sender) SendEvent(ev event.Event) error {
	if ev == nil {
		return fmt.Errorf("%w: nil event", contracts.ErrInvalidMessage)
	}
	if _, ok := ev.(event.Meta); ok {
		return fmt.Errorf("%w: meta events cannot be sent live", contracts.ErrInvalidMessage)
	}
	return s.Send(ev.Bytes())
}

func (s *sender) Close() error {
	s.once.Do(func() {
		s.err = s.port.Close()
		s.d.forgetOutput(s)
		s.d.log.Info("Output port closed", s.d.log.Field().String("port", s.port.Info().Name))
	})
	return s.err
}

// validateLive checks that data is exactly one complete live message.
func validateLive(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty message", contracts.ErrInvalidMessage)
	}
	ev, err := event.Parse(data)
	if err != nil {
		return fmt.Errorf("%w: %v", contracts.ErrInvalidMessage, err)
	}
	if n := len(ev.Bytes()); n != len(data) {
		return fmt.Errorf("%w: %d trailing bytes", contracts.ErrInvalidMessage, len(data)-n)
	}
	return nil
}
