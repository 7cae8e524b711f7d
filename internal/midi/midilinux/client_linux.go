//go:build linux
// +build linux

package midilinux

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ScaleFT/monotime"
	"github.com/leandrodaf/midikit/internal/logger"
	"github.com/leandrodaf/midikit/sdk/contracts"
	"github.com/leandrodaf/midikit/sdk/event"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

const (
	devDir = "/dev/snd"
	sysDir = "/sys/class/sound"
)

// Backend reads and writes ALSA rawmidi device nodes. Every node is listed
// both as an input and as an output.
type Backend struct {
	log    contracts.Logger
	devDir string
	sysDir string

	mu      sync.Mutex
	inputs  map[*inputPort]struct{}
	outputs map[*outputPort]struct{}
	closed  bool
}

// New returns the ALSA rawmidi backend.
func New(log contracts.Logger) (contracts.Backend, error) {
	return newBackend(log, devDir, sysDir), nil
}

func newBackend(log contracts.Logger, dev, sys string) *Backend {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Backend{
		log:     log.With(log.Field().String("backend", Name)),
		devDir:  dev,
		sysDir:  sys,
		inputs:  make(map[*inputPort]struct{}),
		outputs: make(map[*outputPort]struct{}),
	}
}

func (b *Backend) Name() string { return Name }

type node struct {
	path         string
	card, device int
}

// ListPorts lists /dev/snd/midiC<card>D<device> nodes ordered by card and
// device. Port names use the card id from sysfs.
func (b *Backend) ListPorts(dir contracts.Direction) ([]contracts.PortInfo, error) {
	paths, err := filepath.Glob(filepath.Join(b.devDir, "midiC*D*"))
	if err != nil {
		return nil, fmt.Errorf("error listing rawmidi devices: %w", err)
	}
	nodes := make([]node, 0, len(paths))
	for _, p := range paths {
		var n node
		if _, err := fmt.Sscanf(filepath.Base(p), "midiC%dD%d", &n.card, &n.device); err != nil {
			continue
		}
		n.path = p
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].card != nodes[j].card {
			return nodes[i].card < nodes[j].card
		}
		return nodes[i].device < nodes[j].device
	})

	ports := make([]contracts.PortInfo, len(nodes))
	for i, n := range nodes {
		card := b.cardID(n.card)
		ports[i] = contracts.PortInfo{
			Index:      i,
			Name:       fmt.Sprintf("%s MIDI %d", card, n.device+1),
			Direction:  dir,
			EntityName: fmt.Sprintf("hw:%d,%d", n.card, n.device),
			ID:         n.path,
		}
	}
	return ports, nil
}

func (b *Backend) cardID(card int) string {
	id, err := os.ReadFile(filepath.Join(b.sysDir, fmt.Sprintf("card%d", card), "id"))
	if err != nil || len(strings.TrimSpace(string(id))) == 0 {
		return fmt.Sprintf("card%d", card)
	}
	return strings.TrimSpace(string(id))
}

// resolve checks that info still names the same node.
func (b *Backend) resolve(info contracts.PortInfo, dir contracts.Direction) (string, error) {
	ports, err := b.ListPorts(dir)
	if err != nil {
		return "", err
	}
	if info.Index < 0 || info.Index >= len(ports) || ports[info.Index].ID != info.ID {
		return "", fmt.Errorf("%w: %s", contracts.ErrDeviceUnavailable, info)
	}
	return info.ID, nil
}

func openError(path string, err error) error {
	switch {
	case errors.Is(err, unix.EBUSY), errors.Is(err, unix.ENOENT), errors.Is(err, unix.ENODEV), errors.Is(err, unix.ENXIO):
		return fmt.Errorf("%w: %s: %v", contracts.ErrDeviceUnavailable, path, err)
	}
	return fmt.Errorf("error opening %s: %w", path, err)
}

// OpenInput opens the node for reading and starts its reader goroutine,
// which calls handler for every complete message.
func (b *Backend) OpenInput(info contracts.PortInfo, clientName string, handler contracts.MessageHandler) (contracts.InputPort, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, contracts.ErrPortClosed
	}
	path, err := b.resolve(info, contracts.Input)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		b.log.Error("Failed to open MIDI device", b.log.Field().String("port", info.Name), b.log.Field().Error("error", err))
		return nil, openError(path, err)
	}
	p := &inputPort{info: info, backend: b, handler: handler, fd: fd, parser: event.NewParser(), done: make(chan struct{})}
	if err := unix.Pipe2(p.wake[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("error creating wake pipe: %w", err)
	}
	p.open.Store(true)
	p.wg.Add(1)
	go p.run()
	b.inputs[p] = struct{}{}
	b.log.Info("MIDI device connected", b.log.Field().String("port", info.Name), b.log.Field().String("path", path))
	return p, nil
}

// OpenOutput opens the node for writing.
func (b *Backend) OpenOutput(info contracts.PortInfo, clientName string) (contracts.OutputPort, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, contracts.ErrPortClosed
	}
	path, err := b.resolve(info, contracts.Output)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		b.log.Error("Failed to open MIDI output", b.log.Field().String("port", info.Name), b.log.Field().Error("error", err))
		return nil, openError(path, err)
	}
	p := &outputPort{info: info, backend: b, fd: fd}
	p.open.Store(true)
	b.outputs[p] = struct{}{}
	b.log.Info("MIDI output opened", b.log.Field().String("port", info.Name), b.log.Field().String("path", path))
	return p, nil
}

// Close closes every open port.
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
	fd      int
	wake    [2]int
	parser  *event.Parser

	open atomic.Bool
	wg   sync.WaitGroup
	once sync.Once

	done chan struct{}
	err  error
	stop sync.Once
}

// run polls the device and the wake pipe. It returns on Close, or when the
// device reports an error or end of file.
func (p *inputPort) run() {
	defer p.wg.Done()
	log := p.backend.log
	buf := make([]byte, 512)
	fds := []unix.PollFd{
		{Fd: int32(p.fd), Events: unix.POLLIN},
		{Fd: int32(p.wake[0]), Events: unix.POLLIN},
	}
	for {
		fds[0].Revents, fds[1].Revents = 0, 0
		if _, err := unix.Poll(fds, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			log.Error("Poll failed", log.Field().String("port", p.info.Name), log.Field().Error("error", err))
			p.lost(err)
			return
		}
		if fds[1].Revents != 0 {
			return
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
			p.lost(nil)
			return
		}
		n, err := unix.Read(p.fd, buf)
		switch {
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
			continue
		case err != nil, n == 0:
			p.lost(err)
			return
		}
		ts := monotime.Now()
		p.parser.Feed(buf[:n], func(data []byte) {
			p.handler(contracts.Message{Data: data, Timestamp: ts})
		})
	}
}

// lost stops the port after the device reported an error or end of file.
// The descriptors stay open until Close.
func (p *inputPort) lost(err error) {
	if err == nil {
		err = errors.New("device closed")
	}
	log := p.backend.log
	log.Warn("MIDI device disconnected", log.Field().String("port", p.info.Name), log.Field().Error("error", err))
	p.finish(fmt.Errorf("%w: %s: %v", contracts.ErrDeviceUnavailable, p.info.Name, err))
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

// Close wakes the reader, waits for it and releases the descriptors.
func (p *inputPort) Close() error {
	var err error
	p.once.Do(func() {
		p.finish(nil)
		unix.Write(p.wake[1], []byte{0})
		p.wg.Wait()
		err = multierr.Combine(unix.Close(p.fd), unix.Close(p.wake[0]), unix.Close(p.wake[1]))

		b := p.backend
		b.mu.Lock()
		delete(b.inputs, p)
		b.mu.Unlock()
		b.log.Info("MIDI input closed", b.log.Field().String("port", p.info.Name))
	})
	return err
}

type outputPort struct {
	info    contracts.PortInfo
	backend *Backend
	fd      int

	mu   sync.Mutex
	open atomic.Bool
	once sync.Once
	err  error
}

func (p *outputPort) Info() contracts.PortInfo { return p.info }

func (p *outputPort) IsOpen() bool { return p.open.Load() }

// Send writes data in full. ENODEV, EIO and ENXIO mean the device is gone
// and close the port.
func (p *outputPort) Send(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty message", contracts.ErrInvalidMessage)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open.Load() {
		return contracts.ErrPortClosed
	}
	for len(data) > 0 {
		n, err := unix.Write(p.fd, data)
		if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
			continue
		}
		if err != nil {
			if errors.Is(err, unix.ENODEV) || errors.Is(err, unix.EIO) || errors.Is(err, unix.ENXIO) {
				p.closeLocked()
			}
			return fmt.Errorf("%w: %s: %v", contracts.ErrSendFailed, p.info.Name, err)
		}
		data = data[n:]
	}
	return nil
}

func (p *outputPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
	return p.err
}

// closeLocked releases the descriptor. Caller holds p.mu.
func (p *outputPort) closeLocked() {
	p.once.Do(func() {
		p.open.Store(false)
		p.err = unix.Close(p.fd)
		b := p.backend
		b.mu.Lock()
		delete(b.outputs, p)
		b.mu.Unlock()
		b.log.Info("MIDI output closed", b.log.Field().String("port", p.info.Name))
	})
}
