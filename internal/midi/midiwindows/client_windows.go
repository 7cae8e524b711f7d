//go:build windows
// +build windows

package midiwindows

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/ScaleFT/monotime"
	"github.com/leandrodaf/midikit/internal/logger"
	"github.com/leandrodaf/midikit/sdk/contracts"
	"github.com/leandrodaf/midikit/sdk/event"
	"go.uber.org/multierr"
	"golang.org/x/sys/windows"
)

// Type definitions for MIDI handles
type (
	HMIDIIN  windows.Handle
	HMIDIOUT windows.Handle
)

// Constants for callback flags
const (
	CALLBACK_NULL     = 0x00000000 // No callback
	CALLBACK_FUNCTION = 0x00030000 // Indicates that the callback is a function
	MIDI_IO_STATUS    = 0x00000020 // MIDI input/output status
)

// Constants for MIDI message types
const (
	MIM_OPEN      = 0x3C1 // MIDI device opened
	MIM_CLOSE     = 0x3C2 // MIDI device closed
	MIM_DATA      = 0x3C3 // MIDI data received
	MIM_LONGDATA  = 0x3C4 // SysEx buffer returned
	MIM_ERROR     = 0x3C5 // MIDI error
	MIM_LONGERROR = 0x3C6 // Long MIDI error
	MIM_MOREDATA  = 0x3CC // More MIDI data available
)

// Result codes of the midiIn and midiOut calls.
const (
	MMSYSERR_NOERROR     = 0
	MMSYSERR_BADDEVICEID = 2
	MMSYSERR_ALLOCATED   = 4
	MMSYSERR_INVALHANDLE = 5
	MMSYSERR_NODRIVER    = 6
	MIDIERR_STILLPLAYING = 65

	MHDR_DONE = 0x00000001
)

// longMsgTimeout bounds the wait for the driver to return a SysEx buffer.
const longMsgTimeout = 2 * time.Second

var errMMSys = errors.New("winmm call failed")

// Struct representing MIDI device capabilities
type midiInCaps struct {
	wMid           uint16
	wPid           uint16
	vDriverVersion uint32
	szPname        [32]uint16
	dwSupport      uint32
}

type midiOutCaps struct {
	wMid           uint16
	wPid           uint16
	vDriverVersion uint32
	szPname        [32]uint16
	wTechnology    uint16
	wVoices        uint16
	wNotes         uint16
	wChannelMask   uint16
	dwSupport      uint32
}

// midiHdr is the MIDIHDR buffer descriptor used for SysEx output.
type midiHdr struct {
	lpData          *byte
	dwBufferLength  uint32
	dwBytesRecorded uint32
	dwUser          uintptr
	dwFlags         uint32
	lpNext          uintptr
	reserved        uintptr
	dwOffset        uint32
	dwReserved      [8]uintptr
}

// Load the winmm.dll library and required functions
var (
	winmm                      = windows.NewLazySystemDLL("winmm.dll")
	procMidiInGetNumDevs       = winmm.NewProc("midiInGetNumDevs")
	procMidiInGetDevCaps       = winmm.NewProc("midiInGetDevCapsW")
	procMidiInOpen             = winmm.NewProc("midiInOpen")
	procMidiInStart            = winmm.NewProc("midiInStart")
	procMidiInStop             = winmm.NewProc("midiInStop")
	procMidiInReset            = winmm.NewProc("midiInReset")
	procMidiInClose            = winmm.NewProc("midiInClose")
	procMidiOutGetNumDevs      = winmm.NewProc("midiOutGetNumDevs")
	procMidiOutGetDevCaps      = winmm.NewProc("midiOutGetDevCapsW")
	procMidiOutOpen            = winmm.NewProc("midiOutOpen")
	procMidiOutShortMsg        = winmm.NewProc("midiOutShortMsg")
	procMidiOutLongMsg         = winmm.NewProc("midiOutLongMsg")
	procMidiOutPrepareHeader   = winmm.NewProc("midiOutPrepareHeader")
	procMidiOutUnprepareHeader = winmm.NewProc("midiOutUnprepareHeader")
	procMidiOutReset           = winmm.NewProc("midiOutReset")
	procMidiOutClose           = winmm.NewProc("midiOutClose")
)

// The driver callback is created once; dwInstance carries a registry id
// rather than a Go pointer.
var (
	callbackOnce sync.Once
	callback     uintptr

	registryMu sync.RWMutex
	registry   = make(map[uintptr]*inputPort)
	nextID     uintptr
)

func mmErr(call string, r uintptr) error {
	return fmt.Errorf("%w: %s returned %d", errMMSys, call, r)
}

// Backend talks to the Windows multimedia MIDI API.
type Backend struct {
	log contracts.Logger

	mu      sync.Mutex
	inputs  map[*inputPort]struct{}
	outputs map[*outputPort]struct{}
	closed  bool
}

// New returns the WinMM backend.
func New(log contracts.Logger) (contracts.Backend, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if err := winmm.Load(); err != nil {
		return nil, fmt.Errorf("%w: %v", contracts.ErrUnsupportedOS, err)
	}
	return &Backend{
		log:     log.With(log.Field().String("backend", Name)),
		inputs:  make(map[*inputPort]struct{}),
		outputs: make(map[*outputPort]struct{}),
	}, nil
}

func (b *Backend) Name() string { return Name }

// ListPorts lists midiIn devices for Input and midiOut devices for Output.
// Devices whose capabilities cannot be read are skipped.
func (b *Backend) ListPorts(dir contracts.Direction) ([]contracts.PortInfo, error) {
	var ports []contracts.PortInfo
	if dir == contracts.Input {
		r0, _, _ := procMidiInGetNumDevs.Call()
		for i := uint32(0); i < uint32(r0); i++ {
			var caps midiInCaps
			r1, _, _ := procMidiInGetDevCaps.Call(uintptr(i), uintptr(unsafe.Pointer(&caps)), unsafe.Sizeof(caps))
			if r1 != MMSYSERR_NOERROR {
				b.log.Warn("Failed to get information for MIDI device", b.log.Field().Int("device", int(i)))
				continue
			}
			ports = append(ports, portInfo(len(ports), i, dir, caps.szPname[:], caps.wMid, caps.wPid))
		}
		return ports, nil
	}

	r0, _, _ := procMidiOutGetNumDevs.Call()
	for i := uint32(0); i < uint32(r0); i++ {
		var caps midiOutCaps
		r1, _, _ := procMidiOutGetDevCaps.Call(uintptr(i), uintptr(unsafe.Pointer(&caps)), unsafe.Sizeof(caps))
		if r1 != MMSYSERR_NOERROR {
			b.log.Warn("Failed to get information for MIDI device", b.log.Field().Int("device", int(i)))
			continue
		}
		ports = append(ports, portInfo(len(ports), i, dir, caps.szPname[:], caps.wMid, caps.wPid))
	}
	return ports, nil
}

func portInfo(index int, device uint32, dir contracts.Direction, pname []uint16, mid, pid uint16) contracts.PortInfo {
	name := windows.UTF16ToString(pname)
	return contracts.PortInfo{
		Index:        index,
		Name:         name,
		Direction:    dir,
		Manufacturer: fmt.Sprintf("MID: %d PID: %d", mid, pid),
		EntityName:   name,
		ID:           fmt.Sprintf("winmm:%d", device),
	}
}

// resolve re-lists the ports and returns the device id behind info.
func (b *Backend) resolve(info contracts.PortInfo, dir contracts.Direction) (uint32, error) {
	ports, err := b.ListPorts(dir)
	if err != nil {
		return 0, err
	}
	if info.Index < 0 || info.Index >= len(ports) || ports[info.Index].Name != info.Name {
		return 0, fmt.Errorf("%w: %s", contracts.ErrDeviceUnavailable, info)
	}
	var device uint32
	if _, err := fmt.Sscanf(ports[info.Index].ID, "winmm:%d", &device); err != nil {
		return 0, fmt.Errorf("%w: %s", contracts.ErrDeviceUnavailable, info)
	}
	return device, nil
}

func openError(call string, r uintptr) error {
	switch r {
	case MMSYSERR_ALLOCATED, MMSYSERR_BADDEVICEID, MMSYSERR_NODRIVER:
		return fmt.Errorf("%w: %w", contracts.ErrDeviceUnavailable, mmErr(call, r))
	}
	return mmErr(call, r)
}

// OpenInput opens and starts a midiIn device. The client name has no
// meaning to WinMM.
func (b *Backend) OpenInput(info contracts.PortInfo, clientName string, handler contracts.MessageHandler) (contracts.InputPort, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, contracts.ErrPortClosed
	}
	device, err := b.resolve(info, contracts.Input)
	if err != nil {
		return nil, err
	}

	callbackOnce.Do(func() { callback = windows.NewCallback(midiInCallback) })
	p := &inputPort{info: info, backend: b, handler: handler, done: make(chan struct{})}
	registryMu.Lock()
	nextID++
	p.id = nextID
	registry[p.id] = p
	registryMu.Unlock()

	r1, _, _ := procMidiInOpen.Call(
		uintptr(unsafe.Pointer(&p.handle)),
		uintptr(device),
		callback,
		p.id,
		uintptr(CALLBACK_FUNCTION|MIDI_IO_STATUS),
	)
	if r1 != MMSYSERR_NOERROR {
		p.unregister()
		b.log.Error("Failed to open MIDI device", b.log.Field().String("port", info.Name), b.log.Field().Int("code", int(r1)))
		return nil, openError("midiInOpen", r1)
	}

	p.base = monotime.Now()
	p.open.Store(true)
	if r1, _, _ := procMidiInStart.Call(uintptr(p.handle)); r1 != MMSYSERR_NOERROR {
		p.once.Do(p.release)
		return nil, mmErr("midiInStart", r1)
	}
	b.inputs[p] = struct{}{}
	b.log.Info("MIDI device connected", b.log.Field().String("port", info.Name))
	return p, nil
}

// OpenOutput opens a midiOut device.
func (b *Backend) OpenOutput(info contracts.PortInfo, clientName string) (contracts.OutputPort, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, contracts.ErrPortClosed
	}
	device, err := b.resolve(info, contracts.Output)
	if err != nil {
		return nil, err
	}
	p := &outputPort{info: info, backend: b}
	r1, _, _ := procMidiOutOpen.Call(
		uintptr(unsafe.Pointer(&p.handle)),
		uintptr(device),
		0,
		0,
		uintptr(CALLBACK_NULL),
	)
	if r1 != MMSYSERR_NOERROR {
		b.log.Error("Failed to open MIDI output", b.log.Field().String("port", info.Name), b.log.Field().Int("code", int(r1)))
		return nil, openError("midiOutOpen", r1)
	}
	p.open.Store(true)
	b.outputs[p] = struct{}{}
	b.log.Info("MIDI output opened", b.log.Field().String("port", info.Name))
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
	handle  HMIDIIN
	id      uintptr
	base    uint64

	open atomic.Bool
	// mu is held while a callback runs.
	mu   sync.Mutex
	once sync.Once
	err  error

	done chan struct{}
	lost error
	stop sync.Once
}

// midiInCallback processes incoming MIDI messages on the driver thread.
func midiInCallback(hMidiIn, wMsg, dwInstance, dwParam1, dwParam2 uintptr) uintptr {
	registryMu.RLock()
	p := registry[dwInstance]
	registryMu.RUnlock()
	if p == nil || !p.open.Load() {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open.Load() {
		return 0
	}

	log := p.backend.log
	switch wMsg {
	case MIM_DATA, MIM_MOREDATA:
		raw := [3]byte{byte(dwParam1), byte(dwParam1 >> 8), byte(dwParam1 >> 16)}
		n := shortLen(raw[0])
		if n == 0 {
			return 0
		}
		// dwParam2 is milliseconds since midiInStart
		ts := p.base + uint64(dwParam2)*uint64(time.Millisecond)
		p.handler(contracts.Message{Data: append([]byte(nil), raw[:n]...), Timestamp: ts})
	case MIM_LONGDATA:
		log.Debug("SysEx input is not supported; buffer ignored", log.Field().String("port", p.info.Name))
	case MIM_ERROR, MIM_LONGERROR:
		log.Warn("Invalid MIDI input", log.Field().String("port", p.info.Name), log.Field().Int("msg", int(wMsg)))
	case MIM_CLOSE:
		// the driver closed a device that was never released
		log.Warn("MIDI device disconnected", log.Field().String("port", p.info.Name))
		p.finish(fmt.Errorf("%w: %s: closed by the driver", contracts.ErrDeviceUnavailable, p.info.Name))
	case MIM_OPEN:
	default:
		log.Debug("Unknown MIDI message", log.Field().Int("msg", int(wMsg)))
	}
	return 0
}

// shortLen returns the length of the short message starting with status,
// or 0 when status cannot start one.
func shortLen(status byte) int {
	switch {
	case status < 0x80:
		return 0
	case status < 0xF0:
		return 1 + event.Kind(status&0xF0).DataLen()
	case status == event.StatusMTCQuarterFrame, status == event.StatusSongSelect:
		return 2
	case status == event.StatusSongPosition:
		return 3
	case status == 0xF0, status == 0xF7:
		return 0
	}
	return 1
}

func (p *inputPort) Info() contracts.PortInfo { return p.info }

func (p *inputPort) IsOpen() bool { return p.open.Load() }

func (p *inputPort) Done() <-chan struct{} { return p.done }

func (p *inputPort) Err() error {
	select {
	case <-p.done:
		return p.lost
	default:
		return nil
	}
}

func (p *inputPort) finish(cause error) {
	p.stop.Do(func() {
		p.lost = cause
		p.open.Store(false)
		close(p.done)
	})
}

func (p *inputPort) unregister() {
	registryMu.Lock()
	delete(registry, p.id)
	registryMu.Unlock()
}

// release stops the device without holding mu, since WinMM may deliver
// MIM_CLOSE synchronously, then waits out a running callback.
func (p *inputPort) release() {
	p.finish(nil)
	procMidiInStop.Call(uintptr(p.handle))
	procMidiInReset.Call(uintptr(p.handle))
	// a handle the driver already closed may refuse a second close
	if r1, _, _ := procMidiInClose.Call(uintptr(p.handle)); r1 != MMSYSERR_NOERROR && p.Err() == nil {
		p.err = mmErr("midiInClose", r1)
	}
	p.mu.Lock()
	p.mu.Unlock()
	p.unregister()
}

func (p *inputPort) Close() error {
	p.once.Do(func() {
		p.release()
		b := p.backend
		b.mu.Lock()
		delete(b.inputs, p)
		b.mu.Unlock()
		b.log.Info("MIDI input closed", b.log.Field().String("port", p.info.Name))
	})
	return p.err
}

type outputPort struct {
	info    contracts.PortInfo
	backend *Backend
	handle  HMIDIOUT

	mu   sync.Mutex
	open atomic.Bool
	once sync.Once
	err  error
}

func (p *outputPort) Info() contracts.PortInfo { return p.info }

func (p *outputPort) IsOpen() bool { return p.open.Load() }

// Send uses midiOutShortMsg for messages of up to three bytes and
// midiOutLongMsg for SysEx. Handle errors mean the device is gone and close
// the port.
func (p *outputPort) Send(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty message", contracts.ErrInvalidMessage)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open.Load() {
		return contracts.ErrPortClosed
	}

	var r uintptr
	var call string
	if data[0] == 0xF0 || len(data) > 3 {
		r, call = p.sendLong(data)
	} else {
		var msg uint32
		for i, c := range data {
			msg |= uint32(c) << (8 * i)
		}
		r, _, _ = procMidiOutShortMsg.Call(uintptr(p.handle), uintptr(msg))
		call = "midiOutShortMsg"
	}
	if r == MMSYSERR_NOERROR {
		return nil
	}
	if r == MMSYSERR_INVALHANDLE || r == MMSYSERR_NODRIVER || r == MMSYSERR_BADDEVICEID {
		p.closeLocked()
	}
	return fmt.Errorf("%w: %s: %w", contracts.ErrSendFailed, p.info.Name, mmErr(call, r))
}

// sendLong sends data through a prepared MIDIHDR and waits until the driver
// has consumed it.
func (p *outputPort) sendLong(data []byte) (uintptr, string) {
	buf := append([]byte(nil), data...)
	hdr := &midiHdr{lpData: &buf[0], dwBufferLength: uint32(len(buf))}
	size := unsafe.Sizeof(*hdr)
	if r, _, _ := procMidiOutPrepareHeader.Call(uintptr(p.handle), uintptr(unsafe.Pointer(hdr)), size); r != MMSYSERR_NOERROR {
		return r, "midiOutPrepareHeader"
	}
	r, _, _ := procMidiOutLongMsg.Call(uintptr(p.handle), uintptr(unsafe.Pointer(hdr)), size)
	if r == MMSYSERR_NOERROR {
		deadline := time.Now().Add(longMsgTimeout)
		for atomic.LoadUint32(&hdr.dwFlags)&MHDR_DONE == 0 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
	}
	for {
		u, _, _ := procMidiOutUnprepareHeader.Call(uintptr(p.handle), uintptr(unsafe.Pointer(hdr)), size)
		if u != MIDIERR_STILLPLAYING {
			break
		}
		procMidiOutReset.Call(uintptr(p.handle))
	}
	runtime.KeepAlive(buf)
	runtime.KeepAlive(hdr)
	return r, "midiOutLongMsg"
}

func (p *outputPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
	return p.err
}

// closeLocked releases the device. Caller holds p.mu.
func (p *outputPort) closeLocked() {
	p.once.Do(func() {
		p.open.Store(false)
		procMidiOutReset.Call(uintptr(p.handle))
		if r1, _, _ := procMidiOutClose.Call(uintptr(p.handle)); r1 != MMSYSERR_NOERROR {
			p.err = mmErr("midiOutClose", r1)
		}
		b := p.backend
		b.mu.Lock()
		delete(b.outputs, p)
		b.mu.Unlock()
		b.log.Info("MIDI output closed", b.log.Field().String("port", p.info.Name))
	})
}
