package midiloop

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/leandrodaf/midikit/sdk/contracts"
)

type inputPort struct {
	info    contracts.PortInfo
	cable   *cable
	backend *Backend
	handler contracts.MessageHandler

	ch   chan contracts.Message
	done chan struct{}
	err  error
	wg   sync.WaitGroup
	once sync.Once
}

// run is the port's callback goroutine, standing in for a driver thread.
func (p *inputPort) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case m := <-p.ch:
			select {
			case <-p.done:
				return
			default:
			}
			p.handler(m)
		}
	}
}

func (p *inputPort) deliver(data []byte) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.ch <- stamp(data):
		return true
	case <-p.done:
		return false
	}
}

func (p *inputPort) Info() contracts.PortInfo { return p.info }

func (p *inputPort) IsOpen() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *inputPort) Done() <-chan struct{} { return p.done }

func (p *inputPort) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Close stops delivery and waits for a running handler call to return.
func (p *inputPort) Close() error {
	p.shutdown(nil)
	return nil
}

// shutdown records why the port stopped, then closes it.
func (p *inputPort) shutdown(cause error) {
	p.once.Do(func() {
		p.err = cause
		close(p.done)
		p.wg.Wait()

		b := p.backend
		b.mu.Lock()
		if p.cable.in == p {
			p.cable.in = nil
		}
		b.mu.Unlock()
		b.log.Debug("Loopback input closed", b.log.Field().String("port", p.info.Name))
	})
}

type outputPort struct {
	info    contracts.PortInfo
	cable   *cable
	backend *Backend

	open atomic.Bool
	lost atomic.Bool
	once sync.Once
}

func (p *outputPort) Info() contracts.PortInfo { return p.info }

func (p *outputPort) IsOpen() bool { return p.open.Load() }

// Send hands data to the cable's input, if one is open.
func (p *outputPort) Send(data []byte) error {
	if !p.open.Load() {
		return contracts.ErrPortClosed
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: empty message", contracts.ErrInvalidMessage)
	}
	if p.lost.Load() {
		p.Close()
		return fmt.Errorf("%w: %s unplugged", contracts.ErrSendFailed, p.info.Name)
	}

	b := p.backend
	b.mu.Lock()
	in := p.cable.in
	b.mu.Unlock()
	if in != nil {
		in.deliver(data)
	}
	return nil
}

func (p *outputPort) Close() error {
	p.once.Do(func() {
		p.open.Store(false)
		b := p.backend
		b.mu.Lock()
		delete(p.cable.outputs, p)
		b.mu.Unlock()
		b.log.Debug("Loopback output closed", b.log.Field().String("port", p.info.Name))
	})
	return nil
}
