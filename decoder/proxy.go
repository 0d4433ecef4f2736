package decoder

import (
	"github.com/google/uuid"

	"github.com/openmediakit/streamkit/av"
)

// Proxy is one owner's handle onto the shared decoder. It carries no
// decoding state of its own: everything real lives in the manager, and the
// proxy only makes sure its owner is the active one before forwarding.
type Proxy struct {
	id string
	m  *Manager
	cb av.DecoderCallback
}

func newProxy(m *Manager, cb av.DecoderCallback) *Proxy {
	return &Proxy{
		id: uuid.NewString(),
		m:  m,
		cb: cb,
	}
}

// ID identifies this owner in logs.
func (p *Proxy) ID() string {
	return p.id
}

// Init claims the decoder for this owner and runs the shared
// initialization.
func (p *Proxy) Init() <-chan av.InitResult {
	if !p.m.isActive(p) {
		p.m.Select(p)
	}
	return p.m.InitDecoder()
}

// Input claims the decoder if needed, then submits the sample.
func (p *Proxy) Input(s *av.Sample) error {
	if !p.m.isActive(p) {
		p.m.Select(p)
	}
	dec := p.m.currentDecoder()
	if dec == nil {
		return av.ErrNoDecoder
	}
	return dec.Input(s)
}

// Flush forwards only when this owner is active; an inactive owner has
// nothing buffered to flush. The decoder can vanish between the two
// checks when a shutdown races in, which counts as inactive.
func (p *Proxy) Flush() error {
	if p.m.isActive(p) {
		if dec := p.m.currentDecoder(); dec != nil {
			return dec.Flush()
		}
	}
	return nil
}

// Drain forwards when active; completion then arrives through the
// manager. An inactive owner holds no frames, so its drain completes
// immediately on its own callback.
func (p *Proxy) Drain() error {
	if p.m.isActive(p) {
		if dec := p.m.currentDecoder(); dec != nil {
			return dec.Drain()
		}
	}
	p.cb.OnDrainComplete()
	return nil
}

// Shutdown idles this owner, draining and flushing the shared decoder if
// it was active. The decoder itself stays alive for the other owners.
func (p *Proxy) Shutdown() {
	p.m.setIdle(p)
}
