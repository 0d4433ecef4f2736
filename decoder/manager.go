// Package decoder arbitrates one expensive underlying decoder instance
// between several logical owners. A single owner is active at a time;
// hand-offs drain and flush the decoder before the next owner attaches.
package decoder

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/openmediakit/streamkit/av"
)

var log = logrus.WithField("module", "decoder")

// managerCallback is the callback the underlying decoder reports into. It
// forwards everything to whichever owner is currently active; output with
// no active owner is dropped.
type managerCallback struct {
	m *Manager
}

func (c *managerCallback) OnOutput(f *av.Frame) {
	if cb := c.m.activeCallback(); cb != nil {
		cb.OnOutput(f)
	}
}

func (c *managerCallback) OnError(err error) {
	if cb := c.m.activeCallback(); cb != nil {
		cb.OnError(err)
	}
}

func (c *managerCallback) OnInputExhausted() {
	if cb := c.m.activeCallback(); cb != nil {
		cb.OnInputExhausted()
	}
}

func (c *managerCallback) OnDrainComplete() {
	c.m.drainComplete()
}

func (c *managerCallback) OnResourcesReleased() {
	if cb := c.m.activeCallback(); cb != nil {
		cb.OnResourcesReleased()
	}
}

// Manager owns the one real decoder shared by several Proxy owners. All
// decoder operations funnel through it; the active-owner pointer and the
// internal-drain flag are the only state guarded by the mutex, which also
// backs the condition variable for the blocking hand-off wait.
type Manager struct {
	factory av.DecoderFactory
	queue   *taskQueue
	cb      *managerCallback

	mu        sync.Mutex
	drainDone sync.Cond

	decoder  av.Decoder
	cfg      av.DecoderConfig
	active   *Proxy
	activeCB av.DecoderCallback

	initDone          bool
	initInFlight      bool
	initWaiters       []chan av.InitResult
	waitInternalDrain bool
	creationFailed    bool
	stopped           bool
}

func NewManager(factory av.DecoderFactory) *Manager {
	m := &Manager{
		factory: factory,
		queue:   newTaskQueue(),
	}
	m.cb = &managerCallback{m: m}
	m.drainDone.L = &m.mu
	return m
}

// CreateDecoder hands out a new owner handle, lazily constructing the one
// underlying decoder on first use. A construction failure is sticky: the
// manager hands out no decoders afterwards, but is otherwise unharmed.
func (m *Manager) CreateDecoder(cfg av.DecoderConfig, cb av.DecoderCallback) (*Proxy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creationFailed || m.stopped {
		return nil, av.ErrNoDecoder
	}
	if m.decoder == nil {
		dec, err := m.factory.CreateDecoder(cfg, m.cb, m.queue)
		if err != nil {
			m.creationFailed = true
			log.WithError(err).Error("underlying decoder construction failed")
			return nil, av.ErrNoDecoder
		}
		m.decoder = dec
		m.cfg = cfg
	}
	return newProxy(m, cb), nil
}

// Recreate flushes and shuts down the current underlying decoder and
// builds a replacement with the new configuration. The next InitDecoder
// runs initialization again.
func (m *Manager) Recreate(cfg av.DecoderConfig) error {
	m.mu.Lock()
	old := m.decoder
	m.mu.Unlock()
	if old == nil {
		return av.ErrNoDecoder
	}
	old.Flush()
	old.Shutdown()
	dec, err := m.factory.CreateDecoder(cfg, m.cb, m.queue)
	m.mu.Lock()
	m.decoder = dec
	if err == nil {
		m.cfg = cfg
	}
	m.initDone = false
	m.mu.Unlock()
	return err
}

// Select makes p the active owner. A previously active owner is idled
// first: drained, with the calling goroutine blocking until the decoder
// reports drain completion, then flushed. No-op when p is already active.
func (m *Manager) Select(p *Proxy) {
	m.mu.Lock()
	if m.active == p {
		m.mu.Unlock()
		return
	}
	prev := m.active
	m.mu.Unlock()

	m.setIdle(prev)

	m.mu.Lock()
	m.active = p
	m.activeCB = p.cb
	m.mu.Unlock()
	log.Debugf("owner %s now active", p.id)
}

// setIdle vacates the decoder if p is the active owner. The drain call is
// made without holding the lock: some decoder implementations complete the
// drain synchronously on the calling thread.
func (m *Manager) setIdle(p *Proxy) {
	if p == nil {
		return
	}
	m.mu.Lock()
	if m.active != p || m.decoder == nil {
		m.mu.Unlock()
		return
	}
	dec := m.decoder
	m.waitInternalDrain = true
	m.mu.Unlock()

	err := dec.Drain()

	m.mu.Lock()
	if err != nil {
		m.waitInternalDrain = false
	} else {
		for m.waitInternalDrain {
			m.drainDone.Wait()
		}
	}
	m.mu.Unlock()

	dec.Flush()

	m.mu.Lock()
	m.active = nil
	m.activeCB = nil
	m.mu.Unlock()
	log.Debugf("owner %s idled", p.id)
}

// InitDecoder initializes the underlying decoder at most once. Callers
// arriving while an initialization is in flight are coalesced onto the
// same outcome; an already initialized decoder resolves immediately. The
// returned channel is closed without a value when shutdown cancels the
// request.
func (m *Manager) InitDecoder() <-chan av.InitResult {
	ch := make(chan av.InitResult, 1)

	m.mu.Lock()
	if m.decoder == nil {
		m.mu.Unlock()
		ch <- av.InitResult{Err: av.ErrNoDecoder}
		return ch
	}
	if m.initDone {
		kind := m.cfg.Track.Kind
		m.mu.Unlock()
		ch <- av.InitResult{Kind: kind}
		return ch
	}
	m.initWaiters = append(m.initWaiters, ch)
	if m.initInFlight {
		m.mu.Unlock()
		return ch
	}
	m.initInFlight = true
	dec := m.decoder
	m.mu.Unlock()

	go func() {
		res, ok := <-dec.Init()
		if !ok {
			res = av.InitResult{Err: av.ErrInitCanceled}
		}
		m.mu.Lock()
		m.initInFlight = false
		if res.Err == nil {
			m.initDone = true
		}
		waiters := m.initWaiters
		m.initWaiters = nil
		m.mu.Unlock()
		for _, w := range waiters {
			w <- res
		}
	}()
	return ch
}

// drainComplete handles the underlying decoder's drain-completion signal.
// A drain that was requested internally to vacate the decoder for a
// hand-off only unblocks the waiter; a drain the active owner asked for is
// forwarded to that owner's callback.
func (m *Manager) drainComplete() {
	m.mu.Lock()
	if m.waitInternalDrain {
		m.waitInternalDrain = false
		m.drainDone.Broadcast()
		m.mu.Unlock()
		return
	}
	cb := m.activeCB
	m.mu.Unlock()
	if cb != nil {
		cb.OnDrainComplete()
	}
}

func (m *Manager) activeCallback() av.DecoderCallback {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeCB
}

func (m *Manager) isActive(p *Proxy) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active == p
}

func (m *Manager) currentDecoder() av.Decoder {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decoder
}

// Shutdown releases the underlying decoder and the serializing queue.
// Outstanding InitDecoder requests are canceled without their callbacks
// firing: waiters observe a closed channel.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	waiters := m.initWaiters
	m.initWaiters = nil
	dec := m.decoder
	m.decoder = nil
	m.active = nil
	m.activeCB = nil
	m.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
	if dec != nil {
		dec.Shutdown()
	}
	m.queue.BeginShutdown()
	m.queue.AwaitIdle()
}
