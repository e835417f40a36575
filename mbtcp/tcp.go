// Package mbtcp implements the TCP Server: a listener
// lifecycle state machine that accepts connections through a
// port.Listener, wraps each accepted port.Port in its own mbserver.Resource,
// and ticks every live connection once per Process call. The accept and
// tick cycle is driven by repeated, non-blocking Process calls rather than
// a goroutine-per-connection loop.
package mbtcp

import (
	"strconv"
	"sync"
	"time"

	"github.com/modbuscore/modbuscore/mbserver"
	"github.com/modbuscore/modbuscore/port"
	"github.com/modbuscore/modbuscore/signals"
	"github.com/modbuscore/modbuscore/statuscode"
	"github.com/modbuscore/modbuscore/unitfilter"
)

// StandardPort is the well-known Modbus TCP port, 502.
const StandardPort uint16 = 502

// Defaults holds the fallback values applied to any zero field in a
// Config.
var Defaults = struct {
	Ipaddr  string
	Port    uint16
	Timeout time.Duration
	MaxConn int
}{
	Ipaddr:  "0.0.0.0",
	Port:    StandardPort,
	Timeout: 3 * time.Second,
	MaxConn: 10,
}

// Config configures a Server. The zero value is not directly usable;
// construct with New, which applies Defaults to unset fields.
type Config struct {
	Ipaddr string
	Port   uint16

	// Timeout is the connection timeout reported by Timeout and changed by
	// SetTimeout. The server stores it only; it is not passed to the
	// listener or to accepted connections' ports.
	Timeout time.Duration

	// MaxConnections caps concurrently served connections. New replaces a
	// value below 1 with Defaults.MaxConn; SetMaxConnections coerces 0 to 1.
	MaxConnections int

	// BroadcastEnabled is the broadcast setting for every accepted
	// connection's unit filter. New does not default it: left at its zero
	// value false, unit 0 is not treated as broadcast on any connection.
	BroadcastEnabled bool

	// UnitMap, if non-nil, is installed on every accepted connection's
	// unit filter.
	UnitMap []byte

	Now func() time.Time
}

type state int

const (
	stateClosed state = iota
	stateBeginOpen
	stateWaitForOpen
	stateOpen
)

type connection struct {
	name string
	res  *mbserver.Resource

	unsubTx, unsubRx, unsubError, unsubCompleted signals.Subscription
}

// Server is the TCP Server Resource: owns a port.Listener,
// accepts pending connections up to MaxConnections, and drives every live
// connection's mbserver.Resource one tick per Process call.
type Server struct {
	mu sync.Mutex

	listener port.Listener
	device   mbserver.Device
	cfg      Config
	now      func() time.Time

	state       state
	closeWanted bool

	conns      []*connection
	nextConnID int

	lastStatus          statuscode.StatusCode
	lastErrorStatus      statuscode.StatusCode
	lastErrorText        string
	lastStatusTimestamp time.Time

	openedBus          signals.Bus[func()]
	closedBus          signals.Bus[func()]
	txBus              signals.Bus[func(source string, data []byte, size int)]
	rxBus              signals.Bus[func(source string, data []byte, size int)]
	errorBus           signals.Bus[func(source string, status statuscode.StatusCode, text string)]
	completedBus       signals.Bus[func(source string, status statuscode.StatusCode)]
	newConnectionBus   signals.Bus[func(source string)]
	closeConnectionBus signals.Bus[func(source string)]
}

// New builds a Server around an unopened listener. device is shared by
// every accepted connection's Resource. Unset Config fields take their
// value from Defaults.
func New(listener port.Listener, device mbserver.Device, cfg Config) *Server {
	if cfg.Ipaddr == "" {
		cfg.Ipaddr = Defaults.Ipaddr
	}
	if cfg.Port == 0 {
		cfg.Port = Defaults.Port
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = Defaults.Timeout
	}
	if cfg.MaxConnections < 1 {
		cfg.MaxConnections = Defaults.MaxConn
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Server{
		listener: listener,
		device:   device,
		cfg:      cfg,
		now:      now,
		state:    stateBeginOpen,
	}
}

// Ipaddr, Port, Timeout, MaxConnections, and BroadcastEnabled are
// thread-safe accessors for the matching Config field.
func (s *Server) Ipaddr() string            { s.mu.Lock(); defer s.mu.Unlock(); return s.cfg.Ipaddr }
func (s *Server) Port() uint16              { s.mu.Lock(); defer s.mu.Unlock(); return s.cfg.Port }
func (s *Server) Timeout() time.Duration    { s.mu.Lock(); defer s.mu.Unlock(); return s.cfg.Timeout }
func (s *Server) MaxConnections() int       { s.mu.Lock(); defer s.mu.Unlock(); return s.cfg.MaxConnections }
func (s *Server) BroadcastEnabled() bool    { s.mu.Lock(); defer s.mu.Unlock(); return s.cfg.BroadcastEnabled }
func (s *Server) Device() mbserver.Device   { return s.device }
func (s *Server) Type() port.ProtocolType   { return port.TCP }

func (s *Server) SetIpaddr(ipaddr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Ipaddr = ipaddr
}

func (s *Server) SetPort(p uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Port = p
}

func (s *Server) SetTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Timeout = d
}

// SetMaxConnections coerces 0 and negative values to 1.
func (s *Server) SetMaxConnections(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 1 {
		n = 1
	}
	s.cfg.MaxConnections = n
}

func (s *Server) SetBroadcastEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.BroadcastEnabled = enabled
}

// UnitMap returns the installed unit map applied to future connections, or
// nil if none is installed.
func (s *Server) UnitMap() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.UnitMap
}

// SetUnitMap installs a 32-byte unit map applied to future connections. It
// does not retroactively touch already-accepted connections.
func (s *Server) SetUnitMap(m []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.UnitMap = append([]byte(nil), m...)
}

// IsOpen reports whether the listener is accepting connections.
func (s *Server) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener.IsOpen()
}

// SubscribeOpened, SubscribeClosed, SubscribeTx, SubscribeRx,
// SubscribeError, SubscribeCompleted, SubscribeNewConnection, and
// SubscribeCloseConnection mirror mbserver.Resource's signal surface, with
// Tx/Rx/Error/Completed additionally carrying the originating connection's
// name.
func (s *Server) SubscribeOpened(fn func()) signals.Subscription { return s.openedBus.Subscribe(fn) }
func (s *Server) SubscribeClosed(fn func()) signals.Subscription { return s.closedBus.Subscribe(fn) }
func (s *Server) SubscribeTx(fn func(source string, data []byte, size int)) signals.Subscription {
	return s.txBus.Subscribe(fn)
}
func (s *Server) SubscribeRx(fn func(source string, data []byte, size int)) signals.Subscription {
	return s.rxBus.Subscribe(fn)
}
func (s *Server) SubscribeError(fn func(source string, status statuscode.StatusCode, text string)) signals.Subscription {
	return s.errorBus.Subscribe(fn)
}
func (s *Server) SubscribeCompleted(fn func(source string, status statuscode.StatusCode)) signals.Subscription {
	return s.completedBus.Subscribe(fn)
}
func (s *Server) SubscribeNewConnection(fn func(source string)) signals.Subscription {
	return s.newConnectionBus.Subscribe(fn)
}
func (s *Server) SubscribeCloseConnection(fn func(source string)) signals.Subscription {
	return s.closeConnectionBus.Subscribe(fn)
}
func (s *Server) Unsubscribe(sub signals.Subscription) {
	s.openedBus.Unsubscribe(sub)
	s.closedBus.Unsubscribe(sub)
	s.txBus.Unsubscribe(sub)
	s.rxBus.Unsubscribe(sub)
	s.errorBus.Unsubscribe(sub)
	s.completedBus.Unsubscribe(sub)
	s.newConnectionBus.Unsubscribe(sub)
	s.closeConnectionBus.Unsubscribe(sub)
}

// Open begins opening the listener; Process drives it to completion.
func (s *Server) Open() statuscode.StatusCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener.IsOpen() {
		return statuscode.StatusGood
	}
	if s.state == stateClosed {
		s.state = stateBeginOpen
	}
	return statuscode.StatusProcessing
}

// Close requests the listener close; every live connection is closed too.
// Process drives the close to completion.
func (s *Server) Close() statuscode.StatusCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeWanted = true
	return statuscode.StatusProcessing
}

// Process advances the listener's open/accept/reap cycle and ticks every
// live connection once. Call it repeatedly from an event loop; it never
// blocks.
func (s *Server) Process() statuscode.StatusCode {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closeWanted {
		return s.processCloseLocked()
	}

	switch s.state {
	case stateClosed:
		s.state = stateBeginOpen
		fallthrough
	case stateBeginOpen:
		st := s.listener.Open()
		if st.IsProcessing() {
			s.state = stateWaitForOpen
			return s.setResultLocked(st)
		}
		if st.IsBad() {
			return s.setResultLocked(st)
		}
		s.state = stateOpen
		s.openedBus.Emit(func(fn func()) { fn() })
		return s.setResultLocked(statuscode.StatusGood)

	case stateWaitForOpen:
		st := s.listener.Open()
		if st.IsProcessing() {
			return s.setResultLocked(st)
		}
		if st.IsBad() {
			return s.setResultLocked(st)
		}
		s.state = stateOpen
		s.openedBus.Emit(func(fn func()) { fn() })
		return s.setResultLocked(statuscode.StatusGood)

	case stateOpen:
		if !s.listener.IsOpen() {
			s.state = stateBeginOpen
			return s.setResultLocked(statuscode.StatusProcessing)
		}
		s.acceptPendingLocked()
		result := s.tickConnectionsLocked()
		return s.setResultLocked(result)
	}
	return s.lastStatus
}

func (s *Server) processCloseLocked() statuscode.StatusCode {
	for _, c := range s.conns {
		c.res.Close()
	}
	st := s.listener.Close()
	if st.IsProcessing() {
		return s.setResultLocked(st)
	}
	if s.state != stateClosed {
		s.state = stateClosed
		s.closedBus.Emit(func(fn func()) { fn() })
	}
	s.closeWanted = false
	return s.setResultLocked(statuscode.StatusGood)
}

// acceptPendingLocked drains the listener's pending-connection queue up to
// MaxConnections, wrapping each new port.Port in its own mbserver.Resource.
func (s *Server) acceptPendingLocked() {
	for len(s.conns) < s.cfg.MaxConnections {
		p, ok := s.listener.NextPendingConnection()
		if !ok {
			return
		}
		s.nextConnID++
		filter := unitfilter.New()
		filter.BroadcastEnabled = s.cfg.BroadcastEnabled
		if len(s.cfg.UnitMap) > 0 {
			_ = filter.SetMap(s.cfg.UnitMap)
		}
		res := mbserver.New(p, s.device, filter, mbserver.Config{Now: s.now})
		name := connName(s.cfg.Ipaddr, s.cfg.Port, s.nextConnID)
		c := &connection{name: name, res: res}
		c.unsubTx = res.SubscribeTx(func(_ string, data []byte, size int) {
			s.txBus.Emit(func(fn func(string, []byte, int)) { fn(c.name, data, size) })
		})
		c.unsubRx = res.SubscribeRx(func(_ string, data []byte, size int) {
			s.rxBus.Emit(func(fn func(string, []byte, int)) { fn(c.name, data, size) })
		})
		c.unsubError = res.SubscribeError(func(_ string, st statuscode.StatusCode, text string) {
			s.errorBus.Emit(func(fn func(string, statuscode.StatusCode, string)) { fn(c.name, st, text) })
		})
		c.unsubCompleted = res.SubscribeCompleted(func(_ string, st statuscode.StatusCode) {
			s.completedBus.Emit(func(fn func(string, statuscode.StatusCode)) { fn(c.name, st) })
		})
		s.conns = append(s.conns, c)
		s.newConnectionBus.Emit(func(fn func(string)) { fn(c.name) })
	}
}

// tickConnectionsLocked reaps every connection whose underlying port has
// closed, without ticking it again (a tick would let its Resource reopen
// the port), and ticks every remaining connection once.
func (s *Server) tickConnectionsLocked() statuscode.StatusCode {
	live := s.conns[:0]
	result := statuscode.StatusGood
	for _, c := range s.conns {
		if !c.res.IsOpen() {
			c.res.UnsubscribeTx(c.unsubTx)
			c.res.UnsubscribeRx(c.unsubRx)
			c.res.UnsubscribeError(c.unsubError)
			c.res.UnsubscribeCompleted(c.unsubCompleted)
			s.closeConnectionBus.Emit(func(fn func(string)) { fn(c.name) })
			continue
		}
		st := c.res.Process()
		if st.IsProcessing() {
			result = statuscode.StatusProcessing
		}
		live = append(live, c)
	}
	s.conns = live
	return result
}

func (s *Server) setResultLocked(st statuscode.StatusCode) statuscode.StatusCode {
	s.lastStatus = st
	s.lastStatusTimestamp = s.now()
	if st.IsBad() {
		s.lastErrorStatus = st
		s.lastErrorText = st.String()
	}
	return st
}

// LastStatus, LastErrorStatus, LastErrorText, LastStatusTimestamp mirror
// mbserver.Resource's accessors.
func (s *Server) LastStatus() statuscode.StatusCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastStatus
}
func (s *Server) LastErrorStatus() statuscode.StatusCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErrorStatus
}
func (s *Server) LastErrorText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErrorText
}
func (s *Server) LastStatusTimestamp() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastStatusTimestamp
}

// ConnectionCount reports the number of currently live connections.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func connName(ipaddr string, p uint16, id int) string {
	return ipaddr + ":" + strconv.Itoa(int(p)) + "#" + strconv.Itoa(id)
}
