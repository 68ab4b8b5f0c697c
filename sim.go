package gpib

import (
	"sort"
	"sync"
	"time"
)

// Instrument is the behavior of one simulated device on a Simulator bus.
type Instrument interface {
	// Handle processes one complete write and returns the bytes the
	// instrument will talk back on subsequent reads. nil means no
	// answer.
	Handle(request []byte) []byte
}

// InstrumentFunc adapts a function to the Instrument interface.
type InstrumentFunc func(request []byte) []byte

func (f InstrumentFunc) Handle(request []byte) []byte { return f(request) }

// EchoInstrument talks back exactly the bytes written to it.
type EchoInstrument struct{}

func (EchoInstrument) Handle(request []byte) []byte {
	return append([]byte(nil), request...)
}

// Simulator is an in-memory GPIB board for tests and development. It
// implements Driver and BoardDriver with the same latched-status protocol
// as the real bus-control layer: non-blocking transfers resolve after the
// configured latency (or the descriptor timeout, whichever strikes first)
// and their terminal status stays readable until the next operation.
//
// The zero latency default resolves transfers on the next status sample.
type Simulator struct {
	mu      sync.Mutex
	latency time.Duration
	insts   map[simAddr]Instrument
	output  map[simAddr][]byte
	devs    map[Ud]*simDev
	next    Ud
	openErr ErrorCode
	samples int
}

type simAddr struct {
	board, pad int
}

type simDev struct {
	addr    simAddr
	timeout time.Duration
	status  Status
	code    ErrorCode
	count   int
	op      *simOp
}

type simOp struct {
	timer *time.Timer
	done  bool
}

// NewSimulator creates an empty simulated bus. Attach instruments before
// opening handles against it.
func NewSimulator() *Simulator {
	return &Simulator{
		insts:  make(map[simAddr]Instrument),
		output: make(map[simAddr][]byte),
		devs:   make(map[Ud]*simDev),
	}
}

// Attach places an instrument at the given primary address on board 0.
func (s *Simulator) Attach(pad int, inst Instrument) {
	s.AttachBoard(0, pad, inst)
}

// AttachBoard places an instrument at the given board and primary address.
func (s *Simulator) AttachBoard(board, pad int, inst Instrument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insts[simAddr{board, pad}] = inst
}

// SetLatency sets the simulated duration of every bus transaction.
func (s *Simulator) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

func (s *Simulator) boardExists(board int) bool {
	if board == 0 {
		return true
	}
	for addr := range s.insts {
		if addr.board == board {
			return true
		}
	}
	return false
}

// Dev opens a descriptor. A board nobody is attached to does not exist and
// reports ENEB; a silent primary address opens fine and fails at I/O time,
// like the real thing.
func (s *Simulator) Dev(board, pad, sad int, timeout time.Duration, sendEOI bool, eos EosMode) (Ud, Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.boardExists(board) {
		s.openErr = ENEB
		return -1, ERR
	}
	ud := s.next
	s.next++
	s.devs[ud] = &simDev{
		addr:    simAddr{board, pad},
		timeout: timeout,
		status:  CMPL | CIC,
	}
	return ud, CMPL | CIC
}

func (s *Simulator) Online(ud Ud, online bool) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev, ok := s.devs[ud]
	if !ok {
		return s.badDescriptor(nil)
	}
	if !online {
		if dev.op != nil && !dev.op.done {
			dev.op.timer.Stop()
			dev.op.done = true
		}
		delete(s.devs, ud)
	}
	return CMPL | CIC
}

func (s *Simulator) Clear(ud Ud) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev, ok := s.devs[ud]
	if !ok {
		return s.badDescriptor(nil)
	}
	delete(s.output, dev.addr)
	dev.status = CMPL | CIC
	dev.count = 0
	return dev.status
}

// badDescriptor latches the descriptor-misuse outcome. Caller holds s.mu.
func (s *Simulator) badDescriptor(dev *simDev) Status {
	if dev != nil {
		dev.status = ERR | CMPL
		dev.code = EDVR
		return dev.status
	}
	s.openErr = EDVR
	return ERR | CMPL
}

// transferDelay bounds the transaction latency by the descriptor timeout.
// The second return value reports whether the timeout struck first.
func (dev *simDev) transferDelay(latency time.Duration) (time.Duration, bool) {
	if dev.timeout > 0 && latency > dev.timeout {
		return dev.timeout, true
	}
	return latency, false
}

// Write blocks for the transaction latency and hands the bytes to the
// attached instrument; its answer is queued for subsequent reads. Writing
// to an address nobody answers on reports ENOL.
func (s *Simulator) Write(ud Ud, p []byte) Status {
	s.mu.Lock()
	dev, ok := s.devs[ud]
	if !ok {
		st := s.badDescriptor(nil)
		s.mu.Unlock()
		return st
	}
	delay, timedOut := dev.transferDelay(s.latency)
	s.mu.Unlock()
	time.Sleep(delay)
	s.mu.Lock()
	defer s.mu.Unlock()
	if timedOut {
		return dev.latchTimeout()
	}
	return s.deliverWrite(dev, p)
}

// deliverWrite completes a write transfer. Caller holds s.mu.
func (s *Simulator) deliverWrite(dev *simDev, p []byte) Status {
	inst, ok := s.insts[dev.addr]
	if !ok {
		dev.status = ERR | CMPL | CIC
		dev.code = ENOL
		dev.count = 0
		return dev.status
	}
	if answer := inst.Handle(p); answer != nil {
		s.output[dev.addr] = append(s.output[dev.addr], answer...)
	}
	dev.status = CMPL | CIC | END
	dev.count = len(p)
	return dev.status
}

// Read blocks until the instrument has something to say or the timeout
// expires, then transfers up to len(p) bytes.
func (s *Simulator) Read(ud Ud, p []byte) Status {
	s.mu.Lock()
	dev, ok := s.devs[ud]
	if !ok {
		st := s.badDescriptor(nil)
		s.mu.Unlock()
		return st
	}
	delay, timedOut := dev.transferDelay(s.latency)
	deadline := time.Now().Add(dev.timeout)
	s.mu.Unlock()
	time.Sleep(delay)
	s.mu.Lock()
	defer s.mu.Unlock()
	if timedOut {
		return dev.latchTimeout()
	}
	for len(s.output[dev.addr]) == 0 {
		if dev.timeout > 0 && !time.Now().Before(deadline) {
			return dev.latchTimeout()
		}
		s.mu.Unlock()
		time.Sleep(time.Millisecond)
		s.mu.Lock()
	}
	return s.deliverRead(dev, p)
}

// deliverRead completes a read transfer. Caller holds s.mu.
func (s *Simulator) deliverRead(dev *simDev, p []byte) Status {
	queued := s.output[dev.addr]
	n := copy(p, queued)
	s.output[dev.addr] = queued[n:]
	dev.status = CMPL | CIC
	if len(s.output[dev.addr]) == 0 {
		dev.status |= END
	}
	dev.count = n
	return dev.status
}

func (dev *simDev) latchTimeout() Status {
	dev.status = ERR | TIMO | CMPL | CIC
	dev.code = EABO
	dev.count = 0
	return dev.status
}

// WriteAsync issues a non-blocking write. The initial status carries no
// CMPL; the terminal status is latched once the simulated transaction
// resolves.
func (s *Simulator) WriteAsync(ud Ud, p []byte) Status {
	return s.startAsync(ud, func(dev *simDev) bool {
		s.deliverWrite(dev, p)
		return true
	})
}

// ReadAsync issues a non-blocking read into p. Like the blocking Read, the
// transfer stays in flight until the instrument has something to say or
// the descriptor timeout expires.
func (s *Simulator) ReadAsync(ud Ud, p []byte) Status {
	s.mu.Lock()
	var deadline time.Time
	if dev, ok := s.devs[ud]; ok && dev.timeout > 0 {
		deadline = time.Now().Add(dev.timeout)
	}
	s.mu.Unlock()
	return s.startAsync(ud, func(dev *simDev) bool {
		if len(s.output[dev.addr]) == 0 {
			if deadline.IsZero() || time.Now().Before(deadline) {
				return false
			}
			dev.latchTimeout()
		} else {
			s.deliverRead(dev, p)
		}
		return true
	})
}

// startAsync records the single in-flight operation of the descriptor and
// schedules its resolution. complete runs with s.mu held; returning false
// keeps the operation in flight and retries shortly, mirroring the
// blocking layer's wait loop.
func (s *Simulator) startAsync(ud Ud, complete func(*simDev) bool) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev, ok := s.devs[ud]
	if !ok {
		return s.badDescriptor(nil)
	}
	if dev.op != nil && !dev.op.done {
		dev.code = EOIP
		return ERR | CMPL | CIC
	}
	delay, timedOut := dev.transferDelay(s.latency)
	op := &simOp{}
	var fire func()
	fire = func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if op.done {
			return
		}
		if timedOut {
			op.done = true
			dev.latchTimeout()
			return
		}
		if complete(dev) {
			op.done = true
			return
		}
		op.timer = time.AfterFunc(time.Millisecond, fire)
	}
	op.timer = time.AfterFunc(delay, fire)
	dev.op = op
	dev.status = CIC
	return CIC
}

// AsyncStatus samples the latched status of the descriptor's in-flight or
// last-finished operation.
func (s *Simulator) AsyncStatus(ud Ud) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples++
	dev, ok := s.devs[ud]
	if !ok {
		return s.badDescriptor(nil)
	}
	return dev.status
}

func (s *Simulator) Count(ud Ud) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dev, ok := s.devs[ud]; ok {
		return dev.count
	}
	return 0
}

func (s *Simulator) Err(ud Ud) ErrorCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dev, ok := s.devs[ud]; ok {
		return dev.code
	}
	return s.openErr
}

// Stop aborts the in-flight operation. An operation that has already
// latched a terminal status is left untouched, so a completion that won
// the race against the abort stands.
func (s *Simulator) Stop(ud Ud) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev, ok := s.devs[ud]
	if !ok {
		return s.badDescriptor(nil)
	}
	if dev.op != nil && !dev.op.done {
		dev.op.timer.Stop()
		dev.op.done = true
		dev.status = ERR | CMPL | CIC
		dev.code = EABO
		dev.count = 0
	}
	return CMPL | CIC
}

// InterfaceClear drops every queued answer on the board.
func (s *Simulator) InterfaceClear(board int) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.boardExists(board) {
		s.openErr = ENEB
		return ERR | CMPL
	}
	for addr := range s.output {
		if addr.board == board {
			delete(s.output, addr)
		}
	}
	return CMPL | CIC
}

// FindListeners reports the attached primary addresses, sorted.
func (s *Simulator) FindListeners(board int) ([]int, Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.boardExists(board) {
		s.openErr = ENEB
		return nil, ERR | CMPL
	}
	var pads []int
	for addr := range s.insts {
		if addr.board == board {
			pads = append(pads, addr.pad)
		}
	}
	sort.Ints(pads)
	return pads, CMPL | CIC
}
