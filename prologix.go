//go:build linux

package gpib

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Prologix drives a Prologix GPIB-USB controller (or compatible) through
// its serial virtual COM port. The adapter is put in controller mode with
// read-after-write disabled; every transaction addresses the target device
// explicitly.
//
// The adapter itself has no status register, so the non-blocking half of
// the Driver contract is emulated: WriteAsync/ReadAsync run the transfer
// on a background goroutine that latches the terminal status, and Stop
// interrupts an in-flight read through a self-pipe.
type Prologix struct {
	fd        int
	file      *os.File
	pipeR     int // self-pipe read fd
	pipeW     int // self-pipe write fd
	closeOnce sync.Once

	txMu sync.Mutex // serializes transactions on the serial port

	mu      sync.Mutex // guards descriptor table and latched state
	devs    map[Ud]*plxDev
	next    Ud
	cur     int // currently addressed pad, -1 when unknown
	openErr ErrorCode
}

type plxDev struct {
	pad     int
	timeout time.Duration
	eos     EosMode
	sendEOI bool
	status  Status
	code    ErrorCode
	count   int
	op      *plxOp
}

type plxOp struct {
	done bool
}

// idleGap is the inter-byte silence that ends a read: with no EOI
// indication on the serial side, a quiet bus after at least one byte means
// the instrument has finished talking.
const idleGap = 50 * time.Millisecond

// OpenPrologix opens the adapter's serial port in raw mode and configures
// it as controller-in-charge.
func OpenPrologix(device string) (*Prologix, error) {
	fd, err := syscall.Open(device, syscall.O_RDWR|syscall.O_NOCTTY|syscall.O_NONBLOCK, 0666)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", device, err)
	}
	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("get termios: %w", err)
	}

	// Raw mode
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB
	termios.Cflag |= unix.CS8

	// The adapter enumerates as USB CDC; the baud setting is nominal.
	termios.Cflag &^= unix.CBAUD
	termios.Cflag |= unix.B115200

	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("set termios: %w", err)
	}
	syscall.SetNonblock(fd, false)

	// Self-pipe so Stop and Close can interrupt a blocked read.
	pipeFds := make([]int, 2)
	if err := unix.Pipe(pipeFds); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("pipe: %w", err)
	}

	g := &Prologix{
		fd:    fd,
		file:  os.NewFile(uintptr(fd), device),
		pipeR: pipeFds[0],
		pipeW: pipeFds[1],
		devs:  make(map[Ud]*plxDev),
		cur:   -1,
	}
	for _, cmd := range []string{"++mode 1", "++auto 0", "++eoi 1", "++eot_enable 0"} {
		if err := g.command(cmd); err != nil {
			g.Close()
			return nil, err
		}
	}
	return g, nil
}

// Close shuts the serial port down and unblocks any in-flight transfer.
// Safe to call multiple times.
func (g *Prologix) Close() error {
	var err error
	g.closeOnce.Do(func() {
		// Return the instruments to local control; best effort.
		g.command("++loc")
		unix.Write(g.pipeW, []byte{1})
		if g.file != nil {
			err = g.file.Close()
		}
		unix.Close(g.pipeR)
		unix.Close(g.pipeW)
	})
	return err
}

// command sends one ++ controller command.
func (g *Prologix) command(cmd string) error {
	_, err := g.file.WriteString(cmd + "\n")
	return err
}

// Dev registers a descriptor. The adapter drives a single bus, so only
// board 0 exists. Secondary addressing is not wired through; a nonzero sad
// reports ECAP.
func (g *Prologix) Dev(board, pad, sad int, timeout time.Duration, sendEOI bool, eos EosMode) (Ud, Status) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if board != 0 {
		g.openErr = ENEB
		return -1, ERR
	}
	if sad != 0 {
		g.openErr = ECAP
		return -1, ERR
	}
	ud := g.next
	g.next++
	g.devs[ud] = &plxDev{
		pad:     pad,
		timeout: timeout,
		eos:     eos,
		sendEOI: sendEOI,
		status:  CMPL | CIC,
	}
	return ud, CMPL | CIC
}

func (g *Prologix) Online(ud Ud, online bool) Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	dev, ok := g.devs[ud]
	if !ok {
		g.openErr = EDVR
		return ERR | CMPL
	}
	if !online {
		if dev.op != nil && !dev.op.done {
			unix.Write(g.pipeW, []byte{1})
		}
		delete(g.devs, ud)
	}
	return CMPL | CIC
}

// Clear sends Selected Device Clear to the addressed instrument.
func (g *Prologix) Clear(ud Ud) Status {
	g.txMu.Lock()
	defer g.txMu.Unlock()
	dev, st := g.lookup(ud)
	if dev == nil {
		return st
	}
	if err := g.address(dev); err != nil {
		return g.latch(dev, ERR|CMPL|CIC, EDVR, 0)
	}
	if err := g.command("++clr"); err != nil {
		return g.latch(dev, ERR|CMPL|CIC, EDVR, 0)
	}
	return g.latch(dev, CMPL|CIC, 0, 0)
}

func (g *Prologix) lookup(ud Ud) (*plxDev, Status) {
	g.mu.Lock()
	defer g.mu.Unlock()
	dev, ok := g.devs[ud]
	if !ok {
		g.openErr = EDVR
		return nil, ERR | CMPL
	}
	return dev, dev.status
}

func (g *Prologix) latch(dev *plxDev, st Status, code ErrorCode, count int) Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	dev.status = st
	dev.code = code
	dev.count = count
	return st
}

// address points the adapter at the device and applies its termination
// settings. Caller holds txMu.
func (g *Prologix) address(dev *plxDev) error {
	g.mu.Lock()
	cur := g.cur
	g.mu.Unlock()
	if cur != dev.pad {
		if err := g.command("++addr " + strconv.Itoa(dev.pad)); err != nil {
			return err
		}
		g.mu.Lock()
		g.cur = dev.pad
		g.mu.Unlock()
	}
	eoi := "0"
	if dev.sendEOI {
		eoi = "1"
	}
	if err := g.command("++eoi " + eoi); err != nil {
		return err
	}
	return g.command("++eos " + strconv.Itoa(eosSetting(dev.eos)))
}

// eosSetting maps an EosMode to the adapter's write-termination setting:
// 0 CR+LF, 1 CR, 2 LF, 3 none.
func eosSetting(eos EosMode) int {
	if !eos.Xeos {
		return 3
	}
	switch eos.Char {
	case '\r':
		return 1
	case '\n':
		return 2
	default:
		return 3
	}
}

// escape protects data bytes the adapter would otherwise interpret: CR,
// LF, ESC and '+' are prefixed with ESC.
func escape(p []byte) []byte {
	out := make([]byte, 0, len(p)+8)
	for _, b := range p {
		switch b {
		case '\r', '\n', 0x1b, '+':
			out = append(out, 0x1b)
		}
		out = append(out, b)
	}
	return out
}

// Write sends p to the addressed instrument.
func (g *Prologix) Write(ud Ud, p []byte) Status {
	g.txMu.Lock()
	defer g.txMu.Unlock()
	dev, st := g.lookup(ud)
	if dev == nil {
		return st
	}
	return g.doWrite(dev, p)
}

func (g *Prologix) doWrite(dev *plxDev, p []byte) Status {
	if err := g.address(dev); err != nil {
		return g.latch(dev, ERR|CMPL|CIC, EDVR, 0)
	}
	data := append(escape(p), '\n')
	if _, err := g.file.Write(data); err != nil {
		return g.latch(dev, ERR|CMPL|CIC, EDVR, 0)
	}
	return g.latch(dev, CMPL|CIC|END, 0, len(p))
}

// Read asks the addressed instrument to talk and fills p. The read ends
// when p is full or the bus goes quiet after at least one byte; expiry of
// the descriptor timeout before any byte arrives latches TIMO.
func (g *Prologix) Read(ud Ud, p []byte) Status {
	g.txMu.Lock()
	defer g.txMu.Unlock()
	dev, st := g.lookup(ud)
	if dev == nil {
		return st
	}
	return g.doRead(dev, p)
}

// doRead performs the blocking read transaction. A Stop or Close aborts it
// through the self-pipe. Caller holds txMu.
func (g *Prologix) doRead(dev *plxDev, p []byte) Status {
	g.drainPipe()
	if err := g.address(dev); err != nil {
		return g.latch(dev, ERR|CMPL|CIC, EDVR, 0)
	}
	if err := g.command("++read eoi"); err != nil {
		return g.latch(dev, ERR|CMPL|CIC, EDVR, 0)
	}
	deadline := time.Now().Add(dev.timeout)
	n := 0
	for n < len(p) {
		var wait time.Duration
		if n > 0 {
			wait = idleGap
		} else if dev.timeout > 0 {
			wait = time.Until(deadline)
			if wait <= 0 {
				return g.latch(dev, ERR|TIMO|CMPL|CIC, EABO, 0)
			}
		} else {
			wait = -time.Millisecond // poll forever
		}
		if wait > 0 && wait < time.Millisecond {
			wait = time.Millisecond
		}
		pfd := []unix.PollFd{
			{Fd: int32(g.fd), Events: unix.POLLIN},
			{Fd: int32(g.pipeR), Events: unix.POLLIN},
		}
		nready, err := unix.Poll(pfd, int(wait.Milliseconds()))
		if err != nil {
			return g.latch(dev, ERR|CMPL|CIC, EDVR, n)
		}
		if pfd[1].Revents&unix.POLLIN != 0 {
			var b [1]byte
			unix.Read(g.pipeR, b[:])
			return g.latch(dev, ERR|CMPL|CIC, EABO, n)
		}
		if nready == 0 {
			// Quiet bus: end of answer, or timeout with nothing said.
			if n > 0 {
				return g.latch(dev, CMPL|CIC|END, 0, n)
			}
			return g.latch(dev, ERR|TIMO|CMPL|CIC, EABO, 0)
		}
		if pfd[0].Revents&unix.POLLIN != 0 {
			m, err := g.file.Read(p[n:])
			if err != nil {
				return g.latch(dev, ERR|CMPL|CIC, EDVR, n)
			}
			n += m
		}
	}
	return g.latch(dev, CMPL|CIC, 0, n)
}

// drainPipe discards any self-pipe byte left over from a Stop that lost
// its race against completion, so it cannot abort the next transfer.
// Caller holds txMu.
func (g *Prologix) drainPipe() {
	for {
		pfd := []unix.PollFd{{Fd: int32(g.pipeR), Events: unix.POLLIN}}
		n, err := unix.Poll(pfd, 0)
		if err != nil || n == 0 || pfd[0].Revents&unix.POLLIN == 0 {
			return
		}
		var b [8]byte
		unix.Read(g.pipeR, b[:])
	}
}

// WriteAsync emulates the non-blocking write: the transfer runs on its own
// goroutine and latches the terminal status for AsyncStatus to sample.
func (g *Prologix) WriteAsync(ud Ud, p []byte) Status {
	return g.startAsync(ud, func(dev *plxDev) {
		g.txMu.Lock()
		defer g.txMu.Unlock()
		g.doWrite(dev, p)
	})
}

// ReadAsync emulates the non-blocking read.
func (g *Prologix) ReadAsync(ud Ud, p []byte) Status {
	return g.startAsync(ud, func(dev *plxDev) {
		g.txMu.Lock()
		defer g.txMu.Unlock()
		g.doRead(dev, p)
	})
}

func (g *Prologix) startAsync(ud Ud, run func(*plxDev)) Status {
	g.mu.Lock()
	dev, ok := g.devs[ud]
	if !ok {
		g.openErr = EDVR
		g.mu.Unlock()
		return ERR | CMPL
	}
	if dev.op != nil && !dev.op.done {
		dev.code = EOIP
		g.mu.Unlock()
		return ERR | CMPL | CIC
	}
	op := &plxOp{}
	dev.op = op
	dev.status = CIC
	g.mu.Unlock()
	go func() {
		run(dev)
		g.mu.Lock()
		op.done = true
		g.mu.Unlock()
	}()
	return CIC
}

// AsyncStatus samples the latched status of the emulated transfer.
func (g *Prologix) AsyncStatus(ud Ud) Status {
	_, st := g.lookup(ud)
	return st
}

func (g *Prologix) Count(ud Ud) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if dev, ok := g.devs[ud]; ok {
		return dev.count
	}
	return 0
}

func (g *Prologix) Err(ud Ud) ErrorCode {
	g.mu.Lock()
	defer g.mu.Unlock()
	if dev, ok := g.devs[ud]; ok {
		return dev.code
	}
	return g.openErr
}

// Stop aborts the emulated in-flight transfer by waking its poll through
// the self-pipe. A transfer that has already latched completion stands.
func (g *Prologix) Stop(ud Ud) Status {
	g.mu.Lock()
	dev, ok := g.devs[ud]
	if !ok {
		g.openErr = EDVR
		g.mu.Unlock()
		return ERR | CMPL
	}
	pending := dev.op != nil && !dev.op.done
	g.mu.Unlock()
	if pending {
		unix.Write(g.pipeW, []byte{1})
	}
	return CMPL | CIC
}
