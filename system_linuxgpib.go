//go:build linux && linuxgpib

package gpib

/*
#cgo LDFLAGS: -lgpib
#include <stdlib.h>
#include <gpib/ib.h>
*/
import "C"

import (
	"runtime"
	"sync"
	"time"
	"unsafe"
)

// SystemDriver binds to the installed linux-gpib user library. Build with
// the "linuxgpib" tag; the library reports status through thread-local
// variables, so every call pins its OS thread for the call/accessor pair
// and caches the snapshot per descriptor.
type SystemDriver struct {
	mu      sync.Mutex
	state   map[Ud]*sysState
	openErr ErrorCode
}

type sysState struct {
	status Status
	code   ErrorCode
	count  int
}

// NewSystemDriver returns a driver backed by libgpib.
func NewSystemDriver() *SystemDriver {
	return &SystemDriver{state: make(map[Ud]*sysState)}
}

// call runs fn pinned to one OS thread and snapshots the thread-local
// status, error code and count it left behind.
func (s *SystemDriver) call(ud Ud, fn func() C.int) Status {
	runtime.LockOSThread()
	fn()
	st := Status(C.ThreadIbsta())
	code := ErrorCode(C.ThreadIberr())
	count := int(C.ThreadIbcnt())
	runtime.UnlockOSThread()

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.state[ud]
	if !ok {
		rec = &sysState{}
		s.state[ud] = rec
	}
	rec.status = st
	rec.count = count
	if st.Err() {
		rec.code = code
	}
	return st
}

func (s *SystemDriver) Dev(board, pad, sad int, timeout time.Duration, sendEOI bool, eos EosMode) (Ud, Status) {
	runtime.LockOSThread()
	eot := C.int(0)
	if sendEOI {
		eot = 1
	}
	ud := C.ibdev(C.int(board), C.int(pad), C.int(sad),
		C.int(timeoutCode(timeout)), eot, C.int(eos.mode()))
	st := Status(C.ThreadIbsta())
	code := ErrorCode(C.ThreadIberr())
	runtime.UnlockOSThread()

	s.mu.Lock()
	defer s.mu.Unlock()
	if ud < 0 {
		s.openErr = code
		return Ud(ud), st | ERR
	}
	s.state[Ud(ud)] = &sysState{status: st}
	return Ud(ud), st
}

func (s *SystemDriver) Online(ud Ud, online bool) Status {
	v := C.int(0)
	if online {
		v = 1
	}
	st := s.call(ud, func() C.int { return C.ibonl(C.int(ud), v) })
	if !online {
		s.mu.Lock()
		delete(s.state, ud)
		s.mu.Unlock()
	}
	return st
}

func (s *SystemDriver) Clear(ud Ud) Status {
	return s.call(ud, func() C.int { return C.ibclr(C.int(ud)) })
}

func (s *SystemDriver) Write(ud Ud, p []byte) Status {
	return s.call(ud, func() C.int {
		return C.ibwrt(C.int(ud), unsafe.Pointer(&p[0]), C.long(len(p)))
	})
}

func (s *SystemDriver) Read(ud Ud, p []byte) Status {
	return s.call(ud, func() C.int {
		return C.ibrd(C.int(ud), unsafe.Pointer(&p[0]), C.long(len(p)))
	})
}

func (s *SystemDriver) WriteAsync(ud Ud, p []byte) Status {
	return s.call(ud, func() C.int {
		return C.ibwrta(C.int(ud), unsafe.Pointer(&p[0]), C.long(len(p)))
	})
}

func (s *SystemDriver) ReadAsync(ud Ud, p []byte) Status {
	return s.call(ud, func() C.int {
		return C.ibrda(C.int(ud), unsafe.Pointer(&p[0]), C.long(len(p)))
	})
}

// AsyncStatus polls the in-flight transfer without blocking: ibwait with
// an empty mask returns the current status immediately. Once a terminal
// state is observed, the transfer's byte count is taken from the
// async-specific accessor and cached for Count.
func (s *SystemDriver) AsyncStatus(ud Ud) Status {
	runtime.LockOSThread()
	st := Status(C.ibwait(C.int(ud), 0))
	code := ErrorCode(C.ThreadIberr())
	count := int(C.AsyncIbcnt())
	runtime.UnlockOSThread()

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.state[ud]
	if !ok {
		rec = &sysState{}
		s.state[ud] = rec
	}
	rec.status = st
	if st.Cmpl() || st.Err() {
		rec.count = count
	}
	if st.Err() {
		rec.code = code
	}
	return st
}

func (s *SystemDriver) Count(ud Ud) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.state[ud]; ok {
		return rec.count
	}
	return 0
}

func (s *SystemDriver) Err(ud Ud) ErrorCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.state[ud]; ok {
		return rec.code
	}
	return s.openErr
}

func (s *SystemDriver) Stop(ud Ud) Status {
	return s.call(ud, func() C.int { return C.ibstop(C.int(ud)) })
}

// InterfaceClear pulses IFC. Board-level calls take the board index as
// descriptor.
func (s *SystemDriver) InterfaceClear(board int) Status {
	return s.call(Ud(board), func() C.int { return C.ibsic(C.int(board)) })
}

// FindListeners scans primary addresses 0..30 for answering devices.
func (s *SystemDriver) FindListeners(board int) ([]int, Status) {
	candidates := make([]C.Addr4882_t, 0, 32)
	for pad := 0; pad <= 30; pad++ {
		candidates = append(candidates, C.Addr4882_t(pad))
	}
	candidates = append(candidates, C.NOADDR)
	results := make([]C.Addr4882_t, 31)

	runtime.LockOSThread()
	C.FindLstn(C.int(board), &candidates[0], &results[0], C.int(len(results)))
	st := Status(C.ThreadIbsta())
	code := ErrorCode(C.ThreadIberr())
	n := int(C.ThreadIbcnt())
	runtime.UnlockOSThread()

	if st.Err() {
		s.mu.Lock()
		s.openErr = code
		s.mu.Unlock()
		return nil, st
	}
	pads := make([]int, 0, n)
	for _, addr := range results[:n] {
		pads = append(pads, int(addr&0xff))
	}
	return pads, st
}
