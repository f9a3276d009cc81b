// Package ptysession implements the PTY Session component (spec.md
// section 4.C): spawning, attaching to, and tearing down a child
// process on a pseudoterminal, emitting cursor-ordered output chunks
// and typed session events to any number of live attachments.
//
// Grounded on the retrieval pack's PTY wrapper
// (other_examples/a4eee857_ehrlich-b-wingthing__internal-egg-server.go.go),
// which pairs github.com/creack/pty with a bounded replay buffer; this
// package generalizes that single-reader replay buffer into a
// multi-attachment cursor ring, since the daemon may have several live
// subscribers (a terminal UI and a realtime SDK client, say) replaying
// from different cursors at once.
package ptysession

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creack/pty"

	"github.com/agentrails/agentrailsd/internal/types"
)

// ringCapacity bounds how many output chunks are retained for replay.
// A session under heavy output retains roughly ringCapacity*4KiB, well
// within the daemon's single-node memory budget.
const ringCapacity = 4096

// DefaultCloseGrace is how long Close waits after SIGTERM before
// escalating to SIGKILL.
const DefaultCloseGrace = 3 * time.Second

// Chunk is one cursor-ordered slice of PTY output.
type Chunk struct {
	Cursor int64
	Data   []byte
}

// StartParams composes a child process launch.
type StartParams struct {
	Name string
	Args []string
	Env  []string
	Dir  string
	Cols int
	Rows int
}

type attachment struct {
	id      string
	onData  func(Chunk)
	onEvent func(types.SessionEventPayload)
}

// Session wraps one spawned child process attached to a pseudoterminal.
type Session struct {
	cmd  *exec.Cmd
	ptmx *os.File

	cursor int64 // atomic

	mu          sync.Mutex
	ring        []Chunk
	ringPos     int
	ringFull    bool
	attachments map[string]*attachment
	nextAttach  int64
	exited      bool
	exitInfo    *types.RuntimeExit

	closeOnce   sync.Once
	closeGrace  time.Duration
	done        chan struct{}
}

// Start spawns the child process described by p on a new pseudoterminal
// and begins its output read loop.
func Start(p StartParams) (*Session, error) {
	cmd := exec.Command(p.Name, p.Args...)
	cmd.Env = p.Env
	cmd.Dir = p.Dir

	size := &pty.Winsize{Rows: uint16(p.Rows), Cols: uint16(p.Cols)}
	ptmx, err := pty.StartWithSize(cmd, size)
	if err != nil {
		return nil, fmt.Errorf("ptysession: start %s: %w", p.Name, err)
	}

	s := &Session{
		cmd:         cmd,
		ptmx:        ptmx,
		attachments: make(map[string]*attachment),
		closeGrace:  DefaultCloseGrace,
		done:        make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// LatestCursorValue returns the cursor of the most recently emitted
// chunk (0 if none yet).
func (s *Session) LatestCursorValue() int64 {
	return atomic.LoadInt64(&s.cursor)
}

// Pid returns the child process id, or 0 if no process was started. The
// id stays available after the child exits.
func (s *Session) Pid() int {
	if s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Attach registers a live listener and synchronously replays every
// buffered chunk with cursor > sinceCursor before returning, so the
// caller never misses output produced between "ask for replay" and
// "start listening live" (spec.md section 4.C).
func (s *Session) Attach(sinceCursor int64, onData func(Chunk), onEvent func(types.SessionEventPayload)) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextAttach++
	id := fmt.Sprintf("attach-%d", s.nextAttach)
	s.attachments[id] = &attachment{id: id, onData: onData, onEvent: onEvent}

	for _, c := range s.orderedRingLocked() {
		if c.Cursor > sinceCursor {
			onData(c)
		}
	}
	if s.exited && onEvent != nil {
		onEvent(types.SessionEventPayload{Type: types.SessionEventExit, Exit: s.exitInfo})
	}
	return id
}

// RecentOutput joins the buffered scrollback ring into a single string,
// newest bytes last. Used by callers that want a cheap snapshot of what
// the session has printed without attaching a live listener.
func (s *Session) RecentOutput() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	for _, c := range s.orderedRingLocked() {
		b.Write(c.Data)
	}
	return b.String()
}

// Detach removes a previously registered attachment.
func (s *Session) Detach(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attachments, id)
}

// Write sends input bytes to the child process.
func (s *Session) Write(data []byte) error {
	_, err := s.ptmx.Write(data)
	return err
}

// Resize adjusts the pseudoterminal window size.
func (s *Session) Resize(cols, rows int) error {
	return pty.Setsize(s.ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}

// NotifyRecord broadcasts a synthetic "notify" session-event to all
// attachments, used by the Hook Notify Bridge when it observes an
// adapter notify-file write (spec.md section 4.C).
func (s *Session) NotifyRecord(record []byte) {
	s.mu.Lock()
	attachments := s.snapshotAttachmentsLocked()
	s.mu.Unlock()

	payload := types.SessionEventPayload{Type: types.SessionEventNotify, Notify: record}
	for _, a := range attachments {
		if a.onEvent != nil {
			a.onEvent(payload)
		}
	}
}

func (s *Session) readLoop() {
	buf := make([]byte, 32*1024)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			cursor := atomic.AddInt64(&s.cursor, 1)
			chunk := Chunk{Cursor: cursor, Data: append([]byte(nil), buf[:n]...)}

			s.mu.Lock()
			s.appendRingLocked(chunk)
			attachments := s.snapshotAttachmentsLocked()
			s.mu.Unlock()

			for _, a := range attachments {
				a.onData(chunk)
			}
		}
		if err != nil {
			s.finish()
			return
		}
	}
}

func (s *Session) finish() {
	_ = s.cmd.Wait()
	exit := &types.RuntimeExit{}
	if st := s.cmd.ProcessState; st != nil {
		code := st.ExitCode()
		exit.Code = &code
		if sig := exitSignal(st); sig != "" {
			exit.Signal = &sig
		}
	}

	s.mu.Lock()
	s.exited = true
	s.exitInfo = exit
	attachments := s.snapshotAttachmentsLocked()
	s.mu.Unlock()

	payload := types.SessionEventPayload{Type: types.SessionEventExit, Exit: exit}
	for _, a := range attachments {
		if a.onEvent != nil {
			a.onEvent(payload)
		}
	}
	close(s.done)
}

// Close sends SIGTERM, waits up to the configured grace period, then
// escalates to SIGKILL if the child has not exited — the same
// reconcile-then-force pattern the teacher's controller reconcile loop
// uses for stuck child processes, adapted here to a single PTY child
// instead of a fleet.
func (s *Session) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		if s.cmd.Process != nil {
			_ = signalTerm(s.cmd.Process)
		}
		select {
		case <-s.done:
		case <-time.After(s.closeGrace):
			if s.cmd.Process != nil {
				_ = signalKill(s.cmd.Process)
			}
			<-s.done
		}
		closeErr = s.ptmx.Close()
	})
	return closeErr
}

// Signal sends a named signal (SIGINT/SIGTERM/SIGKILL) to the child
// process immediately, independent of Close's grace-period sequence.
func (s *Session) Signal(kind string) error {
	if s.cmd.Process == nil {
		return io.ErrClosedPipe
	}
	switch kind {
	case "SIGINT":
		return signalInt(s.cmd.Process)
	case "SIGTERM":
		return signalTerm(s.cmd.Process)
	case "SIGKILL":
		return signalKill(s.cmd.Process)
	default:
		return fmt.Errorf("ptysession: unknown signal %q", kind)
	}
}

func (s *Session) appendRingLocked(c Chunk) {
	if !s.ringFull {
		s.ring = append(s.ring, c)
		if len(s.ring) == ringCapacity {
			s.ringFull = true
			s.ringPos = 0
		}
		return
	}
	s.ring[s.ringPos] = c
	s.ringPos = (s.ringPos + 1) % ringCapacity
}

func (s *Session) orderedRingLocked() []Chunk {
	if !s.ringFull {
		return s.ring
	}
	out := make([]Chunk, 0, ringCapacity)
	out = append(out, s.ring[s.ringPos:]...)
	out = append(out, s.ring[:s.ringPos]...)
	return out
}

func (s *Session) snapshotAttachmentsLocked() []*attachment {
	out := make([]*attachment, 0, len(s.attachments))
	for _, a := range s.attachments {
		out = append(out, a)
	}
	return out
}
