//go:build !windows

package ptysession

import (
	"os"
	"syscall"
)

func signalInt(p *os.Process) error  { return p.Signal(syscall.SIGINT) }
func signalTerm(p *os.Process) error { return p.Signal(syscall.SIGTERM) }
func signalKill(p *os.Process) error { return p.Signal(syscall.SIGKILL) }

// exitSignal reports the signal name that terminated the process, if
// any, for RuntimeExit.Signal.
func exitSignal(st interface{ Sys() interface{} }) string {
	ws, ok := st.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return ""
	}
	return ws.Signal().String()
}
