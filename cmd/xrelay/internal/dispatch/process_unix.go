//go:build unix

package dispatch

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/core"
	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/logger"
	"github.com/hasirciogluhq/xrelay/cmd/xrelay/internal/metrics"
)

// ProcessSupported reports whether connections can be handed to child processes.
func ProcessSupported() bool { return true }

type filer interface {
	File() (*os.File, error)
}

func (d *Process) spawn(conn net.Conn) error {
	fc, ok := conn.(filer)
	if !ok {
		return fmt.Errorf("%w: %T has no file descriptor", core.ErrExecutionContextExhausted, conn)
	}
	// File returns a dup; the child gets it as fd 3
	f, err := fc.File()
	if err != nil {
		return fmt.Errorf("%w: dup connection: %v", core.ErrExecutionContextExhausted, err)
	}
	defer f.Close()

	env := append(append([]string{}, d.Env...), childEnv+"="+strconv.Itoa(childFD))
	proc, err := os.StartProcess(d.Path, d.Args, &os.ProcAttr{
		Env:   env,
		Files: []*os.File{os.Stdin, os.Stdout, os.Stderr, f}, // inherit std files, conn at fd 3
	})
	if err != nil {
		return fmt.Errorf("%w: start child: %v", core.ErrExecutionContextExhausted, err)
	}

	metrics.ProcessesSpawned.Inc()
	active := metrics.HandlersActive.WithLabelValues(string(StrategyProcess))
	active.Inc()
	go reap(proc, conn.RemoteAddr(), active.Dec)
	return nil
}

// reap waits for the child so it never lingers as a zombie.
func reap(proc *os.Process, remote net.Addr, done func()) {
	defer done()
	state, err := proc.Wait()
	if err != nil {
		logger.Error("Failed to wait for child", "pid", proc.Pid, "error", err)
		return
	}
	if !state.Success() {
		logger.Warn("Child exited abnormally", "pid", proc.Pid, "remote_addr", remote, "status", state.String())
		return
	}
	logger.Debug("Child exited", "pid", proc.Pid, "remote_addr", remote)
}
