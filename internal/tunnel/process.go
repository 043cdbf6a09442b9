// Package tunnel supervises the helper processes that sit on the upstream
// side of the interception proxy: the fingerprint tunnel and the linksocks
// client.
package tunnel

import (
	"bufio"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// process wraps a running child with line pumps and a bounded stop.
type process struct {
	name string
	cmd  *exec.Cmd
	log  zerolog.Logger

	done chan struct{}
	err  error

	stopOnce sync.Once
}

// startProcess launches exe with args, wiring stdout and stderr line pumps
// into debug logging.
func startProcess(logger zerolog.Logger, name, exe string, args []string, dir string) (*process, error) {
	cmd := exec.Command(exe, args...)
	cmd.Dir = dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &process{
		name: name,
		cmd:  cmd,
		log:  logger,
		done: make(chan struct{}),
	}

	var pumps sync.WaitGroup
	pumps.Add(2)
	pump := func(r *bufio.Scanner) {
		defer pumps.Done()
		for r.Scan() {
			p.log.Debug().Str("proc", name).Msg(r.Text())
		}
	}
	go pump(bufio.NewScanner(stdout))
	go pump(bufio.NewScanner(stderr))

	go func() {
		pumps.Wait()
		p.err = cmd.Wait()
		close(p.done)
	}()

	return p, nil
}

// aliveAfter blocks for the grace period and reports whether the child is
// still running at the end of it.
func (p *process) aliveAfter(grace time.Duration) bool {
	select {
	case <-p.done:
		return false
	case <-time.After(grace):
		return true
	}
}

// running reports whether the child has not yet exited.
func (p *process) running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// stop terminates the child, escalating to kill after 5 seconds, and waits
// for the pumps to drain.
func (p *process) stop() {
	p.stopOnce.Do(func() {
		if p.running() {
			p.cmd.Process.Signal(syscall.SIGTERM)
			select {
			case <-p.done:
			case <-time.After(5 * time.Second):
				p.cmd.Process.Kill()
				<-p.done
			}
		}
		if p.err != nil {
			p.log.Debug().Str("proc", p.name).Err(p.err).Msg("process exited")
		}
	})
}
