// Package printer submits print jobs to the system spooler.
package printer

import (
	"fmt"
	"os/exec"
	"sync"

	"github.com/google/shlex"

	"github.com/jameshope87/selfiebot/internal/debug"
	"github.com/jameshope87/selfiebot/internal/fault"
)

// Spooler runs a fixed command template (e.g. "lp -d ZJ-58 -o fit-to-page")
// with the job's files appended. Jobs are fire-and-forget: Submit returns as
// soon as the command has started and the exit status is only logged.
type Spooler struct {
	args []string
	jobs sync.WaitGroup
}

// New parses the command template. An empty template disables printing.
func New(template string) (*Spooler, error) {
	args, err := shlex.Split(template)
	if err != nil {
		return nil, fault.Configf("print.command: %v", err)
	}
	return &Spooler{args: args}, nil
}

// Enabled reports whether a print command is configured.
func (s *Spooler) Enabled() bool {
	return len(s.args) > 0
}

// Submit starts one print job for files.
func (s *Spooler) Submit(files []string) error {
	if !s.Enabled() {
		debug.Info("Printing disabled, skipping %d files", len(files))
		return nil
	}
	if len(files) == 0 {
		return nil
	}

	args := append(append([]string{}, s.args[1:]...), files...)
	cmd := exec.Command(s.args[0], args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start print job: %w", err)
	}
	debug.Info("Print job submitted: %d files (pid %d)", len(files), cmd.Process.Pid)

	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		if err := cmd.Wait(); err != nil {
			debug.Error(fmt.Errorf("print job: %w", err))
			return
		}
		debug.Live("Print job finished")
	}()
	return nil
}

// Wait blocks until every submitted job has exited.
func (s *Spooler) Wait() {
	s.jobs.Wait()
}
