/*
Copyright © 2025 the daflow authors.
This file is part of daflow.

daflow is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

daflow is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with daflow.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package engine invokes the external analysis executable: link the
// executable into the run directory, then run it under the platform's
// parallel launch command with a rendered configuration file.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/shlex"
	"go.uber.org/zap"
)

// outputTailLines bounds how much process output a RunError carries.
const outputTailLines = 20

// An Engine runs one external analysis executable in a run directory.
type Engine struct {
	// RunDir is the working directory for the run.
	RunDir string

	// ExeSource is the installed executable to link into RunDir.
	ExeSource string

	// ConfigPath is the configuration file passed as the executable's
	// final argument.
	ConfigPath string

	Log *zap.SugaredLogger
}

func (e *Engine) log() *zap.SugaredLogger {
	if e.Log == nil {
		return zap.NewNop().Sugar()
	}
	return e.Log
}

// ExePath returns the path of the linked executable inside RunDir.
func (e *Engine) ExePath() string {
	return filepath.Join(e.RunDir, filepath.Base(e.ExeSource))
}

// StageExe links the executable into the run directory, replacing a
// stale link from a previous attempt.
func (e *Engine) StageExe() error {
	if _, err := os.Stat(e.ExeSource); err != nil {
		return fmt.Errorf("engine: executable %s: %v", e.ExeSource, err)
	}
	dst := e.ExePath()
	if _, err := os.Lstat(dst); err == nil {
		if err := os.Remove(dst); err != nil {
			return fmt.Errorf("engine: removing stale link %s: %v", dst, err)
		}
	}
	if err := os.Symlink(e.ExeSource, dst); err != nil {
		return fmt.Errorf("engine: linking executable into %s: %v", e.RunDir, err)
	}
	e.log().Infow("staged executable", "exe", e.ExeSource, "rundir", e.RunDir)
	return nil
}

// A RunError reports a failed engine invocation.
type RunError struct {
	Cmd      string // full command line
	ExitCode int    // -1 when the process did not start
	Output   string // tail of the combined output
	Err      error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("engine: running %s: %v", e.Cmd, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Run executes the staged executable under runCmd, the platform launch
// command ("mpiexec -n 6" or similar; empty for a direct run), with
// args followed by the configuration file path. Output is streamed to
// the logger line by line. ctx cancellation kills the process.
func (e *Engine) Run(ctx context.Context, runCmd string, args ...string) error {
	argv, err := shlex.Split(runCmd)
	if err != nil {
		return fmt.Errorf("engine: parsing run command %q: %v", runCmd, err)
	}
	argv = append(argv, e.ExePath())
	argv = append(argv, args...)
	if e.ConfigPath != "" {
		argv = append(argv, e.ConfigPath)
	}
	cmdline := strings.Join(argv, " ")
	e.log().Infow("starting engine", "cmd", cmdline, "rundir", e.RunDir)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = e.RunDir
	out := &logWriter{log: e.log()}
	cmd.Stdout = out
	cmd.Stderr = out
	err = cmd.Run()
	out.flush()
	if err != nil {
		code := -1
		if ee, ok := err.(*exec.ExitError); ok {
			code = ee.ExitCode()
		}
		return &RunError{Cmd: cmdline, ExitCode: code, Output: out.tail(), Err: err}
	}
	e.log().Infow("engine finished", "cmd", cmdline)
	return nil
}

// logWriter forwards process output to the logger a line at a time and
// keeps the most recent lines for error reporting.
type logWriter struct {
	log *zap.SugaredLogger

	mu    sync.Mutex
	part  []byte
	lines []string
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.part = append(w.part, p...)
	for {
		i := bytes.IndexByte(w.part, '\n')
		if i < 0 {
			break
		}
		w.line(string(w.part[:i]))
		w.part = w.part[i+1:]
	}
	return len(p), nil
}

func (w *logWriter) line(s string) {
	w.log.Infow("engine output", "line", s)
	w.lines = append(w.lines, s)
	if len(w.lines) > outputTailLines {
		w.lines = w.lines[1:]
	}
}

// flush emits any unterminated final line.
func (w *logWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.part) > 0 {
		w.line(string(w.part))
		w.part = nil
	}
}

func (w *logWriter) tail() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return strings.Join(w.lines, "\n")
}
