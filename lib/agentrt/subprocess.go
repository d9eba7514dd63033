// Copyright 2026 The Vellum Authors
// SPDX-License-Identifier: Apache-2.0

package agentrt

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
)

// SubprocessDriver runs the agent runtime binary once per turn. The
// runtime receives the turn request as JSON on stdin, emits JSONL
// events on stdout, and reads JSONL decisions from the same stdin
// while a tool is suspended.
type SubprocessDriver struct {
	// Binary is the runtime executable path.
	Binary string

	// Args are extra arguments passed before the turn request.
	Args []string

	// Logger receives wrapper-level events. Nil discards.
	Logger *slog.Logger
}

// scanBufferSize bounds one JSONL event line. Tool outputs are
// truncated by the runtime well below this.
const scanBufferSize = 4 << 20

// StartTurn spawns the runtime and pumps its stdout into the turn's
// event channel. The pump goroutine owns the channel and closes it
// after the terminal event; an exit without one synthesizes a
// turn_error so the caller always sees the turn close.
func (d *SubprocessDriver) StartTurn(ctx context.Context, request TurnRequest) (*Turn, error) {
	if d.Binary == "" {
		return nil, fmt.Errorf("agentrt: no runtime binary configured")
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	command := exec.CommandContext(ctx, d.Binary, d.Args...)
	command.Dir = request.VaultRoot
	command.Env = append(command.Environ(), request.ExtraEnv...)

	stdin, err := command.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("agentrt: opening runtime stdin: %w", err)
	}
	stdout, err := command.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("agentrt: opening runtime stdout: %w", err)
	}
	if err := command.Start(); err != nil {
		return nil, fmt.Errorf("agentrt: starting runtime %s: %w", d.Binary, err)
	}
	logger.Info("runtime started", "binary", d.Binary, "session_id", request.SessionID, "pid", command.Process.Pid)

	// The request is the first stdin line; decisions follow on the
	// same pipe. A write mutex keeps concurrent decisions whole.
	writer := &lockedWriter{writer: stdin}
	if err := writer.writeJSON(request); err != nil {
		command.Process.Kill()
		command.Wait()
		return nil, fmt.Errorf("agentrt: writing turn request: %w", err)
	}

	events := make(chan Event, 64)
	go pumpEvents(events, stdout, command, logger)

	return &Turn{
		events: events,
		decide: func(decision Decision) error {
			if err := writer.writeJSON(decision); err != nil {
				return fmt.Errorf("agentrt: writing decision for %s: %w", decision.ToolUseID, err)
			}
			return nil
		},
		interrupt: func() error {
			return command.Process.Signal(syscall.SIGINT)
		},
	}, nil
}

// pumpEvents parses stdout JSONL into events until the terminal event
// or EOF, then reaps the process and closes the channel.
func pumpEvents(events chan<- Event, stdout io.Reader, command *exec.Cmd, logger *slog.Logger) {
	defer close(events)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), scanBufferSize)

	sawTerminal := false
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			logger.Warn("skipping malformed runtime event", "error", err)
			continue
		}
		if event.Type == "" {
			logger.Warn("skipping runtime event without a type")
			continue
		}
		events <- event
		if event.terminal() {
			sawTerminal = true
			break
		}
	}
	if scanError := scanner.Err(); scanError != nil {
		logger.Warn("reading runtime output", "error", scanError)
	}

	// Drain any trailing output so Wait does not block on the pipe.
	io.Copy(io.Discard, stdout)
	waitError := command.Wait()

	if !sawTerminal {
		message := "runtime exited without ending the turn"
		if waitError != nil {
			message = fmt.Sprintf("%s: %v", message, waitError)
		}
		events <- Event{Type: EventTurnError, Message: message}
		return
	}
	if waitError != nil {
		logger.Warn("runtime exited uncleanly after turn end", "error", waitError)
	}
}

// lockedWriter serializes JSONL writes to the runtime's stdin.
type lockedWriter struct {
	mu     sync.Mutex
	writer io.Writer
}

func (w *lockedWriter) writeJSON(value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = w.writer.Write(append(encoded, '\n'))
	return err
}
