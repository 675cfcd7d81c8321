// Package ptyhost owns the pseudo-terminals behind every session.
package ptyhost

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"github.com/kevinzwang/termdeck/internal/logx"
	"github.com/kevinzwang/termdeck/internal/push"
	"github.com/kevinzwang/termdeck/internal/target"
	"pkt.systems/pslog"
)

const (
	readBufferSize = 4096
	initialCols    = 80
	initialRows    = 24
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrUnknownTarget    = errors.New("unknown target")
	ErrTargetNotRunning = errors.New("target is not running")
)

// Spec describes how to start a shell on one target.
type Spec struct {
	Name    string
	Command string
	Args    []string
	Dir     string
	Env     []string
}

// Running reports whether the target's command can be found.
func (s Spec) Running() bool {
	_, err := exec.LookPath(s.Command)
	return err == nil
}

// Emitter publishes session events to clients.
type Emitter interface {
	Broadcast(event string, payload any) error
}

type session struct {
	id     string
	target string
	ptmx   *os.File
	cmd    *exec.Cmd

	writeMu sync.Mutex
}

// Manager creates sessions and relays their output through an Emitter.
type Manager struct {
	log   pslog.Logger
	emit  Emitter
	specs []Spec

	mu       sync.RWMutex
	sessions map[string]*session

	wg sync.WaitGroup
}

func NewManager(specs []Spec, emit Emitter, logger pslog.Logger) *Manager {
	return &Manager{
		log:      logger,
		emit:     emit,
		specs:    specs,
		sessions: make(map[string]*session),
	}
}

// Targets lists the configured targets in order.
func (m *Manager) Targets() []target.Target {
	targets := make([]target.Target, 0, len(m.specs))
	for _, spec := range m.specs {
		targets = append(targets, target.Target{Name: spec.Name, IsRunning: spec.Running()})
	}
	return targets
}

func (m *Manager) spec(name string) (Spec, bool) {
	for _, spec := range m.specs {
		if spec.Name == name {
			return spec, true
		}
	}
	return Spec{}, false
}

// Create starts a shell on the named target and returns its session id.
func (m *Manager) Create(targetName string) (string, error) {
	spec, ok := m.spec(targetName)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTarget, targetName)
	}
	path, err := exec.LookPath(spec.Command)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrTargetNotRunning, targetName)
	}

	cmd := exec.Command(path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color", "COLORTERM=truecolor")
	cmd.Env = append(cmd.Env, spec.Env...)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: initialCols, Rows: initialRows})
	if err != nil {
		return "", fmt.Errorf("failed to start pty: %w", err)
	}

	s := &session{
		id:     uuid.NewString(),
		target: targetName,
		ptmx:   ptmx,
		cmd:    cmd,
	}
	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	m.wg.Add(1)
	go m.readLoop(s)

	logx.WithTarget(logx.WithSession(m.log, s.id), targetName).Info("session created", "pid", cmd.Process.Pid)
	return s.id, nil
}

func (m *Manager) readLoop(s *session) {
	defer m.wg.Done()
	log := logx.WithSession(m.log, s.id)

	buf := make([]byte, readBufferSize)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if err := m.emit.Broadcast(push.EventOutput, push.OutputPayload{SessionID: s.id, Bytes: data}); err != nil {
				log.Warn("output broadcast failed", "err", err)
			}
		}
		if err != nil {
			// Linux reports EIO once the child side is gone.
			log.Debug("pty read ended", "err", err)
			break
		}
	}

	m.mu.Lock()
	if m.sessions[s.id] == s {
		delete(m.sessions, s.id)
	}
	m.mu.Unlock()

	s.ptmx.Close()
	if err := s.cmd.Wait(); err != nil {
		log.Debug("shell exited", "err", err)
	}

	if err := m.emit.Broadcast(push.EventExit, push.ExitPayload{SessionID: s.id}); err != nil {
		log.Warn("exit broadcast failed", "err", err)
	}
	log.Info("session ended")
}

func (m *Manager) get(id string) (*session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Write sends input to the session's PTY.
func (m *Manager) Write(id string, data []byte) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.ptmx.Write(data); err != nil {
		return fmt.Errorf("failed to write to pty: %w", err)
	}
	return nil
}

// Resize changes the PTY window size.
func (m *Manager) Resize(id string, cols, rows uint16) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	if err := pty.Setsize(s.ptmx, &pty.Winsize{Cols: cols, Rows: rows}); err != nil {
		return fmt.Errorf("failed to resize pty: %w", err)
	}
	return nil
}

// IsAlive reports whether the session is still held.
func (m *Manager) IsAlive(id string) bool {
	_, err := m.get(id)
	return err == nil
}

// Close terminates the session's process. Its exit is still announced.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	m.terminate(s)
	return nil
}

func (m *Manager) terminate(s *session) {
	if s.cmd.Process != nil {
		if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			m.log.Debug("kill failed", "session", s.id, "err", err)
		}
	}
	s.ptmx.Close()
}

// CloseAll terminates every session and waits for their readers.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		m.terminate(s)
	}
	m.wg.Wait()
}

// Count reports the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
