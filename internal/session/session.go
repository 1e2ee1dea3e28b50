// Package session sequences extraction and submission for one upload attempt at a time
// and owns the status observed by the user-facing layers.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/cvpost/internal/fileid"
	"github.com/hyperjump/cvpost/internal/format"
	"github.com/hyperjump/cvpost/internal/models"
	"github.com/hyperjump/cvpost/internal/submit"
	"go.uber.org/zap"
)

// Status is the coarse progress of the live upload session.
type Status string

// Session statuses. Idle is initial; Succeeded and Failed end an attempt.
const (
	Idle       Status = "idle"
	Extracting Status = "extracting"
	Submitting Status = "submitting"
	Succeeded  Status = "succeeded"
	Failed     Status = "failed"
)

// Terminal reports whether s ends an attempt.
func (s Status) Terminal() bool {
	return s == Succeeded || s == Failed
}

// Busy reports whether an attempt is in flight in status s.
func (s Status) Busy() bool {
	return s == Extracting || s == Submitting
}

var (
	// ErrBusy is returned when a file is selected while an attempt is in flight.
	ErrBusy = errors.New("an upload is already in progress")
	// ErrNoText fails an attempt whose document yields no text.
	ErrNoText = errors.New("no text found in document")
)

// Extractor converts a named payload into text.
type Extractor interface {
	Extract(ctx context.Context, name string, r io.Reader) (string, error)
}

// Submitter hands extracted text to the remote collaborator.
type Submitter interface {
	Submit(ctx context.Context, text string) (*submit.Ack, error)
}

// Recorder stores the outcome of finished attempts.
type Recorder interface {
	RecordAttempt(ctx context.Context, a *models.Attempt) error
}

// File is a selected input. Content is read once during extraction and not kept.
type File struct {
	Name    string
	Content io.Reader
}

// Snapshot is a copy of the upload session at one point in time.
type Snapshot struct {
	ID            string    `json:"id,omitempty"`
	Status        Status    `json:"status"`
	FileName      string    `json:"file_name,omitempty"`
	ExtractedText string    `json:"extracted_text,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	StartedAt     time.Time `json:"started_at,omitempty"`
	FinishedAt    time.Time `json:"finished_at,omitempty"`
}

// Machine is the session state machine. It holds exactly one upload session.
type Machine struct {
	extractor Extractor
	submitter Submitter
	recorder  Recorder
	logger    *zap.Logger
	now       func() time.Time

	mu        sync.Mutex
	state     Snapshot
	observers []func(Snapshot)
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets a logger for transitions and failures.
func WithLogger(l *zap.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// WithRecorder stores every finished attempt in r.
func WithRecorder(r Recorder) Option {
	return func(m *Machine) { m.recorder = r }
}

// NewMachine returns a machine in the Idle state.
func NewMachine(extractor Extractor, submitter Submitter, opts ...Option) *Machine {
	m := &Machine{
		extractor: extractor,
		submitter: submitter,
		logger:    zap.NewNop(),
		now:       time.Now,
		state:     Snapshot{Status: Idle},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe registers fn to receive a snapshot after every transition.
// fn runs synchronously on the goroutine driving the attempt.
func (m *Machine) Subscribe(fn func(Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// Snapshot returns the current session.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Busy reports whether file selection is currently disabled.
func (m *Machine) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Status.Busy()
}

// Reset returns a finished session to Idle. It fails with ErrBusy during an attempt.
func (m *Machine) Reset() error {
	m.mu.Lock()
	if m.state.Status.Busy() {
		m.mu.Unlock()
		return ErrBusy
	}
	m.state = Snapshot{Status: Idle}
	snap, observers := m.state, m.observers
	m.mu.Unlock()
	m.publish(snap, observers)
	return nil
}

// Select starts a new attempt for f and blocks until it succeeds or fails.
// Selecting while an attempt is in flight returns ErrBusy and leaves the session alone.
// Extraction and submission failures do not produce an error: they are reported
// through the returned snapshot's Failed status and ErrorMessage.
func (m *Machine) Select(ctx context.Context, f File) (Snapshot, error) {
	if !m.begin(f.Name) {
		m.logger.Debug("file selection rejected while busy", zap.String("file", f.Name))
		return m.Snapshot(), ErrBusy
	}

	info := attemptInfo{name: f.Name}
	var fp *fileid.Reader
	if f.Content != nil {
		fp = fileid.NewReader(f.Content)
		f.Content = fp
	}
	text, err := m.extract(ctx, f)
	if err != nil {
		return m.fail(ctx, Extracting, err, info), nil
	}
	info.chars = len(text)
	info.fingerprint = fp.Sum()
	m.logger.Debug("document extracted",
		zap.String("file", f.Name),
		zap.Int64("bytes", fp.BytesRead()),
		zap.Int("chars", len(text)),
	)
	if !m.transition(Extracting, func(s *Snapshot) {
		s.Status = Submitting
		s.ExtractedText = text
	}) {
		return m.Snapshot(), nil
	}

	if _, err := m.submit(ctx, text); err != nil {
		return m.fail(ctx, Submitting, err, info), nil
	}
	m.transition(Submitting, func(s *Snapshot) {
		s.Status = Succeeded
		s.FinishedAt = m.now()
	})
	snap := m.Snapshot()
	m.logger.Info("upload attempt succeeded", zap.String("id", snap.ID), zap.String("file", f.Name))
	m.record(ctx, snap, info)
	return snap, nil
}

// begin moves Idle/Succeeded/Failed to Extracting, clearing the previous attempt.
func (m *Machine) begin(name string) bool {
	m.mu.Lock()
	if m.state.Status.Busy() {
		m.mu.Unlock()
		return false
	}
	m.state = Snapshot{
		ID:        uuid.New().String(),
		Status:    Extracting,
		FileName:  name,
		StartedAt: m.now(),
	}
	snap, observers := m.state, m.observers
	m.mu.Unlock()
	m.logger.Debug("session extracting", zap.String("id", snap.ID), zap.String("file", name))
	m.publish(snap, observers)
	return true
}

// extract runs the extractor, turning panics and empty output into errors.
func (m *Machine) extract(ctx context.Context, f File) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("extractor panicked", zap.String("file", f.Name), zap.Any("panic", r))
			text, err = "", fmt.Errorf("extract %q: internal error", f.Name)
		}
	}()
	if f.Content == nil {
		return "", fmt.Errorf("extract %q: no content", f.Name)
	}
	text, err = m.extractor.Extract(ctx, f.Name, f.Content)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrNoText
	}
	return text, nil
}

func (m *Machine) submit(ctx context.Context, text string) (ack *submit.Ack, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("submitter panicked", zap.Any("panic", r))
			ack, err = nil, &submit.SubmissionError{Message: submit.GenericMessage, Err: fmt.Errorf("internal error: %v", r)}
		}
	}()
	m.logger.Debug("session submitting", zap.Int("chars", len(text)))
	ack, err = m.submitter.Submit(ctx, text)
	if err == nil && ack == nil {
		err = &submit.SubmissionError{Message: submit.GenericMessage, Err: errors.New("no acknowledgment")}
	}
	return ack, err
}

// fail moves the session from the given in-flight status to Failed.
func (m *Machine) fail(ctx context.Context, from Status, err error, info attemptInfo) Snapshot {
	msg := Message(err)
	m.transition(from, func(s *Snapshot) {
		s.Status = Failed
		s.ErrorMessage = msg
		s.FileName = ""
		s.ExtractedText = ""
		s.FinishedAt = m.now()
	})
	snap := m.Snapshot()
	m.logger.Warn("upload attempt failed",
		zap.String("id", snap.ID),
		zap.String("file", info.name),
		zap.String("stage", string(from)),
		zap.Error(err),
	)
	m.record(ctx, snap, info)
	return snap
}

// transition applies fn when the session is still in status from.
func (m *Machine) transition(from Status, fn func(*Snapshot)) bool {
	m.mu.Lock()
	if m.state.Status != from {
		m.mu.Unlock()
		return false
	}
	fn(&m.state)
	snap, observers := m.state, m.observers
	m.mu.Unlock()
	m.publish(snap, observers)
	return true
}

func (m *Machine) publish(snap Snapshot, observers []func(Snapshot)) {
	for _, fn := range observers {
		fn(snap)
	}
}

// attemptInfo is what history keeps about an attempt beyond its snapshot.
// A failed session no longer carries its file name or text.
type attemptInfo struct {
	name        string
	chars       int
	fingerprint string
}

// record stores a finished attempt.
func (m *Machine) record(ctx context.Context, snap Snapshot, info attemptInfo) {
	if m.recorder == nil {
		return
	}
	a := &models.Attempt{
		ID:           snap.ID,
		FileName:     info.name,
		Kind:         format.Detect(info.name).String(),
		Status:       string(snap.Status),
		ErrorMessage: snap.ErrorMessage,
		TextChars:    info.chars,
		Fingerprint:  info.fingerprint,
		StartedAt:    snap.StartedAt,
		FinishedAt:   snap.FinishedAt,
	}
	// The outcome is kept even when the caller's context is already done.
	if err := m.recorder.RecordAttempt(context.WithoutCancel(ctx), a); err != nil {
		m.logger.Warn("record attempt failed", zap.String("id", snap.ID), zap.Error(err))
	}
}

// Message returns the user-facing text for an attempt failure. Submission failures
// carry the endpoint's detail or the generic message; other errors describe themselves.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var subErr *submit.SubmissionError
	if errors.As(err, &subErr) && subErr.Message != "" {
		return subErr.Message
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return submit.GenericMessage
}
