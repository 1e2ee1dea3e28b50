package session

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperjump/cvpost/internal/extract"
	"github.com/hyperjump/cvpost/internal/models"
	"github.com/hyperjump/cvpost/internal/submit"
)

type fakeExtractor struct {
	text  string
	err   error
	calls int
}

func (f *fakeExtractor) Extract(_ context.Context, _ string, r io.Reader) (string, error) {
	f.calls++
	if _, err := io.ReadAll(r); err != nil {
		return "", err
	}
	return f.text, f.err
}

type fakeSubmitter struct {
	err   error
	calls int
	texts []string
}

func (f *fakeSubmitter) Submit(_ context.Context, text string) (*submit.Ack, error) {
	f.calls++
	f.texts = append(f.texts, text)
	if f.err != nil {
		return nil, f.err
	}
	return &submit.Ack{StatusCode: http.StatusOK}, nil
}

type memoryRecorder struct {
	mu       sync.Mutex
	attempts []*models.Attempt
}

func (r *memoryRecorder) RecordAttempt(_ context.Context, a *models.Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, a)
	return nil
}

func textFile(name, content string) File {
	return File{Name: name, Content: strings.NewReader(content)}
}

// ingestion starts a mock ingestion endpoint answering with status and body.
func ingestion(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func realMachine(srv *httptest.Server, opts ...Option) *Machine {
	client := submit.NewClient(submit.Config{Endpoint: srv.URL, CandidateID: "jane@example.com", Timeout: 2 * time.Second})
	return NewMachine(extract.NewExtractor(), client, opts...)
}

func checkInvariants(t *testing.T, s Snapshot) {
	t.Helper()
	if (s.Status == Submitting || s.Status == Succeeded) && s.ExtractedText == "" {
		t.Errorf("%s with empty extracted text", s.Status)
	}
	if (s.Status == Failed) != (s.ErrorMessage != "") {
		t.Errorf("status %s with error message %q", s.Status, s.ErrorMessage)
	}
	if s.Status == Failed && (s.FileName != "" || s.ExtractedText != "") {
		t.Errorf("failed session kept file name %q or text %q", s.FileName, s.ExtractedText)
	}
}

func TestNewMachine_idle(t *testing.T) {
	m := NewMachine(&fakeExtractor{}, &fakeSubmitter{})
	s := m.Snapshot()
	if s.Status != Idle || s.ID != "" || s.FileName != "" || s.ExtractedText != "" || s.ErrorMessage != "" {
		t.Errorf("unexpected initial session %+v", s)
	}
	if m.Busy() {
		t.Error("idle machine reports busy")
	}
}

func TestSelect_textSucceeds(t *testing.T) {
	srv, calls := ingestion(t, http.StatusOK, `{"status":"ok"}`)
	m := realMachine(srv)

	s, err := m.Select(context.Background(), textFile("resume.txt", "Hello world"))
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if s.Status != Succeeded {
		t.Fatalf("status = %s (%s)", s.Status, s.ErrorMessage)
	}
	if s.ExtractedText != "Hello world" || s.FileName != "resume.txt" {
		t.Errorf("session = %+v", s)
	}
	if calls.Load() != 1 {
		t.Errorf("ingestion called %d times", calls.Load())
	}
	checkInvariants(t, s)
}

func TestSelect_unsupportedFailsWithoutNetwork(t *testing.T) {
	srv, calls := ingestion(t, http.StatusOK, `{}`)
	m := realMachine(srv)

	s, err := m.Select(context.Background(), textFile("resume.csv", "a,b,c"))
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if s.Status != Failed {
		t.Fatalf("status = %s", s.Status)
	}
	for _, kind := range []string{"PDF", "DOCX", "TXT"} {
		if !strings.Contains(s.ErrorMessage, kind) {
			t.Errorf("message %q does not name %s", s.ErrorMessage, kind)
		}
	}
	if calls.Load() != 0 {
		t.Errorf("ingestion called %d times", calls.Load())
	}
	checkInvariants(t, s)
}

func minimalDocx(text string) []byte {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	fw, _ := w.Create("word/document.xml")
	_, _ = fw.Write([]byte(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body><w:p><w:r><w:t>` + text + `</w:t></w:r></w:p></w:body></w:document>`))
	_ = w.Close()
	return buf.Bytes()
}

func TestSelect_docxSubmissionFails(t *testing.T) {
	srv, calls := ingestion(t, http.StatusInternalServerError, `{"detail":"server error"}`)
	m := realMachine(srv)

	s, err := m.Select(context.Background(), File{Name: "cv.docx", Content: bytes.NewReader(minimalDocx("Jane Doe"))})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if s.Status != Failed {
		t.Fatalf("status = %s", s.Status)
	}
	if s.ErrorMessage != "server error" {
		t.Errorf("error message = %q", s.ErrorMessage)
	}
	if calls.Load() != 1 {
		t.Errorf("ingestion called %d times", calls.Load())
	}
	checkInvariants(t, s)
}

// blockingSubmitter holds every submission until release is closed.
type blockingSubmitter struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSubmitter) Submit(ctx context.Context, _ string) (*submit.Ack, error) {
	b.entered <- struct{}{}
	<-b.release
	return &submit.Ack{StatusCode: http.StatusOK}, nil
}

// blockingExtractor holds extraction until release is closed.
type blockingExtractor struct {
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (b *blockingExtractor) Extract(_ context.Context, _ string, r io.Reader) (string, error) {
	b.calls.Add(1)
	b.entered <- struct{}{}
	<-b.release
	data, err := io.ReadAll(r)
	return string(data), err
}

func TestSelect_rejectedWhileExtracting(t *testing.T) {
	ext := &blockingExtractor{entered: make(chan struct{}, 1), release: make(chan struct{})}
	sub := &fakeSubmitter{}
	m := NewMachine(ext, sub)

	done := make(chan Snapshot, 1)
	go func() {
		s, _ := m.Select(context.Background(), textFile("first.txt", "first"))
		done <- s
	}()
	<-ext.entered

	before := m.Snapshot()
	if before.Status != Extracting || !m.Busy() {
		t.Fatalf("expected extracting, got %+v", before)
	}
	s, err := m.Select(context.Background(), textFile("second.txt", "second"))
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if s.ID != before.ID || s.FileName != "first.txt" {
		t.Errorf("second selection touched the session: %+v", s)
	}
	if err := m.Reset(); !errors.Is(err, ErrBusy) {
		t.Errorf("Reset while busy: %v", err)
	}

	close(ext.release)
	final := <-done
	if final.Status != Succeeded || final.FileName != "first.txt" || final.ExtractedText != "first" {
		t.Errorf("final session %+v", final)
	}
	if ext.calls.Load() != 1 || sub.calls != 1 || sub.texts[0] != "first" {
		t.Errorf("extractor calls %d, submitter calls %d (%v)", ext.calls.Load(), sub.calls, sub.texts)
	}
}

func TestSelect_rejectedWhileSubmitting(t *testing.T) {
	sub := &blockingSubmitter{entered: make(chan struct{}, 1), release: make(chan struct{})}
	m := NewMachine(&fakeExtractor{text: "text"}, sub)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.Select(context.Background(), textFile("a.txt", "text"))
	}()
	<-sub.entered
	if s := m.Snapshot(); s.Status != Submitting || s.ExtractedText != "text" {
		t.Fatalf("expected submitting, got %+v", s)
	}
	if _, err := m.Select(context.Background(), textFile("b.txt", "other")); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	close(sub.release)
	<-done
	if s := m.Snapshot(); s.Status != Succeeded {
		t.Errorf("status = %s", s.Status)
	}
}

func TestSelect_transitionsPublished(t *testing.T) {
	tests := []struct {
		name   string
		ext    *fakeExtractor
		sub    *fakeSubmitter
		want   []Status
		submit int
	}{
		{"success", &fakeExtractor{text: "cv"}, &fakeSubmitter{}, []Status{Extracting, Submitting, Succeeded}, 1},
		{"extraction fails", &fakeExtractor{err: errors.New("corrupt")}, &fakeSubmitter{}, []Status{Extracting, Failed}, 0},
		{"empty text", &fakeExtractor{text: " \n\t"}, &fakeSubmitter{}, []Status{Extracting, Failed}, 0},
		{"submission fails", &fakeExtractor{text: "cv"}, &fakeSubmitter{err: &submit.SubmissionError{Message: submit.GenericMessage}}, []Status{Extracting, Submitting, Failed}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine(tt.ext, tt.sub)
			var seen []Status
			m.Subscribe(func(s Snapshot) {
				checkInvariants(t, s)
				seen = append(seen, s.Status)
			})
			if _, err := m.Select(context.Background(), textFile("cv.txt", "ignored")); err != nil {
				t.Fatalf("Select: %v", err)
			}
			if len(seen) != len(tt.want) {
				t.Fatalf("transitions %v, want %v", seen, tt.want)
			}
			for i := range seen {
				if seen[i] != tt.want[i] {
					t.Fatalf("transitions %v, want %v", seen, tt.want)
				}
			}
			if tt.sub.calls != tt.submit {
				t.Errorf("submitter calls = %d, want %d", tt.sub.calls, tt.submit)
			}
		})
	}
}

func TestSelect_failureMessages(t *testing.T) {
	m := NewMachine(&fakeExtractor{text: " "}, &fakeSubmitter{})
	s, _ := m.Select(context.Background(), textFile("empty.txt", ""))
	if s.ErrorMessage != ErrNoText.Error() {
		t.Errorf("empty text message = %q", s.ErrorMessage)
	}

	m = NewMachine(&fakeExtractor{text: "cv"}, &fakeSubmitter{err: &submit.SubmissionError{StatusCode: 500, Message: "server error"}})
	s, _ = m.Select(context.Background(), textFile("cv.txt", "cv"))
	if s.ErrorMessage != "server error" {
		t.Errorf("submission message = %q", s.ErrorMessage)
	}
}

func TestSelect_newSelectionAfterTerminalClearsPrevious(t *testing.T) {
	ext := &fakeExtractor{err: errors.New("corrupt")}
	sub := &fakeSubmitter{}
	m := NewMachine(ext, sub)

	failed, _ := m.Select(context.Background(), textFile("bad.txt", "x"))
	if failed.Status != Failed {
		t.Fatalf("status = %s", failed.Status)
	}

	ext.err, ext.text = nil, "good text"
	var first Snapshot
	m.Subscribe(func(s Snapshot) {
		if first.Status == "" {
			first = s
		}
	})
	ok, _ := m.Select(context.Background(), textFile("good.txt", "x"))
	if ok.Status != Succeeded || ok.ErrorMessage != "" || ok.ID == failed.ID {
		t.Errorf("second attempt %+v", ok)
	}
	if first.Status != Extracting || first.ErrorMessage != "" || first.ExtractedText != "" || first.FileName != "good.txt" {
		t.Errorf("extracting snapshot not cleared: %+v", first)
	}

	again, _ := m.Select(context.Background(), textFile("again.txt", "x"))
	if again.Status != Succeeded || again.FileName != "again.txt" {
		t.Errorf("selection after success %+v", again)
	}
}

func TestReset(t *testing.T) {
	m := NewMachine(&fakeExtractor{text: "cv"}, &fakeSubmitter{})
	if _, err := m.Select(context.Background(), textFile("cv.txt", "cv")); err != nil {
		t.Fatal(err)
	}
	if err := m.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if s := m.Snapshot(); s.Status != Idle || s.FileName != "" || s.ExtractedText != "" || s.ID != "" {
		t.Errorf("after reset %+v", s)
	}
}

func TestSelect_recordsOutcomes(t *testing.T) {
	rec := &memoryRecorder{}
	ext := &fakeExtractor{text: "Hello world"}
	sub := &fakeSubmitter{}
	m := NewMachine(ext, sub, WithRecorder(rec))

	okSnap, _ := m.Select(context.Background(), textFile("cv.pdf", "x"))
	sub.err = &submit.SubmissionError{Message: "server error"}
	failSnap, _ := m.Select(context.Background(), textFile("cv.docx", "x"))

	if len(rec.attempts) != 2 {
		t.Fatalf("recorded %d attempts", len(rec.attempts))
	}
	ok, failed := rec.attempts[0], rec.attempts[1]
	if ok.ID != okSnap.ID || ok.Status != "succeeded" || ok.FileName != "cv.pdf" || ok.Kind != "PDF" || ok.TextChars != 11 {
		t.Errorf("success record %+v", ok)
	}
	if failed.ID != failSnap.ID || failed.Status != "failed" || failed.FileName != "cv.docx" || failed.ErrorMessage != "server error" {
		t.Errorf("failure record %+v", failed)
	}
	if failed.FinishedAt.IsZero() || failed.StartedAt.IsZero() {
		t.Errorf("timestamps not set: %+v", failed)
	}
	if ok.Fingerprint != "sha256:2d711642b726b04401627ca9fbac32f5c8530fb1903cc4db02258717921a4881" || failed.Fingerprint != ok.Fingerprint {
		t.Errorf("fingerprints: %q, %q", ok.Fingerprint, failed.Fingerprint)
	}
}

func TestSelect_noFingerprintWhenExtractionFails(t *testing.T) {
	rec := &memoryRecorder{}
	m := NewMachine(&fakeExtractor{err: errors.New("bad pdf")}, &fakeSubmitter{}, WithRecorder(rec))
	_, _ = m.Select(context.Background(), textFile("cv.pdf", "x"))
	if len(rec.attempts) != 1 || rec.attempts[0].Fingerprint != "" {
		t.Errorf("recorded %+v", rec.attempts)
	}
}

type panickyExtractor struct{}

func (panickyExtractor) Extract(context.Context, string, io.Reader) (string, error) {
	panic("boom")
}

func TestSelect_extractorPanicBecomesFailure(t *testing.T) {
	m := NewMachine(panickyExtractor{}, &fakeSubmitter{})
	s, err := m.Select(context.Background(), textFile("cv.pdf", "x"))
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if s.Status != Failed || s.ErrorMessage == "" {
		t.Errorf("session %+v", s)
	}
	if m.Busy() {
		t.Error("machine still busy after panic")
	}
}

func TestSelect_nilContent(t *testing.T) {
	m := NewMachine(&fakeExtractor{text: "x"}, &fakeSubmitter{})
	s, _ := m.Select(context.Background(), File{Name: "cv.txt"})
	if s.Status != Failed {
		t.Errorf("status = %s", s.Status)
	}
}

func TestMessage(t *testing.T) {
	if got := Message(nil); got != "" {
		t.Errorf("Message(nil) = %q", got)
	}
	wrapped := errors.Join(errors.New("context"), &submit.SubmissionError{Message: "quota exceeded"})
	if got := Message(wrapped); got != "quota exceeded" {
		t.Errorf("Message(wrapped) = %q", got)
	}
	if got := Message(&extract.UnsupportedFormatError{Name: "a.csv"}); !strings.Contains(got, "a.csv") {
		t.Errorf("Message(unsupported) = %q", got)
	}
}
