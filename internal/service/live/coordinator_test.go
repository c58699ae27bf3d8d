package live

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zhouzirui/citta/backend/internal/analysis/learner"
	speechmodel "github.com/zhouzirui/citta/backend/internal/model/speech"
	"github.com/zhouzirui/citta/backend/internal/model/tutoring"
	"github.com/zhouzirui/citta/backend/internal/service/voice"
)

type fakeStream struct {
	mu        sync.Mutex
	written   [][]byte
	results   chan speechmodel.Transcript
	done      chan struct{}
	err       error
	cancelled bool
	once      sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{results: make(chan speechmodel.Transcript, 8), done: make(chan struct{})}
}

func (s *fakeStream) Write(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = append(s.written, chunk)
	return nil
}

func (s *fakeStream) Results() <-chan speechmodel.Transcript { return s.results }
func (s *fakeStream) Done() <-chan struct{}                  { return s.done }

func (s *fakeStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeStream) end(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.results)
		close(s.done)
	})
}

func (s *fakeStream) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
	s.end(nil)
}

func (s *fakeStream) writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.written)
}

func (s *fakeStream) wasCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

type fakeRecognizer struct {
	mu      sync.Mutex
	streams []*fakeStream
}

func (r *fakeRecognizer) Open(_ context.Context, _ speechmodel.StreamRequest) (Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := newFakeStream()
	r.streams = append(r.streams, s)
	return s, nil
}

func (r *fakeRecognizer) last() *fakeStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streams[len(r.streams)-1]
}

type fakeDecider struct {
	decision voice.Decision
	block    chan struct{}
	mu       sync.Mutex
	inputs   []voice.LiveInput
}

func (d *fakeDecider) Decide(ctx context.Context, in voice.LiveInput) voice.Decision {
	d.mu.Lock()
	d.inputs = append(d.inputs, in)
	d.mu.Unlock()
	if d.block != nil {
		select {
		case <-d.block:
		case <-ctx.Done():
		}
	}
	return d.decision
}

type fakeSynth struct {
	err     error
	signals []learner.Signal
	mu      sync.Mutex
}

func (s *fakeSynth) Reply(_ context.Context, _ string, text string, signal learner.Signal) (*speechmodel.TTSResponse, error) {
	s.mu.Lock()
	s.signals = append(s.signals, signal)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return &speechmodel.TTSResponse{AudioData: []byte("audio:" + text), Format: "mp3"}, nil
}

type fakeLoader struct{}

func (fakeLoader) LiveContext(_ context.Context, _ string, _ string) ([]tutoring.Turn, string, error) {
	return []tutoring.Turn{{Sender: tutoring.SenderUser, Text: "earlier"}}, "doc text", nil
}

type recordedEvent struct {
	name string
	data any
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []recordedEvent
	notify chan struct{}
}

func newRecordingEmitter() *recordingEmitter {
	return &recordingEmitter{notify: make(chan struct{}, 64)}
}

func (e *recordingEmitter) Emit(event string, data any) error {
	e.mu.Lock()
	e.events = append(e.events, recordedEvent{event, data})
	e.mu.Unlock()
	select {
	case e.notify <- struct{}{}:
	default:
	}
	return nil
}

func (e *recordingEmitter) names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.name)
	}
	return out
}

func (e *recordingEmitter) find(name string) (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ev := range e.events {
		if ev.name == name {
			return ev.data, true
		}
	}
	return nil, false
}

func (e *recordingEmitter) waitFor(t *testing.T, name string) any {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if data, ok := e.find(name); ok {
			return data
		}
		select {
		case <-e.notify:
		case <-deadline:
			t.Fatalf("event %s not emitted, got %v", name, e.names())
		}
	}
}

func setup(decider *fakeDecider, synth *fakeSynth, suppress bool) (*fakeRecognizer, *Coordinator) {
	rec := &fakeRecognizer{}
	deps := Deps{Recognizer: rec, Decider: decider, Loader: fakeLoader{}}
	if synth != nil {
		deps.Synthesizer = synth
	}
	return rec, NewCoordinator(deps, Config{SuppressStale: suppress})
}

func TestFinalTranscriptProducesReplyAndVisualization(t *testing.T) {
	decider := &fakeDecider{decision: voice.Decision{VerbalResponse: "Let's draw it!", TriggerVisualization: true, VisualizationPrompt: "Draw the water cycle"}}
	synth := &fakeSynth{}
	rec, coord := setup(decider, synth, true)
	emitter := newRecordingEmitter()

	conv := coord.Connect("c1", "u1", emitter)
	if err := conv.Start(context.Background(), "s1"); err != nil {
		t.Fatalf("Start err: %v", err)
	}

	stream := rec.last()
	stream.results <- speechmodel.Transcript{Text: "show me the", IsFinal: false}
	stream.results <- speechmodel.Transcript{Text: "show me the water cycle, I'm confused", IsFinal: true}

	viz := emitter.waitFor(t, EventTriggerVisualization).(Visualization)
	if viz.Prompt != "Draw the water cycle" {
		t.Fatalf("unexpected visualization prompt %q", viz.Prompt)
	}
	reply := emitter.waitFor(t, EventAIAudioResponse).(AudioResponse)
	if string(reply.Audio) != "audio:Let's draw it!" || reply.Text != "Let's draw it!" {
		t.Fatalf("unexpected reply %+v", reply)
	}

	names := emitter.names()
	want := []string{EventTranscriptUpdate, EventTranscriptUpdate, EventAIAudioResponse, EventTriggerVisualization}
	if len(names) != len(want) {
		t.Fatalf("unexpected events %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("unexpected event order %v", names)
		}
	}

	history := conv.History()
	if len(history) != 2 || history[0].Sender != tutoring.SenderUser || history[1].Sender != tutoring.SenderAI {
		t.Fatalf("unexpected live history %+v", history)
	}
	in := decider.inputs[0]
	if in.DocumentText != "doc text" || len(in.SessionHistory) != 1 || len(in.LiveHistory) != 1 {
		t.Fatalf("decision context not assembled: %+v", in)
	}
	if synth.signals[0].Label != learner.Confused {
		t.Fatalf("expected confused tone, got %+v", synth.signals[0])
	}
}

func TestAudioForwardedOnlyWhileStreamOpen(t *testing.T) {
	rec, coord := setup(&fakeDecider{decision: voice.Fallback()}, nil, true)
	conv := coord.Connect("c1", "u1", newRecordingEmitter())

	conv.Audio([]byte{1, 2})
	if err := conv.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start err: %v", err)
	}
	stream := rec.last()
	conv.Audio([]byte{3, 4})
	if stream.writes() != 1 {
		t.Fatalf("expected one forwarded chunk, got %d", stream.writes())
	}

	conv.Interrupt()
	conv.Audio([]byte{5})
	if stream.writes() != 1 || !stream.wasCancelled() {
		t.Fatal("interrupt should cancel the stream and drop later audio")
	}
	if conv.State() != StateConnected {
		t.Fatalf("expected connected after interrupt, got %s", conv.State())
	}
}

func TestRestartCancelsPreviousStream(t *testing.T) {
	rec, coord := setup(&fakeDecider{decision: voice.Fallback()}, nil, true)
	conv := coord.Connect("c1", "u1", newRecordingEmitter())

	if err := conv.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start err: %v", err)
	}
	first := rec.last()
	if err := conv.Start(context.Background(), ""); err != nil {
		t.Fatalf("second Start err: %v", err)
	}
	if !first.wasCancelled() {
		t.Fatal("previous stream should be hard-cancelled")
	}
	if coord.deps.Streams.Len() != 1 {
		t.Fatalf("expected exactly one registered stream, got %d", coord.deps.Streams.Len())
	}
}

func TestInterruptSuppressesStaleReply(t *testing.T) {
	decider := &fakeDecider{decision: voice.Decision{VerbalResponse: "late"}, block: make(chan struct{})}
	rec, coord := setup(decider, &fakeSynth{}, true)
	emitter := newRecordingEmitter()
	conv := coord.Connect("c1", "u1", emitter)

	if err := conv.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start err: %v", err)
	}
	rec.last().results <- speechmodel.Transcript{Text: "explain photosynthesis", IsFinal: true}
	emitter.waitFor(t, EventTranscriptUpdate)

	conv.Interrupt()
	close(decider.block)
	conv.Wait()

	if _, ok := emitter.find(EventAIAudioResponse); ok {
		t.Fatal("reply from before the interruption must be dropped")
	}
}

func TestInterruptWithoutSuppressionStillReplies(t *testing.T) {
	decider := &fakeDecider{decision: voice.Decision{VerbalResponse: "late"}, block: make(chan struct{})}
	rec, coord := setup(decider, &fakeSynth{}, false)
	emitter := newRecordingEmitter()
	conv := coord.Connect("c1", "u1", emitter)

	if err := conv.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start err: %v", err)
	}
	rec.last().results <- speechmodel.Transcript{Text: "explain photosynthesis", IsFinal: true}
	emitter.waitFor(t, EventTranscriptUpdate)

	conv.Interrupt()
	close(decider.block)
	emitter.waitFor(t, EventAIAudioResponse)
}

func TestStreamErrorKeepsConnection(t *testing.T) {
	rec, coord := setup(&fakeDecider{decision: voice.Fallback()}, nil, true)
	emitter := newRecordingEmitter()
	conv := coord.Connect("c1", "u1", emitter)

	if err := conv.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start err: %v", err)
	}
	stream := rec.last()
	stream.end(errors.New("asr quota exceeded"))

	data := emitter.waitFor(t, EventConversationError).(ErrorEvent)
	if data.Message != msgRecognitionFailed {
		t.Fatalf("unexpected error message %q", data.Message)
	}
	conv.Wait()
	if conv.StreamOpen() {
		t.Fatal("stream should be closed after an error")
	}
	if conv.State() == StateDisconnected {
		t.Fatal("connection must be kept")
	}
	conv.Audio([]byte{1})
	if stream.writes() != 0 {
		t.Fatal("audio after stream error should be dropped")
	}
}

func TestSynthesisFailureEmitsScopedError(t *testing.T) {
	rec, coord := setup(&fakeDecider{decision: voice.Decision{VerbalResponse: "hello"}}, &fakeSynth{err: errors.New("tts down")}, true)
	emitter := newRecordingEmitter()
	conv := coord.Connect("c1", "u1", emitter)

	if err := conv.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start err: %v", err)
	}
	rec.last().results <- speechmodel.Transcript{Text: "hi", IsFinal: true}

	data := emitter.waitFor(t, EventConversationError).(ErrorEvent)
	if data.Message != msgSynthesisFailed {
		t.Fatalf("unexpected error %q", data.Message)
	}
	if _, ok := emitter.find(EventAIAudioResponse); ok {
		t.Fatal("no audio response expected when synthesis fails")
	}
}

func TestDisconnectStopsEvents(t *testing.T) {
	rec, coord := setup(&fakeDecider{decision: voice.Fallback()}, nil, true)
	emitter := newRecordingEmitter()
	conv := coord.Connect("c1", "u1", emitter)

	if err := conv.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start err: %v", err)
	}
	stream := rec.last()
	conv.Disconnect()
	conv.Wait()

	if !stream.wasCancelled() {
		t.Fatal("disconnect should cancel the stream")
	}
	if coord.Active() != 0 {
		t.Fatal("coordinator should forget the conversation")
	}
	if err := conv.Start(context.Background(), ""); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}
	if len(emitter.names()) != 0 {
		t.Fatalf("no events expected, got %v", emitter.names())
	}
}
