package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"

	"github.com/zhouzirui/citta/backend/internal/analysis/learner"
	speechmodel "github.com/zhouzirui/citta/backend/internal/model/speech"
)

func testConfig() *speechmodel.SpeechConfig {
	return &speechmodel.SpeechConfig{AppID: "app", AccessToken: "token", TTSVoice: "en_default", Timeout: 5}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestFrameRoundTrip(t *testing.T) {
	audio := AudioRequest([]byte("pcm"), 7, true, NoCompression)
	decoded, err := DecodeFrame(audio.Encode())
	if err != nil {
		t.Fatalf("DecodeFrame err: %v", err)
	}
	if decoded.Sequence != -7 || !decoded.Last() || !bytes.Equal(decoded.Payload, []byte("pcm")) {
		t.Fatalf("unexpected audio frame: %+v", decoded)
	}

	errFrame := &Frame{Header: newHeader(ErrorMessage, NoSequence, JSONSerialization, NoCompression), ErrorCode: 45000001, Payload: []byte("bad")}
	decoded, err = DecodeFrame(errFrame.Encode())
	if err != nil {
		t.Fatalf("DecodeFrame err: %v", err)
	}
	if decoded.ErrorCode != 45000001 || string(decoded.Payload) != "bad" {
		t.Fatalf("unexpected error frame: %+v", decoded)
	}

	event := &Frame{Header: newHeader(FullServerResponse, WithEvent, JSONSerialization, NoCompression), Event: EventSessionFinished, SessionID: "s1"}
	decoded, err = DecodeFrame(event.Encode())
	if err != nil {
		t.Fatalf("DecodeFrame err: %v", err)
	}
	if decoded.Event != EventSessionFinished || decoded.SessionID != "s1" {
		t.Fatalf("unexpected event frame: %+v", decoded)
	}

	if _, err := DecodeFrame([]byte{0x21, 0, 0, 0}); err == nil {
		t.Fatal("expected version error")
	}
}

func TestCompressRoundTrip(t *testing.T) {
	data := []byte(strings.Repeat("citta ", 50))
	packed, err := Compress(data, GzipCompression)
	if err != nil {
		t.Fatalf("Compress err: %v", err)
	}
	unpacked, err := Decompress(packed, GzipCompression)
	if err != nil || !bytes.Equal(unpacked, data) {
		t.Fatalf("round trip failed: %v", err)
	}
}

type fakeStream struct{ cancelled bool }

func (f *fakeStream) Cancel() { f.cancelled = true }

func TestStreamRegistryKeepsOnePerConnection(t *testing.T) {
	reg := NewStreamRegistry()
	first, second := &fakeStream{}, &fakeStream{}

	reg.Put("conn-1", first)
	reg.Put("conn-1", second)
	if !first.cancelled {
		t.Fatal("replaced stream should be cancelled")
	}
	if reg.Len() != 1 {
		t.Fatalf("expected one stream, got %d", reg.Len())
	}

	reg.Release("conn-1", first)
	if _, ok := reg.Get("conn-1"); !ok {
		t.Fatal("releasing a stale stream must not remove the current one")
	}

	reg.Remove("conn-1")
	if !second.cancelled || reg.Len() != 0 {
		t.Fatal("Remove should cancel and forget the stream")
	}
}

func TestCandidates(t *testing.T) {
	if got := speakerCandidates("citta", "en_default"); !reflect.DeepEqual(got, []string{"en_female_amy_jupiter_bigtts"}) {
		t.Fatalf("aliases resolving to the same voice should collapse, got %v", got)
	}
	if got := speakerCandidates("", ""); len(got) != 1 {
		t.Fatalf("expected built-in fallback voice, got %v", got)
	}
	if got := resourceCandidates("S_clone"); !reflect.DeepEqual(got, []string{"volc.megatts.default"}) {
		t.Fatalf("clone voice resource: %v", got)
	}
	if got := resourceCandidates("en_male_glen_emo_v2_mars_bigtts"); got[0] != "seed-tts-2.0" {
		t.Fatalf("bigtts voice should prefer seed resource: %v", got)
	}
	if !isResourceMismatch(errors.New("TTS error: " + resourceMismatch)) || isResourceMismatch(nil) {
		t.Fatal("mismatch detection wrong")
	}
}

func TestToneFor(t *testing.T) {
	confused := learner.Signal{Label: learner.Confused, Score: 2}
	if got := ToneFor("tutor-storyteller", confused); got != "comfort" {
		t.Fatalf("expected comfort tone for emotional voice, got %q", got)
	}
	if got := ToneFor("en_female_amy_jupiter_bigtts", confused); got != "" {
		t.Fatalf("voice without emotion support should get no tone, got %q", got)
	}
	if got := ToneFor("tutor-storyteller", learner.Signal{Label: learner.Neutral}); got != "" {
		t.Fatalf("neutral signal should get no tone, got %q", got)
	}
}

// fakeOpenspeech 模拟火山引擎服务端。
type fakeOpenspeech struct {
	mu      sync.Mutex
	headers http.Header
	frames  []*Frame
	handle  func(conn *websocket.Conn, f *fakeOpenspeech)
}

func (f *fakeOpenspeech) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.headers = r.Header.Clone()
	f.mu.Unlock()

	conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	f.handle(conn, f)
}

func (f *fakeOpenspeech) read(conn *websocket.Conn) (*Frame, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	frame, err := DecodeFrame(data)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.frames = append(f.frames, frame)
	f.mu.Unlock()
	return frame, nil
}

func asrResponse(t *testing.T, last bool, utterances ...asrUtterance) []byte {
	t.Helper()
	var msg asrServerMessage
	msg.Code = 20000000
	msg.Result.Utterances = utterances
	body, _ := json.Marshal(msg)
	packed, err := Compress(body, GzipCompression)
	if err != nil {
		t.Fatalf("Compress err: %v", err)
	}
	flags, seq := PositiveSequence, int32(1)
	if last {
		flags, seq = NegativeSequence, -1
	}
	frame := &Frame{Header: newHeader(FullServerResponse, flags, JSONSerialization, GzipCompression), Sequence: seq, Payload: packed}
	return frame.Encode()
}

func TestRecognizerStreamsTranscripts(t *testing.T) {
	server := &fakeOpenspeech{}
	server.handle = func(conn *websocket.Conn, f *fakeOpenspeech) {
		if _, err := f.read(conn); err != nil {
			return
		}
		for {
			frame, err := f.read(conn)
			if err != nil {
				return
			}
			if !frame.Last() {
				conn.WriteMessage(websocket.BinaryMessage, asrResponse(t, false,
					asrUtterance{Text: "what is", Definite: false}))
				continue
			}
			conn.WriteMessage(websocket.BinaryMessage, asrResponse(t, false,
				asrUtterance{Text: "what is gravity", Definite: true, EndTime: 900},
				asrUtterance{Text: "and mass", Definite: false}))
			conn.WriteMessage(websocket.BinaryMessage, asrResponse(t, true,
				asrUtterance{Text: "what is gravity", Definite: true, EndTime: 900},
				asrUtterance{Text: "and mass", Definite: false}))
			return
		}
	}
	srv := httptest.NewServer(server)
	defer srv.Close()

	rec := NewRecognizer(testConfig())
	rec.endpoint = wsURL(srv)

	stream, err := rec.Open(context.Background(), speechmodel.StreamRequest{ConnectID: "conn-42", Format: "pcm", SampleRate: 16000})
	if err != nil {
		t.Fatalf("Open err: %v", err)
	}
	if err := stream.Write(make([]byte, audioChunkSize+100)); err != nil {
		t.Fatalf("Write err: %v", err)
	}
	if err := stream.Finish(); err != nil {
		t.Fatalf("Finish err: %v", err)
	}

	var finals []string
	interims := 0
	timeout := time.After(3 * time.Second)
	for done := false; !done; {
		select {
		case tr, ok := <-stream.Results():
			if !ok {
				done = true
				break
			}
			if tr.IsFinal {
				finals = append(finals, tr.Text)
			} else {
				interims++
			}
		case <-timeout:
			t.Fatal("stream did not finish")
		}
	}

	if !reflect.DeepEqual(finals, []string{"what is gravity", "and mass"}) {
		t.Fatalf("unexpected finals: %v", finals)
	}
	if interims == 0 {
		t.Fatal("expected interim transcripts")
	}
	if stream.Err() != nil {
		t.Fatalf("unexpected stream error: %v", stream.Err())
	}

	server.mu.Lock()
	defer server.mu.Unlock()
	if server.headers.Get("X-Api-Connect-Id") != "conn-42" || server.headers.Get("X-Api-Resource-Id") != "volc.bigasr.sauc.duration" {
		t.Fatalf("unexpected handshake headers: %v", server.headers)
	}
	// full request + one full chunk + last packet with the remainder
	if len(server.frames) != 3 {
		t.Fatalf("expected 3 client frames, got %d", len(server.frames))
	}
	if server.frames[1].Sequence != 2 || server.frames[2].Sequence != -3 {
		t.Fatalf("unexpected sequences %d %d", server.frames[1].Sequence, server.frames[2].Sequence)
	}
}

func TestRecognizerReportsServerError(t *testing.T) {
	server := &fakeOpenspeech{handle: func(conn *websocket.Conn, f *fakeOpenspeech) {
		f.read(conn)
		frame := &Frame{Header: newHeader(ErrorMessage, NoSequence, JSONSerialization, NoCompression), ErrorCode: 45000081, Payload: []byte("quota")}
		conn.WriteMessage(websocket.BinaryMessage, frame.Encode())
	}}
	srv := httptest.NewServer(server)
	defer srv.Close()

	rec := NewRecognizer(testConfig())
	rec.endpoint = wsURL(srv)
	stream, err := rec.Open(context.Background(), speechmodel.StreamRequest{})
	if err != nil {
		t.Fatalf("Open err: %v", err)
	}

	select {
	case <-stream.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not end")
	}
	if stream.Err() == nil || !strings.Contains(stream.Err().Error(), "quota") {
		t.Fatalf("expected server error, got %v", stream.Err())
	}
	if err := stream.Write([]byte{1}); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("write after end should fail, got %v", err)
	}
}

func TestSynthesizerCollectsAudio(t *testing.T) {
	var request ttsRequest
	server := &fakeOpenspeech{handle: func(conn *websocket.Conn, f *fakeOpenspeech) {
		frame, err := f.read(conn)
		if err != nil {
			return
		}
		json.Unmarshal(frame.Payload, &request)

		audio := &Frame{Header: newHeader(AudioOnlyServerResponse, PositiveSequence, RawSerialization, NoCompression), Sequence: 1, Payload: []byte("ID3")}
		conn.WriteMessage(websocket.BinaryMessage, audio.Encode())
		done := &Frame{
			Header:    newHeader(FullServerResponse, WithEvent, JSONSerialization, NoCompression),
			Event:     EventSessionFinished,
			SessionID: "s",
			Payload:   []byte(`{"code":3000,"reqid":"r-1","addition":{"duration":"1200"}}`),
		}
		conn.WriteMessage(websocket.BinaryMessage, done.Encode())
	}}
	srv := httptest.NewServer(server)
	defer srv.Close()

	synth := NewSynthesizer(testConfig())
	synth.endpoint = wsURL(srv)

	resp, err := synth.Synthesize(context.Background(), &speechmodel.TTSRequest{SessionID: "s", Text: "Great question!", Voice: "tutor-storyteller", Emotion: "happy"})
	if err != nil {
		t.Fatalf("Synthesize err: %v", err)
	}
	if string(resp.AudioData) != "ID3" || resp.Duration != 1200 || resp.RequestID != "r-1" || resp.Format != "mp3" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if request.ReqParams.Speaker != "en_female_skye_emo_v2_mars_bigtts" || request.ReqParams.AudioParams.Emotion != "happy" {
		t.Fatalf("unexpected request: %+v", request.ReqParams)
	}
}

func TestSynthesizerRetriesHandshake(t *testing.T) {
	synth := NewSynthesizer(testConfig())
	synth.endpoint = "ws://127.0.0.1:1/unreachable"
	attempts := 0
	synth.backoff = func() retry.Backoff {
		return retry.BackoffFunc(func() (time.Duration, bool) {
			attempts++
			return time.Millisecond, attempts > 2
		})
	}

	if _, err := synth.Synthesize(context.Background(), &speechmodel.TTSRequest{Text: "hi", Voice: "S_clone"}); err == nil {
		t.Fatal("expected dial error")
	}
	if attempts != 3 {
		t.Fatalf("expected backoff consulted 3 times, got %d", attempts)
	}

	if _, err := NewSynthesizer(&speechmodel.SpeechConfig{}).Synthesize(context.Background(), &speechmodel.TTSRequest{Text: "hi"}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := synth.Synthesize(context.Background(), &speechmodel.TTSRequest{Text: "  "}); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}
}
