package voice

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/citta/backend/internal/model/tutoring"
)

type stubModel struct {
	reply string
	err   error
	input []*schema.Message
}

func (s *stubModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	s.input = input
	if s.err != nil {
		return nil, s.err
	}
	return schema.AssistantMessage(s.reply, nil), nil
}

func (s *stubModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := s.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func decideWith(t *testing.T, reply string, err error) Decision {
	t.Helper()
	agent, buildErr := NewAgent(context.Background(), &stubModel{reply: reply, err: err}, Config{})
	if buildErr != nil {
		t.Fatalf("NewAgent err: %v", buildErr)
	}
	return agent.Decide(context.Background(), LiveInput{Transcript: "what is gravity"})
}

func TestDecideFallbacks(t *testing.T) {
	cases := map[string]struct {
		reply string
		err   error
	}{
		"invalid json":               {reply: "sure, gravity pulls things"},
		"trigger without prompt":     {reply: `{"action":"trigger","verbalResponse":"ok"}`},
		"model error":                {err: errors.New("boom")},
		"answer without verbal text": {reply: `{"action":"answer"}`},
	}

	for name, tc := range cases {
		got := decideWith(t, tc.reply, tc.err)
		if got != Fallback() {
			t.Fatalf("%s: expected fallback, got %+v", name, got)
		}
		if got.TriggerVisualization {
			t.Fatalf("%s: fallback must not trigger visualization", name)
		}
	}
}

func TestDecideTriggerInCodeFence(t *testing.T) {
	reply := "```json\n{\"action\":\"trigger\",\"verbalResponse\":\"**Absolutely!** Let's #draw it_\",\"visualizationPrompt\":\"Draw the orbit of the moon\"}\n```"
	got := decideWith(t, reply, nil)

	if !got.TriggerVisualization || got.VisualizationPrompt != "Draw the orbit of the moon" {
		t.Fatalf("expected trigger decision, got %+v", got)
	}
	if got.VerbalResponse != "Absolutely! Let's draw it" {
		t.Fatalf("markup should be stripped, got %q", got.VerbalResponse)
	}
}

func TestDecideAnswerAndOffer(t *testing.T) {
	got := decideWith(t, `{"action":"offer","verbalResponse":"Would you like a diagram?"}`, nil)
	if got.TriggerVisualization || got.VerbalResponse != "Would you like a diagram?" {
		t.Fatalf("unexpected offer decision %+v", got)
	}
}

func TestDecideWithoutModel(t *testing.T) {
	agent, err := NewAgent(context.Background(), nil, Config{})
	if err != nil {
		t.Fatalf("NewAgent err: %v", err)
	}
	if got := agent.Decide(context.Background(), LiveInput{Transcript: "hi"}); got != Fallback() {
		t.Fatalf("expected fallback, got %+v", got)
	}
}

func TestBuildContext(t *testing.T) {
	empty := BuildContext(LiveInput{Transcript: "hello"})
	for _, want := range []string{`"hello"`, "No main session history.", "No live conversation history yet.", "**Document Context:** None"} {
		if !strings.Contains(empty, want) {
			t.Fatalf("context missing %q:\n%s", want, empty)
		}
	}

	full := BuildContext(LiveInput{
		Transcript:     "and then?",
		LiveHistory:    []LiveTurn{{Sender: tutoring.SenderUser, Text: "tell me about mass"}, {Sender: tutoring.SenderAI, Text: "Mass is..."}},
		SessionHistory: []tutoring.Turn{{Sender: tutoring.SenderUser, Text: "earlier question"}},
		DocumentText:   strings.Repeat("x", documentContextLimit+50),
	})
	if !strings.Contains(full, "User: tell me about mass\nAI: Mass is...") {
		t.Fatal("live history not formatted")
	}
	if !strings.Contains(full, "User: earlier question") {
		t.Fatal("session history not formatted")
	}
	if !strings.Contains(full, strings.Repeat("x", documentContextLimit)+"...") || strings.Contains(full, strings.Repeat("x", documentContextLimit+1)) {
		t.Fatal("document text should be truncated to the limit")
	}
}
