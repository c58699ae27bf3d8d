package gemini

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/schema"
)

func TestToContentsSplitsSystemInstruction(t *testing.T) {
	system, contents := toContents([]*schema.Message{
		schema.SystemMessage("be kind"),
		schema.UserMessage("hi"),
		schema.AssistantMessage("hello", nil),
		nil,
		schema.SystemMessage("be brief"),
		schema.UserMessage("explain"),
	})

	if system != "be kind\n\nbe brief" {
		t.Fatalf("unexpected system instruction %q", system)
	}
	if len(contents) != 3 {
		t.Fatalf("expected 3 contents, got %d", len(contents))
	}
	if contents[1].Role != "model" {
		t.Fatalf("assistant turn should map to model role, got %s", contents[1].Role)
	}
	if contents[2].Parts[0].Text != "explain" {
		t.Fatalf("unexpected last content %+v", contents[2].Parts[0])
	}
}

func TestNewChatModelRequiresCredentials(t *testing.T) {
	if _, err := NewChatModel(context.Background(), &Config{Model: "gemini-1.5-flash"}); err == nil {
		t.Fatal("expected error without api key")
	}
}
