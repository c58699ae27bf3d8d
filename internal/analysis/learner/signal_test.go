package learner

import (
	"testing"

	"github.com/zhouzirui/citta/backend/internal/model/tutoring"
)

func TestAnalyzeConfusedEnglish(t *testing.T) {
	signal := Analyze("Sorry, I don't understand the second step")
	if signal.Label != Confused {
		t.Fatalf("expected confused, got %s", signal.Label)
	}
	if !signal.Negative() {
		t.Fatal("confusion should count as negative")
	}
}

func TestAnalyzeIndonesianNegationOverridesPositiveWord(t *testing.T) {
	if !IsNegative("aku masih tidak paham") {
		t.Fatal("negated 'paham' should be negative")
	}
	if IsNegative("oke, sekarang aku paham") {
		t.Fatal("plain 'paham' should not be negative")
	}
}

func TestAnalyzeFrustrated(t *testing.T) {
	signal := Analyze("this is too hard, I give up")
	if signal.Label != Frustrated {
		t.Fatalf("expected frustrated, got %s", signal.Label)
	}
}

func TestAnalyzeNeutral(t *testing.T) {
	signal := Analyze("What is the capital of France")
	if signal.Label != Neutral || signal.Negative() {
		t.Fatalf("expected neutral, got %+v", signal)
	}
}

func TestAnalyzeModeSwitchSuggestsBetterMode(t *testing.T) {
	stats := map[tutoring.Mode]Stats{
		tutoring.ModeReading: {Mode: tutoring.ModeReading, Responses: 4, Negatives: 2},
		tutoring.ModeVisual:  {Mode: tutoring.ModeVisual, Responses: 10, Negatives: 1},
	}

	got := AnalyzeModeSwitch(tutoring.ModeReading, stats, func(m tutoring.Mode) string { return "Visual" })
	if !got.ShouldSwitch || got.SuggestedMode != tutoring.ModeVisual {
		t.Fatalf("expected switch to V, got %+v", got)
	}
	if got.CurrentRate != 50 || got.SuggestedRate != 90 {
		t.Fatalf("unexpected rates: %+v", got)
	}
	if got.Message != "I notice you might learn better with Visual mode. Would you like to try it?" {
		t.Fatalf("unexpected message: %q", got.Message)
	}
}

func TestAnalyzeModeSwitchNeedsSamples(t *testing.T) {
	stats := map[tutoring.Mode]Stats{
		tutoring.ModeReading: {Responses: 2, Negatives: 2},
		tutoring.ModeVisual:  {Responses: 10},
	}
	if got := AnalyzeModeSwitch(tutoring.ModeReading, stats, nil); got.ShouldSwitch {
		t.Fatalf("expected no switch with 2 samples, got %+v", got)
	}
}

func TestAnalyzeModeSwitchBoundary(t *testing.T) {
	// 50% vs 75%: exactly +25 is enough
	stats := map[tutoring.Mode]Stats{
		tutoring.ModeAuditory:    {Responses: 4, Negatives: 2},
		tutoring.ModeKinesthetic: {Responses: 4, Negatives: 1},
	}
	got := AnalyzeModeSwitch(tutoring.ModeAuditory, stats, nil)
	if !got.ShouldSwitch || got.SuggestedMode != tutoring.ModeKinesthetic {
		t.Fatalf("expected switch at exact +25, got %+v", got)
	}

	// 60% is not low enough to suggest anything
	stats[tutoring.ModeAuditory] = Stats{Responses: 5, Negatives: 2}
	if got := AnalyzeModeSwitch(tutoring.ModeAuditory, stats, nil); got.ShouldSwitch {
		t.Fatalf("expected no switch at 60%%, got %+v", got)
	}
}

func TestSuccessRateNoSamples(t *testing.T) {
	if rate := (Stats{}).SuccessRate(); rate != 0 {
		t.Fatalf("expected 0, got %v", rate)
	}
}
