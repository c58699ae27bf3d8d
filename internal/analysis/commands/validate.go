package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zhouzirui/citta/backend/internal/model/lesson"
	"github.com/zhouzirui/citta/backend/internal/model/tutoring"
)

// ErrInvalidCommand is wrapped by every structural validation failure.
var ErrInvalidCommand = errors.New("invalid presentation command")

// ValidationError points at the offending command in a list.
type ValidationError struct {
	Index  int
	Kind   lesson.Kind
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("command %d (%s): %s", e.Index, e.Kind, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidCommand
}

// Validate checks a decoded list against the per-kind payload schema for the given mode.
// Unknown kinds are accepted here and skipped at playback.
func Validate(mode tutoring.Mode, cmds []lesson.Command) error {
	for i, cmd := range cmds {
		fail := func(format string, args ...any) error {
			return &ValidationError{Index: i, Kind: cmd.Kind, Reason: fmt.Sprintf(format, args...)}
		}

		if strings.TrimSpace(string(cmd.Kind)) == "" {
			return fail("missing command kind")
		}
		if cmd.Kind.KinestheticOnly() && mode != tutoring.ModeKinesthetic {
			return fail("only allowed in kinesthetic mode, got mode %s", mode)
		}
		if cmd.Kind == lesson.KindSessionEnd && i != len(cmds)-1 {
			return fail("session_end must be the last command")
		}
		if !cmd.Kind.Known() {
			continue
		}
		if reason := checkPayload(cmd); reason != "" {
			return fail("%s", reason)
		}
	}
	return nil
}

func checkPayload(cmd lesson.Command) string {
	switch cmd.Kind {
	case lesson.KindSpeak:
		var p lesson.SpeakPayload
		if err := cmd.Decode(&p); err != nil {
			return err.Error()
		}
		if strings.TrimSpace(p.Text) == "" {
			return "text is required"
		}
	case lesson.KindCreateText:
		var p lesson.TextPayload
		if err := cmd.Decode(&p); err != nil {
			return err.Error()
		}
		if p.X == nil || p.Y == nil {
			return "x and y are required"
		}
		if strings.TrimSpace(p.Text) == "" {
			return "text is required"
		}
	case lesson.KindDrawRectangle:
		var p lesson.RectanglePayload
		if err := cmd.Decode(&p); err != nil {
			return err.Error()
		}
		if p.Width <= 0 || p.Height <= 0 {
			return "width and height must be positive"
		}
	case lesson.KindDrawCircle:
		var p lesson.CirclePayload
		if err := cmd.Decode(&p); err != nil {
			return err.Error()
		}
		if p.Radius <= 0 {
			return "radius must be positive"
		}
	case lesson.KindDrawArrow:
		var p lesson.ArrowPayload
		if err := cmd.Decode(&p); err != nil {
			return err.Error()
		}
		if len(p.Points) != 4 {
			return fmt.Sprintf("points must have 4 values, got %d", len(p.Points))
		}
	case lesson.KindCreateDraggable:
		var p lesson.DraggablePayload
		if err := cmd.Decode(&p); err != nil {
			return err.Error()
		}
		if strings.TrimSpace(p.ID) == "" {
			return "id is required"
		}
		if strings.TrimSpace(p.Text) == "" && strings.TrimSpace(p.Src) == "" {
			return "text or src is required"
		}
	case lesson.KindSetDropTarget:
		var p lesson.DropTargetPayload
		if err := cmd.Decode(&p); err != nil {
			return err.Error()
		}
		if strings.TrimSpace(p.ID) == "" {
			return "id is required"
		}
		if strings.TrimSpace(p.CorrectComponentID) == "" {
			return "correctComponentId is required"
		}
	case lesson.KindCreateTable:
		var p lesson.TablePayload
		if err := cmd.Decode(&p); err != nil {
			return err.Error()
		}
		if strings.TrimSpace(p.ID) == "" {
			return "id is required"
		}
	case lesson.KindFillTable:
		var p lesson.FillTablePayload
		if err := cmd.Decode(&p); err != nil {
			return err.Error()
		}
		if strings.TrimSpace(p.TableID) == "" {
			return "tableId is required"
		}
	}
	return ""
}
