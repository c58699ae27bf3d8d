package commands

import (
	"math"

	"github.com/zhouzirui/citta/backend/internal/model/lesson"
	"github.com/zhouzirui/citta/backend/internal/model/tutoring"
)

// ExtractChallenge derives the drag-and-drop exercise from a kinesthetic command list.
// It returns nil when the list defines neither draggables nor drop targets.
func ExtractChallenge(cmds []lesson.Command) *tutoring.KinestheticChallenge {
	challenge := &tutoring.KinestheticChallenge{
		Elements:  []tutoring.ChallengeElement{},
		DropZones: []tutoring.DropZone{},
	}

	for _, cmd := range cmds {
		switch cmd.Kind {
		case lesson.KindCreateDraggable:
			var p lesson.DraggablePayload
			if err := cmd.Decode(&p); err != nil || p.ID == "" {
				continue
			}
			label := p.Text
			if label == "" {
				label = p.Src
			}
			challenge.Elements = append(challenge.Elements, tutoring.ChallengeElement{ID: p.ID, Label: label})
		case lesson.KindSetDropTarget:
			var p lesson.DropTargetPayload
			if err := cmd.Decode(&p); err != nil || p.CorrectComponentID == "" {
				continue
			}
			challenge.DropZones = append(challenge.DropZones, tutoring.DropZone{
				ElementID: p.CorrectComponentID,
				X:         p.X,
				Y:         p.Y,
				Tolerance: tutoring.DefaultDropTolerance,
			})
		}
	}

	if len(challenge.Elements) == 0 && len(challenge.DropZones) == 0 {
		return nil
	}
	return challenge
}

// ValidateDrop reports whether (x, y) lies within the zone's tolerance and the distance to it.
func ValidateDrop(zone tutoring.DropZone, x, y float64) (bool, float64) {
	tolerance := zone.Tolerance
	if tolerance <= 0 {
		tolerance = tutoring.DefaultDropTolerance
	}
	distance := math.Hypot(x-zone.X, y-zone.Y)
	return distance <= tolerance, distance
}
