package publish

import (
	"errors"
	"strings"

	"github.com/MarcoPoloResearchLab/dailydust/internal/localstore"
)

var (
	ErrContentIncomplete = errors.New("publish: title and content are required")
	ErrLocationRequired  = errors.New("publish: exactly one location is required")
)

// Stage is a step of the authoring wizard.
type Stage int

const (
	StageContent Stage = iota
	StageLocation
	StageRoute
)

func (s Stage) String() string {
	switch s {
	case StageLocation:
		return "location"
	case StageRoute:
		return "route"
	default:
		return "content"
	}
}

// CheckContent gates content -> location.
func CheckContent(draft localstore.Draft) error {
	if strings.TrimSpace(draft.Title) == "" || strings.TrimSpace(draft.Content) == "" {
		return ErrContentIncomplete
	}
	return nil
}

// CheckLocation gates location -> route.
func CheckLocation(draft localstore.Draft) error {
	if strings.TrimSpace(draft.SelectedWaypointID) == "" {
		return ErrLocationRequired
	}
	return nil
}

// Ready reports whether the draft passes every gate; the route is optional.
func Ready(draft localstore.Draft) error {
	if err := CheckContent(draft); err != nil {
		return err
	}
	return CheckLocation(draft)
}

// Wizard tracks the current stage and refuses to advance past an unmet gate.
type Wizard struct {
	stage Stage
}

func NewWizard() *Wizard {
	return &Wizard{stage: StageContent}
}

func (w *Wizard) Stage() Stage {
	return w.stage
}

func (w *Wizard) Advance(draft localstore.Draft) error {
	switch w.stage {
	case StageContent:
		if err := CheckContent(draft); err != nil {
			return err
		}
		w.stage = StageLocation
	case StageLocation:
		if err := CheckLocation(draft); err != nil {
			return err
		}
		w.stage = StageRoute
	}
	return nil
}

func (w *Wizard) Back() {
	if w.stage > StageContent {
		w.stage--
	}
}
