package releases

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/animus-labs/release-registry/internal/domain"
	"github.com/animus-labs/release-registry/internal/versionkey"
)

// MaxEventBytes caps the size of an inbound release event.
const MaxEventBytes = 1 << 20

// Event is the release-pipeline notification that announces a new release.
// The program is not part of the payload; it comes from the route.
type Event struct {
	Resource *EventResource `json:"resource"`
}

type EventResource struct {
	Data        EventData        `json:"data"`
	Environment EventEnvironment `json:"environment"`
}

type EventData struct {
	WorkItems []WorkItem `json:"workItems"`
}

type EventEnvironment struct {
	Release EventRelease `json:"release"`
}

type EventRelease struct {
	Name string `json:"name"`
}

type WorkItem struct {
	Fields WorkItemFields `json:"fields"`
}

type WorkItemFields struct {
	Type  string `json:"System.WorkItemType"`
	Title string `json:"System.Title"`
}

// DecodeEvent reads and validates one event. Every failure is a
// *domain.ValidationError.
func DecodeEvent(r io.Reader) (Event, error) {
	if r == nil {
		return Event{}, domain.NewValidationError("payload", "is required")
	}
	raw, err := io.ReadAll(io.LimitReader(r, MaxEventBytes+1))
	if err != nil {
		return Event{}, domain.NewValidationError("payload", "could not be read")
	}
	if len(raw) > MaxEventBytes {
		return Event{}, domain.NewValidationError("payload", "exceeds 1 MiB")
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return Event{}, domain.NewValidationError("payload", "is empty")
	}

	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return Event{}, domain.NewValidationError("payload", fmt.Sprintf("%s has the wrong type", typeErr.Field))
		}
		return Event{}, domain.NewValidationError("payload", "is not valid JSON")
	}
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

func (e Event) Validate() error {
	if e.Resource == nil {
		return domain.NewValidationError("resource", "is required")
	}
	version := e.Version()
	if version == "" {
		return domain.NewValidationError("version", "resource.environment.release.name is required")
	}
	if !versionkey.Valid(version) {
		return domain.NewValidationError("version", fmt.Sprintf("%q is not a dotted numeric version", version))
	}
	for i, item := range e.Resource.Data.WorkItems {
		if strings.TrimSpace(item.Fields.Type) == "" {
			return domain.NewValidationError("release_notes", fmt.Sprintf("work item %d has no System.WorkItemType", i))
		}
		if strings.TrimSpace(item.Fields.Title) == "" {
			return domain.NewValidationError("release_notes", fmt.Sprintf("work item %d has no System.Title", i))
		}
	}
	return nil
}

// Version is the release name, which carries the version string.
func (e Event) Version() string {
	if e.Resource == nil {
		return ""
	}
	return strings.TrimSpace(e.Resource.Environment.Release.Name)
}

// Notes maps work items to release notes in payload order.
func (e Event) Notes() []domain.Note {
	if e.Resource == nil {
		return []domain.Note{}
	}
	notes := make([]domain.Note, 0, len(e.Resource.Data.WorkItems))
	for _, item := range e.Resource.Data.WorkItems {
		notes = append(notes, domain.Note{
			Description: strings.TrimSpace(item.Fields.Title),
			Type:        strings.TrimSpace(item.Fields.Type),
		})
	}
	return notes
}
