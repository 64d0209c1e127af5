package repo

import (
	"encoding/json"

	"github.com/animus-labs/release-registry/internal/domain"
)

type noteRecord struct {
	Description string `json:"description"`
	Type        string `json:"type"`
}

// EncodeNotes serialises release notes for column or value storage. Order
// and duplicates are preserved.
func EncodeNotes(notes []domain.Note) ([]byte, error) {
	out := make([]noteRecord, 0, len(notes))
	for _, n := range notes {
		out = append(out, noteRecord{Description: n.Description, Type: n.Type})
	}
	return json.Marshal(out)
}

func DecodeNotes(raw []byte) ([]domain.Note, error) {
	if len(raw) == 0 {
		return []domain.Note{}, nil
	}
	var records []noteRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, err
	}
	out := make([]domain.Note, 0, len(records))
	for _, r := range records {
		out = append(out, domain.Note{Description: r.Description, Type: r.Type})
	}
	return out, nil
}
