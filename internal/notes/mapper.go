package notes

import (
	"strings"

	"github.com/MarcoPoloResearchLab/dailydust/internal/indexer"
	"github.com/tidwall/gjson"
)

// millisecondThreshold separates second and millisecond timestamps; no second value reaches it before year 33658.
const millisecondThreshold = 1_000_000_000_000

var (
	noteColumns  = []string{"id", "owner", "tipJar", "createdAt", "updatedAt", "boostUntil", "totalTips", "title", "content", "tags", "headerImageUrl"}
	groupColumns = []string{"noteId", "groupId", "name", "color", "visible"}
	stepColumns  = []string{"noteId", "groupId", "stepIndex", "x", "y", "z", "label"}
	linkColumns  = []string{"noteId", "entityId", "x", "y", "z"}
)

// MapNoteRow converts a raw indexer row into a Note. It never fails; missing values default.
func MapNoteRow(record indexer.Record) Note {
	owner := strings.ToLower(record["owner"].String())
	tipJar := strings.ToLower(record["tipJar"].String())
	if tipJar == "" || isZeroAddress(tipJar) {
		tipJar = owner
	}
	return Note{
		ID:             NoteID(strings.ToLower(record["id"].String())),
		Owner:          owner,
		TipJar:         tipJar,
		CreatedAt:      timestampValue(record["createdAt"]),
		UpdatedAt:      timestampValue(record["updatedAt"]),
		BoostUntil:     timestampValue(record["boostUntil"]),
		TotalTips:      nonNegative(numberValue(record["totalTips"])),
		Title:          record["title"].String(),
		Content:        record["content"].String(),
		Tags:           DecodeTags(ClassifyTags(record["tags"])),
		HeaderImageURL: record["headerImageUrl"].String(),
	}
}

// MapGroupRow converts a raw indexer row into a WaypointGroup without steps.
func MapGroupRow(record indexer.Record) WaypointGroup {
	return WaypointGroup{
		NoteID:  NoteID(strings.ToLower(record["noteId"].String())),
		GroupID: numberValue(record["groupId"]),
		Name:    record["name"].String(),
		Color:   record["color"].String(),
		Visible: record["visible"].Bool(),
		Steps:   []WaypointStep{},
	}
}

// MapStepRow converts a raw indexer row into a WaypointStep.
func MapStepRow(record indexer.Record) WaypointStep {
	return WaypointStep{
		NoteID:  NoteID(strings.ToLower(record["noteId"].String())),
		GroupID: numberValue(record["groupId"]),
		Index:   numberValue(record["stepIndex"]),
		X:       numberValue(record["x"]),
		Y:       numberValue(record["y"]),
		Z:       numberValue(record["z"]),
		Label:   record["label"].String(),
	}
}

// MapLinkRow converts a raw indexer row into a NoteLink.
func MapLinkRow(record indexer.Record) NoteLink {
	return NoteLink{
		NoteID:   NoteID(strings.ToLower(record["noteId"].String())),
		EntityID: strings.ToLower(record["entityId"].String()),
		X:        numberValue(record["x"]),
		Y:        numberValue(record["y"]),
		Z:        numberValue(record["z"]),
	}
}

func numberValue(value gjson.Result) int64 {
	if !value.Exists() {
		return 0
	}
	return value.Int()
}

func nonNegative(value int64) int64 {
	if value < 0 {
		return 0
	}
	return value
}

// timestampValue normalises on-chain timestamps to unix seconds.
func timestampValue(value gjson.Result) int64 {
	raw := nonNegative(numberValue(value))
	if raw >= millisecondThreshold {
		return raw / 1000
	}
	return raw
}

func isZeroAddress(value string) bool {
	trimmed := strings.TrimPrefix(value, "0x")
	return strings.Trim(trimmed, "0") == ""
}
