package notes

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const hex32Length = common.HashLength

var (
	// ErrInvalidNoteID indicates that a note identifier is not a 32-byte hex string.
	ErrInvalidNoteID = errors.New("notes: invalid note id")
	// ErrInvalidEntityID indicates that an entity identifier is not a 32-byte hex string.
	ErrInvalidEntityID = errors.New("notes: invalid entity id")
	// ErrInvalidAccount indicates that an account identifier is not a hex address.
	ErrInvalidAccount = errors.New("notes: invalid account")
	// ErrInvalidTimestamp indicates that a unix timestamp value is negative.
	ErrInvalidTimestamp = errors.New("notes: invalid unix timestamp")
)

// NoteID represents a validated, lower-cased 32-byte note identifier.
type NoteID string

// NewNoteID validates raw input and returns a NoteID.
func NewNoteID(rawInput string) (NoteID, error) {
	normalized, err := normalizeHex32(rawInput)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidNoteID, err)
	}
	return NoteID(normalized), nil
}

// String returns the underlying string identifier.
func (id NoteID) String() string {
	return string(id)
}

// EntityID represents a validated, lower-cased 32-byte world entity identifier.
type EntityID string

// NewEntityID validates raw input and returns an EntityID.
func NewEntityID(rawInput string) (EntityID, error) {
	normalized, err := normalizeHex32(rawInput)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEntityID, err)
	}
	return EntityID(normalized), nil
}

// String returns the underlying string identifier.
func (id EntityID) String() string {
	return string(id)
}

// IsHex32 reports whether value is a 0x-prefixed 32-byte hex string.
func IsHex32(value string) bool {
	_, err := normalizeHex32(value)
	return err == nil
}

func normalizeHex32(rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	decoded, err := hexutil.Decode(trimmed)
	if err != nil {
		return "", err
	}
	if len(decoded) != hex32Length {
		return "", fmt.Errorf("expected %d bytes, got %d", hex32Length, len(decoded))
	}
	return strings.ToLower(trimmed), nil
}

// NormalizeAccount validates a hex account address and returns it lower-cased.
func NormalizeAccount(rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if !common.IsHexAddress(trimmed) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAccount, rawInput)
	}
	return strings.ToLower(common.HexToAddress(trimmed).Hex()), nil
}

// UnixTimestamp represents a validated unix timestamp in seconds.
type UnixTimestamp int64

// NewUnixTimestamp validates the value and returns a UnixTimestamp.
func NewUnixTimestamp(value int64) (UnixTimestamp, error) {
	if value < 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidTimestamp, value)
	}
	return UnixTimestamp(value), nil
}

// Int64 exposes the raw unix seconds value.
func (ts UnixTimestamp) Int64() int64 {
	return int64(ts)
}

// Note is the on-chain note record. Timestamps are unix seconds.
type Note struct {
	ID             NoteID   `json:"id"`
	Owner          string   `json:"owner"`
	TipJar         string   `json:"tipJar"`
	CreatedAt      int64    `json:"createdAt"`
	UpdatedAt      int64    `json:"updatedAt"`
	BoostUntil     int64    `json:"boostUntil"`
	TotalTips      int64    `json:"totalTips"`
	Title          string   `json:"title"`
	Content        string   `json:"content"`
	Tags           []string `json:"tags"`
	HeaderImageURL string   `json:"headerImageUrl"`
}

// Boosted reports whether the note's boost is still active at now.
func (n Note) Boosted(now time.Time) bool {
	return n.BoostUntil > now.Unix()
}

// WaypointGroup is one route attached to a note, keyed by (NoteID, GroupID).
type WaypointGroup struct {
	NoteID  NoteID         `json:"noteId"`
	GroupID int64          `json:"groupId"`
	Name    string         `json:"name"`
	Color   string         `json:"color"`
	Visible bool           `json:"visible"`
	Steps   []WaypointStep `json:"steps"`
}

// WaypointStep is a single ordered stop of a route.
type WaypointStep struct {
	NoteID  NoteID `json:"noteId"`
	GroupID int64  `json:"groupId"`
	Index   int64  `json:"index"`
	X       int64  `json:"x"`
	Y       int64  `json:"y"`
	Z       int64  `json:"z"`
	Label   string `json:"label"`
}

// NoteLink anchors a note to a world entity and its coordinates.
type NoteLink struct {
	NoteID   NoteID `json:"noteId"`
	EntityID string `json:"entityId"`
	X        int64  `json:"x"`
	Y        int64  `json:"y"`
	Z        int64  `json:"z"`
}
