package notes

import (
	"crypto/rand"
	"io"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
)

// IDProvider issues new identifiers.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers for local records.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

type randomNoteIDProvider struct {
	source io.Reader
}

// NewRandomNoteIDProvider issues random 32-byte note identifiers. They are not derived from content.
func NewRandomNoteIDProvider() IDProvider {
	return &randomNoteIDProvider{source: rand.Reader}
}

func (p *randomNoteIDProvider) NewID() (string, error) {
	buffer := make([]byte, hex32Length)
	if _, err := io.ReadFull(p.source, buffer); err != nil {
		return "", err
	}
	return hexutil.Encode(buffer), nil
}
