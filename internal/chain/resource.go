package chain

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	resourceTypeSystem = "sy"
	namespaceLength    = 14
	nameLength         = 16

	// blockEntityType tags entity ids derived from block coordinates.
	blockEntityType byte = 0x03
)

var (
	ErrNamespaceTooLong = errors.New("chain: namespace exceeds 14 bytes")
	ErrEmptySystemName  = errors.New("chain: system name is required")
	ErrCoordinateRange  = errors.New("chain: coordinate outside int32 range")
)

// SystemID derives the resource id for {type: system, namespace, name}.
// Layout: 2-byte type, 14-byte namespace, 16-byte name; shorter parts are zero padded
// and names longer than 16 bytes are truncated.
func SystemID(namespace, name string) (common.Hash, error) {
	if len(namespace) > namespaceLength {
		return common.Hash{}, ErrNamespaceTooLong
	}
	if name == "" {
		return common.Hash{}, ErrEmptySystemName
	}
	var id common.Hash
	copy(id[0:2], resourceTypeSystem)
	copy(id[2:2+namespaceLength], namespace)
	copy(id[2+namespaceLength:], name)
	return id, nil
}

// BlockEntityID packs block coordinates into the world's entity id.
func BlockEntityID(x, y, z int32) common.Hash {
	var id common.Hash
	id[0] = blockEntityType
	binary.BigEndian.PutUint32(id[1:5], uint32(x))
	binary.BigEndian.PutUint32(id[5:9], uint32(y))
	binary.BigEndian.PutUint32(id[9:13], uint32(z))
	return id
}

// EntityIDForCoordinates is BlockEntityID for domain coordinates, rendered as lowercase hex.
func EntityIDForCoordinates(x, y, z int64) (string, error) {
	for _, value := range []int64{x, y, z} {
		if value < math.MinInt32 || value > math.MaxInt32 {
			return "", ErrCoordinateRange
		}
	}
	return BlockEntityID(int32(x), int32(y), int32(z)).Hex(), nil
}

// DecodeBlockEntityID recovers the coordinates packed by BlockEntityID.
// ok is false for ids of any other entity type.
func DecodeBlockEntityID(entityID string) (x, y, z int64, ok bool) {
	decoded, err := hexutil.Decode(entityID)
	if err != nil || len(decoded) != common.HashLength || decoded[0] != blockEntityType {
		return 0, 0, 0, false
	}
	for _, trailing := range decoded[13:] {
		if trailing != 0 {
			return 0, 0, 0, false
		}
	}
	x = int64(int32(binary.BigEndian.Uint32(decoded[1:5])))
	y = int64(int32(binary.BigEndian.Uint32(decoded[5:9])))
	z = int64(int32(binary.BigEndian.Uint32(decoded[9:13])))
	return x, y, z, true
}
