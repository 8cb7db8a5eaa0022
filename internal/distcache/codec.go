package distcache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/snappy"
	"github.com/pierrec/lz4/v4"

	"github.com/edgecomet/rendeer/internal/common/configtypes"
)

// compressionMinSize keeps small pages uncompressed
const compressionMinSize = 1024

// Leading byte of every stored value, naming how the payload is compressed
const (
	markerNone   byte = 'n'
	markerSnappy byte = 's'
	markerLZ4    byte = 'l'
)

// ErrDecode is returned for values that cannot be decoded.
var ErrDecode = errors.New("cache value decode failed")

// Codec turns entries into stored values and back. Values are self-describing,
// so changing the configured algorithm does not invalidate existing entries.
type Codec struct {
	algorithm string
}

// NewCodec validates the algorithm
func NewCodec(algorithm string) (*Codec, error) {
	switch algorithm {
	case "", configtypes.CompressionNone:
		return &Codec{algorithm: configtypes.CompressionNone}, nil
	case configtypes.CompressionSnappy, configtypes.CompressionLZ4:
		return &Codec{algorithm: algorithm}, nil
	default:
		return nil, fmt.Errorf("unknown compression algorithm: %s", algorithm)
	}
}

func (c *Codec) Encode(entry *Entry) ([]byte, error) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	if len(payload) < compressionMinSize {
		return append([]byte{markerNone}, payload...), nil
	}

	switch c.algorithm {
	case configtypes.CompressionSnappy:
		return append([]byte{markerSnappy}, snappy.Encode(nil, payload)...), nil

	case configtypes.CompressionLZ4:
		var buf bytes.Buffer
		buf.WriteByte(markerLZ4)
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			w.Close()
			return nil, fmt.Errorf("lz4 compression failed: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compression close failed: %w", err)
		}
		return buf.Bytes(), nil

	default:
		return append([]byte{markerNone}, payload...), nil
	}
}

func (c *Codec) Decode(value []byte) (*Entry, error) {
	if len(value) == 0 {
		return nil, fmt.Errorf("%w: empty value", ErrDecode)
	}

	var payload []byte
	switch value[0] {
	case markerNone:
		payload = value[1:]

	case markerSnappy:
		decoded, err := snappy.Decode(nil, value[1:])
		if err != nil {
			return nil, fmt.Errorf("%w: snappy: %v", ErrDecode, err)
		}
		payload = decoded

	case markerLZ4:
		decoded, err := io.ReadAll(lz4.NewReader(bytes.NewReader(value[1:])))
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrDecode, err)
		}
		payload = decoded

	default:
		return nil, fmt.Errorf("%w: unknown marker 0x%02x", ErrDecode, value[0])
	}

	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return &entry, nil
}
