package export

import (
	"bytes"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4"
	"github.com/pkg/errors"
)

// Codec selects how dump blocks are compressed.
type Codec uint16

const (
	CodecSnappy Codec = iota // default
	CodecNone
	CodecLz4
)

func (c Codec) String() string {
	switch c {
	case CodecSnappy:
		return "snappy"
	case CodecNone:
		return "none"
	case CodecLz4:
		return "lz4"
	}
	return "unknown"
}

// ParseCodec maps a codec name to its Codec.
func ParseCodec(s string) (Codec, error) {
	switch s {
	case "snappy", "":
		return CodecSnappy, nil
	case "none":
		return CodecNone, nil
	case "lz4":
		return CodecLz4, nil
	}
	return 0, errors.Wrapf(ErrUnsupportedCodec, "%q", s)
}

type compressor func([]byte) ([]byte, error)
type decompressor func([]byte) ([]byte, error)

var (
	snappyCompress compressor = func(in []byte) ([]byte, error) {
		return snappy.Encode(nil, in), nil
	}
	snappyDecompress decompressor = func(in []byte) ([]byte, error) {
		return snappy.Decode(nil, in)
	}
)

var (
	lz4Compress compressor = func(in []byte) ([]byte, error) {
		buf := &bytes.Buffer{}
		writer := lz4.NewWriter(buf)
		writer.NoChecksum = true
		if _, err := writer.Write(in); err != nil {
			return nil, err
		}
		if err := writer.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	lz4Decompress decompressor = func(in []byte) ([]byte, error) {
		buf := &bytes.Buffer{}
		reader := lz4.NewReader(bytes.NewReader(in))
		_, err := buf.ReadFrom(reader)
		return buf.Bytes(), err
	}
)

func identity(in []byte) ([]byte, error) { return in, nil }

func codecFuncs(c Codec) (compressor, decompressor, error) {
	switch c {
	case CodecSnappy:
		return snappyCompress, snappyDecompress, nil
	case CodecNone:
		return identity, identity, nil
	case CodecLz4:
		return lz4Compress, lz4Decompress, nil
	}
	return nil, nil, errors.Wrapf(ErrUnsupportedCodec, "codec %d", uint16(c))
}
