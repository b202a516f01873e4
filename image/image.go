// Package image reads and writes compiled programs as self-contained
// binary files.
//
// An image is a 4-byte magic "BVMI", a big-endian uint16 format version,
// a big-endian uint16 flag word and a payload. The payload is the
// canonical CBOR encoding of the instruction sequence, zstd-compressed
// when FlagZstd is set.
package image

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/chazu/bytevm/vm"
)

// Magic identifies an image file.
const Magic = "BVMI"

// Version is the current image format version.
const Version uint16 = 1

// Header flags.
const (
	FlagZstd uint16 = 1 << iota
)

const headerSize = len(Magic) + 4

var (
	ErrBadMagic = errors.New("image: not a bytevm image")
	ErrVersion  = errors.New("image: unsupported format version")
	ErrTooShort = errors.New("image: truncated header")
)

// Option configures encoding.
type Option func(*options)

type options struct {
	compress bool
}

// Uncompressed stores the CBOR payload as is.
func Uncompressed() Option {
	return func(o *options) { o.compress = false }
}

var (
	zstdEncoder = sync.OnceValues(func() (*zstd.Encoder, error) {
		return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	})
	zstdDecoder = sync.OnceValues(func() (*zstd.Decoder, error) {
		return zstd.NewReader(nil)
	})
)

// IsImage reports whether data starts with the image magic.
func IsImage(data []byte) bool {
	return bytes.HasPrefix(data, []byte(Magic))
}

// Encode serializes code into an image.
func Encode(code []vm.Instruction, opts ...Option) ([]byte, error) {
	o := options{compress: true}
	for _, opt := range opts {
		opt(&o)
	}

	payload, err := marshalCode(code)
	if err != nil {
		return nil, fmt.Errorf("image: encode: %w", err)
	}

	var flags uint16
	if o.compress {
		enc, err := zstdEncoder()
		if err != nil {
			return nil, fmt.Errorf("image: zstd encoder: %w", err)
		}
		payload = enc.EncodeAll(payload, nil)
		flags |= FlagZstd
	}

	out := make([]byte, 0, headerSize+len(payload))
	out = append(out, Magic...)
	out = binary.BigEndian.AppendUint16(out, Version)
	out = binary.BigEndian.AppendUint16(out, flags)
	return append(out, payload...), nil
}

// Decode parses an image produced by Encode.
func Decode(data []byte) ([]vm.Instruction, error) {
	if !IsImage(data) {
		if len(data) < len(Magic) && bytes.HasPrefix([]byte(Magic), data) {
			return nil, ErrTooShort
		}
		return nil, ErrBadMagic
	}
	if len(data) < headerSize {
		return nil, ErrTooShort
	}
	version := binary.BigEndian.Uint16(data[4:])
	if version != Version {
		return nil, fmt.Errorf("%w %d (want %d)", ErrVersion, version, Version)
	}
	flags := binary.BigEndian.Uint16(data[6:])
	payload := data[headerSize:]

	if flags&FlagZstd != 0 {
		dec, err := zstdDecoder()
		if err != nil {
			return nil, fmt.Errorf("image: zstd decoder: %w", err)
		}
		payload, err = dec.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("image: decompress: %w", err)
		}
	}
	return unmarshalCode(payload)
}

// Write encodes code to w.
func Write(w io.Writer, code []vm.Instruction, opts ...Option) error {
	data, err := Encode(code, opts...)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Read decodes an image from r.
func Read(r io.Reader) ([]vm.Instruction, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// WriteFile encodes code to the file at path.
func WriteFile(path string, code []vm.Instruction, opts ...Option) error {
	data, err := Encode(code, opts...)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ReadFile decodes the image at path.
func ReadFile(path string) ([]vm.Instruction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	code, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return code, nil
}
