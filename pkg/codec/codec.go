// Package codec converts a playground document to and from the compact token
// stored in a share link fragment.
//
// A token is built in four stages:
//
//  1. the pair [program, environment] is serialized as a YAML sequence
//  2. the YAML text is compressed with smaz
//  3. the result is compressed as a single LZ4 block, prefixed with its
//     uncompressed length as a little-endian uint32
//  4. the bytes are encoded with unpadded URL-safe base64
//
// Tokens produced by earlier releases must keep decoding, so none of these
// stages may change. Other writers of the format may emit different YAML for
// the same pair (a "---" header, other quoting), so re-encoding a document
// opened from their token can yield a different token that decodes to the
// same pair.
package codec

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/pierrec/lz4/v4"
	"gopkg.in/yaml.v3"

	"github.com/aixgo-dev/playground/internal/smaz"
)

// MaxDecodedSize bounds the length prefix accepted by Decode.
const MaxDecodedSize = 16 << 20

const sizePrefixLen = 4

// ErrNotEncodable is returned when a document would not decode back to itself.
var ErrNotEncodable = errors.New("document cannot be encoded losslessly")

// Document is the shareable unit of a playground session.
type Document struct {
	Program     string `json:"program"`
	Environment string `json:"environment"`
}

// IsEmpty reports whether both fields are empty.
func (d Document) IsEmpty() bool {
	return d.Program == "" && d.Environment == ""
}

// Encode returns the share token for doc.
//
// Some strings, such as those starting with a line break, are emitted by the
// YAML encoder in a block style it cannot read back. When the plain encoding
// does not survive a round trip both strings are written double-quoted.
func Encode(doc Document) (string, error) {
	text, err := yaml.Marshal([]string{doc.Program, doc.Environment})
	if err != nil {
		return "", fmt.Errorf("failed to serialize document: %w", err)
	}
	if got, ok := decodePair(text); !ok || got != doc {
		text, err = marshalQuoted(doc)
		if err != nil {
			return "", fmt.Errorf("failed to serialize document: %w", err)
		}
		if got, ok := decodePair(text); !ok || got != doc {
			return "", ErrNotEncodable
		}
	}

	packed, err := compressBlock(smaz.Compress(text))
	if err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(packed), nil
}

// Decode parses a share token. A leading or trailing '#' is ignored. It
// reports false for any input that is not a well-formed token.
func Decode(token string) (Document, bool) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.Trim(token, "#"))
	if err != nil {
		return Document{}, false
	}

	compressed, ok := uncompressBlock(raw)
	if !ok {
		return Document{}, false
	}

	text, err := smaz.Decompress(compressed)
	if err != nil {
		return Document{}, false
	}

	return decodePair(text)
}

func decodePair(text []byte) (Document, bool) {
	var pair []string
	if err := yaml.Unmarshal([]byte(strings.ToValidUTF8(string(text), "\uFFFD")), &pair); err != nil {
		return Document{}, false
	}
	if len(pair) != 2 {
		return Document{}, false
	}
	return Document{Program: pair[0], Environment: pair[1]}, true
}

func marshalQuoted(doc Document) ([]byte, error) {
	scalar := func(value string) *yaml.Node {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Style: yaml.DoubleQuotedStyle, Value: value}
	}
	return yaml.Marshal(&yaml.Node{
		Kind:    yaml.SequenceNode,
		Content: []*yaml.Node{scalar(doc.Program), scalar(doc.Environment)},
	})
}

func compressBlock(src []byte) ([]byte, error) {
	out := make([]byte, sizePrefixLen+lz4.CompressBlockBound(len(src)))
	binary.LittleEndian.PutUint32(out, uint32(len(src)))

	var c lz4.Compressor
	n, err := c.CompressBlock(src, out[sizePrefixLen:])
	if err != nil {
		return nil, fmt.Errorf("failed to compress document: %w", err)
	}
	return out[:sizePrefixLen+n], nil
}

func uncompressBlock(raw []byte) ([]byte, bool) {
	if len(raw) < sizePrefixLen {
		return nil, false
	}
	size := binary.LittleEndian.Uint32(raw)
	if size > MaxDecodedSize {
		return nil, false
	}

	dst := make([]byte, size)
	n, err := lz4.UncompressBlock(raw[sizePrefixLen:], dst)
	if err != nil || n != int(size) {
		return nil, false
	}
	return dst, true
}
