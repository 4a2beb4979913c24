// Package smaz implements the smaz compressor for short strings.
//
// The output is byte-compatible with the reference C implementation and its
// common ports: bytes 0-253 index the codebook, 254 prefixes a single verbatim
// byte and 255 prefixes a run of verbatim bytes whose length minus one follows.
package smaz

import (
	"errors"
)

const (
	verbatimByte = 254
	verbatimRun  = 255

	maxEntryLen = 7
	maxRunLen   = 256
)

// ErrCorrupt is returned when compressed input is truncated.
var ErrCorrupt = errors.New("smaz: corrupt input")

var codes = func() map[string]byte {
	m := make(map[string]byte, len(codebook))
	for i, entry := range codebook {
		m[entry] = byte(i)
	}
	return m
}()

// Compress encodes input using greedy longest-match against the codebook.
func Compress(input []byte) []byte {
	out := make([]byte, 0, len(input)/2+2)
	var verbatim []byte

	flush := func() {
		for len(verbatim) > 0 {
			n := min(len(verbatim), maxRunLen)
			if n == 1 {
				out = append(out, verbatimByte, verbatim[0])
			} else {
				out = append(out, verbatimRun, byte(n-1))
				out = append(out, verbatim[:n]...)
			}
			verbatim = verbatim[n:]
		}
	}

	for i := 0; i < len(input); {
		matched := 0
		for n := min(maxEntryLen, len(input)-i); n > 0; n-- {
			if code, ok := codes[string(input[i:i+n])]; ok {
				flush()
				out = append(out, code)
				matched = n
				break
			}
		}
		if matched == 0 {
			verbatim = append(verbatim, input[i])
			if len(verbatim) == maxRunLen {
				flush()
			}
			i++
			continue
		}
		i += matched
	}
	flush()
	return out
}

// Decompress reverses Compress.
func Decompress(input []byte) ([]byte, error) {
	out := make([]byte, 0, len(input)*3)
	for i := 0; i < len(input); {
		switch c := input[i]; c {
		case verbatimByte:
			if i+1 >= len(input) {
				return nil, ErrCorrupt
			}
			out = append(out, input[i+1])
			i += 2
		case verbatimRun:
			if i+1 >= len(input) {
				return nil, ErrCorrupt
			}
			n := int(input[i+1]) + 1
			if i+2+n > len(input) {
				return nil, ErrCorrupt
			}
			out = append(out, input[i+2:i+2+n]...)
			i += 2 + n
		default:
			out = append(out, codebook[c]...)
			i++
		}
	}
	return out, nil
}
