package codec

import (
	"encoding/base64"
	"encoding/binary"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/playground/internal/smaz"
)

func tokenFromYAML(t *testing.T, text string) string {
	t.Helper()
	packed, err := compressBlock(smaz.Compress([]byte(text)))
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(packed)
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		doc  Document
	}{
		{name: "empty", doc: Document{}},
		{name: "program only", doc: Document{Program: "return 1 + 1"}},
		{name: "environment only", doc: Document{Environment: "globals:\n  x: 1\n"}},
		{
			name: "multiline",
			doc: Document{
				Program:     "local function fib(n)\n  if n < 2 then return n end\n  return fib(n-1) + fib(n-2)\nend\n\nreturn fib(20)\n",
				Environment: "globals:\n  name: world\nlibs: [base, string]\ntimeout: 2s\n",
			},
		},
		{name: "yaml lookalikes", doc: Document{Program: "- a\n- b", Environment: "null"}},
		{name: "scalars that resolve to other types", doc: Document{Program: "123", Environment: "yes"}},
		{name: "quotes and escapes", doc: Document{Program: `print("a\tb", 'c', "\\n")`, Environment: "'#'"}},
		{name: "tabs and carriage returns", doc: Document{Program: "a\r\nb\tc\r", Environment: "\t"}},
		{name: "trailing newlines", doc: Document{Program: "x = 1\n\n\n", Environment: "a\n"}},
		{name: "trailing spaces", doc: Document{Program: "x = 1   \ny = 2 ", Environment: " "}},
		{name: "unicode", doc: Document{Program: "return \"héllo, 世界 🚀\"", Environment: "globals:\n  ñ: ü\n"}},
		{name: "comment markers", doc: Document{Program: "-- comment\n# not yaml", Environment: "# comment only"}},
		{name: "long program", doc: Document{Program: strings.Repeat("local x = x + 1 -- the counter\n", 500)}},
		{name: "leading newline", doc: Document{Program: "\nprint(1)\n"}},
		{name: "only newlines", doc: Document{Program: "\n\n"}},
		{name: "leading newline without trailing", doc: Document{Program: "\nz"}},
		{name: "environment with leading newline", doc: Document{Program: "x = 1\n", Environment: "\nglobals: {}\n"}},
		{name: "long quoted lines", doc: Document{Program: "\n" + strings.Repeat("word ", 60) + "\n  indented   spaces  \n"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := Encode(tt.doc)
			require.NoError(t, err)
			assert.NotContains(t, token, "=")
			assert.NotContains(t, token, "+")
			assert.NotContains(t, token, "/")

			got, ok := Decode(token)
			require.True(t, ok)
			assert.Equal(t, tt.doc, got)
		})
	}
}

func TestRoundTripRandomText(t *testing.T) {
	const alphabet = "ab z0-:#|>'\"{}[],&*!%@?\n\t\r\\"
	rng := rand.New(rand.NewSource(11))
	text := func() string {
		b := make([]byte, rng.Intn(24))
		for i := range b {
			b[i] = alphabet[rng.Intn(len(alphabet))]
		}
		return string(b)
	}

	for i := 0; i < 5000; i++ {
		doc := Document{Program: text(), Environment: text()}
		token, err := Encode(doc)
		require.NoError(t, err, "doc %q", doc)

		got, ok := Decode(token)
		require.True(t, ok, "doc %q", doc)
		require.Equal(t, doc, got)
	}
}

func TestEncodeQuotesWhenPlainYAMLIsLossy(t *testing.T) {
	token, err := Encode(Document{Program: "\nz", Environment: "e"})
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(token)
	require.NoError(t, err)
	compressed, ok := uncompressBlock(raw)
	require.True(t, ok)
	text, err := smaz.Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, "- \"\\nz\"\n- \"e\"\n", string(text))
}

func TestEncodeDeterministic(t *testing.T) {
	doc := Document{Program: "return 42", Environment: "globals: {a: 1}"}

	a, err := Encode(doc)
	require.NoError(t, err)
	b, err := Encode(doc)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestEncodeWireFormat(t *testing.T) {
	token, err := Encode(Document{Program: "p", Environment: "e"})
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(token)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(raw), sizePrefixLen)

	want := smaz.Compress([]byte("- p\n- e\n"))
	assert.Equal(t, uint32(len(want)), binary.LittleEndian.Uint32(raw))

	compressed, ok := uncompressBlock(raw)
	require.True(t, ok)
	assert.Equal(t, want, compressed)
}

func TestDecodeForeignYAMLStyle(t *testing.T) {
	// Headers and quoting styles other writers use decode to the same pair,
	// even though Encode would produce a different token for it.
	token := tokenFromYAML(t, "---\n- \"return 1\"\n- 'globals: {x: 1}'\n")

	got, ok := Decode(token)
	require.True(t, ok)
	want := Document{Program: "return 1", Environment: "globals: {x: 1}"}
	assert.Equal(t, want, got)

	reencoded, err := Encode(got)
	require.NoError(t, err)
	assert.NotEqual(t, token, reencoded)
	again, ok := Decode(reencoded)
	require.True(t, ok)
	assert.Equal(t, want, again)
}

func TestDecodeFragmentMarker(t *testing.T) {
	doc := Document{Program: "return 1"}
	token, err := Encode(doc)
	require.NoError(t, err)

	got, ok := Decode("#" + token)
	require.True(t, ok)
	assert.Equal(t, doc, got)
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "only marker", token: "#"},
		{name: "bad base64", token: "!!!not base64!!!"},
		{name: "padded base64", token: "AAAA=="},
		{name: "standard alphabet", token: "ab+/"},
		{name: "short prefix", token: base64.RawURLEncoding.EncodeToString([]byte{1, 2})},
		{name: "oversized prefix", token: base64.RawURLEncoding.EncodeToString([]byte{0xff, 0xff, 0xff, 0xff, 0x10})},
		{name: "corrupt block", token: base64.RawURLEncoding.EncodeToString([]byte{10, 0, 0, 0, 0xf0, 0x01})},
		{name: "length mismatch", token: base64.RawURLEncoding.EncodeToString([]byte{5, 0, 0, 0, 0x10, 'a'})},
		{name: "corrupt smaz", token: base64.RawURLEncoding.EncodeToString([]byte{1, 0, 0, 0, 0x10, 255})},
		{name: "mapping", token: tokenFromYAML(t, "program: x\nenvironment: y\n")},
		{name: "one element", token: tokenFromYAML(t, "- x\n")},
		{name: "three elements", token: tokenFromYAML(t, "- x\n- y\n- z\n")},
		{name: "nested sequence", token: tokenFromYAML(t, "- [a]\n- b\n")},
		{name: "invalid yaml", token: tokenFromYAML(t, "- [unclosed\n")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, ok := Decode(tt.token)
			assert.False(t, ok)
			assert.Equal(t, Document{}, doc)
		})
	}
}

func TestDecodeNeverPanics(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	valid, err := Encode(Document{Program: "return {1, 2, 3}", Environment: "globals: {x: 1}"})
	require.NoError(t, err)

	for i := 0; i < 2000; i++ {
		var token string
		switch i % 3 {
		case 0:
			buf := make([]byte, rng.Intn(64))
			rng.Read(buf)
			token = base64.RawURLEncoding.EncodeToString(buf)
		case 1:
			b := []byte(valid)
			b[rng.Intn(len(b))] = "ABCxyz019-_"[rng.Intn(11)]
			token = string(b)
		default:
			token = valid[:rng.Intn(len(valid))]
		}

		assert.NotPanics(t, func() { Decode(token) }, "token %q", token)
	}
}

func TestDocumentIsEmpty(t *testing.T) {
	assert.True(t, Document{}.IsEmpty())
	assert.False(t, Document{Environment: "x"}.IsEmpty())
}
