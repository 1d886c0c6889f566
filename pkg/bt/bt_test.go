package bt

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twinfer/bintype/pkg/bintype"
)

const headerDef = `
bintype Header:
    magic: string[4]
    version: uint16
`

const messageDef = `
bintype Message:
    hdr: Header
    message_len: uint8
    message: string[message_len]
    crc: uint16 &byteorder big
`

var messageData = []byte{
	'B', 'T', 'Y', 'P', // magic
	0x02, 0x00,         // version
	0x05,               // message_len
	'h', 'e', 'l', 'l', 'o',
	0x12, 0x34, // crc
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func writeDefinition(t *testing.T) string {
	t.Helper()
	return writeFile(t, t.TempDir(), "message.bt", messageDef+headerDef)
}

func TestParseBytes(t *testing.T) {
	path := writeDefinition(t)

	inst, err := ParseBytes(messageData, path)
	require.NoError(t, err)

	assert.Equal(t, "Message", inst.Class().Name)
	message, ok := inst.Array("message")
	require.True(t, ok)
	text, err := message.Text()
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
}

func TestParseToJSON(t *testing.T) {
	path := writeDefinition(t)

	jsonData, err := ParseToJSON(messageData, path, WithClass("Message"))
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal(jsonData, &result))
	assert.Equal(t, "hello", result["message"])
	assert.Equal(t, float64(0x1234), result["crc"])
	hdr := result["hdr"].(map[string]any)
	assert.Equal(t, "BTYP", hdr["magic"])
	assert.Equal(t, float64(2), hdr["version"])

	// fields keep wire order in the document
	s := string(jsonData)
	assert.Less(t, strings.Index(s, `"hdr"`), strings.Index(s, `"message_len"`))
	assert.Less(t, strings.Index(s, `"message_len"`), strings.Index(s, `"crc"`))
}

func TestJSONRoundTrip(t *testing.T) {
	path := writeDefinition(t)

	jsonData, err := ParseToJSON(messageData, path)
	require.NoError(t, err)

	out, err := StoreFromJSON(jsonData, path)
	require.NoError(t, err)
	assert.Equal(t, messageData, out)
}

func TestStoreFromJSON(t *testing.T) {
	path := writeDefinition(t)
	jsonData := []byte(`{
  "hdr": {"magic": "BTYP", "version": 2},
  "message_len": 5,
  "message": "hello",
  "crc": 4660
}`)

	out, err := StoreFromJSON(jsonData, path, WithClass("Message"))
	require.NoError(t, err)
	assert.Equal(t, messageData, out)

	_, err = StoreFromJSON([]byte(`{"message_len": 2, "message": "hello"}`), path)
	assert.Error(t, err, "message length disagrees with message_len")

	_, err = StoreFromJSON([]byte(`not json`), path)
	assert.Error(t, err)
}

func TestManifest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "message.bt", messageDef)
	writeFile(t, dir, "header.bt", headerDef)
	manifestPath := writeFile(t, dir, "message.yaml", `
definition: message.bt
includes:
  - header.bt
class: Message
check: hdr.version == 2 and message_len > 0
`)

	loader := NewLoader()
	def, err := loader.Load(manifestPath)
	require.NoError(t, err)
	assert.Equal(t, "Message", def.Class)
	assert.Equal(t, []string{"Message", "Header"}, def.Module.Classes())

	_, err = loader.ParseBytes(context.Background(), messageData, manifestPath)
	require.NoError(t, err)

	bad := append([]byte(nil), messageData...)
	bad[4] = 0x03
	_, err = loader.ParseBytes(context.Background(), bad, manifestPath)
	assert.True(t, errors.Is(err, ErrCheckFailed))
}

func TestWithCheck(t *testing.T) {
	path := writeDefinition(t)
	loader := NewLoader(WithCheck("crc == 0x1234"))

	_, err := loader.ParseBytes(context.Background(), messageData, path)
	require.NoError(t, err)

	_, err = loader.ParseBytes(context.Background(), messageData, path, WithCheck("crc == 0"))
	assert.ErrorIs(t, err, ErrCheckFailed)
}

func TestCaching(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.bt", "bintype A:\n  x: uint8\n")

	loader := NewLoader(WithCaching(0))
	first, err := loader.Load(path)
	require.NoError(t, err)

	writeFile(t, dir, "a.bt", "bintype A:\n  x: uint16\n")
	second, err := loader.Load(path)
	require.NoError(t, err)
	assert.Same(t, first, second)

	loader.ClearCache()
	third, err := loader.Load(path)
	require.NoError(t, err)
	assert.NotSame(t, first, third)

	uncached := NewLoader(WithoutCaching())
	a, err := uncached.Load(path)
	require.NoError(t, err)
	b, err := uncached.Load(path)
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()

	assert.NoError(t, Validate(writeDefinition(t)))

	err := Validate(writeFile(t, dir, "bad.bt", "bintype A:\n  x: Missing\n"))
	require.Error(t, err)
	var ce *bintype.CompileError
	assert.True(t, errors.As(err, &ce))

	assert.Error(t, Validate(filepath.Join(dir, "nope.bt")))
	assert.Error(t, Validate(writeFile(t, dir, "empty.yaml", "class: A\n")))
	assert.Error(t, Validate(writeFile(t, dir, "broken.yaml", "definition: [\n")))
}

func TestUnknownClass(t *testing.T) {
	path := writeDefinition(t)
	_, err := ParseBytes(messageData, path, WithClass("Nope"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no bintype Nope")
}

func TestParseErrorsAreWrapped(t *testing.T) {
	path := writeDefinition(t)
	_, err := ParseBytes(messageData[:5], path)

	var trunc *bintype.TruncatedStreamError
	require.True(t, errors.As(err, &trunc))
	assert.Equal(t, "version", trunc.Field)
}

func TestJSONRoundTrip_TerminatedString(t *testing.T) {
	path := writeFile(t, t.TempDir(), "record.bt", `
bintype Record:
    name: string[] &until ($input != 0)
    count: uint8
`)
	data := []byte{'h', 'i', 0x00, 0x09}

	jsonData, err := ParseToJSON(data, path)
	require.NoError(t, err)

	out, err := StoreFromJSON(jsonData, path)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}
