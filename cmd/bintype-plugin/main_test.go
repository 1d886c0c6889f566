package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/redpanda-data/benthos/v4/public/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const frameDefinition = `
bintype Frame:
    len: uint8
    kind: uint8
    payload: uint8[len]
    crc: uint16 &byteorder big
`

func writeTempDefinition(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "frame.bt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func newTestProcessor(t *testing.T, yamlConf string) *BintypeProcessor {
	t.Helper()
	pConf, err := bintypeProcessorConfig().ParseYAML(yamlConf, nil)
	require.NoError(t, err)
	processor, err := newBintypeProcessorFromConfig(pConf, service.MockResources())
	require.NoError(t, err)
	return processor
}

func TestBintypeProcessor_Parse(t *testing.T) {
	path := writeTempDefinition(t, frameDefinition)
	processor := newTestProcessor(t, fmt.Sprintf("definition_path: %s\nis_parser: true", path))

	inputMsg := service.NewMessage([]byte{0x02, 0x07, 0xAA, 0xBB, 0x12, 0x34})
	inputMsg.MetaSet("source", "test")
	batch, err := processor.Process(context.Background(), inputMsg)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.NoError(t, batch[0].GetError())

	structured, err := batch[0].AsStructured()
	require.NoError(t, err)
	doc := structured.(map[string]any)
	assert.Equal(t, int64(2), doc["len"])
	assert.Equal(t, int64(7), doc["kind"])
	assert.Equal(t, []any{int64(0xAA), int64(0xBB)}, doc["payload"])
	assert.Equal(t, int64(0x1234), doc["crc"])

	source, ok := batch[0].MetaGet("source")
	assert.True(t, ok)
	assert.Equal(t, "test", source)
}

func TestBintypeProcessor_Serialize(t *testing.T) {
	path := writeTempDefinition(t, frameDefinition)
	processor := newTestProcessor(t, fmt.Sprintf("definition_path: %s\nis_parser: false", path))

	inputMsg := service.NewMessage([]byte(`{"len": 2, "kind": 7, "payload": [170, 187], "crc": 4660}`))
	batch, err := processor.Process(context.Background(), inputMsg)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.NoError(t, batch[0].GetError())

	out, err := batch[0].AsBytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x07, 0xAA, 0xBB, 0x12, 0x34}, out)
}

func TestBintypeProcessor_Errors(t *testing.T) {
	path := writeTempDefinition(t, frameDefinition)

	tests := []struct {
		name  string
		conf  string
		input []byte
	}{
		{"EmptyInput", "is_parser: true", []byte{}},
		{"Truncated", "is_parser: true", []byte{0x05, 0x01, 0x02}},
		{"CheckFailed", "is_parser: true\ncheck: kind == 1", []byte{0x00, 0x07, 0x00, 0x00}},
		{"NotJSON", "is_parser: false", []byte("not json")},
		{"NotAnObject", "is_parser: false", []byte("[1, 2]")},
		{"CountMismatch", "is_parser: false", []byte(`{"len": 3, "kind": 0, "payload": [1], "crc": 0}`)},
		{"UnknownField", "is_parser: false", []byte(`{"len": 0, "kind": 0, "payload": [], "crc": 0, "extra": 1}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			processor := newTestProcessor(t, fmt.Sprintf("definition_path: %s\n%s", path, tt.conf))
			batch, err := processor.Process(context.Background(), service.NewMessage(tt.input))
			require.NoError(t, err, "errors are reported on the message")
			require.Len(t, batch, 1)
			assert.Error(t, batch[0].GetError())
		})
	}
}

func TestBintypeProcessor_Class(t *testing.T) {
	path := writeTempDefinition(t, frameDefinition+`
bintype Short:
    kind: uint8
`)
	processor := newTestProcessor(t, fmt.Sprintf("definition_path: %s\nclass: Short", path))

	batch, err := processor.Process(context.Background(), service.NewMessage([]byte{0x09}))
	require.NoError(t, err)
	require.NoError(t, batch[0].GetError())
	structured, err := batch[0].AsStructured()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"kind": int64(9)}, structured)
}

func TestNewBintypeProcessor_InvalidConfig(t *testing.T) {
	pConf, err := bintypeProcessorConfig().ParseYAML("definition_path: /does/not/exist.bt", nil)
	require.NoError(t, err)
	_, err = newBintypeProcessorFromConfig(pConf, service.MockResources())
	assert.Error(t, err)

	bad := writeTempDefinition(t, "bintype Frame:\n    payload: uint8[missing]\n")
	pConf, err = bintypeProcessorConfig().ParseYAML(fmt.Sprintf("definition_path: %s", bad), nil)
	require.NoError(t, err)
	_, err = newBintypeProcessorFromConfig(pConf, service.MockResources())
	assert.Error(t, err)
}

func TestBintypeProcessor_Close(t *testing.T) {
	path := writeTempDefinition(t, frameDefinition)
	processor := newTestProcessor(t, fmt.Sprintf("definition_path: %s", path))
	assert.NoError(t, processor.Close(context.Background()))
}

func TestBintypeProcessor_ParseThenSerialize(t *testing.T) {
	path := writeTempDefinition(t, `
bintype Record:
    name: string[] &until ($input != 0)
    count: uint8
`)
	parser := newTestProcessor(t, fmt.Sprintf("definition_path: %s\nis_parser: true", path))
	serializer := newTestProcessor(t, fmt.Sprintf("definition_path: %s\nis_parser: false", path))
	input := []byte{'h', 'i', 0x00, 0x09}

	parsed, err := parser.Process(context.Background(), service.NewMessage(input))
	require.NoError(t, err)
	require.NoError(t, parsed[0].GetError())

	stored, err := serializer.Process(context.Background(), parsed[0])
	require.NoError(t, err)
	require.NoError(t, stored[0].GetError())

	out, err := stored[0].AsBytes()
	require.NoError(t, err)
	assert.Equal(t, input, out)
}
