package sink

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	jsonpool "github.com/ajitpratap0/hubtap/pkg/json"
)

func decodeLines(t *testing.T, data []byte) []map[string]interface{} {
	t.Helper()
	var docs []map[string]interface{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var doc map[string]interface{}
		require.NoError(t, jsonpool.Unmarshal([]byte(line), &doc))
		docs = append(docs, doc)
	}
	require.NoError(t, scanner.Err())
	return docs
}

func TestNDJSONSinkOrderAndShape(t *testing.T) {
	var buf bytes.Buffer
	s, err := newNDJSONSink(&buf, "none", 0, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx := context.Background()
	extractedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.WriteRecord(ctx, "contacts", map[string]interface{}{"id": "1"}, extractedAt))
	require.NoError(t, s.WriteRecord(ctx, "contacts", map[string]interface{}{"id": "2"}, extractedAt))
	require.NoError(t, s.WriteState(ctx, map[string]interface{}{"bookmarks": map[string]interface{}{}}))
	require.NoError(t, s.Close(ctx))

	docs := decodeLines(t, buf.Bytes())
	require.Len(t, docs, 3)

	assert.Equal(t, "RECORD", docs[0]["type"])
	assert.Equal(t, "contacts", docs[0]["stream"])
	record, ok := docs[0]["record"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "1", record["id"])
	assert.Equal(t, "2026-08-01T12:00:00Z", docs[0]["time_extracted"])

	record, ok = docs[1]["record"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "2", record["id"])

	assert.Equal(t, "STATE", docs[2]["type"])
	assert.Contains(t, docs[2], "value")
	assert.NotContains(t, docs[2], "stream")
}

func TestNDJSONSinkGzip(t *testing.T) {
	var buf bytes.Buffer
	s, err := newNDJSONSink(&buf, "gzip", 0, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.WriteRecord(ctx, "owners", map[string]interface{}{"id": "9"}, time.Now().UTC()))
	require.NoError(t, s.Close(ctx))

	zr, err := gzip.NewReader(&buf)
	require.NoError(t, err)
	defer func() { _ = zr.Close() }()

	var plain bytes.Buffer
	_, err = plain.ReadFrom(zr)
	require.NoError(t, err)

	docs := decodeLines(t, plain.Bytes())
	require.Len(t, docs, 1)
	assert.Equal(t, "owners", docs[0]["stream"])
}

func TestNDJSONSinkRejectsUnknownCompression(t *testing.T) {
	var buf bytes.Buffer
	_, err := newNDJSONSink(&buf, "snappy", 0, zaptest.NewLogger(t))
	require.Error(t, err)
}

func TestNDJSONSinkClosed(t *testing.T) {
	var buf bytes.Buffer
	s, err := newNDJSONSink(&buf, "none", 0, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx))

	err = s.WriteRecord(ctx, "contacts", map[string]interface{}{}, time.Now())
	require.Error(t, err)
}
