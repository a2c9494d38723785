package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatLog(t *testing.T) {
	assert.Equal(t, "[引导] 服务已启动", FormatLog("引导", "服务已启动"))
	assert.Equal(t, "[ASR] already tagged", FormatLog("转写", "[ASR] already tagged"))
	assert.Equal(t, "plain", FormatLog("", " plain "))
}

func TestWriterLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriter(&buf, "info")

	logger.DebugTag("监听", "hidden %d", 1)
	logger.InfoTag("监听", "扫描完成，共 %d 个文件", 3)
	logger.WarnTag("ASR", "重试 %d/%d", 1, 3)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[监听] 扫描完成，共 3 个文件")
	assert.Contains(t, out, "[警告]")
	assert.Contains(t, out, "[ASR] 重试 1/3")
}

func TestStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriter(&buf, "debug")

	msg := "chunk done" // non-constant so vet's printf check does not flag structured args
	logger.Info(msg, map[string]interface{}{"index": 2, "chunks": 3})
	assert.Contains(t, buf.String(), "chunks=3")
	assert.Contains(t, buf.String(), "index=2")
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	logger.InfoTag("引导", "nothing")
	require.NoError(t, logger.Close())
	assert.NotNil(t, OrDefault(nil))
}

func TestFileLoggerWritesJSON(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(Config{Level: "debug", Dir: dir, Filename: "test.log"})
	require.NoError(t, err)

	logger.InfoTag("存储", "历史记录驱动: %s", "sqlite")
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(filepath.Join(dir, "test.log"))
	require.NoError(t, err)
	line := strings.TrimSpace(string(data))
	assert.True(t, strings.HasPrefix(line, "{"), "expected JSON line, got %q", line)
	assert.Contains(t, line, "历史记录驱动: sqlite")
}
