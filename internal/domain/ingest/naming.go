package ingest

import (
	"path"
	"regexp"
	"strings"
	"time"

	"voicenote-ingest-go/internal/domain/vault"
)

// StampLayout 时间戳格式 YYYYMMDD-HHmmss
const StampLayout = "20060102-150405"

// NotePrefix 转写笔记文件名前缀
const NotePrefix = "Transcription-"

var stampPattern = regexp.MustCompile(`^(\d{8})[-_]?(\d{6})`)

// ParseStamp 从文件名开头提取时间戳，例如 20260123_203038.m4a
func ParseStamp(name string) (string, bool) {
	m := stampPattern.FindStringSubmatch(path.Base(name))
	if m == nil {
		return "", false
	}
	return m[1] + "-" + m[2], true
}

// DeriveTimestamp 计算资源的时间戳：文件名 > 修改时间 > 创建时间 > now。
// 幂等检查与笔记创建必须使用同一次计算的结果。
func DeriveTimestamp(info vault.FileInfo, now time.Time) string {
	if stamp, ok := ParseStamp(info.Path); ok {
		return stamp
	}
	if !info.ModTime.IsZero() {
		return info.ModTime.Format(StampLayout)
	}
	if !info.CreateTime.IsZero() {
		return info.CreateTime.Format(StampLayout)
	}
	return now.Format(StampLayout)
}

// StampDay 返回时间戳的日期部分 YYYYMMDD
func StampDay(stamp string) string {
	if len(stamp) < 8 {
		return stamp
	}
	return stamp[:8]
}

// NormalizeFolder 去掉前导斜杠，"/" 或空串表示仓库根目录（返回空串）
func NormalizeFolder(folder string) string {
	return vault.Clean(strings.TrimLeft(strings.TrimSpace(folder), "/"))
}

// NotePath 返回转写笔记的预期路径
func NotePath(outputFolder, stamp string) string {
	return vault.Join(NormalizeFolder(outputFolder), NotePrefix+stamp+".md")
}

// IsNoteName 判断文件名是否符合转写笔记命名
func IsNoteName(name string) bool {
	base := path.Base(name)
	return strings.HasPrefix(base, NotePrefix) && strings.HasSuffix(strings.ToLower(base), ".md")
}
