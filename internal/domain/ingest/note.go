package ingest

import (
	"fmt"
	"strings"

	"voicenote-ingest-go/internal/domain/transcription"
)

// RenderNote 生成转写笔记内容：嵌入原音频，正文为润色结果（若有），原始转写放在折叠块里
func RenderNote(p Pending, report *transcription.Report, polished string) string {
	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "audio: \"[[%s]]\"\n", p.File.Path)
	if report != nil {
		fmt.Fprintf(&b, "provider: %s\n", report.Provider)
		if report.DurationSeconds > 0 {
			fmt.Fprintf(&b, "duration: %.1f\n", report.DurationSeconds)
		}
	}
	fmt.Fprintf(&b, "recorded: %s\n", p.Stamp)
	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "![[%s]]\n\n", p.File.Path)

	text := ""
	if report != nil && report.Result != nil {
		text = strings.TrimSpace(report.Result.Text)
	}

	if polished == "" {
		b.WriteString(text)
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(strings.TrimSpace(polished))
	b.WriteString("\n\n> [!note]- 原始转写\n")
	for _, line := range strings.Split(text, "\n") {
		b.WriteString("> ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}
