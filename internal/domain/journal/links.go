package journal

import (
	"strings"
)

// DefaultSectionHeader 反向链接所在的小节标题
const DefaultSectionHeader = "## Transcriptions"

// HasLink 判断内容中是否已经存在指向 name 的 wiki 链接（含别名形式）
func HasLink(content, name string) bool {
	return strings.Contains(content, "[["+name+"]]") || strings.Contains(content, "[["+name+"|")
}

// InsertLinks 在 header 小节末尾追加 "- [[name]]"，已存在的链接跳过。
// 小节不存在时在文末新建。返回新内容与实际追加的条数。
func InsertLinks(content, header string, names []string) (string, int) {
	if header == "" {
		header = DefaultSectionHeader
	}

	var lines []string
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if name == "" || seen[name] || HasLink(content, name) {
			continue
		}
		seen[name] = true
		lines = append(lines, "- [["+name+"]]")
	}
	if len(lines) == 0 {
		return content, 0
	}

	doc := strings.Split(strings.TrimRight(content, "\n"), "\n")
	if strings.TrimSpace(content) == "" {
		doc = nil
	}

	start := -1
	for i, line := range doc {
		if strings.TrimSpace(line) == strings.TrimSpace(header) {
			start = i
			break
		}
	}

	if start < 0 {
		if len(doc) > 0 {
			doc = append(doc, "")
		}
		doc = append(doc, header)
		doc = append(doc, lines...)
		return strings.Join(doc, "\n") + "\n", len(lines)
	}

	// 小节结束于下一个同级或更高级标题
	level := headingLevel(header)
	end := len(doc)
	for i := start + 1; i < len(doc); i++ {
		if l := headingLevel(doc[i]); l > 0 && l <= level {
			end = i
			break
		}
	}
	insert := end
	for insert > start+1 && strings.TrimSpace(doc[insert-1]) == "" {
		insert--
	}

	out := make([]string, 0, len(doc)+len(lines))
	out = append(out, doc[:insert]...)
	out = append(out, lines...)
	out = append(out, doc[insert:]...)
	return strings.Join(out, "\n") + "\n", len(lines)
}

func headingLevel(line string) int {
	line = strings.TrimSpace(line)
	n := 0
	for n < len(line) && line[n] == '#' {
		n++
	}
	if n == 0 || n == len(line) || line[n] != ' ' {
		return 0
	}
	return n
}
