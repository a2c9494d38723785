package journal

import (
	"strconv"
	"strings"
	"time"
)

// DefaultDateFormat 日记文件名的默认格式
const DefaultDateFormat = "YYYY-MM-DD"

// 按长度降序，保证 YYYY 优先于 YY、MMMM 优先于 MM
var dateTokens = []string{"YYYY", "MMMM", "dddd", "MMM", "ddd", "YY", "MM", "DD", "M", "D"}

// FormatDate 按 moment 风格的格式渲染日期，支持 YYYY YY MMMM MMM MM M DD D dddd ddd 与 [字面量]
func FormatDate(t time.Time, format string) string {
	if format == "" {
		format = DefaultDateFormat
	}

	var b strings.Builder
	for i := 0; i < len(format); {
		if format[i] == '[' {
			end := strings.IndexByte(format[i+1:], ']')
			if end >= 0 {
				b.WriteString(format[i+1 : i+1+end])
				i += end + 2
				continue
			}
		}

		matched := false
		for _, tok := range dateTokens {
			if strings.HasPrefix(format[i:], tok) {
				b.WriteString(renderToken(t, tok))
				i += len(tok)
				matched = true
				break
			}
		}
		if !matched {
			b.WriteByte(format[i])
			i++
		}
	}
	return b.String()
}

func renderToken(t time.Time, tok string) string {
	switch tok {
	case "YYYY":
		return strconv.Itoa(t.Year())
	case "YY":
		return t.Format("06")
	case "MMMM":
		return t.Month().String()
	case "MMM":
		return t.Format("Jan")
	case "MM":
		return t.Format("01")
	case "M":
		return strconv.Itoa(int(t.Month()))
	case "DD":
		return t.Format("02")
	case "D":
		return strconv.Itoa(t.Day())
	case "dddd":
		return t.Weekday().String()
	case "ddd":
		return t.Format("Mon")
	}
	return tok
}
