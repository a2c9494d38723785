package audio

import (
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// Asset is an immutable audio input. Zero times mean unknown.
type Asset struct {
	Data       []byte
	Ext        string
	MIME       string
	Path       string
	ModTime    time.Time
	CreateTime time.Time
}

var mimeByExt = map[string]string{
	"wav":  "audio/wav",
	"mp3":  "audio/mpeg",
	"m4a":  "audio/mp4",
	"mp4":  "audio/mp4",
	"aac":  "audio/aac",
	"ogg":  "audio/ogg",
	"opus": "audio/opus",
	"webm": "audio/webm",
	"flac": "audio/flac",
	"3gp":  "audio/3gpp",
}

// NewAsset builds an asset from a file name and its bytes. When the name
// has no usable extension the container is sniffed from the content.
func NewAsset(name string, data []byte) Asset {
	ext := NormalizeExt(path.Ext(name))
	mime, known := mimeByExt[ext]
	if !known {
		detected := mimetype.Detect(data)
		if sniffed := NormalizeExt(detected.Extension()); sniffed != "" {
			ext = sniffed
		}
		mime = detected.String()
		if m, ok := mimeByExt[ext]; ok {
			mime = m
		}
	}
	return Asset{
		Data: data,
		Ext:  ext,
		MIME: mime,
		Path: name,
	}
}

// NormalizeExt lowercases and strips a leading dot.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// MIMEForExt returns the MIME type used when uploading ext.
func MIMEForExt(ext string) string {
	if m, ok := mimeByExt[NormalizeExt(ext)]; ok {
		return m
	}
	return "application/octet-stream"
}

// Size returns the byte length of the asset.
func (a Asset) Size() int64 {
	return int64(len(a.Data))
}
