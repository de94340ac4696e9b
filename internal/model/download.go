package model

import "strings"

// FileKind is the media container a download link points to.
type FileKind string

const (
	FileM3U8 FileKind = "m3u8"
	FileMP4  FileKind = "mp4"
	FileMKV  FileKind = "mkv"
	FileASS  FileKind = "ass"
)

// ParseFileKind normalizes s; unknown kinds are returned as-is so the
// download queue can ignore them.
func ParseFileKind(s string) FileKind {
	return FileKind(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")))
}

// DownloadLink is a resolved, directly fetchable media location.
type DownloadLink struct {
	URL     string            `json:"url"`
	Kind    FileKind          `json:"type"`
	Headers map[string]string `json:"headers,omitempty"`
}

// RemoteRef is a platform specific handle for one episode, opaque to the
// engine and handed back to the platform to resolve a DownloadLink.
type RemoteRef string
