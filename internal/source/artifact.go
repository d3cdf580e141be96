package source

import (
	"bytes"
	"fmt"

	"github.com/anacrolix/torrent/metainfo"
)

// TorrentInfo summarises a fetched torrent file.
type TorrentInfo struct {
	InfoHash  string
	Name      string
	Comment   string
	TotalSize int64
	Files     int
}

// Inspect decodes data as bencoded torrent metainfo. A tracker that serves an
// HTML login page instead of a torrent (expired cookies) fails here.
func Inspect(data []byte) (TorrentInfo, error) {
	mi, err := metainfo.Load(bytes.NewReader(data))
	if err != nil {
		return TorrentInfo{}, fmt.Errorf("decode torrent metainfo: %w", err)
	}
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return TorrentInfo{}, fmt.Errorf("decode torrent info: %w", err)
	}

	files := len(info.Files)
	if files == 0 {
		files = 1
	}
	return TorrentInfo{
		InfoHash:  mi.HashInfoBytes().HexString(),
		Name:      info.BestName(),
		Comment:   mi.Comment,
		TotalSize: info.TotalLength(),
		Files:     files,
	}, nil
}

// FormatBytes renders a byte count with binary units.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB",
		float64(b)/float64(div),
		"KMGTPE"[exp],
	)
}
