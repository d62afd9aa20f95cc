package transcript

import (
	"errors"
	"fmt"
	"strings"
)

// Line is a single timestamped line of transcript text.
type Line struct {
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Text     string  `json:"text"`
}

// Transcript is the raw bilingual-source transcript of one video.
// Immutable once fetched; owned by the ingestion pipeline.
type Transcript struct {
	VideoID  string `json:"video_id"`
	Language string `json:"language"`
	Lines    []Line `json:"lines"`
}

// New validates and constructs a Transcript.
func New(videoID, language string, lines []Line) (Transcript, error) {
	if videoID == "" {
		return Transcript{}, errors.New("transcript: empty video ID")
	}
	if language == "" {
		return Transcript{}, errors.New("transcript: empty language tag")
	}
	if len(lines) == 0 {
		return Transcript{}, fmt.Errorf("transcript %s: no lines", videoID)
	}
	return Transcript{VideoID: videoID, Language: language, Lines: lines}, nil
}

// Text returns the transcript as line-delimited plain text.
func (t Transcript) Text() string {
	var sb strings.Builder
	for i, l := range t.Lines {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(l.Text)
	}
	return sb.String()
}

const videoIDLen = 11

// ExtractVideoID pulls the 11-character video ID out of a watch URL.
// Accepts bare IDs, "watch?v=" URLs, and short "youtu.be/" URLs.
func ExtractVideoID(url string) (string, error) {
	switch {
	case strings.Contains(url, "v="):
		id := strings.SplitN(url, "v=", 2)[1]
		if len(id) >= videoIDLen {
			return id[:videoIDLen], nil
		}
	case strings.Contains(url, "youtu.be/"):
		id := strings.SplitN(url, "youtu.be/", 2)[1]
		if len(id) >= videoIDLen {
			return id[:videoIDLen], nil
		}
	case len(url) == videoIDLen && !strings.ContainsAny(url, "/?&"):
		return url, nil
	}
	return "", fmt.Errorf("no video ID found in %q", url)
}
