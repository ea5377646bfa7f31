package encoder

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/amankumarsingh77/transcode-orchestrator/internal/models"
)

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
		SampleRate   string `json:"sample_rate"`
		Channels     int    `json:"channels"`
		Duration     string `json:"duration"`
	} `json:"streams"`
}

func parseProbe(raw []byte) (*models.ProbeResult, error) {
	var out probeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode ffprobe output: %w", err)
	}

	res := &models.ProbeResult{}
	res.DurationSeconds, _ = strconv.ParseFloat(out.Format.Duration, 64)

	var sawVideo bool
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if sawVideo {
				continue
			}
			sawVideo = true
			res.VideoCodec = s.CodecName
			res.Width = s.Width
			res.Height = s.Height
			res.FPS = parseRate(s.AvgFrameRate)
			if res.FPS == 0 {
				res.FPS = parseRate(s.RFrameRate)
			}
			if res.DurationSeconds == 0 {
				res.DurationSeconds, _ = strconv.ParseFloat(s.Duration, 64)
			}
		case "audio":
			if res.AudioCodec != "" {
				continue
			}
			res.AudioCodec = s.CodecName
			res.SampleRate, _ = strconv.Atoi(s.SampleRate)
			res.Channels = s.Channels
		}
	}
	if !sawVideo {
		return nil, fmt.Errorf("no video stream found")
	}
	return res, nil
}

// parseRate turns "30000/1001" or "25" into frames per second.
func parseRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
