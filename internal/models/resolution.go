package models

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownResolution = errors.New("unknown resolution")

type Resolution string

const (
	Resolution360P  Resolution = "360p"
	Resolution720P  Resolution = "720p"
	Resolution1080P Resolution = "1080p"
)

// EncodeProfile is the target rendition handed to the encoder.
type EncodeProfile struct {
	Width            int `json:"width"`
	Height           int `json:"height"`
	VideoBitrateKbps int `json:"video_bitrate_kbps"`
	AudioBitrateKbps int `json:"audio_bitrate_kbps"`
	// SourceDurationSeconds scales encoder progress. Zero means unknown.
	SourceDurationSeconds float64 `json:"source_duration_seconds,omitempty"`
}

func (p EncodeProfile) Scale() string {
	return fmt.Sprintf("%d:%d", p.Width, p.Height)
}

func (p EncodeProfile) VideoBitrate() string {
	return fmt.Sprintf("%dk", p.VideoBitrateKbps)
}

func (p EncodeProfile) AudioBitrate() string {
	return fmt.Sprintf("%dk", p.AudioBitrateKbps)
}

var profiles = map[Resolution]EncodeProfile{
	Resolution360P:  {Width: 640, Height: 360, VideoBitrateKbps: 800, AudioBitrateKbps: 96},
	Resolution720P:  {Width: 1280, Height: 720, VideoBitrateKbps: 2500, AudioBitrateKbps: 128},
	Resolution1080P: {Width: 1920, Height: 1080, VideoBitrateKbps: 5000, AudioBitrateKbps: 192},
}

// AllResolutions returns the supported resolutions from lowest to highest.
func AllResolutions() []Resolution {
	return []Resolution{Resolution360P, Resolution720P, Resolution1080P}
}

func ParseResolution(s string) (Resolution, error) {
	r := Resolution(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := profiles[r]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownResolution, s)
	}
	return r, nil
}

// ParseResolutions parses a configured resolution list, rejecting unknown
// values and duplicates.
func ParseResolutions(values []string) ([]Resolution, error) {
	seen := make(map[Resolution]struct{}, len(values))
	out := make([]Resolution, 0, len(values))
	for _, v := range values {
		r, err := ParseResolution(v)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[r]; dup {
			return nil, fmt.Errorf("duplicate resolution %q", r)
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out, nil
}

func (r Resolution) Valid() bool {
	_, ok := profiles[r]
	return ok
}

func (r Resolution) Profile() (EncodeProfile, error) {
	p, ok := profiles[r]
	if !ok {
		return EncodeProfile{}, fmt.Errorf("%w: %q", ErrUnknownResolution, string(r))
	}
	return p, nil
}

func (r Resolution) QueueName() string {
	return "transcoding-" + string(r)
}

func (r Resolution) String() string {
	return string(r)
}
