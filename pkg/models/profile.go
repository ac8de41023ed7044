package models

import "fmt"

// TranscodeProfile is one fixed mobile-oriented encode preset
type TranscodeProfile struct {
	Name             string `json:"name"`
	Width            int    `json:"width"`
	Height           int    `json:"height"`
	VideoBitrateKbps int    `json:"videoBitrateKbps"`
	AudioBitrateKbps int    `json:"audioBitrateKbps"`
	MaxFilesizeMB    int64  `json:"maxFilesizeMb"`
	CRF              int    `json:"crf"`
	Container        string `json:"container"`
}

// MaxFilesizeBytes returns the size cap in bytes
func (p TranscodeProfile) MaxFilesizeBytes() int64 {
	return p.MaxFilesizeMB * 1024 * 1024
}

// Resolution returns the ffmpeg-style WxH string
func (p TranscodeProfile) Resolution() string {
	return fmt.Sprintf("%dx%d", p.Width, p.Height)
}

// ProfilePair couples the primary preset with its lower-bitrate rescue preset.
// The fallback runs only when the primary output violates the size cap.
type ProfilePair struct {
	Primary  TranscodeProfile `json:"primary"`
	Fallback TranscodeProfile `json:"fallback"`
}

// DefaultProfilePair returns the fixed mobile presets with the given size cap
func DefaultProfilePair(maxFilesizeMB int64) ProfilePair {
	return ProfilePair{
		Primary: TranscodeProfile{
			Name:             "mobile-primary",
			Width:            1280,
			Height:           720,
			VideoBitrateKbps: 1000,
			AudioBitrateKbps: 128,
			MaxFilesizeMB:    maxFilesizeMB,
			CRF:              23,
			Container:        "mp4",
		},
		Fallback: TranscodeProfile{
			Name:             "mobile-fallback",
			Width:            854,
			Height:           480,
			VideoBitrateKbps: 700,
			AudioBitrateKbps: 96,
			MaxFilesizeMB:    maxFilesizeMB,
			CRF:              28,
			Container:        "mp4",
		},
	}
}
