package preset

import "github.com/therealutkarshpriyadarshi/clipexport/pkg/models"

const (
	kb = 1000
	mb = 1000 * kb
	gb = 1000 * mb
)

func defaultStyle() models.SubtitleStyle {
	return models.SubtitleStyle{
		FontName:        "Arial",
		FontSize:        48,
		PrimaryColor:    "white",
		OutlineColor:    "black",
		BackgroundColor: "black@0.5",
		Outline:         2,
		Bold:            true,
		Position:        "bottom",
		MarginV:         120,
		MaxLineLength:   32,
		MaxLines:        2,
	}
}

func verticalVideo(bitrate int64) *models.VideoSpec {
	return &models.VideoSpec{
		Codec:       "libx264",
		Width:       1080,
		Height:      1920,
		AspectRatio: "9:16",
		Bitrate:     bitrate,
		FPS:         30,
		Format:      "mp4",
		Profile:     "high",
		PixelFormat: "yuv420p",
	}
}

func stereoAAC(bitrate int64) *models.AudioSpec {
	return &models.AudioSpec{Codec: "aac", Bitrate: bitrate, SampleRate: 48000, Channels: 2}
}

// Builtin returns the platform presets shipped with the service
func Builtin() []models.ExportPreset {
	return []models.ExportPreset{
		{
			ID:          "youtube",
			Platform:    "YouTube",
			Description: "1080p landscape upload",
			Video: &models.VideoSpec{
				Codec: "libx264", Width: 1920, Height: 1080, AspectRatio: "16:9",
				Bitrate: 8 * mb, FPS: 30, Format: "mp4", Profile: "high", PixelFormat: "yuv420p",
			},
			Audio:        stereoAAC(192 * kb),
			Subtitles:    &models.SubtitleSpec{Format: models.SubtitleFormatSRT, Style: defaultStyle()},
			Processing:   &models.ProcessingFlags{Normalize: true},
			Constraints:  &models.Constraints{MaxDuration: 12 * 3600, MaxFileSize: 256 * gb},
			Optimization: models.Optimization{TwoPass: true, FastStart: true},
		},
		{
			ID:           "youtube-shorts",
			Platform:     "YouTube Shorts",
			Description:  "Vertical short with burned captions",
			Video:        verticalVideo(6 * mb),
			Audio:        stereoAAC(128 * kb),
			Subtitles:    &models.SubtitleSpec{Format: models.SubtitleFormatBurned, Style: defaultStyle()},
			Processing:   &models.ProcessingFlags{AutoCrop: true, Normalize: true},
			Constraints:  &models.Constraints{MaxDuration: 60},
			Optimization: models.Optimization{FastStart: true},
		},
		{
			ID:           "tiktok",
			Platform:     "TikTok",
			Description:  "Vertical video with burned captions",
			Video:        verticalVideo(6 * mb),
			Audio:        stereoAAC(128 * kb),
			Subtitles:    &models.SubtitleSpec{Format: models.SubtitleFormatBurned, Style: defaultStyle()},
			Processing:   &models.ProcessingFlags{AutoCrop: true, FaceTracking: true, Normalize: true},
			Constraints:  &models.Constraints{MaxDuration: 600, MaxFileSize: 287 * mb},
			Optimization: models.Optimization{FastStart: true},
		},
		{
			ID:           "instagram-reels",
			Platform:     "Instagram Reels",
			Description:  "Vertical reel",
			Video:        verticalVideo(5 * mb),
			Audio:        stereoAAC(128 * kb),
			Subtitles:    &models.SubtitleSpec{Format: models.SubtitleFormatBurned, Style: defaultStyle()},
			Processing:   &models.ProcessingFlags{AutoCrop: true, FaceTracking: true, Normalize: true},
			Constraints:  &models.Constraints{MaxDuration: 90, MaxFileSize: 1 * gb},
			Optimization: models.Optimization{FastStart: true},
		},
		{
			ID:          "instagram-feed",
			Platform:    "Instagram Feed",
			Description: "Square feed post",
			Video: &models.VideoSpec{
				Codec: "libx264", Width: 1080, Height: 1080, AspectRatio: "1:1",
				Bitrate: 5 * mb, FPS: 30, Format: "mp4", Profile: "high", PixelFormat: "yuv420p",
			},
			Audio:        stereoAAC(128 * kb),
			Processing:   &models.ProcessingFlags{AutoCrop: true, Normalize: true},
			Constraints:  &models.Constraints{MaxDuration: 60, MaxFileSize: 250 * mb},
			Optimization: models.Optimization{FastStart: true},
		},
		{
			ID:          "twitter",
			Platform:    "X / Twitter",
			Description: "720p landscape",
			Video: &models.VideoSpec{
				Codec: "libx264", Width: 1280, Height: 720, AspectRatio: "16:9",
				Bitrate: 5 * mb, FPS: 30, Format: "mp4", Profile: "main", PixelFormat: "yuv420p",
			},
			Audio:        stereoAAC(128 * kb),
			Subtitles:    &models.SubtitleSpec{Format: models.SubtitleFormatVTT, Style: defaultStyle()},
			Constraints:  &models.Constraints{MaxDuration: 140, MaxFileSize: 512 * mb},
			Optimization: models.Optimization{FastStart: true},
		},
		{
			ID:          "linkedin",
			Platform:    "LinkedIn",
			Description: "1080p landscape",
			Video: &models.VideoSpec{
				Codec: "libx264", Width: 1920, Height: 1080, AspectRatio: "16:9",
				Bitrate: 5 * mb, FPS: 30, Format: "mp4", Profile: "high", PixelFormat: "yuv420p",
			},
			Audio:        stereoAAC(192 * kb),
			Subtitles:    &models.SubtitleSpec{Format: models.SubtitleFormatSRT, Style: defaultStyle()},
			Processing:   &models.ProcessingFlags{Normalize: true},
			Constraints:  &models.Constraints{MaxDuration: 600, MaxFileSize: 5 * gb, MinFileSize: 75 * kb},
			Optimization: models.Optimization{FastStart: true},
		},
		{
			ID:           "podcast-audio",
			Platform:     "Podcast",
			Description:  "Loudness-normalized audio only",
			Audio:        &models.AudioSpec{Codec: "aac", Bitrate: 128 * kb, SampleRate: 44100, Channels: 2, Format: "m4a"},
			Subtitles:    &models.SubtitleSpec{Format: models.SubtitleFormatSRT, Style: defaultStyle()},
			Processing:   &models.ProcessingFlags{Normalize: true, NoiseReduction: true},
			Optimization: models.Optimization{FastStart: true},
		},
	}
}
