package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetContentType(t *testing.T) {
	tests := []struct {
		filePath string
		wantType string
	}{
		{"clip.mp4", "video/mp4"},
		{"clip.MOV", "video/quicktime"},
		{"clip.webm", "video/webm"},
		{"episode.m4a", "audio/mp4"},
		{"episode.mp3", "audio/mpeg"},
		{"captions.srt", "application/x-subrip"},
		{"captions.vtt", "text/vtt"},
		{"captions.ass", "text/x-ssa"},
		{"unknown.xyz", "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.filePath, func(t *testing.T) {
			assert.Equal(t, tt.wantType, getContentType(tt.filePath))
		})
	}
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "exports/job-1/out.mp4", ObjectKey("job-1", "/tmp/exports/out.mp4"))
}

func TestFetchPassesLocalSourcesThrough(t *testing.T) {
	s := &Storage{}
	got, err := s.Fetch(context.Background(), "/media/talk.mp4", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "/media/talk.mp4", got)
}
