package timeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/exporterr"
	"github.com/therealutkarshpriyadarshi/clipexport/pkg/models"
)

type mockStore struct {
	mu        sync.Mutex
	timelines map[string]*models.Timeline
	updates   int
}

func newMockStore() *mockStore {
	return &mockStore{timelines: make(map[string]*models.Timeline)}
}

func (m *mockStore) CreateTimeline(ctx context.Context, tl *models.Timeline) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timelines[tl.ID] = tl.Clone()
	return nil
}

func (m *mockStore) GetTimeline(ctx context.Context, id string) (*models.Timeline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tl, ok := m.timelines[id]
	if !ok {
		return nil, fmt.Errorf("timeline %s: %w", id, exporterr.ErrNotFound)
	}
	return tl.Clone(), nil
}

func (m *mockStore) UpdateTimeline(ctx context.Context, tl *models.Timeline) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timelines[tl.ID] = tl.Clone()
	m.updates++
	return nil
}

func TestServiceCreateAppliesDefaults(t *testing.T) {
	svc := NewService(newMockStore(), nil)

	tl, err := svc.Create(context.Background(), &models.Timeline{
		Tracks: []models.Track{{Kind: models.TrackKindVideo, Volume: 1, Opacity: 1,
			Clips: []models.Clip{{SourceStart: 0, SourceEnd: 4, Volume: 1, Opacity: 1}}}},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, tl.ID)
	assert.Equal(t, 30.0, tl.Settings.FrameRate)
	assert.NotEmpty(t, tl.Tracks[0].ID)
	assert.Equal(t, 4.0, tl.Tracks[0].Clips[0].Duration)
}

func TestServiceCreateRejectsOverlap(t *testing.T) {
	store := newMockStore()
	svc := NewService(store, nil)

	_, err := svc.Create(context.Background(), &models.Timeline{
		Tracks: []models.Track{{ID: "v", Kind: models.TrackKindVideo, Volume: 1, Opacity: 1,
			Clips: []models.Clip{clip("a", 0, 0, 5), clip("b", 2, 0, 5)}}},
	})
	assert.True(t, exporterr.IsValidation(err))
	assert.Empty(t, store.timelines)
}

func TestServiceEditPersistsOnlyOnSuccess(t *testing.T) {
	store := newMockStore()
	svc := NewService(store, nil)
	ctx := context.Background()

	tl, err := svc.Create(ctx, &models.Timeline{ID: "tl", Tracks: []models.Track{
		{ID: "v", Kind: models.TrackKindVideo, Volume: 1, Opacity: 1},
	}})
	require.NoError(t, err)

	_, err = svc.Edit(ctx, tl.ID, func(ed *Editor) error {
		_, err := ed.AddClip("v", clip("a", 0, 0, 5))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, store.updates)

	_, err = svc.Edit(ctx, tl.ID, func(ed *Editor) error {
		_, err := ed.AddClip("v", clip("b", 1, 0, 5))
		return err
	})
	assert.Error(t, err)
	assert.Equal(t, 1, store.updates)

	got, err := svc.Get(ctx, tl.ID)
	require.NoError(t, err)
	assert.Equal(t, 5.0, got.Duration())
}

func TestServiceEditConcurrent(t *testing.T) {
	store := newMockStore()
	svc := NewService(store, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, &models.Timeline{ID: "tl", Tracks: []models.Track{
		{ID: "v", Kind: models.TrackKindVideo, Volume: 1, Opacity: 1},
	}})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Edit(ctx, "tl", func(ed *Editor) error {
				_, err := ed.AddClip("v", clip(fmt.Sprintf("c%d", i), float64(i), 0, 1))
				return err
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := svc.Get(ctx, "tl")
	require.NoError(t, err)
	track, _ := got.Track("v")
	assert.Len(t, track.Clips, 20)
}

func TestEDL(t *testing.T) {
	tl := &models.Timeline{
		Settings: models.RenderSettings{FrameRate: 25},
		Tracks: []models.Track{{ID: "v", Kind: models.TrackKindVideo, Clips: []models.Clip{
			clip("second", 5, 10, 12),
			clip("first", 0, 0, 5),
		}}},
	}

	edl, err := EDL(tl, "v", "My Edit")
	require.NoError(t, err)

	lines := strings.Split(edl, "\n")
	assert.Equal(t, "TITLE: My Edit", lines[0])
	assert.Equal(t, "FCM: NON-DROP FRAME", lines[1])
	assert.Contains(t, lines[3], "001  AX       V     C        00:00:00:00 00:00:05:00 00:00:00:00 00:00:05:00")
	assert.Contains(t, edl, "002  AX       V     C        00:00:10:00 00:00:12:00 00:00:05:00 00:00:07:00")
	assert.Contains(t, edl, "* MEDIA PATH:  media.mp4")

	_, err = EDL(tl, "missing", "x")
	assert.ErrorIs(t, err, exporterr.ErrNotFound)
}
