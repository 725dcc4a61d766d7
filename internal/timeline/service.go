package timeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/logging"
	"github.com/therealutkarshpriyadarshi/clipexport/pkg/models"
)

// Store persists timelines. Missing timelines are reported with exporterr.ErrNotFound.
type Store interface {
	CreateTimeline(ctx context.Context, tl *models.Timeline) error
	GetTimeline(ctx context.Context, id string) (*models.Timeline, error)
	UpdateTimeline(ctx context.Context, tl *models.Timeline) error
}

// Service serialises edits per timeline and persists the result
type Service struct {
	store  Store
	logger *logging.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates a new timeline service
func NewService(store Store, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Service{
		store:  store,
		logger: logger.WithComponent("timeline"),
		locks:  make(map[string]*sync.Mutex),
	}
}

// Create validates and stores a new timeline
func (s *Service) Create(ctx context.Context, tl *models.Timeline) (*models.Timeline, error) {
	tl = tl.Clone()
	if tl.ID == "" {
		tl.ID = uuid.New().String()
	}
	applyDefaults(tl)
	if err := Validate(tl); err != nil {
		return nil, err
	}

	if err := s.store.CreateTimeline(ctx, tl); err != nil {
		return nil, fmt.Errorf("failed to create timeline: %w", err)
	}

	s.logger.WithTimelineID(tl.ID).Infof("Created timeline with %d tracks", len(tl.Tracks))
	return tl.Clone(), nil
}

// Get returns a snapshot of a stored timeline
func (s *Service) Get(ctx context.Context, id string) (*models.Timeline, error) {
	tl, err := s.store.GetTimeline(ctx, id)
	if err != nil {
		return nil, err
	}
	return tl, nil
}

// Edit loads the timeline, applies fn through an Editor and persists the
// result. Nothing is written when fn fails.
func (s *Service) Edit(ctx context.Context, id string, fn func(ed *Editor) error) (*models.Timeline, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	tl, err := s.store.GetTimeline(ctx, id)
	if err != nil {
		return nil, err
	}

	ed := NewEditor(tl)
	if err := fn(ed); err != nil {
		return nil, err
	}

	updated := ed.Snapshot()
	if err := s.store.UpdateTimeline(ctx, updated); err != nil {
		return nil, fmt.Errorf("failed to update timeline: %w", err)
	}
	return updated, nil
}

func (s *Service) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func applyDefaults(tl *models.Timeline) {
	if tl.Settings.FrameRate == 0 {
		tl.Settings.FrameRate = 30
	}
	if tl.Settings.SampleRate == 0 {
		tl.Settings.SampleRate = 48000
	}
	for i := range tl.Tracks {
		if tl.Tracks[i].ID == "" {
			tl.Tracks[i].ID = uuid.New().String()
		}
		if tl.Tracks[i].Clips == nil {
			tl.Tracks[i].Clips = []models.Clip{}
		}
		for j := range tl.Tracks[i].Clips {
			c := &tl.Tracks[i].Clips[j]
			if c.ID == "" {
				c.ID = uuid.New().String()
			}
			if c.Duration == 0 {
				c.Duration = c.SourceDuration()
			}
		}
	}
}
