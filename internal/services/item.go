package services

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/lostfound/apiserver/internal/storage"
	"github.com/lostfound/apiserver/types"
)

const (
	defaultListLimit = 100
	maxListLimit     = 100
)

// ItemRepository defines persistence operations for item reports.
type ItemRepository interface {
	Create(ctx context.Context, item types.Item) (types.Item, error)
	GetByID(ctx context.Context, id int64) (types.Item, error)
	ListBySubmitter(ctx context.Context, username string, offset, limit int) ([]types.Item, error)
	ListByStatus(ctx context.Context, status string, offset, limit int) ([]types.Item, error)
	SearchApproved(ctx context.Context, filter types.ItemFilter, offset, limit int) ([]types.Item, error)
	Approve(ctx context.Context, id int64, moderator string, decidedAt time.Time) error
	Reject(ctx context.Context, id int64, moderator string, decidedAt time.Time) error
}

// UploadFile is an optional photo attached to a submission.
type UploadFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// SubmitItemInput carries the validated fields of a new report.
type SubmitItemInput struct {
	Title       string
	Description string
	Category    string
	Location    string
	Type        string
	Date        time.Time
	File        *UploadFile
	SubmittedBy string
}

// ItemService encapsulates the submission, moderation, and query
// use-cases for item reports.
type ItemService struct {
	repo    ItemRepository
	storage *storage.Storage
	events  *EventPublisher
}

func NewItemService(repo ItemRepository, store *storage.Storage, events *EventPublisher) *ItemService {
	return &ItemService{
		repo:    repo,
		storage: store,
		events:  events,
	}
}

// Submit stores an optional photo in the blob store and inserts the report
// with status pending. The photo is written before the insert, so a failed
// insert can leave an orphaned object behind; that leak is accepted.
func (s *ItemService) Submit(ctx context.Context, input SubmitItemInput) (types.Item, error) {
	item := types.Item{
		Title:       strings.TrimSpace(input.Title),
		Description: strings.TrimSpace(input.Description),
		Category:    strings.TrimSpace(input.Category),
		Location:    strings.TrimSpace(input.Location),
		Type:        strings.TrimSpace(input.Type),
		Date:        input.Date,
		Status:      types.ItemStatusPending,
		SubmittedBy: strings.TrimSpace(input.SubmittedBy),
	}

	if input.File != nil && input.File.Filename != "" {
		key := uploadKey(input.File.Filename)
		reader := bytes.NewReader(input.File.Data)
		size := int64(len(input.File.Data))
		if err := s.storage.Put(ctx, key, reader, size, input.File.ContentType); err != nil {
			return types.Item{}, fmt.Errorf("store upload: %w", err)
		}
		item.ImagePath = key
	}

	created, err := s.repo.Create(ctx, item)
	if err != nil {
		return types.Item{}, err
	}

	s.events.ItemSubmitted(ctx, created)
	return created, nil
}

func (s *ItemService) Get(ctx context.Context, id int64) (types.Item, error) {
	return s.repo.GetByID(ctx, id)
}

// MyItems returns the caller's own reports regardless of status.
func (s *ItemService) MyItems(ctx context.Context, username string, offset, limit int) ([]types.Item, error) {
	return s.repo.ListBySubmitter(ctx, username, offset, clampLimit(limit))
}

// Pending returns the admin review queue.
func (s *ItemService) Pending(ctx context.Context, offset, limit int) ([]types.Item, error) {
	return s.repo.ListByStatus(ctx, types.ItemStatusPending, offset, clampLimit(limit))
}

// Approved returns the public listing of approved reports.
func (s *ItemService) Approved(ctx context.Context, offset, limit int) ([]types.Item, error) {
	return s.repo.ListByStatus(ctx, types.ItemStatusApproved, offset, clampLimit(limit))
}

// Search returns approved reports matching the filter.
func (s *ItemService) Search(ctx context.Context, filter types.ItemFilter, offset, limit int) ([]types.Item, error) {
	return s.repo.SearchApproved(ctx, filter, offset, clampLimit(limit))
}

// Approve transitions a pending item to approved on behalf of the moderator.
func (s *ItemService) Approve(ctx context.Context, id int64, moderator string) error {
	if err := s.repo.Approve(ctx, id, moderator, time.Now()); err != nil {
		return err
	}
	s.events.ItemModerated(ctx, id, types.ItemStatusApproved, moderator)
	return nil
}

// Reject transitions a pending item to rejected on behalf of the moderator.
func (s *ItemService) Reject(ctx context.Context, id int64, moderator string) error {
	if err := s.repo.Reject(ctx, id, moderator, time.Now()); err != nil {
		return err
	}
	s.events.ItemModerated(ctx, id, types.ItemStatusRejected, moderator)
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// uploadKey builds a collision-resistant object key for an uploaded photo,
// qualifying the original filename with the submission time.
func uploadKey(filename string) string {
	base := filepath.Base(filename)
	base = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ' ':
			return '_'
		}
		return r
	}, base)
	return fmt.Sprintf("%d_%s", time.Now().UnixNano(), base)
}
