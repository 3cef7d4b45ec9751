package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/lostfound/apiserver/internal/mq"
	"github.com/lostfound/apiserver/internal/storage"
	"github.com/lostfound/apiserver/internal/store"
	"github.com/lostfound/apiserver/types"
)

type fakeItemRepo struct {
	items  map[int64]types.Item
	nextID int64

	createErr  error
	lastFilter types.ItemFilter
	lastLimit  int
}

func newFakeItemRepo() *fakeItemRepo {
	return &fakeItemRepo{items: make(map[int64]types.Item), nextID: 1}
}

func (r *fakeItemRepo) Create(ctx context.Context, item types.Item) (types.Item, error) {
	if r.createErr != nil {
		return types.Item{}, r.createErr
	}
	item.ID = r.nextID
	item.CreatedAt = time.Now()
	r.nextID++
	r.items[item.ID] = item
	return item, nil
}

func (r *fakeItemRepo) GetByID(ctx context.Context, id int64) (types.Item, error) {
	item, ok := r.items[id]
	if !ok {
		return types.Item{}, store.ErrNotFound
	}
	return item, nil
}

func (r *fakeItemRepo) ListBySubmitter(ctx context.Context, username string, offset, limit int) ([]types.Item, error) {
	r.lastLimit = limit
	var out []types.Item
	for _, item := range r.items {
		if strings.EqualFold(item.SubmittedBy, strings.TrimSpace(username)) {
			out = append(out, item)
		}
	}
	return out, nil
}

func (r *fakeItemRepo) ListByStatus(ctx context.Context, status string, offset, limit int) ([]types.Item, error) {
	r.lastLimit = limit
	var out []types.Item
	for _, item := range r.items {
		if item.Status == status {
			out = append(out, item)
		}
	}
	return out, nil
}

func (r *fakeItemRepo) SearchApproved(ctx context.Context, filter types.ItemFilter, offset, limit int) ([]types.Item, error) {
	r.lastFilter = filter
	r.lastLimit = limit
	var out []types.Item
	for _, item := range r.items {
		if item.Status == types.ItemStatusApproved {
			out = append(out, item)
		}
	}
	return out, nil
}

func (r *fakeItemRepo) Approve(ctx context.Context, id int64, moderator string, decidedAt time.Time) error {
	return r.decide(id, types.ItemStatusApproved, moderator, decidedAt)
}

func (r *fakeItemRepo) Reject(ctx context.Context, id int64, moderator string, decidedAt time.Time) error {
	return r.decide(id, types.ItemStatusRejected, moderator, decidedAt)
}

func (r *fakeItemRepo) decide(id int64, status, moderator string, decidedAt time.Time) error {
	item, ok := r.items[id]
	if !ok {
		return store.ErrNotFound
	}
	if item.Status != types.ItemStatusPending {
		return store.ErrConflict
	}
	item.Status = status
	if status == types.ItemStatusApproved {
		item.ApprovedBy = moderator
		item.ApprovedAt = &decidedAt
	} else {
		item.RejectedBy = moderator
		item.RejectedAt = &decidedAt
	}
	r.items[id] = item
	return nil
}

type fakeBlobBackend struct {
	objects map[string][]byte
	putErr  error
}

func newFakeBlobBackend() *fakeBlobBackend {
	return &fakeBlobBackend{objects: make(map[string][]byte)}
}

func (b *fakeBlobBackend) EnsureBucket(ctx context.Context) error { return nil }

func (b *fakeBlobBackend) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if b.putErr != nil {
		return b.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	b.objects[key] = data
	return nil
}

func (b *fakeBlobBackend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	data, ok := b.objects[key]
	if !ok {
		return nil, errors.New("no such object")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *fakeBlobBackend) Delete(ctx context.Context, key string) error {
	delete(b.objects, key)
	return nil
}

func (b *fakeBlobBackend) Bucket() string { return "test-bucket" }

type fakeBroker struct {
	published []mq.Message
}

func (b *fakeBroker) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	b.published = append(b.published, mq.Message{Data: data, Attributes: attrs})
	return "msg-1", nil
}

func (b *fakeBroker) Subscribe(ctx context.Context, channel string, handler mq.Handler) error {
	return nil
}

func (b *fakeBroker) Close() error { return nil }

func newTestItemService(repo *fakeItemRepo, blobs *fakeBlobBackend, broker *fakeBroker) *ItemService {
	var events *EventPublisher
	if broker != nil {
		events = NewEventPublisher(mq.New(broker))
	}
	return NewItemService(repo, storage.NewStorage(blobs), events)
}

func TestSubmitTrimsAndDefaultsToPending(t *testing.T) {
	repo := newFakeItemRepo()
	svc := newTestItemService(repo, newFakeBlobBackend(), nil)

	item, err := svc.Submit(context.Background(), SubmitItemInput{
		Title:       "  Black Wallet  ",
		Description: " Leather, two cards inside ",
		Category:    " Accessories ",
		Location:    " Main Library ",
		Type:        "lost",
		Date:        time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		SubmittedBy: "  Alice ",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if item.Title != "Black Wallet" {
		t.Errorf("title not trimmed: %q", item.Title)
	}
	if item.SubmittedBy != "Alice" {
		t.Errorf("submitter not trimmed: %q", item.SubmittedBy)
	}
	if item.Status != types.ItemStatusPending {
		t.Errorf("expected pending status, got %q", item.Status)
	}
	if item.ID == 0 {
		t.Error("expected assigned id")
	}
}

func TestSubmitStoresUploadUnderTimestampedKey(t *testing.T) {
	repo := newFakeItemRepo()
	blobs := newFakeBlobBackend()
	svc := newTestItemService(repo, blobs, nil)

	item, err := svc.Submit(context.Background(), SubmitItemInput{
		Title:       "Keys",
		Description: "Set of keys",
		Category:    "Misc",
		Location:    "Cafeteria",
		Type:        "found",
		Date:        time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		SubmittedBy: "bob",
		File: &UploadFile{
			Filename:    "my photo.jpg",
			ContentType: "image/jpeg",
			Data:        []byte("jpeg-bytes"),
		},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if item.ImagePath == "" {
		t.Fatal("expected image path to be set")
	}
	if !strings.HasSuffix(item.ImagePath, "_my_photo.jpg") {
		t.Errorf("expected sanitized filename suffix, got %q", item.ImagePath)
	}
	if got := string(blobs.objects[item.ImagePath]); got != "jpeg-bytes" {
		t.Errorf("stored object mismatch: %q", got)
	}
}

func TestSubmitWithoutFileStoresNothing(t *testing.T) {
	repo := newFakeItemRepo()
	blobs := newFakeBlobBackend()
	svc := newTestItemService(repo, blobs, nil)

	item, err := svc.Submit(context.Background(), SubmitItemInput{
		Title:       "Umbrella",
		Description: "Blue umbrella",
		Category:    "Misc",
		Location:    "Bus stop",
		Type:        "found",
		Date:        time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		SubmittedBy: "bob",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if item.ImagePath != "" {
		t.Errorf("expected empty image path, got %q", item.ImagePath)
	}
	if len(blobs.objects) != 0 {
		t.Errorf("expected no stored objects, got %d", len(blobs.objects))
	}
}

func TestSubmitUploadFailureSurfaces(t *testing.T) {
	repo := newFakeItemRepo()
	blobs := newFakeBlobBackend()
	blobs.putErr = errors.New("bucket offline")
	svc := newTestItemService(repo, blobs, nil)

	_, err := svc.Submit(context.Background(), SubmitItemInput{
		Title:       "Keys",
		Description: "Set of keys",
		Category:    "Misc",
		Location:    "Cafeteria",
		Type:        "found",
		Date:        time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		SubmittedBy: "bob",
		File:        &UploadFile{Filename: "keys.jpg", Data: []byte("x")},
	})
	if err == nil {
		t.Fatal("expected error when blob store fails")
	}
	if len(repo.items) != 0 {
		t.Errorf("expected no inserted items, got %d", len(repo.items))
	}
}

func TestModerationTransitionsOnce(t *testing.T) {
	repo := newFakeItemRepo()
	svc := newTestItemService(repo, newFakeBlobBackend(), nil)

	item, err := svc.Submit(context.Background(), SubmitItemInput{
		Title:       "Phone",
		Description: "Black phone",
		Category:    "Electronics",
		Location:    "Gym",
		Type:        "lost",
		Date:        time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		SubmittedBy: "carol",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := svc.Approve(context.Background(), item.ID, "root"); err != nil {
		t.Fatalf("approve: %v", err)
	}

	stored, _ := repo.GetByID(context.Background(), item.ID)
	if stored.Status != types.ItemStatusApproved {
		t.Errorf("expected approved, got %q", stored.Status)
	}
	if stored.ApprovedBy != "root" || stored.ApprovedAt == nil {
		t.Error("expected moderator identity and timestamp to be recorded")
	}

	if err := svc.Approve(context.Background(), item.ID, "root"); !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected conflict on second approve, got %v", err)
	}
	if err := svc.Reject(context.Background(), item.ID, "root"); !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected conflict on reject after approve, got %v", err)
	}
}

func TestModerationUnknownItem(t *testing.T) {
	repo := newFakeItemRepo()
	svc := newTestItemService(repo, newFakeBlobBackend(), nil)

	if err := svc.Approve(context.Background(), 999, "root"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if err := svc.Reject(context.Background(), 999, "root"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestLifecycleEventsPublished(t *testing.T) {
	repo := newFakeItemRepo()
	broker := &fakeBroker{}
	svc := newTestItemService(repo, newFakeBlobBackend(), broker)

	item, err := svc.Submit(context.Background(), SubmitItemInput{
		Title:       "Scarf",
		Description: "Red scarf",
		Category:    "Clothing",
		Location:    "Lobby",
		Type:        "found",
		Date:        time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		SubmittedBy: "dave",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := svc.Reject(context.Background(), item.ID, "root"); err != nil {
		t.Fatalf("reject: %v", err)
	}

	if len(broker.published) != 2 {
		t.Fatalf("expected 2 events, got %d", len(broker.published))
	}

	var submitted, rejected ItemEvent
	if err := json.Unmarshal(broker.published[0].Data, &submitted); err != nil {
		t.Fatalf("unmarshal submitted event: %v", err)
	}
	if err := json.Unmarshal(broker.published[1].Data, &rejected); err != nil {
		t.Fatalf("unmarshal rejected event: %v", err)
	}

	if submitted.Kind != EventItemSubmitted || submitted.SubmittedBy != "dave" {
		t.Errorf("unexpected submitted event: %+v", submitted)
	}
	if rejected.Kind != EventItemRejected || rejected.Moderator != "root" {
		t.Errorf("unexpected rejected event: %+v", rejected)
	}
}

func TestListLimitClamped(t *testing.T) {
	repo := newFakeItemRepo()
	svc := newTestItemService(repo, newFakeBlobBackend(), nil)

	if _, err := svc.Approved(context.Background(), 0, 500); err != nil {
		t.Fatalf("approved: %v", err)
	}
	if repo.lastLimit != maxListLimit {
		t.Errorf("expected limit clamped to %d, got %d", maxListLimit, repo.lastLimit)
	}

	if _, err := svc.Pending(context.Background(), 0, 0); err != nil {
		t.Fatalf("pending: %v", err)
	}
	if repo.lastLimit != defaultListLimit {
		t.Errorf("expected default limit %d, got %d", defaultListLimit, repo.lastLimit)
	}
}

func TestSearchPassesFilterThrough(t *testing.T) {
	repo := newFakeItemRepo()
	svc := newTestItemService(repo, newFakeBlobBackend(), nil)

	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	filter := types.ItemFilter{
		Category: "Electronics",
		Location: "Library",
		Day:      &day,
		Keyword:  "wallet",
	}
	if _, err := svc.Search(context.Background(), filter, 0, 10); err != nil {
		t.Fatalf("search: %v", err)
	}
	if repo.lastFilter.Category != "Electronics" || repo.lastFilter.Keyword != "wallet" {
		t.Errorf("filter not passed through: %+v", repo.lastFilter)
	}
	if repo.lastFilter.Day == nil || !repo.lastFilter.Day.Equal(day) {
		t.Errorf("day not passed through: %v", repo.lastFilter.Day)
	}
}
