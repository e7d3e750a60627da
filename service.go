package main

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ServiceConfig tunes image URL resolution.
type ServiceConfig struct {
	// URLTTL is the lifetime of every signed image URL.
	URLTTL time.Duration
	// SignConcurrency caps the in-flight Sign calls of one read.
	SignConcurrency int
	// SignTimeout bounds a single Sign call. Expiry yields a null imageUrl.
	SignTimeout time.Duration
}

// ImageRef is the result of an upload. The client embeds ImagePath in a
// following create call.
type ImageRef struct {
	ImagePath string  `json:"imagePath"`
	ImageURL  *string `json:"imageUrl"`
}

// ItemService enforces the item contract on top of the record store and the
// blob store.
type ItemService struct {
	records RecordStore
	blobs   BlobStore
	logger  *slog.Logger
	cfg     ServiceConfig
	now     func() time.Time
	newID   func() string
}

// NewItemService creates an ItemService with dependencies.
func NewItemService(records RecordStore, blobs BlobStore, logger *slog.Logger, cfg ServiceConfig) *ItemService {
	if cfg.SignConcurrency <= 0 {
		cfg.SignConcurrency = 1
	}
	return &ItemService{
		records: records,
		blobs:   blobs,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Create validates item, assigns its id and creation time and stores it.
// The stored record is returned as is, without image resolution.
// ImagePath is checked for format only, so two items may share a blob and
// deleting either one removes it.
func (s *ItemService) Create(ctx context.Context, item Item) (Item, error) {
	item.normalize()
	if err := validateItem(item); err != nil {
		return nil, err
	}

	b := item.base()
	b.ID = s.newID()
	b.CreatedAt = s.now().UTC().Truncate(time.Millisecond)
	if err := s.records.Set(ctx, item.Kind().Key(b.ID), item); err != nil {
		return nil, fmt.Errorf("create %s: %w", item.Kind(), err)
	}
	return item, nil
}

// List returns every item of kind, oldest first, with image URLs freshly signed.
func (s *ItemService) List(ctx context.Context, kind Kind) ([]Item, error) {
	raw, err := s.records.ListByPrefix(ctx, kind.Prefix())
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}

	items := make([]Item, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		item, err := decodeItem(kind, r)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping undecodable record", "kind", kind, "error", err)
			continue
		}
		id := item.base().ID
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		items = append(items, item)
	}
	s.resolve(ctx, items)

	slices.SortFunc(items, func(a, b Item) int {
		ab, bb := a.base(), b.base()
		if c := ab.CreatedAt.Compare(bb.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(ab.ID, bb.ID)
	})
	return items, nil
}

// Get returns one item with its image URL freshly signed.
func (s *ItemService) Get(ctx context.Context, kind Kind, id string) (Item, error) {
	item, err := s.load(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	s.resolve(ctx, []Item{item})
	return item, nil
}

// Update replaces the item stored under id. The id and creation time are
// kept. A blob that is no longer referenced is removed after the write.
func (s *ItemService) Update(ctx context.Context, kind Kind, id string, item Item) (Item, error) {
	if item.Kind() != kind {
		return nil, fmt.Errorf("%w: %s body for %s", ErrInvalidInput, item.Kind(), kind)
	}
	current, err := s.load(ctx, kind, id)
	if err != nil {
		return nil, err
	}

	item.normalize()
	if err := validateItem(item); err != nil {
		return nil, err
	}

	b, cur := item.base(), current.base()
	b.ID, b.CreatedAt = cur.ID, cur.CreatedAt
	if err := s.records.Set(ctx, kind.Key(id), item); err != nil {
		return nil, fmt.Errorf("update %s %s: %w", kind, id, err)
	}
	if old := cur.ImagePath; old != nil && (b.ImagePath == nil || *b.ImagePath != *old) {
		s.removeBlob(ctx, kind.Key(id), *old)
	}
	return item, nil
}

// Delete removes the item and its image blob. Deleting an unknown id
// succeeds. A blob that cannot be removed is logged and left behind.
func (s *ItemService) Delete(ctx context.Context, kind Kind, id string) error {
	key := kind.Key(id)
	raw, err := s.records.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", kind, id, err)
	}

	if item, err := decodeItem(kind, raw); err != nil {
		s.logger.WarnContext(ctx, "deleting undecodable record", "key", key, "error", err)
	} else if p := item.base().ImagePath; p != nil {
		s.removeBlob(ctx, key, *p)
	}

	if err := s.records.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete %s %s: %w", kind, id, err)
	}
	return nil
}

// UploadImage stores an image and signs it. Size and type checks belong to
// the caller.
func (s *ItemService) UploadImage(ctx context.Context, data []byte, contentType, filename string) (ImageRef, error) {
	path, err := s.blobs.Put(ctx, filename, data, contentType)
	if err != nil {
		return ImageRef{}, fmt.Errorf("upload image: %w", err)
	}
	s.logger.InfoContext(ctx, "image uploaded", "path", path, "size", len(data), "content_type", contentType)
	return ImageRef{ImagePath: path, ImageURL: s.signURL(ctx, path)}, nil
}

func (s *ItemService) load(ctx context.Context, kind Kind, id string) (Item, error) {
	raw, err := s.records.Get(ctx, kind.Key(id))
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", kind, id, err)
	}
	return decodeItem(kind, raw)
}

// resolve fills derived fields and signs image paths with bounded concurrency.
func (s *ItemService) resolve(ctx context.Context, items []Item) {
	var g errgroup.Group
	g.SetLimit(s.cfg.SignConcurrency)
	for _, item := range items {
		item.resolve()
		b := item.base()
		if b.ImagePath == nil {
			continue
		}
		g.Go(func() error {
			b.ImageURL = s.signURL(ctx, *b.ImagePath)
			return nil
		})
	}
	_ = g.Wait()
}

type signResult struct {
	url string
	ok  bool
	err error
}

// signURL returns a signed URL for path, or nil when the blob is missing, the
// blob store fails or the call outlives SignTimeout.
func (s *ItemService) signURL(ctx context.Context, path string) *string {
	if s.cfg.SignTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.SignTimeout)
		defer cancel()
	}

	done := make(chan signResult, 1)
	go func() {
		url, ok, err := s.blobs.Sign(ctx, path, s.cfg.URLTTL)
		done <- signResult{url: url, ok: ok, err: err}
	}()

	select {
	case r := <-done:
		switch {
		case r.err != nil:
			s.logger.WarnContext(ctx, "signing image failed", "path", path, "error", r.err)
			return nil
		case !r.ok:
			s.logger.WarnContext(ctx, "image blob missing", "path", path)
			return nil
		}
		return &r.url
	case <-ctx.Done():
		s.logger.WarnContext(ctx, "signing image timed out", "path", path, "error", ctx.Err())
		return nil
	}
}

func (s *ItemService) removeBlob(ctx context.Context, key, path string) {
	if err := s.blobs.Remove(ctx, path); err != nil {
		s.logger.WarnContext(ctx, "orphaned image blob", "key", key, "path", path, "error", err)
	}
}

func decodeItem(kind Kind, raw json.RawMessage) (Item, error) {
	item, err := newItem(kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, item); err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return item, nil
}
