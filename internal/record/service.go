package record

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ireporter/api/internal/media"
	"github.com/ireporter/api/internal/model"
	"github.com/ireporter/api/internal/store"
	"github.com/rs/zerolog"
)

// Store persists records. *store.RecordStore implements it.
type Store interface {
	Get(ctx context.Context, id int64) (*model.Record, error)
	List(ctx context.Context, opts store.ListOptions) ([]model.Record, int64, error)
	Create(ctx context.Context, rec *model.Record) error
	Update(ctx context.Context, rec *model.Record) error
	Delete(ctx context.Context, id int64) error
}

// Cache is an optional read-through cache for single records.
type Cache interface {
	GetRecord(ctx context.Context, id int64) (*model.Record, bool)
	SetRecord(ctx context.Context, rec *model.Record)
	DeleteRecord(ctx context.Context, id int64)
}

// IdentityResolver tells whether a user holds the admin role.
type IdentityResolver interface {
	IsAdmin(ctx context.Context, userID int64) (bool, error)
}

// File is one uploaded image part.
type File struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// CreateInput is a validated create request.
type CreateInput struct {
	Type        model.RecordType
	Title       string
	Description string
	Latitude    *float64
	Longitude   *float64
	Images      []File
}

// UpdateInput is a validated update request. Every field is present;
// Images replaces the stored list when non-empty.
type UpdateInput struct {
	Type        model.RecordType
	Title       string
	Description string
	Latitude    float64
	Longitude   float64
	Images      []File
}

// Page selects a slice of a listing. When Paged is false the full list
// is returned.
type Page struct {
	Paged   bool
	Page    int
	PerPage int
}

type ListResult struct {
	Records []model.Record
	Total   int64
	Page    Page
}

type Service struct {
	store    Store
	cache    Cache
	users    IdentityResolver
	uploader media.Uploader
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(st Store, users IdentityResolver, uploader media.Uploader, cache Cache, logger zerolog.Logger) *Service {
	return &Service{
		store:    st,
		cache:    cache,
		users:    users,
		uploader: uploader,
		logger:   logger,
		now:      time.Now,
	}
}

// Caller resolves the admin flag for an authenticated user.
func (s *Service) Caller(ctx context.Context, userID int64) (Caller, error) {
	admin, err := s.users.IsAdmin(ctx, userID)
	if err != nil {
		return Caller{}, Internal("Error resolving user", err)
	}
	return Caller{UserID: userID, Admin: admin}, nil
}

func (s *Service) Get(ctx context.Context, caller Caller, id int64) (*model.Record, error) {
	rec, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(caller, rec, ActionRead); err != nil {
		return nil, err
	}
	return rec, nil
}

// Check loads record id and applies the policy for action without
// changing anything. Update and delete checks read the store directly so
// a status change made elsewhere is never masked by the cache.
func (s *Service) Check(ctx context.Context, caller Caller, id int64, action Action) (*model.Record, error) {
	var (
		rec *model.Record
		err error
	)
	if action == ActionRead {
		rec, err = s.load(ctx, id)
	} else {
		rec, err = s.loadFresh(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	if err := authorize(caller, rec, action); err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns every record for admins and the caller's own records for
// everyone else.
func (s *Service) List(ctx context.Context, caller Caller, page Page) (*ListResult, error) {
	opts := store.ListOptions{}
	if !caller.Admin {
		owner := caller.UserID
		opts.OwnerID = &owner
	}
	if page.Paged {
		opts.Page = page.Page
		opts.PerPage = page.PerPage
	}

	records, total, err := s.store.List(ctx, opts)
	if err != nil {
		return nil, Internal("Error listing records", err)
	}
	return &ListResult{Records: records, Total: total, Page: page}, nil
}

func (s *Service) Create(ctx context.Context, caller Caller, in CreateInput) (*model.Record, error) {
	assets, err := s.uploadAll(ctx, in.Images)
	if err != nil {
		return nil, Internal("Error creating record", err)
	}

	now := s.now().UTC()
	rec := &model.Record{
		Type:        in.Type,
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		Latitude:    in.Latitude,
		Longitude:   in.Longitude,
		Images:      urls(assets),
		Status:      model.StatusPending,
		UserID:      caller.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.Create(ctx, rec); err != nil {
		s.discard(assets)
		return nil, Internal("Error creating record", err)
	}

	s.logger.Info().
		Int64("record_id", rec.ID).
		Int64("user_id", caller.UserID).
		Str("type", string(rec.Type)).
		Int("images", len(assets)).
		Msg("record created")
	return rec, nil
}

func (s *Service) Update(ctx context.Context, caller Caller, id int64, in UpdateInput) (*model.Record, error) {
	rec, err := s.Check(ctx, caller, id, ActionUpdate)
	if err != nil {
		return nil, err
	}
	return s.Apply(ctx, caller, rec, in)
}

// Apply writes in over rec, which must have been returned by Check for
// ActionUpdate. The store refuses the write if the record was locked in
// the meantime.
func (s *Service) Apply(ctx context.Context, caller Caller, rec *model.Record, in UpdateInput) (*model.Record, error) {
	id := rec.ID
	assets, err := s.uploadAll(ctx, in.Images)
	if err != nil {
		return nil, Internal("Error updating record", err)
	}

	lat, lng := in.Latitude, in.Longitude
	rec.Type = in.Type
	rec.Title = strings.TrimSpace(in.Title)
	rec.Description = strings.TrimSpace(in.Description)
	rec.Latitude = &lat
	rec.Longitude = &lng
	if len(assets) > 0 {
		rec.Images = urls(assets)
	}
	rec.UpdatedAt = s.now().UTC()

	if err := s.store.Update(ctx, rec); err != nil {
		s.discard(assets)
		return nil, s.writeError(ctx, id, ActionUpdate, err, "Error updating record")
	}
	s.invalidate(ctx, id)

	s.logger.Info().Int64("record_id", id).Int64("user_id", caller.UserID).Msg("record updated")
	return rec, nil
}

func (s *Service) Delete(ctx context.Context, caller Caller, id int64) error {
	if _, err := s.Check(ctx, caller, id, ActionDelete); err != nil {
		return err
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return s.writeError(ctx, id, ActionDelete, err, "Error deleting record")
	}
	s.invalidate(ctx, id)

	s.logger.Info().Int64("record_id", id).Int64("user_id", caller.UserID).Msg("record deleted")
	return nil
}

// load reads through the cache. Only reads may use it.
func (s *Service) load(ctx context.Context, id int64) (*model.Record, error) {
	if s.cache != nil {
		if rec, ok := s.cache.GetRecord(ctx, id); ok {
			return rec, nil
		}
	}

	rec, err := s.loadFresh(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.SetRecord(ctx, rec)
	}
	return rec, nil
}

func (s *Service) loadFresh(ctx context.Context, id int64) (*model.Record, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.invalidate(ctx, id)
			return nil, NotFound("Record not found")
		}
		return nil, Internal("Error loading record", err)
	}
	return rec, nil
}

// writeError maps a failed store write. Missing and locked rows also drop
// the cache entry since it no longer matches the store.
func (s *Service) writeError(ctx context.Context, id int64, action Action, err error, msg string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.invalidate(ctx, id)
		return NotFound("Record not found")
	case errors.Is(err, store.ErrLocked):
		s.invalidate(ctx, id)
		return Validation(denyMessages[action][DenyLocked])
	}
	return Internal(msg, err)
}

func (s *Service) invalidate(ctx context.Context, id int64) {
	if s.cache != nil {
		s.cache.DeleteRecord(ctx, id)
	}
}

// uploadAll uploads files in order. If any upload fails the ones that
// already succeeded are removed again.
func (s *Service) uploadAll(ctx context.Context, files []File) ([]media.Asset, error) {
	if len(files) == 0 {
		return nil, nil
	}
	if s.uploader == nil {
		return nil, errors.New("media uploads are not configured")
	}

	assets := make([]media.Asset, 0, len(files))
	for _, f := range files {
		asset, err := s.upload(ctx, f)
		if err != nil {
			s.discard(assets)
			return nil, err
		}
		assets = append(assets, asset)
	}
	return assets, nil
}

func (s *Service) upload(ctx context.Context, f File) (media.Asset, error) {
	r, err := f.Open()
	if err != nil {
		return media.Asset{}, fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	defer r.Close()

	return s.uploader.Upload(ctx, f.Name, r)
}

// discard removes uploaded assets that will not be referenced by any
// record. It runs detached from the request so a cancelled request still
// cleans up.
func (s *Service) discard(assets []media.Asset) {
	if len(assets) == 0 || s.uploader == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, a := range assets {
		if err := s.uploader.Delete(ctx, a.PublicID); err != nil {
			s.logger.Warn().Err(err).Str("public_id", a.PublicID).Msg("failed to remove orphaned upload")
		}
	}
}

func urls(assets []media.Asset) []string {
	out := make([]string, 0, len(assets))
	for _, a := range assets {
		out = append(out, a.URL)
	}
	return out
}
