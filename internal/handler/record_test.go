package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/ireporter/api/internal/auth"
	"github.com/ireporter/api/internal/cache"
	"github.com/ireporter/api/internal/media"
	"github.com/ireporter/api/internal/middleware"
	"github.com/ireporter/api/internal/model"
	"github.com/ireporter/api/internal/record"
	"github.com/ireporter/api/internal/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "handler-test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeUploader struct {
	mu   sync.Mutex
	n    int
	fail bool
}

func (f *fakeUploader) Upload(_ context.Context, filename string, r io.Reader) (media.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return media.Asset{}, errors.New("cloudinary: invalid api key")
	}
	_, _ = io.Copy(io.Discard, r)
	f.n++
	return media.Asset{
		URL:      fmt.Sprintf("https://res.cloudinary.com/demo/%d-%s", f.n, filename),
		PublicID: fmt.Sprintf("records/%d", f.n),
	}, nil
}

func (f *fakeUploader) Delete(context.Context, string) error { return nil }

type testEnv struct {
	router   *gin.Engine
	db       *gorm.DB
	uploader *fakeUploader
	owner    model.User
	other    model.User
	admin    model.User
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	return setupEnvWithCache(t, nil)
}

func setupEnvWithCache(t *testing.T, recordCache record.Cache) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&model.User{}, &model.Record{}))

	env := &testEnv{
		db:       db,
		uploader: &fakeUploader{},
		owner:    model.User{Email: "owner@example.com", Role: model.RoleUser},
		other:    model.User{Email: "other@example.com", Role: model.RoleUser},
		admin:    model.User{Email: "admin@example.com", Role: model.RoleAdmin},
	}
	users := store.NewUserStore(db)
	for _, u := range []*model.User{&env.owner, &env.other, &env.admin} {
		require.NoError(t, users.Upsert(context.Background(), u))
	}

	svc := record.NewService(store.NewRecordStore(db), users, env.uploader, recordCache, zerolog.Nop())
	h := NewRecordHandler(svc, zerolog.Nop())

	r := gin.New()
	noop := func(c *gin.Context) { c.Next() }
	h.Register(r.Group("/api"), middleware.AuthMiddleware(testSecret), noop, noop)
	env.router = r
	return env
}

func (e *testEnv) token(t *testing.T, u model.User) string {
	t.Helper()
	tok, err := auth.GenerateAccessToken(&u, testSecret, time.Hour)
	require.NoError(t, err)
	return tok
}

type formFile struct {
	name    string
	content string
}

func multipartBody(t *testing.T, fields map[string]string, files ...formFile) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for _, f := range files {
		part, err := w.CreateFormFile("images", f.name)
		require.NoError(t, err)
		_, err = part.Write([]byte(f.content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func (e *testEnv) do(t *testing.T, method, path string, user *model.User, fields map[string]string, files ...formFile) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if fields != nil || len(files) > 0 {
		body, ct := multipartBody(t, fields, files...)
		req = httptest.NewRequest(method, path, body)
		req.Header.Set("Content-Type", ct)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if user != nil {
		req.Header.Set("Authorization", "Bearer "+e.token(t, *user))
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

type recordEnvelope struct {
	Message string      `json:"message"`
	Record  record.View `json:"record"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func validFields() map[string]string {
	return map[string]string{
		"type":        "Red-Flag",
		"title":       "Ghost workers on payroll",
		"description": "Names of deceased staff still paid",
		"latitude":    "0.3476",
		"longitude":   "32.5825",
	}
}

func (e *testEnv) create(t *testing.T, user *model.User, files ...formFile) record.View {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/records", user, validFields(), files...)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[recordEnvelope](t, w).Record
}

func (e *testEnv) setStatus(t *testing.T, id int64, status string) {
	t.Helper()
	require.NoError(t, e.db.Model(&model.Record{}).Where("id = ?", id).Update("status", status).Error)
}

func TestCreate(t *testing.T) {
	env := setupEnv(t)

	w := env.do(t, http.MethodPost, "/api/records", &env.owner, validFields(),
		formFile{"a.jpg", "aaa"}, formFile{"b.jpg", "bbb"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	got := decode[recordEnvelope](t, w)
	assert.Equal(t, "Record created successfully", got.Message)
	assert.Equal(t, model.StatusPending, got.Record.Status)
	assert.Equal(t, env.owner.ID, got.Record.UserID)
	assert.Equal(t, model.RecordTypeRedFlag, got.Record.Type)
	require.Len(t, got.Record.Images, 2)
	assert.True(t, strings.HasSuffix(got.Record.Images[0], "a.jpg"))
	assert.True(t, strings.HasSuffix(got.Record.Images[1], "b.jpg"))
	require.NotNil(t, got.Record.CreatedAt)
	require.NotNil(t, got.Record.Latitude)
	assert.InDelta(t, 0.3476, *got.Record.Latitude, 1e-9)
}

func TestCreate_StatusFieldIgnored(t *testing.T) {
	env := setupEnv(t)
	fields := validFields()
	fields["status"] = "resolved"

	w := env.do(t, http.MethodPost, "/api/records", &env.owner, fields)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, model.StatusPending, decode[recordEnvelope](t, w).Record.Status)
}

func TestCreate_OptionalCoordinates(t *testing.T) {
	env := setupEnv(t)

	w := env.do(t, http.MethodPost, "/api/records", &env.owner, map[string]string{"type": "Intervention"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	got := decode[recordEnvelope](t, w).Record
	assert.Nil(t, got.Latitude)
	assert.Nil(t, got.Longitude)
	assert.Equal(t, []string{}, got.Images)
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name   string
		change map[string]string
		msg    string
	}{
		{"missing type", map[string]string{"type": ""}, "Type must be Red-Flag or Intervention"},
		{"unknown type", map[string]string{"type": "Complaint"}, "Type must be Red-Flag or Intervention"},
		{"lowercase type", map[string]string{"type": "red-flag"}, "Type must be Red-Flag or Intervention"},
		{"latitude too high", map[string]string{"latitude": "90.5"}, "Invalid latitude"},
		{"latitude too low", map[string]string{"latitude": "-91"}, "Invalid latitude"},
		{"latitude not a number", map[string]string{"latitude": "north"}, "Invalid latitude"},
		{"latitude NaN", map[string]string{"latitude": "NaN"}, "Invalid latitude"},
		{"longitude infinite", map[string]string{"longitude": "Inf"}, "Invalid longitude"},
		{"longitude too high", map[string]string{"longitude": "180.01"}, "Invalid longitude"},
		{"longitude too low", map[string]string{"longitude": "-200"}, "Invalid longitude"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupEnv(t)
			fields := validFields()
			for k, v := range tt.change {
				fields[k] = v
			}

			w := env.do(t, http.MethodPost, "/api/records", &env.owner, fields)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.msg, decode[recordEnvelope](t, w).Message)
		})
	}
}

func TestCreate_BoundaryCoordinates(t *testing.T) {
	env := setupEnv(t)
	fields := validFields()
	fields["latitude"] = "-90"
	fields["longitude"] = "180"

	w := env.do(t, http.MethodPost, "/api/records", &env.owner, fields)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestCreate_NumberForms(t *testing.T) {
	for raw, want := range map[string]float64{"45.": 45, ".5": 0.5, "1e1": 10, " 45 ": 45, "+12.25": 12.25} {
		t.Run(raw, func(t *testing.T) {
			env := setupEnv(t)
			fields := validFields()
			fields["latitude"] = raw

			w := env.do(t, http.MethodPost, "/api/records", &env.owner, fields)
			require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
			got := decode[recordEnvelope](t, w).Record.Latitude
			require.NotNil(t, got)
			assert.Equal(t, want, *got)
		})
	}
}

func TestCreate_UploadFailureIs500WithoutDetail(t *testing.T) {
	env := setupEnv(t)
	env.uploader.fail = true

	w := env.do(t, http.MethodPost, "/api/records", &env.owner, validFields(), formFile{"a.jpg", "a"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	msg := decode[recordEnvelope](t, w).Message
	assert.Equal(t, "Error creating record", msg)
	assert.NotContains(t, msg, "api key")

	var count int64
	require.NoError(t, env.db.Model(&model.Record{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestUnauthenticated(t *testing.T) {
	env := setupEnv(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/records"},
		{http.MethodGet, "/api/records/1"},
		{http.MethodPost, "/api/records"},
		{http.MethodPut, "/api/records/1"},
		{http.MethodDelete, "/api/records/1"},
	} {
		w := env.do(t, tc.method, tc.path, nil, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, tc.method+" "+tc.path)
	}
}

func TestGet(t *testing.T) {
	env := setupEnv(t)
	rec := env.create(t, &env.owner)
	path := fmt.Sprintf("/api/records/%d", rec.ID)

	w := env.do(t, http.MethodGet, path, &env.owner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[record.View](t, w)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.Title, got.Title)

	w = env.do(t, http.MethodGet, path, &env.admin, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, path, &env.other, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Unauthorized access", decode[recordEnvelope](t, w).Message)

	w = env.do(t, http.MethodGet, "/api/records/9999", &env.owner, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Record not found", decode[recordEnvelope](t, w).Message)

	w = env.do(t, http.MethodGet, "/api/records/abc", &env.owner, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type listBody struct {
	Records []record.View `json:"records"`
	Page    *int          `json:"page"`
	PerPage *int          `json:"per_page"`
	Total   *int64        `json:"total"`
}

func TestList(t *testing.T) {
	env := setupEnv(t)
	for i := 0; i < 3; i++ {
		env.create(t, &env.owner)
	}
	env.create(t, &env.other)

	w := env.do(t, http.MethodGet, "/api/records", &env.owner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	mine := decode[listBody](t, w)
	assert.Len(t, mine.Records, 3)
	assert.Nil(t, mine.Page)
	for _, r := range mine.Records {
		assert.Equal(t, env.owner.ID, r.UserID)
	}

	w = env.do(t, http.MethodGet, "/api/records", &env.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[listBody](t, w).Records, 4)

	w = env.do(t, http.MethodGet, "/api/records?page=2&per_page=3", &env.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	paged := decode[listBody](t, w)
	assert.Len(t, paged.Records, 1)
	require.NotNil(t, paged.Total)
	assert.Equal(t, int64(4), *paged.Total)
	assert.Equal(t, 3, *paged.PerPage)

	w = env.do(t, http.MethodGet, "/api/records?per_page=1000", &env.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 100, *decode[listBody](t, w).PerPage)

	w = env.do(t, http.MethodGet, "/api/records", &model.User{ID: 999}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[listBody](t, w).Records)
}

func updateFields() map[string]string {
	return map[string]string{
		"type":        "intervention",
		"title":       "  Broken bridge  ",
		"description": "Bridge collapsed after floods",
		"latitude":    "0",
		"longitude":   "0",
	}
}

func TestUpdate_ReplacesImages(t *testing.T) {
	env := setupEnv(t)
	rec := env.create(t, &env.owner, formFile{"a.jpg", "a"}, formFile{"b.jpg", "b"})
	require.Len(t, rec.Images, 2)
	path := fmt.Sprintf("/api/records/%d", rec.ID)

	w := env.do(t, http.MethodPut, path, &env.owner, updateFields(), formFile{"c.jpg", "c"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	got := decode[recordEnvelope](t, w)
	assert.Equal(t, "Record updated successfully", got.Message)
	require.Len(t, got.Record.Images, 1)
	assert.True(t, strings.HasSuffix(got.Record.Images[0], "c.jpg"))
	assert.NotContains(t, got.Record.Images, rec.Images[0])
	assert.Equal(t, model.RecordTypeIntervention, got.Record.Type)
	assert.Equal(t, "Broken bridge", got.Record.Title)
	require.NotNil(t, got.Record.Latitude)
	assert.Equal(t, 0.0, *got.Record.Latitude)
	assert.Equal(t, env.owner.ID, got.Record.UserID)

	w = env.do(t, http.MethodGet, path, &env.owner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, got.Record.Images, decode[record.View](t, w).Images)
}

func TestUpdate_WithoutFilesKeepsImages(t *testing.T) {
	env := setupEnv(t)
	rec := env.create(t, &env.owner, formFile{"a.jpg", "a"})

	w := env.do(t, http.MethodPut, fmt.Sprintf("/api/records/%d", rec.ID), &env.owner, updateFields())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, rec.Images, decode[recordEnvelope](t, w).Record.Images)
}

func TestUpdate_Gates(t *testing.T) {
	env := setupEnv(t)
	rec := env.create(t, &env.owner)
	path := fmt.Sprintf("/api/records/%d", rec.ID)

	w := env.do(t, http.MethodPut, "/api/records/9999", &env.owner, updateFields())
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPut, path, &env.other, updateFields())
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPut, path, &env.admin, updateFields())
	assert.Equal(t, http.StatusForbidden, w.Code, "admins may not edit")

	// The gates run before the form is validated.
	w = env.do(t, http.MethodPut, path, &env.other, map[string]string{"type": "bogus"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	for _, status := range []string{model.StatusUnderInvestigation, model.StatusRejected, model.StatusResolved} {
		env.setStatus(t, rec.ID, status)
		w = env.do(t, http.MethodPut, path, &env.owner, updateFields())
		assert.Equal(t, http.StatusBadRequest, w.Code, status)
		assert.Equal(t, "Cannot edit record with current status", decode[recordEnvelope](t, w).Message)
	}
}

func TestUpdate_Validation(t *testing.T) {
	tests := []struct {
		name   string
		change map[string]string
		drop   string
		msg    string
	}{
		{"invalid type", map[string]string{"type": "Complaint"}, "", "Invalid record type"},
		{"missing title", nil, "title", "All fields (type, title, description, latitude, longitude) are required"},
		{"missing type", nil, "type", "All fields (type, title, description, latitude, longitude) are required"},
		{"missing latitude", nil, "latitude", "All fields (type, title, description, latitude, longitude) are required"},
		{"latitude out of range", map[string]string{"latitude": "120"}, "", "Invalid latitude"},
		{"missing field beats out of range value", map[string]string{"latitude": "120"}, "longitude", "All fields (type, title, description, latitude, longitude) are required"},
		{"latitude not a number", map[string]string{"latitude": "north"}, "", "Invalid latitude"},
		{"latitude blank", map[string]string{"latitude": "   "}, "", "Invalid latitude"},
		{"longitude out of range", map[string]string{"longitude": "-181"}, "", "Invalid longitude"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupEnv(t)
			rec := env.create(t, &env.owner)

			fields := updateFields()
			for k, v := range tt.change {
				fields[k] = v
			}
			if tt.drop != "" {
				delete(fields, tt.drop)
			}

			w := env.do(t, http.MethodPut, fmt.Sprintf("/api/records/%d", rec.ID), &env.owner, fields)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.msg, decode[recordEnvelope](t, w).Message)
		})
	}
}

func TestDelete(t *testing.T) {
	env := setupEnv(t)
	rec := env.create(t, &env.owner)
	path := fmt.Sprintf("/api/records/%d", rec.ID)

	w := env.do(t, http.MethodDelete, path, &env.other, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodDelete, path, &env.admin, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodDelete, path, &env.owner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Record deleted successfully", decode[recordEnvelope](t, w).Message)

	w = env.do(t, http.MethodDelete, path, &env.owner, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodDelete, "/api/records/424242", &env.owner, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDelete_Locked(t *testing.T) {
	env := setupEnv(t)
	rec := env.create(t, &env.owner)
	env.setStatus(t, rec.ID, model.StatusResolved)

	w := env.do(t, http.MethodDelete, fmt.Sprintf("/api/records/%d", rec.ID), &env.owner, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Cannot delete record with current status", decode[recordEnvelope](t, w).Message)
}

func TestLockedStatusHonoredWhileCached(t *testing.T) {
	mr := miniredis.RunT(t)
	rc, err := cache.NewRedisCache("redis://"+mr.Addr(), 10*time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })

	env := setupEnvWithCache(t, rc)
	rec := env.create(t, &env.owner)
	path := fmt.Sprintf("/api/records/%d", rec.ID)

	w := env.do(t, http.MethodGet, path, &env.owner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, mr.Exists(cache.RecordKey(rec.ID)), "record should be cached after a read")

	env.setStatus(t, rec.ID, model.StatusResolved)

	w = env.do(t, http.MethodPut, path, &env.owner, updateFields())
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Cannot edit record with current status", decode[recordEnvelope](t, w).Message)

	w = env.do(t, http.MethodDelete, path, &env.owner, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Cannot delete record with current status", decode[recordEnvelope](t, w).Message)

	var count int64
	require.NoError(t, env.db.Model(&model.Record{}).Where("id = ?", rec.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
