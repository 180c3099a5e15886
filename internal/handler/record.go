package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ireporter/api/internal/middleware"
	"github.com/ireporter/api/internal/record"
	"github.com/ireporter/api/internal/validator"
	"github.com/rs/zerolog"
)

type RecordHandler struct {
	svc    *record.Service
	logger zerolog.Logger
}

func NewRecordHandler(svc *record.Service, logger zerolog.Logger) *RecordHandler {
	return &RecordHandler{svc: svc, logger: logger}
}

// Register mounts the records resource on rg. Every route requires auth.
func (h *RecordHandler) Register(rg *gin.RouterGroup, authMW gin.HandlerFunc, createLimit, updateLimit gin.HandlerFunc) {
	records := rg.Group("/records", authMW)
	records.GET("", h.List)
	records.GET("/:id", h.Get)
	records.POST("", createLimit, h.Create)
	records.PUT("/:id", updateLimit, h.Update)
	records.DELETE("/:id", h.Delete)
}

// List returns all records for admins and the caller's own otherwise.
func (h *RecordHandler) List(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}

	page := validator.Pagination(c)
	result, err := h.svc.List(c.Request.Context(), caller, page)
	if err != nil {
		h.fail(c, "list", err)
		return
	}

	body := gin.H{"records": record.FormatAll(result.Records)}
	if page.Paged {
		body["page"] = page.Page
		body["per_page"] = page.PerPage
		body["total"] = result.Total
	}
	c.JSON(http.StatusOK, body)
}

// Get returns a single record.
func (h *RecordHandler) Get(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}

	id, err := validator.RecordID(c)
	if err != nil {
		h.fail(c, "get", err)
		return
	}

	rec, err := h.svc.Get(c.Request.Context(), caller, id)
	if err != nil {
		h.fail(c, "get", err)
		return
	}

	c.JSON(http.StatusOK, record.Format(rec))
}

// Create stores a new record from a multipart form.
func (h *RecordHandler) Create(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}

	in, err := validator.BindCreate(c)
	if err != nil {
		h.fail(c, "create", err)
		return
	}

	rec, err := h.svc.Create(c.Request.Context(), caller, in)
	if err != nil {
		h.fail(c, "create", err)
		return
	}

	middleware.RecordMutation("create", "ok")
	c.JSON(http.StatusCreated, gin.H{
		"message": "Record created successfully",
		"record":  record.Format(rec),
	})
}

// Update edits a record the caller owns.
func (h *RecordHandler) Update(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}

	id, err := validator.RecordID(c)
	if err != nil {
		h.fail(c, "update", err)
		return
	}

	// Existence, ownership and the status lock are checked before the
	// form is read.
	current, err := h.svc.Check(c.Request.Context(), caller, id, record.ActionUpdate)
	if err != nil {
		h.fail(c, "update", err)
		return
	}

	in, err := validator.BindUpdate(c)
	if err != nil {
		h.fail(c, "update", err)
		return
	}

	rec, err := h.svc.Apply(c.Request.Context(), caller, current, in)
	if err != nil {
		h.fail(c, "update", err)
		return
	}

	middleware.RecordMutation("update", "ok")
	c.JSON(http.StatusOK, gin.H{
		"message": "Record updated successfully",
		"record":  record.Format(rec),
	})
}

// Delete removes a record the caller owns.
func (h *RecordHandler) Delete(c *gin.Context) {
	caller, ok := h.caller(c)
	if !ok {
		return
	}

	id, err := validator.RecordID(c)
	if err != nil {
		h.fail(c, "delete", err)
		return
	}

	if err := h.svc.Delete(c.Request.Context(), caller, id); err != nil {
		h.fail(c, "delete", err)
		return
	}

	middleware.RecordMutation("delete", "ok")
	c.JSON(http.StatusOK, gin.H{"message": "Record deleted successfully"})
}

func (h *RecordHandler) caller(c *gin.Context) (record.Caller, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "user not authenticated"})
		return record.Caller{}, false
	}

	caller, err := h.svc.Caller(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, "auth", err)
		return record.Caller{}, false
	}
	return caller, true
}

// fail writes err as a JSON response. Internal causes are logged, never
// returned to the client.
func (h *RecordHandler) fail(c *gin.Context, operation string, err error) {
	kind := record.KindOf(err)

	msg := "Internal server error"
	var rerr *record.Error
	if errors.As(err, &rerr) {
		msg = rerr.Message
	}

	if kind == record.KindInternal {
		h.logger.Error().
			Err(err).
			Str("operation", operation).
			Str("request_id", c.GetString(middleware.ContextRequestID)).
			Msg("record operation failed")
	}

	switch operation {
	case "create", "update", "delete":
		middleware.RecordMutation(operation, kind.String())
	}

	c.JSON(kind.HTTPStatus(), gin.H{"message": msg})
}
