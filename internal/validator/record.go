package validator

import (
	"errors"
	"io"
	"mime/multipart"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	playground "github.com/go-playground/validator/v10"
	"github.com/ireporter/api/internal/model"
	"github.com/ireporter/api/internal/record"
)

const (
	MsgInvalidType     = "Type must be Red-Flag or Intervention"
	MsgInvalidUpdType  = "Invalid record type"
	MsgInvalidLat      = "Invalid latitude"
	MsgInvalidLng      = "Invalid longitude"
	MsgAllRequired     = "All fields (type, title, description, latitude, longitude) are required"
	MsgMalformedForm   = "Malformed form data"
	MsgInvalidRecordID = "Invalid record ID"

	DefaultPerPage = 10
	MaxPerPage     = 100
)

// Coordinates arrive as text and are parsed before they are range
// checked, so any number strconv accepts is allowed.
type createForm struct {
	Type        string `form:"type" binding:"oneof=Red-Flag Intervention"`
	Title       string `form:"title"`
	Description string `form:"description"`
	Latitude    string `form:"latitude"`
	Longitude   string `form:"longitude"`
}

type updateForm struct {
	Type        string `form:"type" binding:"required"`
	Title       string `form:"title" binding:"required"`
	Description string `form:"description" binding:"required"`
	Latitude    string `form:"latitude" binding:"required"`
	Longitude   string `form:"longitude" binding:"required"`
}

type coordinates struct {
	Latitude  *float64 `binding:"omitempty,min=-90,max=90"`
	Longitude *float64 `binding:"omitempty,min=-180,max=180"`
}

// BindCreate reads and validates a create request.
func BindCreate(c *gin.Context) (record.CreateInput, error) {
	var form createForm
	if err := bindForm(c, &form); err != nil {
		return record.CreateInput{}, translate(err, MsgInvalidType)
	}

	coords, err := parseCoordinates(form.Latitude, form.Longitude)
	if err != nil {
		return record.CreateInput{}, err
	}

	return record.CreateInput{
		Type:        model.RecordType(form.Type),
		Title:       form.Title,
		Description: form.Description,
		Latitude:    coords.Latitude,
		Longitude:   coords.Longitude,
		Images:      files(c),
	}, nil
}

// BindUpdate reads and validates an update request. Type is matched
// case-insensitively; all five fields must be present before any value
// is range checked.
func BindUpdate(c *gin.Context) (record.UpdateInput, error) {
	var form updateForm
	bindErr := bindForm(c, &form)

	var recordType model.RecordType
	if raw := c.PostForm("type"); raw != "" {
		t, ok := model.ParseRecordType(raw)
		if !ok {
			return record.UpdateInput{}, record.Validation(MsgInvalidUpdType)
		}
		recordType = t
	}

	if bindErr != nil {
		return record.UpdateInput{}, translate(bindErr, MsgAllRequired)
	}

	coords, err := parseCoordinates(form.Latitude, form.Longitude)
	if err != nil {
		return record.UpdateInput{}, err
	}
	// Whitespace passes "required" but is not a coordinate.
	if coords.Latitude == nil {
		return record.UpdateInput{}, record.Validation(MsgInvalidLat)
	}
	if coords.Longitude == nil {
		return record.UpdateInput{}, record.Validation(MsgInvalidLng)
	}

	return record.UpdateInput{
		Type:        recordType,
		Title:       form.Title,
		Description: form.Description,
		Latitude:    *coords.Latitude,
		Longitude:   *coords.Longitude,
		Images:      files(c),
	}, nil
}

// parseCoordinates parses optional latitude and longitude text and checks
// the ranges. Blank values stay nil.
func parseCoordinates(rawLat, rawLng string) (coordinates, error) {
	var coords coordinates
	var ok bool
	if coords.Latitude, ok = parseFloat(rawLat); !ok {
		return coordinates{}, record.Validation(MsgInvalidLat)
	}
	if coords.Longitude, ok = parseFloat(rawLng); !ok {
		return coordinates{}, record.Validation(MsgInvalidLng)
	}
	if err := binding.Validator.ValidateStruct(&coords); err != nil {
		return coordinates{}, translate(err, MsgMalformedForm)
	}
	return coords, nil
}

// RecordID parses the :id path parameter.
func RecordID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		return 0, record.Validation(MsgInvalidRecordID)
	}
	return id, nil
}

// Pagination reads page and per_page. Paging applies only when the client
// sends at least one of them.
func Pagination(c *gin.Context) record.Page {
	rawPage, hasPage := c.GetQuery("page")
	rawPer, hasPer := c.GetQuery("per_page")

	page, err := strconv.Atoi(rawPage)
	if err != nil || page < 1 {
		page = 1
	}
	perPage, err := strconv.Atoi(rawPer)
	if err != nil || perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}

	return record.Page{Paged: hasPage || hasPer, Page: page, PerPage: perPage}
}

func bindForm(c *gin.Context, obj any) error {
	// binding.Form parses both urlencoded and multipart bodies.
	return c.ShouldBindWith(obj, binding.Form)
}

// translate maps a binding failure onto the client-facing message of the
// first offending field.
func translate(err error, typeMsg string) error {
	var verrs playground.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return record.Validation(MsgMalformedForm)
	}

	// A missing field outranks any invalid value.
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			return record.Validation(MsgAllRequired)
		}
	}

	switch verrs[0].Field() {
	case "Type":
		return record.Validation(typeMsg)
	case "Latitude":
		return record.Validation(MsgInvalidLat)
	case "Longitude":
		return record.Validation(MsgInvalidLng)
	}
	return record.Validation(MsgMalformedForm)
}

func parseFloat(raw string) (*float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, true
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, false
	}
	return &f, true
}

func files(c *gin.Context) []record.File {
	if c.Request.MultipartForm == nil || c.Request.MultipartForm.File == nil {
		return nil
	}
	headers := c.Request.MultipartForm.File["images"]
	out := make([]record.File, 0, len(headers))
	for _, fh := range headers {
		if fh == nil || fh.Filename == "" {
			continue
		}
		out = append(out, fileFromHeader(fh))
	}
	return out
}

func fileFromHeader(fh *multipart.FileHeader) record.File {
	return record.File{
		Name: fh.Filename,
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}
