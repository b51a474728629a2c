package files

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/auditdocs/docvault/internal/middleware"
	"github.com/auditdocs/docvault/internal/response"
)

// multipartMemory is how much of a multipart body is held in memory before spilling to disk.
const multipartMemory = 32 << 20

// Handler holds HTTP handlers for file endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a new files Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes mounts the unit-scoped file endpoints. Upload bodies are capped at the
// policy's request limit before they are parsed.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/units/{unitID}/files", func(r chi.Router) {
		r.Get("/", h.List)
		if limit := h.svc.Policy().RequestLimit(); limit > 0 {
			r.With(chiMiddleware.RequestSize(limit)).Post("/", h.Upload)
		} else {
			r.Post("/", h.Upload)
		}
		r.Delete("/{fileID}", h.Delete)
		r.Patch("/{fileID}", h.UpdateStatus)
	})
	r.Get("/files/{fileID}", h.Get)
}

type uploadData struct {
	Files []Descriptor `json:"files"`
}

type deleteData struct {
	Success bool `json:"success" example:"true"`
}

type updateStatusRequest struct {
	Analyzed *bool `json:"analyzed" example:"true"`
}

// Upload godoc
//
//	@Summary		Upload files
//	@Description	Store one or more files for an audit unit. All files are validated against the size ceiling, file count and type allow-list before any is written. On a storage failure the 502 body lists the files recorded before it.
//	@Tags			files
//	@Accept			multipart/form-data
//	@Produce		json
//	@Security		BearerAuth
//	@Param			unitID	path		string	true	"Audit unit ID"
//	@Param			files	formData	file	true	"Files to upload (repeatable)"
//	@Success		201		{object}	response.Envelope{data=uploadData}
//	@Failure		400		{object}	response.Envelope
//	@Failure		401		{object}	response.Envelope
//	@Failure		404		{object}	response.Envelope
//	@Failure		502		{object}	response.Envelope{data=uploadData}
//	@Failure		500		{object}	response.Envelope
//	@Router			/units/{unitID}/files [post]
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, h.svc.Policy().TooLarge())
			return
		}
		response.BadRequest(w, "invalid multipart body")
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		headers = r.MultipartForm.File["file"]
	}

	uploads := make([]Upload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			response.BadRequest(w, "unreadable file part")
			return
		}
		defer f.Close()

		ct, err := contentType(fh, f)
		if err != nil {
			response.BadRequest(w, "unreadable file part")
			return
		}
		uploads = append(uploads, Upload{
			Filename:    fh.Filename,
			ContentType: ct,
			Size:        fh.Size,
			Content:     f,
		})
	}

	recs, err := h.svc.Upload(r.Context(), callerID(r), chi.URLParam(r, "unitID"), uploads)
	out := uploadData{Files: make([]Descriptor, 0, len(recs))}
	for _, rec := range recs {
		out.Files = append(out.Files, rec.Descriptor(false))
	}

	var write *StorageWriteError
	switch {
	case errors.As(err, &write):
		// Files before the failing one stay recorded; report them with the failure.
		response.BadGateway(w, "file "+write.Filename+" upload failed", out)
	case err != nil:
		writeError(w, err)
	default:
		response.Created(w, out)
	}
}

// List godoc
//
//	@Summary		List files
//	@Description	Returns every file of an audit unit, newest first, with uploader name and analysis state.
//	@Tags			files
//	@Produce		json
//	@Security		BearerAuth
//	@Param			unitID	path		string	true	"Audit unit ID"
//	@Success		200		{object}	response.Envelope{data=[]Descriptor}
//	@Failure		401		{object}	response.Envelope
//	@Failure		404		{object}	response.Envelope
//	@Failure		500		{object}	response.Envelope
//	@Router			/units/{unitID}/files [get]
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	recs, err := h.svc.List(r.Context(), callerID(r), chi.URLParam(r, "unitID"))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]Descriptor, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Descriptor(true))
	}
	response.OK(w, out)
}

// Delete godoc
//
//	@Summary		Delete file
//	@Description	Removes the file record. Cleanup of the stored bytes is best effort and never fails the request.
//	@Tags			files
//	@Produce		json
//	@Security		BearerAuth
//	@Param			unitID	path		string	true	"Audit unit ID"
//	@Param			fileID	path		string	true	"File ID"
//	@Success		200		{object}	response.Envelope{data=deleteData}
//	@Failure		401		{object}	response.Envelope
//	@Failure		404		{object}	response.Envelope
//	@Failure		500		{object}	response.Envelope
//	@Router			/units/{unitID}/files/{fileID} [delete]
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.svc.Delete(r.Context(), callerID(r), chi.URLParam(r, "unitID"), chi.URLParam(r, "fileID"))
	if err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, deleteData{Success: true})
}

// UpdateStatus godoc
//
//	@Summary		Update analysis status
//	@Tags			files
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			unitID	path		string					true	"Audit unit ID"
//	@Param			fileID	path		string					true	"File ID"
//	@Param			request	body		updateStatusRequest		true	"New status"
//	@Success		200		{object}	response.Envelope{data=Descriptor}
//	@Failure		400		{object}	response.Envelope
//	@Failure		401		{object}	response.Envelope
//	@Failure		404		{object}	response.Envelope
//	@Failure		500		{object}	response.Envelope
//	@Router			/units/{unitID}/files/{fileID} [patch]
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Analyzed == nil {
		response.BadRequest(w, "analyzed must be a boolean")
		return
	}
	rec, err := h.svc.SetAnalyzed(r.Context(), callerID(r), chi.URLParam(r, "unitID"), chi.URLParam(r, "fileID"), *req.Analyzed)
	if err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, rec.Descriptor(true))
}

// Get godoc
//
//	@Summary		Get file
//	@Tags			files
//	@Produce		json
//	@Security		BearerAuth
//	@Param			fileID	path		string	true	"File ID"
//	@Success		200		{object}	response.Envelope{data=Descriptor}
//	@Failure		401		{object}	response.Envelope
//	@Failure		404		{object}	response.Envelope
//	@Failure		500		{object}	response.Envelope
//	@Router			/files/{fileID} [get]
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Get(r.Context(), callerID(r), chi.URLParam(r, "fileID"))
	if err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, rec.Descriptor(true))
}

func callerID(r *http.Request) string {
	id, _ := r.Context().Value(middleware.UserIDKey).(string)
	return id
}

// contentType returns the declared part type, sniffing the content when none was sent.
func contentType(fh *multipart.FileHeader, f multipart.File) (string, error) {
	declared := fh.Header.Get("Content-Type")
	if declared != "" && declared != "application/octet-stream" {
		return declared, nil
	}
	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return mt.String(), nil
}

func writeError(w http.ResponseWriter, err error) {
	var validation *ValidationError
	switch {
	case errors.Is(err, ErrUnauthorized):
		response.Unauthorized(w, "unauthorized")
	case errors.Is(err, ErrNotFound):
		response.NotFound(w, err.Error())
	case errors.As(err, &validation):
		response.BadRequest(w, validation.Error())
	default:
		response.InternalError(w)
	}
}
