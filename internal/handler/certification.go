package handler

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/eduvault/internal/middleware"
	"github.com/iliyamo/eduvault/internal/model"
	"github.com/iliyamo/eduvault/internal/service"
)

// CertificationHandler serves the certification endpoints.  Students
// upload, read and delete; faculty approve and list their sets.
type CertificationHandler struct {
	Ledger         *service.Ledger
	MaxUploadBytes int64
	Timeout        time.Duration // database work
	UploadTimeout  time.Duration // whole upload, artifact store included
}

func NewCertificationHandler(l *service.Ledger, maxUpload int64, timeout, uploadTimeout time.Duration) *CertificationHandler {
	if l == nil {
		panic("NewCertificationHandler: nil Ledger")
	}
	return &CertificationHandler{Ledger: l, MaxUploadBytes: maxUpload, Timeout: timeout, UploadTimeout: uploadTimeout}
}

var errTooLarge = errors.New("certificate exceeds upload limit")

// Upload accepts a multipart form with the certificate file and its
// metadata: title, isUnderFaculty and faculty.
func (h *CertificationHandler) Upload(c echo.Context) error {
	in := service.SubmitInput{
		StudentID: middleware.AccountID(c),
		Title:     c.FormValue("title"),
		FacultyID: c.FormValue("faculty"),
	}
	if raw := strings.TrimSpace(c.FormValue("isUnderFaculty")); raw != "" {
		routed, err := strconv.ParseBool(raw)
		if err != nil {
			return failWith(c, http.StatusBadRequest, "Validation failed", "isUnderFaculty")
		}
		in.RouteToFaculty = routed
	}

	fh, err := c.FormFile("certificate")
	if err == nil {
		in.Filename = fh.Filename
		in.Certificate, err = h.readUpload(fh)
		if errors.Is(err, errTooLarge) {
			return failWith(c, http.StatusBadRequest, "Certificate file is too large", "certificate")
		}
		if err != nil {
			return failWith(c, http.StatusBadRequest, "Could not read certificate file", "certificate")
		}
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.UploadTimeout)
	defer cancel()
	cert, err := h.Ledger.Submit(ctx, in)
	if err != nil {
		return fail(c, err)
	}
	return respond(c, http.StatusCreated, cert, "Certification uploaded successfully")
}

func (h *CertificationHandler) readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, h.MaxUploadBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > h.MaxUploadBytes {
		return nil, errTooLarge
	}
	return data, nil
}

// Delete removes the caller's unapproved certification.
func (h *CertificationHandler) Delete(c echo.Context) error {
	id := strings.TrimSpace(c.QueryParam("certificateId"))
	if id == "" {
		return failWith(c, http.StatusBadRequest, "Validation failed", "certificateId")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.Timeout)
	defer cancel()
	if err := h.Ledger.Delete(ctx, id, middleware.AccountID(c)); err != nil {
		return fail(c, err)
	}
	return respond(c, http.StatusOK, nil, "Certification deleted successfully")
}

// Get returns one certification.
func (h *CertificationHandler) Get(c echo.Context) error {
	id := strings.TrimSpace(c.QueryParam("certificateId"))
	if id == "" {
		return failWith(c, http.StatusBadRequest, "Validation failed", "certificateId")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.Timeout)
	defer cancel()
	cert, err := h.Ledger.Get(ctx, id)
	if err != nil {
		return fail(c, err)
	}
	return respond(c, http.StatusOK, cert, "Certification fetched successfully")
}

// Approve approves a certification routed to the calling faculty member.
func (h *CertificationHandler) Approve(c echo.Context) error {
	id := strings.TrimSpace(c.QueryParam("id"))
	if id == "" {
		return failWith(c, http.StatusBadRequest, "Validation failed", "id")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.Timeout)
	defer cancel()
	cert, err := h.Ledger.Approve(ctx, id, middleware.AccountID(c))
	if err != nil {
		return fail(c, err)
	}
	return respond(c, http.StatusOK, cert, "Certification approved successfully")
}

// Pending lists the certifications awaiting the caller's approval.
func (h *CertificationHandler) Pending(c echo.Context) error {
	return h.list(c, model.LinkPending)
}

// Approved lists the certifications the caller has approved.
func (h *CertificationHandler) Approved(c echo.Context) error {
	return h.list(c, model.LinkApproved)
}

func (h *CertificationHandler) list(c echo.Context, state string) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.Timeout)
	defer cancel()
	certs, err := h.Ledger.ListForFaculty(ctx, middleware.AccountID(c), state)
	if err != nil {
		return fail(c, err)
	}
	return respond(c, http.StatusOK, certs, "Certifications fetched successfully")
}
