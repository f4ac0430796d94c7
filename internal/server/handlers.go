package server

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/healthscan/healthscan/internal/clinical"
	"github.com/healthscan/healthscan/internal/model"
	"github.com/healthscan/healthscan/internal/preprocess"
)

const (
	msgInvalidImage   = "Invalid image file. Please upload a valid image."
	msgInvalidName    = "Patient name is required."
	msgInvalidDOB     = "Invalid date of birth. Use YYYY-MM-DD."
	msgTooLarge       = "Uploaded file is too large."
	msgUnexpected     = "An unexpected error occurred. Please try again."
	msgReportFailed   = "Failed to generate report."
	msgPatientsFailed = "Error fetching patient data"
	msgLinkInvalid    = "Invalid or expired link."
	msgImageNotFound  = "Image not found."
)

// analyzeResponse is the stored record plus a short-lived link to the image.
type analyzeResponse struct {
	model.PatientRecord
	ImageURL string `json:"image_url"`
}

func (s *Server) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", s.indexHTML)
}

func (s *Server) handleAnalyze(c *gin.Context) {
	ctx := c.Request.Context()

	file, err := c.FormFile("xray_image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, http.StatusRequestEntityTooLarge, msgTooLarge)
			return
		}
		respondError(c, http.StatusBadRequest, msgInvalidImage)
		return
	}
	if !clinical.AllowedFile(file.Filename) {
		respondError(c, http.StatusBadRequest, msgInvalidImage)
		return
	}
	name := strings.TrimSpace(c.PostForm("patient_name"))
	if name == "" {
		respondError(c, http.StatusBadRequest, msgInvalidName)
		return
	}
	dob := strings.TrimSpace(c.PostForm("patient_dob"))
	age, err := clinical.CalculateAge(dob, s.now())
	if err != nil {
		respondError(c, http.StatusBadRequest, msgInvalidDOB)
		return
	}

	storedName := storedFilename(file.Filename)
	path := filepath.Join(s.uploadDir, storedName)
	if err := c.SaveUploadedFile(file, path); err != nil {
		s.log.Error().Err(err).Str("path", path).Msg("save upload")
		respondError(c, http.StatusInternalServerError, msgUnexpected)
		return
	}

	diagnosis, err := s.diagnoser.Diagnose(ctx, path)
	if err != nil {
		s.discard(path)
		if errors.Is(err, preprocess.ErrImage) {
			s.log.Warn().Err(err).Str("path", path).Msg("rejected upload")
			respondError(c, http.StatusBadRequest, msgInvalidImage)
			return
		}
		s.log.Error().Err(err).Str("path", path).Msg("diagnose")
		respondError(c, http.StatusInternalServerError, msgUnexpected)
		return
	}

	rec := model.PatientRecord{
		Name:        name,
		DateOfBirth: dob,
		Age:         age,
		Gender:      strings.TrimSpace(c.PostForm("patient_gender")),
		Symptoms:    strings.TrimSpace(c.PostForm("symptoms")),
		Diagnosis:   diagnosis,
		ImagePath:   path,
	}
	if err := s.store.Create(ctx, &rec); err != nil {
		s.discard(path)
		s.log.Error().Err(err).Msg("store patient")
		respondError(c, http.StatusInternalServerError, msgUnexpected)
		return
	}
	s.log.Info().
		Int64("patient_id", rec.ID).
		Str("diagnosis", string(rec.Diagnosis)).
		Str("path", rec.ImagePath).
		Msg("patient saved")

	if s.archiver != nil {
		if err := s.archiver.ArchiveXray(ctx, rec); err != nil {
			s.log.Warn().Err(err).Int64("patient_id", rec.ID).Msg("archive xray not scheduled")
		}
	}
	c.JSON(http.StatusOK, analyzeResponse{
		PatientRecord: rec,
		ImageURL:      s.signer.URL("/uploads", storedName, s.cfg.SignedURLTTL),
	})
}

func (s *Server) handleGenerateReport(c *gin.Context) {
	ctx := c.Request.Context()
	text, err := s.reports.Generate(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("generate report")
		respondError(c, http.StatusInternalServerError, msgReportFailed)
		return
	}
	if s.archiver != nil {
		if err := s.archiver.ArchiveReport(ctx, text); err != nil {
			s.log.Warn().Err(err).Msg("archive report not scheduled")
		}
	}
	c.JSON(http.StatusOK, gin.H{"report": text})
}

func (s *Server) handlePatients(c *gin.Context) {
	records, err := s.store.ListAll(c.Request.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("list patients")
		respondError(c, http.StatusInternalServerError, msgPatientsFailed)
		return
	}
	if records == nil {
		records = []model.PatientRecord{}
	}
	c.JSON(http.StatusOK, records)
}

// handleUpload serves a stored X-ray behind a signed link.
func (s *Server) handleUpload(c *gin.Context) {
	name := c.Param("name")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		respondError(c, http.StatusNotFound, msgImageNotFound)
		return
	}
	if !s.signer.Validate(name, c.Query("expires"), c.Query("signature")) {
		respondError(c, http.StatusForbidden, msgLinkInvalid)
		return
	}
	path := filepath.Join(s.uploadDir, name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		respondError(c, http.StatusNotFound, msgImageNotFound)
		return
	}
	c.File(path)
}

func (s *Server) discard(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn().Err(err).Str("path", path).Msg("remove upload")
	}
}

// storedFilename prefixes the sanitized client name with a random id so two
// uploads never share a file.
func storedFilename(original string) string {
	safe := clinical.SecureFilename(original)
	if safe == "" {
		safe = "upload"
	}
	return uuid.NewString() + "_" + safe
}

func respondError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
