package handler

import (
	"errors"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"nexchat/internal/api"
	"nexchat/internal/auth"
	"nexchat/internal/middleware"
)

var safeExt = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)

// UploadHandler stores attachments on disk and hands out signed links to them.
type UploadHandler struct {
	Dir         string
	PublicURL   string
	TokenConfig auth.TokenConfig
}

func (h *UploadHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, api.MaxUploadSize+1<<20)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, api.ErrorResponse{Error: "File exceeds 10MB"})
			return
		}
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "Missing file"})
		return
	}
	if fh.Size > api.MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, api.ErrorResponse{Error: "File exceeds 10MB"})
		return
	}

	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if !safeExt.MatchString(ext) {
		ext = ""
	}
	name := uuid.NewString() + ext

	if err := os.MkdirAll(h.Dir, 0o700); err != nil {
		log.Printf("upload: mkdir failed (%s): %v", h.Dir, err)
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "Upload failed"})
		return
	}
	if err := c.SaveUploadedFile(fh, filepath.Join(h.Dir, name)); err != nil {
		log.Printf("upload: save failed: %v", err)
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "Upload failed"})
		return
	}

	tok, err := auth.CreateFileToken(name, h.TokenConfig)
	if err != nil {
		log.Printf("upload: sign link failed: %v", err)
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "Upload failed"})
		return
	}

	fileURL := strings.TrimRight(h.PublicURL, "/") + "/files/" + url.PathEscape(name) + "?token=" + url.QueryEscape(tok)
	c.JSON(http.StatusOK, api.UploadResponse{FileURL: fileURL, FileName: fh.Filename})
}

// Download serves a stored upload. It must run behind middleware.RequireFileToken.
func (h *UploadHandler) Download(c *gin.Context) {
	name, ok := middleware.FileNameFromContext(c)
	if !ok || name != filepath.Base(name) {
		c.JSON(http.StatusForbidden, api.ErrorResponse{Error: "Invalid or expired file link"})
		return
	}
	path := filepath.Join(h.Dir, name)
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, api.ErrorResponse{Error: "File not found"})
		return
	}
	c.File(path)
}
