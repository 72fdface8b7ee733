package server

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/MarcoPoloResearchLab/cineflow-admin/internal/admins"
	"github.com/MarcoPoloResearchLab/cineflow-admin/internal/appversion"
	"github.com/MarcoPoloResearchLab/cineflow-admin/internal/artifacts"
	"github.com/MarcoPoloResearchLab/cineflow-admin/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	messageInternal         = "internal server error"
	messageInvalidRequest   = "invalid request body"
	messageNoFile           = "no file uploaded"
	messageFileTooLarge     = "file too large"
	messageAPKMissing       = "APK not available yet"
	messageContentMissing   = "content not available yet"
	messageInvalidMasterKey = "invalid master key"

	// multipartOverhead leaves room for form fields and boundaries on top of
	// the file size limit.
	multipartOverhead = 1 << 20
)

// respondError maps domain errors onto the HTTP taxonomy. Collaborator
// failures are reported with a generic message.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, admins.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": messageInvalidMasterKey})
	case errors.Is(err, artifacts.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, artifacts.ErrInvalidUpload),
		errors.Is(err, appversion.ErrInvalidVersion),
		errors.Is(err, users.ErrInvalidUID):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": messageInternal})
	}
}

func (h *httpHandler) handleAppVersion(c *gin.Context) {
	config, err := h.appVersion.Current(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, config)
}

func (h *httpHandler) handleUserStatus(c *gin.Context) {
	status, err := h.users.Status(c.Request.Context(), c.Param("uid"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *httpHandler) handleDownloadAPK(c *gin.Context) {
	reader, info, err := h.artifacts.OpenAPK(c.Request.Context())
	if errors.Is(err, artifacts.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": messageAPKMissing})
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer reader.Close()
	c.DataFromReader(http.StatusOK, info.Size, artifacts.APKContentType, reader, map[string]string{
		"Content-Disposition": "attachment; filename=" + artifacts.APKDownloadName,
	})
}

func (h *httpHandler) handleAppInfo(c *gin.Context) {
	info, err := h.artifacts.APKInfo(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *httpHandler) handleContentVersion(c *gin.Context) {
	stamp, err := h.artifacts.ContentVersion(c.Request.Context())
	if errors.Is(err, artifacts.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": messageContentMissing})
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stamp)
}

func (h *httpHandler) handleDownloadContent(c *gin.Context) {
	reader, info, err := h.artifacts.OpenContent(c.Request.Context())
	if errors.Is(err, artifacts.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": messageContentMissing})
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer reader.Close()
	c.DataFromReader(http.StatusOK, info.Size, artifacts.ContentContentType, reader, map[string]string{
		"Content-Disposition": "inline; filename=" + artifacts.ContentDownloadName,
		"Cache-Control":       "no-cache",
	})
}

func (h *httpHandler) handleContentInfo(c *gin.Context) {
	info, err := h.artifacts.ContentInfo(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

type setAdminsRequest struct {
	Emails    []string `json:"emails"`
	MasterKey string   `json:"masterKey"`
}

// handleSetAdmins is gated by the bootstrap secret, not by identity.
func (h *httpHandler) handleSetAdmins(c *gin.Context) {
	var request setAdminsRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": messageInvalidRequest})
		return
	}
	list, err := h.admins.ReplaceAll(c.Request.Context(), request.Emails, request.MasterKey)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if h.metrics != nil {
		h.metrics.AllowListReplaced.Inc()
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "admins": list.Emails()})
}

func (h *httpHandler) handleListUsers(c *gin.Context) {
	listing, err := h.users.ListUsers(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

type blockRequest struct {
	Block  *bool  `json:"block"`
	Reason string `json:"reason"`
}

func (h *httpHandler) handleBlockUser(c *gin.Context) {
	identity, _ := actor(c)
	var request blockRequest
	if err := c.ShouldBindJSON(&request); err != nil || request.Block == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": messageInvalidRequest})
		return
	}
	uid := c.Param("uid")
	if _, err := h.users.SetBlocked(c.Request.Context(), identity.Email, uid, *request.Block, request.Reason); err != nil {
		h.respondError(c, err)
		return
	}
	message := "User unblocked"
	if *request.Block {
		message = "User blocked"
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": message})
}

func (h *httpHandler) handleAppUpdate(c *gin.Context) {
	identity, _ := actor(c)
	var request appversion.Update
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": messageInvalidRequest})
		return
	}
	if err := h.appVersion.Apply(c.Request.Context(), identity.Email, request); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Version updated"})
}

func (h *httpHandler) handleUploadAPK(c *gin.Context) {
	identity, _ := actor(c)
	file, header, ok := h.receiveFile(c, "apk", h.artifacts.MaxAPKBytes())
	if !ok {
		return
	}
	defer file.Close()

	result, err := h.artifacts.UploadAPK(c.Request.Context(), identity.Email, artifacts.FileUpload{
		Filename: header.Filename,
		Size:     header.Size,
		Body:     file,
	}, c.PostForm("version"), h.downloadURL(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "APK uploaded", "file": result})
}

func (h *httpHandler) handleUploadContent(c *gin.Context) {
	identity, _ := actor(c)
	file, header, ok := h.receiveFile(c, "m3u", h.artifacts.MaxContentBytes())
	if !ok {
		return
	}
	defer file.Close()

	stamp, err := h.artifacts.UploadContent(c.Request.Context(), identity.Email, artifacts.FileUpload{
		Filename: header.Filename,
		Size:     header.Size,
		Body:     file,
	}, c.PostForm("description"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Content uploaded", "version": stamp})
}

func (h *httpHandler) handleStats(c *gin.Context) {
	stats, err := h.users.Stats(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// receiveFile reads one multipart file field, capping the request body so an
// oversized upload fails before it is buffered.
func (h *httpHandler) receiveFile(c *gin.Context, field string, limit int64) (multipart.File, *multipart.FileHeader, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartOverhead)
	header, err := c.FormFile(field)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusBadRequest, gin.H{"error": messageFileTooLarge})
			return nil, nil, false
		}
		h.logger.Debug("upload without file", zap.String("field", field), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": messageNoFile})
		return nil, nil, false
	}
	if header.Size > limit {
		c.JSON(http.StatusBadRequest, gin.H{"error": messageFileTooLarge + ": limit " + strconv.FormatInt(limit, 10) + " bytes"})
		return nil, nil, false
	}
	file, err := header.Open()
	if err != nil {
		h.logger.Error("failed to open uploaded file", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": messageInternal})
		return nil, nil, false
	}
	return file, header, true
}
