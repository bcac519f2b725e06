package http

import (
	"errors"
	"mime"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"lanlink/internal/core/domain"
	"lanlink/internal/core/ports"
	apperrors "lanlink/pkg/errors"
	"lanlink/pkg/validation"
)

// FileHandler serves chunked uploads and downloads.
type FileHandler struct {
	uploads ports.UploadService
	logger  *zap.SugaredLogger
}

// NewFileHandler builds a FileHandler over uploads.
func NewFileHandler(uploads ports.UploadService, logger *zap.SugaredLogger) *FileHandler {
	return &FileHandler{
		uploads: uploads,
		logger:  logger,
	}
}

// SetupRoutes registers the /api/files routes.
func (h *FileHandler) SetupRoutes(router gin.IRouter) {
	files := router.Group("/api/files")
	{
		files.POST("/init", h.InitUpload)
		files.POST("/upload-chunk", h.UploadChunk)
		files.POST("/complete", h.CompleteUpload)
		files.GET("/download/:name", h.Download)
		files.DELETE("/cleanup/:fileId", h.Cleanup)
		files.GET("/supported-types", h.SupportedTypes)
	}
}

type initUploadRequest struct {
	FileID      string `json:"fileId" validate:"required,fileid"`
	FileName    string `json:"fileName" validate:"required,max=255"`
	FileSize    *int64 `json:"fileSize" validate:"required,min=0"`
	TotalChunks int    `json:"totalChunks" validate:"required,min=1"`
	FileType    string `json:"fileType"`
	RoomID      string `json:"roomId"`
	PartnerSID  string `json:"partnerSid"`
	SenderSID   string `json:"senderSid"`
}

// InitUpload handles POST /api/files/init.
func (h *FileHandler) InitUpload(c *gin.Context) {
	var req initUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("Invalid data format"))
		return
	}
	if err := validation.ValidateStruct(&req); err != nil {
		c.Error(apperrors.WrapError(err, apperrors.ErrCodeInvalidInput, err.Error(), http.StatusBadRequest))
		return
	}

	session, err := h.uploads.InitSession(c.Request.Context(), ports.InitUploadRequest{
		FileID:      req.FileID,
		FileName:    req.FileName,
		FileSize:    *req.FileSize,
		TotalChunks: req.TotalChunks,
		FileType:    req.FileType,
		RoomID:      domain.RoomID(req.RoomID),
		PartnerID:   domain.PeerID(req.PartnerSID),
		SenderID:    domain.PeerID(req.SenderSID),
	})
	if err != nil {
		c.Error(uploadError(err, h.uploads.SupportedTypes().MaxFileSize))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"fileId":       session.FileID,
		"fileName":     session.FileName,
		"fileCategory": session.Category,
		"message":      "Upload session initialized",
	})
}

// UploadChunk handles a multipart chunk with fileId and chunkIndex fields.
func (h *FileHandler) UploadChunk(c *gin.Context) {
	fileID := c.PostForm("fileId")
	rawIndex, ok := c.GetPostForm("chunkIndex")
	if fileID == "" || !ok {
		c.Error(apperrors.NewInvalidInputError("Missing required parameters"))
		return
	}
	index, err := strconv.Atoi(rawIndex)
	if err != nil {
		c.Error(apperrors.NewInvalidInputError("chunkIndex must be an integer"))
		return
	}

	header, err := c.FormFile("chunk")
	if err != nil {
		c.Error(apperrors.NewInvalidInputError("No chunk file provided"))
		return
	}
	chunk, err := header.Open()
	if err != nil {
		c.Error(apperrors.NewInternalError(err))
		return
	}
	defer chunk.Close()

	progress, err := h.uploads.RecordChunk(c.Request.Context(), fileID, index, chunk)
	if err != nil {
		c.Error(uploadError(err, 0))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"chunkIndex":     progress.ChunkIndex,
		"uploadedChunks": progress.Uploaded,
		"totalChunks":    progress.Total,
		"progress":       progress.Percent(),
	})
}

type completeUploadRequest struct {
	FileID     string `json:"fileId" validate:"required"`
	RoomID     string `json:"roomId"`
	PartnerSID string `json:"partnerSid"`
	SenderSID  string `json:"senderSid"`
}

// CompleteUpload merges the chunks and returns the download URL.
func (h *FileHandler) CompleteUpload(c *gin.Context) {
	var req completeUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("Missing fileId"))
		return
	}
	if err := validation.ValidateStruct(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("Missing fileId"))
		return
	}

	file, err := h.uploads.Complete(c.Request.Context(), ports.CompleteUploadRequest{
		FileID:    req.FileID,
		RoomID:    domain.RoomID(req.RoomID),
		PartnerID: domain.PeerID(req.PartnerSID),
		SenderID:  domain.PeerID(req.SenderSID),
	})
	if err != nil {
		c.Error(uploadError(err, 0))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"fileId":       file.FileID,
		"fileName":     file.FileName,
		"originalName": file.OriginalName,
		"fileSize":     file.Size,
		"fileType":     file.MimeType,
		"fileCategory": file.Category,
		"downloadUrl":  file.DownloadURL,
	})
}

// Download streams a completed file as an attachment. Range requests are
// supported.
func (h *FileHandler) Download(c *gin.Context) {
	name := c.Param("name")
	if err := validation.ValidateStoredName(name); err != nil {
		c.Error(apperrors.NewNotFoundError("File"))
		return
	}

	d, err := h.uploads.OpenDownload(c.Request.Context(), name)
	if err != nil {
		c.Error(uploadError(err, 0))
		return
	}
	defer d.Content.Close()

	if d.MimeType != "" {
		c.Header("Content-Type", d.MimeType)
	} else {
		c.Header("Content-Type", "application/octet-stream")
	}
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": d.Name}))
	http.ServeContent(c.Writer, c.Request, d.Name, d.ModTime, d.Content)
}

// Cleanup handles DELETE /api/files/cleanup/:fileId.
func (h *FileHandler) Cleanup(c *gin.Context) {
	fileID := c.Param("fileId")
	if err := h.uploads.Cleanup(c.Request.Context(), fileID); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			c.Error(apperrors.NewNotFoundError("Upload"))
			return
		}
		c.Error(uploadError(err, 0))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Upload cleaned up",
	})
}

func (h *FileHandler) SupportedTypes(c *gin.Context) {
	types := h.uploads.SupportedTypes()
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"supportedTypes": types.Types,
		"maxFileSize":    types.MaxFileSize,
		"maxChunkSize":   types.MaxChunkSize,
	})
}

// uploadError maps upload failures to client errors. maxFileSize is only
// used for ErrFileTooLarge.
func uploadError(err error, maxFileSize int64) error {
	var incomplete *domain.IncompleteUploadError
	switch {
	case errors.As(err, &incomplete):
		return apperrors.NewIncompleteUploadError(incomplete.Missing)
	case errors.Is(err, domain.ErrSessionNotFound):
		return apperrors.NewNotFoundError("Upload session")
	case errors.Is(err, domain.ErrFileNotFound):
		return apperrors.NewNotFoundError("File")
	case errors.Is(err, domain.ErrFileTooLarge):
		return apperrors.NewFileTooLargeError(maxFileSize)
	case errors.Is(err, domain.ErrDisallowedType):
		return apperrors.NewDisallowedTypeError()
	case errors.Is(err, domain.ErrChunkTooLarge):
		return apperrors.WrapError(err, apperrors.ErrCodeInvalidInput, "Chunk too large", http.StatusRequestEntityTooLarge)
	case errors.Is(err, domain.ErrInvalidChunkIndex), errors.Is(err, domain.ErrInvalidInput):
		return apperrors.WrapError(err, apperrors.ErrCodeInvalidInput, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrMissingChunk):
		return apperrors.NewIntegrityError(err)
	}
	return apperrors.NewInternalError(err)
}
