package handler

import (
	"synapse-go/internal/service"
	"synapse-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// SourceHandler 负责笔记本来源（PDF）的上传、列表、删除和下载。
type SourceHandler struct {
	sourceService service.SourceService
}

// NewSourceHandler 创建一个新的 SourceHandler 实例。
func NewSourceHandler(sourceService service.SourceService) *SourceHandler {
	return &SourceHandler{sourceService: sourceService}
}

// Upload 接收 multipart 表单中的 file 字段。
func (h *SourceHandler) Upload(c *gin.Context) {
	userID, authed := currentUser(c)
	if !authed {
		return
	}
	notebookID, valid := pathID(c, "id")
	if !valid {
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "file is required")
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		log.Errorf("[SourceHandler] 打开上传文件失败: %v", err)
		badRequest(c, "cannot read uploaded file")
		return
	}
	defer file.Close()

	src, err := h.sourceService.Upload(c.Request.Context(), userID, notebookID, service.UploadFile{
		Name:        fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Size:        fileHeader.Size,
		Body:        file,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, "Source uploaded", src)
}

func (h *SourceHandler) List(c *gin.Context) {
	userID, authed := currentUser(c)
	if !authed {
		return
	}
	notebookID, valid := pathID(c, "id")
	if !valid {
		return
	}
	sources, err := h.sourceService.List(c.Request.Context(), userID, notebookID)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, "success", sources)
}

func (h *SourceHandler) Delete(c *gin.Context) {
	userID, authed := currentUser(c)
	if !authed {
		return
	}
	notebookID, valid := pathID(c, "id")
	if !valid {
		return
	}
	sourceID, valid := pathID(c, "sourceId")
	if !valid {
		return
	}
	if err := h.sourceService.Delete(c.Request.Context(), userID, notebookID, sourceID); err != nil {
		writeError(c, err)
		return
	}
	ok(c, "Source deleted", nil)
}

// Download 返回一个临时下载链接。
func (h *SourceHandler) Download(c *gin.Context) {
	userID, authed := currentUser(c)
	if !authed {
		return
	}
	notebookID, valid := pathID(c, "id")
	if !valid {
		return
	}
	sourceID, valid := pathID(c, "sourceId")
	if !valid {
		return
	}
	info, err := h.sourceService.DownloadURL(c.Request.Context(), userID, notebookID, sourceID)
	if err != nil {
		writeError(c, err)
		return
	}
	ok(c, "success", info)
}
