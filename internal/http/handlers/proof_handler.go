package handlers

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/h2non/filetype"

	"github.com/ignatzorin/producttest-backend/internal/http/handlers/common"
	"github.com/ignatzorin/producttest-backend/internal/service"
	"github.com/ignatzorin/producttest-backend/internal/storage"
)

// Разрешённые типы файлов для подтверждений покупки
var allowedMimeTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
	"image/webp": true,
	"image/heif": true,
}

var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".heic": true,
}

// ProofHandler принимает скриншоты и чеки, подтверждающие покупку.
type ProofHandler struct {
	sessions *service.SessionService
	storage  *storage.ProofStorage
}

func NewProofHandler(sessions *service.SessionService, storage *storage.ProofStorage) *ProofHandler {
	return &ProofHandler{sessions: sessions, storage: storage}
}

// UploadProof обрабатывает POST /test-sessions/:id/proofs.
func (h *ProofHandler) UploadProof(c *gin.Context) {
	actor, err := common.CurrentActor(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	sessionID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	// Доступ к сессии проверяет сервис — тестер видит только свои.
	if _, err := h.sessions.GetSession(c.Request.Context(), actor, sessionID); err != nil {
		common.RespondAppError(c, err)
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		common.RespondBadRequest(c, "поле file обязательно")
		return
	}

	if file.Size == 0 {
		common.RespondBadRequest(c, "файл не может быть пустым")
		return
	}
	if file.Size > h.storage.MaxUploadBytes() {
		common.RespondBadRequest(c, fmt.Sprintf("файл больше допустимого размера (%d байт)", h.storage.MaxUploadBytes()))
		return
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !allowedExtensions[ext] {
		common.RespondBadRequest(c, "неподдерживаемый формат файла, разрешены только изображения")
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer src.Close()

	// Проверяем магические байты, а не только расширение
	buffer := make([]byte, 512)
	n, err := src.Read(buffer)
	if err != nil && err != io.EOF {
		common.RespondBadRequest(c, "не удалось прочитать файл")
		return
	}

	kind, err := filetype.Match(buffer[:n])
	if err != nil || kind == filetype.Unknown {
		common.RespondBadRequest(c, "не удалось определить тип файла, разрешены только изображения")
		return
	}
	if !allowedMimeTypes[kind.MIME.Value] {
		common.RespondBadRequest(c, fmt.Sprintf("неподдерживаемый тип файла (%s)", kind.MIME.Value))
		return
	}

	if seeker, ok := src.(io.Seeker); ok {
		if _, err := seeker.Seek(0, io.SeekStart); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "не удалось сбросить позицию файла"})
			return
		}
	}

	relativePath, size, err := h.storage.Save(c.Request.Context(), sessionID, file.Filename, src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"path":      filepath.ToSlash(relativePath),
		"file_type": kind.MIME.Value,
		"file_size": size,
	})
}
