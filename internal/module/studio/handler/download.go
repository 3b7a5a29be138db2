package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "github.com/wuhu/studio/internal/shared/errors"
)

// Download relays a generated image. By default the bytes come back base64-encoded in JSON
// for client-side saving; raw=1 returns them as an attachment.
func (h *Handler) Download(c *gin.Context) {
	url := c.Query("url")
	if url == "" {
		handleError(c, apperrors.BadRequest("url is required"))
		return
	}

	index := 0
	if raw := c.Query("index"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			handleError(c, apperrors.BadRequest("index must be a number"))
			return
		}
		index = n
	}

	artifact, err := h.service.Download(c.Request.Context(), url, index)
	if err != nil {
		handleError(c, err)
		return
	}

	if asRaw, _ := strconv.ParseBool(c.Query("raw")); asRaw {
		c.Header("Content-Disposition", `attachment; filename="`+artifact.Filename+`"`)
		c.Data(http.StatusOK, artifact.ContentType, artifact.Data)
		return
	}
	c.JSON(http.StatusOK, artifact)
}
