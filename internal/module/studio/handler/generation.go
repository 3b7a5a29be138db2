package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/wuhu/studio/internal/module/studio/download"
	"github.com/wuhu/studio/internal/module/studio/imageproc"
	"github.com/wuhu/studio/internal/module/studio/orchestrator"
	"github.com/wuhu/studio/internal/module/studio/service"
	apperrors "github.com/wuhu/studio/internal/shared/errors"
)

// multipart form fields of a generation request.
const (
	fieldPrompt   = "prompt"
	fieldModel    = "model"
	fieldRatio    = "ratio"
	fieldCount    = "count"
	fieldDownload = "download"
	fieldAPIKey   = "api_key"
)

var imageFields = []string{"images", "images[]"}

// Generate runs a generation job. With Accept: text/event-stream the run is streamed as
// server-sent events; otherwise the full report is returned when the run completes.
// A started run is not cancelled when the client goes away.
func (h *Handler) Generate(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	in, err := h.parseGenerateInput(c)
	if err != nil {
		handleError(c, err)
		return
	}

	ctx := context.WithoutCancel(c.Request.Context())

	if !wantsEventStream(c) {
		report, err := h.service.Generate(ctx, id, in, nil)
		if err != nil {
			handleError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
		return
	}

	stream := newEventStream(c)
	if _, err := h.service.Generate(ctx, id, in, stream); err != nil {
		if !stream.started {
			handleError(c, err)
			return
		}
		stream.send("error", apperrors.ToAppError(err).ToResponse())
	}
}

func (h *Handler) parseGenerateInput(c *gin.Context) (*service.GenerateInput, error) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}
	form, err := c.MultipartForm()
	if err != nil {
		return nil, apperrors.BadRequest(fmt.Sprintf("invalid multipart form: %v", err))
	}

	in := &service.GenerateInput{
		APIKey: bearerToken(c),
		Prompt: formValue(form, fieldPrompt),
		Model:  formValue(form, fieldModel),
		Ratio:  formValue(form, fieldRatio),
	}
	if in.APIKey == "" {
		in.APIKey = formValue(form, fieldAPIKey)
	}

	if raw := formValue(form, fieldCount); raw != "" {
		count, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, apperrors.ValidationError("INVALID_COUNT", fmt.Sprintf("count %q is not a number", raw))
		}
		in.Count = count
	}
	if raw := formValue(form, fieldDownload); raw != "" {
		dl, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, apperrors.BadRequest(fmt.Sprintf("download %q is not a boolean", raw))
		}
		in.Download = dl
	}

	for _, field := range imageFields {
		for _, fh := range form.File[field] {
			ref, err := readReference(fh)
			if err != nil {
				return nil, apperrors.BadRequest(err.Error())
			}
			in.References = append(in.References, ref)
		}
	}
	return in, nil
}

func formValue(form *multipart.Form, key string) string {
	if values := form.Value[key]; len(values) > 0 {
		return values[0]
	}
	return ""
}

func readReference(fh *multipart.FileHeader) (imageproc.Reference, error) {
	f, err := fh.Open()
	if err != nil {
		return imageproc.Reference{}, fmt.Errorf("open upload %s: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return imageproc.Reference{}, fmt.Errorf("read upload %s: %w", fh.Filename, err)
	}
	return imageproc.Reference{
		Name:      fh.Filename,
		MediaType: fh.Header.Get("Content-Type"),
		Data:      data,
	}, nil
}

func wantsEventStream(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Accept"), "text/event-stream")
}

// eventStream forwards run events to the client as server-sent events. It is driven from
// the request goroutine.
type eventStream struct {
	c       *gin.Context
	started bool
}

func newEventStream(c *gin.Context) *eventStream {
	return &eventStream{c: c}
}

func (s *eventStream) send(event string, payload any) {
	if !s.started {
		s.c.Header("Content-Type", "text/event-stream")
		s.c.Header("Cache-Control", "no-cache")
		s.c.Header("Connection", "keep-alive")
		s.c.Header("X-Accel-Buffering", "no")
		s.c.Status(http.StatusOK)
		s.started = true
	}

	data, err := json.Marshal(payload)
	if err != nil {
		// report the dropped event in its place
		resp := apperrors.Internal(fmt.Sprintf("encode %s event: %v", event, err), err).ToResponse()
		event = "error"
		data, _ = json.Marshal(resp)
	}
	fmt.Fprintf(s.c.Writer, "event: %s\ndata: %s\n\n", event, data)
	s.c.Writer.Flush()
}

func (s *eventStream) OnStatus(st orchestrator.Status) { s.send("status", st) }

func (s *eventStream) OnResult(o orchestrator.Outcome) { s.send("result", o) }

func (s *eventStream) OnDownload(index int, a *download.Artifact) {
	s.send("download", gin.H{"index": index, "artifact": a})
}

func (s *eventStream) OnWarning(msg string) { s.send("warning", gin.H{"message": msg}) }

func (s *eventStream) OnProgress(p orchestrator.Progress) { s.send("progress", p) }

func (s *eventStream) OnCompleted(r *orchestrator.Report) { s.send("completed", r) }
