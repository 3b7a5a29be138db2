package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuhu/studio/internal/module/studio/catalog"
	"github.com/wuhu/studio/internal/module/studio/chat"
	"github.com/wuhu/studio/internal/module/studio/download"
	"github.com/wuhu/studio/internal/module/studio/imageproc"
	"github.com/wuhu/studio/internal/module/studio/orchestrator"
	"github.com/wuhu/studio/internal/module/studio/session"
	apperrors "github.com/wuhu/studio/internal/shared/errors"
)

// ===== Mocks =====

type mockTranslator struct {
	result string
	err    error
	texts  []string
}

func (m *mockTranslator) Translate(_ context.Context, _ string, text string) (string, error) {
	m.texts = append(m.texts, text)
	return m.result, m.err
}

type mockRunner struct {
	jobs   []*orchestrator.Job
	report *orchestrator.Report
	err    error
}

func (m *mockRunner) Run(_ context.Context, state *session.State, job *orchestrator.Job, _ orchestrator.Observer) (*orchestrator.Report, error) {
	m.jobs = append(m.jobs, job)
	if m.err != nil {
		return nil, m.err
	}
	if m.report != nil {
		return m.report, nil
	}
	return &orchestrator.Report{Total: job.Count}, nil
}

type mockDownloader struct {
	err error
}

func (m *mockDownloader) Fetch(_ context.Context, url string, index int) (*download.Artifact, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &download.Artifact{Filename: "f.png", Data: []byte(url)}, nil
}

type warningObserver struct {
	orchestrator.NopObserver
	warnings []string
}

func (o *warningObserver) OnWarning(msg string) { o.warnings = append(o.warnings, msg) }

// ===== Helpers =====

func pngRef(t *testing.T, name string) imageproc.Reference {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 200, G: 10, B: 10, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return imageproc.Reference{Name: name, MediaType: "image/png", Data: buf.Bytes()}
}

type fixture struct {
	svc        *Service
	translator *mockTranslator
	runner     *mockRunner
	downloader *mockDownloader
	sessionID  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		translator: &mockTranslator{result: "a nano monkey"},
		runner:     &mockRunner{},
		downloader: &mockDownloader{},
	}
	sessions := session.NewManager(&session.Config{DefaultPrompt: "默认"}, nil, nil)
	f.svc = NewService(
		imageproc.NewProcessor(nil, nil, nil),
		f.translator,
		f.runner,
		f.downloader,
		sessions,
		&Config{MaxCount: 8, DefaultPrompt: "默认"},
		nil,
	)
	f.sessionID = f.svc.CreateSession().ID
	return f
}

func code(t *testing.T, err error) string {
	t.Helper()
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	return appErr.Code
}

// ===== Tests =====

func TestService_Catalog(t *testing.T) {
	f := newFixture(t)
	c := f.svc.Catalog()

	assert.Equal(t, catalog.Models(), c.Models)
	assert.Equal(t, catalog.Ratios(), c.Ratios)
	assert.Equal(t, 4, c.MaxReferences)
	assert.Equal(t, 1, c.MinCount)
	assert.Equal(t, 8, c.MaxCount)
	assert.Equal(t, "默认", c.DefaultPrompt)
	assert.Equal(t, []string{"png", "jpg", "jpeg", "webp"}, c.UploadTypes)
}

func TestService_Sessions(t *testing.T) {
	f := newFixture(t)

	snap, err := f.svc.GetSession(f.sessionID)
	require.NoError(t, err)
	assert.Equal(t, "默认", snap.Prompt)

	snap, err = f.svc.SetPrompt(f.sessionID, "new prompt")
	require.NoError(t, err)
	assert.Equal(t, "new prompt", snap.Prompt)

	history, err := f.svc.History(f.sessionID)
	require.NoError(t, err)
	assert.Empty(t, history)
	require.NoError(t, f.svc.ClearHistory(f.sessionID))

	require.NoError(t, f.svc.DeleteSession(f.sessionID))
	_, err = f.svc.GetSession(f.sessionID)
	assert.Equal(t, "NOT_FOUND", code(t, err))
	assert.Equal(t, "NOT_FOUND", code(t, f.svc.DeleteSession(f.sessionID)))
	assert.Equal(t, "NOT_FOUND", code(t, f.svc.ClearHistory(uuid.New())))
}

func TestService_Translate(t *testing.T) {
	t.Run("stores result as prompt", func(t *testing.T) {
		f := newFixture(t)
		got, err := f.svc.Translate(context.Background(), f.sessionID, "sk", "纳米猴子")
		require.NoError(t, err)
		assert.Equal(t, "a nano monkey", got)
		assert.Equal(t, []string{"纳米猴子"}, f.translator.texts)

		snap, _ := f.svc.GetSession(f.sessionID)
		assert.Equal(t, "a nano monkey", snap.Prompt)
	})

	t.Run("blank text uses session prompt", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Translate(context.Background(), f.sessionID, "sk", "  ")
		require.NoError(t, err)
		assert.Equal(t, []string{"默认"}, f.translator.texts)
	})

	t.Run("missing key", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Translate(context.Background(), f.sessionID, "", "x")
		assert.Equal(t, "MISSING_API_KEY", code(t, err))
		assert.Empty(t, f.translator.texts)
	})

	t.Run("remote failure keeps prompt", func(t *testing.T) {
		f := newFixture(t)
		f.translator.err = &chat.StatusError{StatusCode: http.StatusUnauthorized, Body: "bad key"}

		_, err := f.svc.Translate(context.Background(), f.sessionID, "sk", "x")
		assert.Equal(t, "UPSTREAM_ERROR", code(t, err))
		assert.Equal(t, http.StatusBadGateway, apperrors.GetStatusCode(err))
		assert.Contains(t, err.Error(), "Error 401")

		snap, _ := f.svc.GetSession(f.sessionID)
		assert.Equal(t, "默认", snap.Prompt)
	})
}

func TestService_GenerateValidation(t *testing.T) {
	tests := []struct {
		name     string
		in       GenerateInput
		withRefs bool
		code     string
	}{
		{"missing key", GenerateInput{Count: 1}, true, "MISSING_API_KEY"},
		{"missing key wins over missing images", GenerateInput{APIKey: " "}, false, "MISSING_API_KEY"},
		{"no references", GenerateInput{APIKey: "sk"}, false, "NO_REFERENCE_IMAGES"},
		{"count too high", GenerateInput{APIKey: "sk", Count: 9}, true, "INVALID_COUNT"},
		{"negative count", GenerateInput{APIKey: "sk", Count: -1}, true, "INVALID_COUNT"},
		{"unknown model", GenerateInput{APIKey: "sk", Model: "dall-e"}, true, "UNKNOWN_MODEL"},
		{"unknown ratio", GenerateInput{APIKey: "sk", Ratio: "2:1"}, true, "UNKNOWN_RATIO"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			in := tt.in
			if tt.withRefs {
				in.References = []imageproc.Reference{pngRef(t, "a.png")}
			}

			_, err := f.svc.Generate(context.Background(), f.sessionID, &in, nil)
			assert.Equal(t, tt.code, code(t, err))
			assert.Equal(t, http.StatusUnprocessableEntity, apperrors.GetStatusCode(err))
			assert.Empty(t, f.runner.jobs, "loop must not start")
		})
	}
}

func TestService_Generate(t *testing.T) {
	f := newFixture(t)
	obs := &warningObserver{}

	refs := []imageproc.Reference{
		pngRef(t, "1.png"),
		{Name: "broken.png", MediaType: "image/png", Data: []byte("not an image")},
		pngRef(t, "3.png"),
		pngRef(t, "4.png"),
		pngRef(t, "5.png"),
		pngRef(t, "6.png"),
	}

	report, err := f.svc.Generate(context.Background(), f.sessionID, &GenerateInput{
		APIKey:     "sk",
		Prompt:     "a cat",
		Model:      "极速版 (Flash) - Gemini 2.5",
		Ratio:      "9:16",
		Count:      3,
		Download:   true,
		References: refs,
	}, obs)
	require.NoError(t, err)

	require.Len(t, f.runner.jobs, 1)
	job := f.runner.jobs[0]
	assert.Equal(t, "sk", job.APIKey)
	assert.Equal(t, 3, job.Count)
	assert.True(t, job.Download)
	assert.Equal(t, catalog.ModelFlash, job.Request.Model)
	assert.Equal(t, "9:16", job.Request.AspectRatio)
	assert.Equal(t, "a cat", job.Request.Prompt)
	assert.Equal(t, "极速版 (Flash) - Gemini 2.5", job.ModelLabel)
	assert.Equal(t, "9:16 (竖屏 Portrait)", job.RatioLabel)
	assert.Len(t, job.Request.Images, 3, "first four kept, one of them broken")

	assert.Equal(t, 2, report.Dropped)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "broken.png")
	assert.Equal(t, report.Warnings, obs.warnings)

	snap, _ := f.svc.GetSession(f.sessionID)
	assert.Equal(t, "a cat", snap.Prompt)
}

func TestService_GenerateDefaults(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Generate(context.Background(), f.sessionID, &GenerateInput{
		APIKey:     "sk",
		References: []imageproc.Reference{pngRef(t, "a.png")},
	}, nil)
	require.NoError(t, err)

	job := f.runner.jobs[0]
	assert.Equal(t, 1, job.Count)
	assert.Equal(t, catalog.DefaultModel().ID, job.Request.Model)
	assert.Equal(t, catalog.DefaultRatio().ID, job.Request.AspectRatio)
	assert.Equal(t, "默认", job.Request.Prompt)
}

func TestService_GenerateRunError(t *testing.T) {
	f := newFixture(t)
	f.runner.err = orchestrator.ErrMissingAPIKey

	_, err := f.svc.Generate(context.Background(), f.sessionID, &GenerateInput{
		APIKey:     "sk",
		References: []imageproc.Reference{pngRef(t, "a.png")},
	}, nil)
	assert.Equal(t, "MISSING_API_KEY", code(t, err))

	f.runner.err = errors.New("boom")
	_, err = f.svc.Generate(context.Background(), f.sessionID, &GenerateInput{
		APIKey:     "sk",
		References: []imageproc.Reference{pngRef(t, "a.png")},
	}, nil)
	assert.Equal(t, "INTERNAL_ERROR", code(t, err))
}

func TestService_GenerateUnknownSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Generate(context.Background(), uuid.New(), &GenerateInput{APIKey: "sk"}, nil)
	assert.Equal(t, "NOT_FOUND", code(t, err))
}

func TestService_Download(t *testing.T) {
	f := newFixture(t)

	artifact, err := f.svc.Download(context.Background(), "https://cdn/a.png", 0)
	require.NoError(t, err)
	assert.Equal(t, "f.png", artifact.Filename)

	_, err = f.svc.Download(context.Background(), "https://cdn/a.png", -1)
	assert.Equal(t, "BAD_REQUEST", code(t, err))

	f.downloader.err = download.ErrInvalidURL
	_, err = f.svc.Download(context.Background(), "file:///x", 0)
	assert.Equal(t, "BAD_REQUEST", code(t, err))

	f.downloader.err = &download.StatusError{StatusCode: http.StatusNotFound}
	_, err = f.svc.Download(context.Background(), "https://cdn/a.png", 0)
	assert.Equal(t, "UPSTREAM_ERROR", code(t, err))
	assert.Contains(t, err.Error(), "404")
}
