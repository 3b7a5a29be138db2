package studio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuhu/studio/internal/module/studio/catalog"
	"github.com/wuhu/studio/internal/module/studio/orchestrator"
	"github.com/wuhu/studio/internal/module/studio/session"
	"github.com/wuhu/studio/internal/shared/config"
	"github.com/wuhu/studio/internal/utils/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// newRemote serves the chat endpoint, the health probe and the generated image.
func newRemote(t *testing.T) *httptest.Server {
	t.Helper()
	imageData := pngBytes(t)

	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		content := fmt.Sprintf("![img](%s/files/out.png)", srv.URL)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": content}}},
		})
	})
	mux.HandleFunc("/files/out.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(imageData)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		Remote: config.RemoteConfig{
			BaseURL:         baseURL,
			TranslationMode: config.TranslationModeLiteral,
		},
		Studio: config.StudioConfig{
			MaxReferences:  4,
			MaxCount:       8,
			MaxUploadBytes: 8 << 20,
			DefaultPrompt:  "default prompt",
		},
	}
}

func TestNewModule_RequiresConfig(t *testing.T) {
	_, err := NewModule(nil)
	assert.Error(t, err)

	_, err = NewModule(&Config{})
	assert.Error(t, err)

	_, err = NewModule(&Config{Config: &config.Config{}})
	assert.Error(t, err, "empty base url")
}

func TestModule_StartStop(t *testing.T) {
	remote := newRemote(t)
	m, err := NewModule(&Config{Config: testConfig(remote.URL)})
	require.NoError(t, err)

	require.NoError(t, m.Start(context.Background()))
	status := m.Health()
	assert.True(t, status.Healthy, "auth rejection counts as reachable")
	assert.False(t, status.LastCheck.IsZero())

	m.Stop()
	m.Stop()
}

func TestModule_GenerateOverHTTP(t *testing.T) {
	remote := newRemote(t)
	reg := prometheus.NewRegistry()
	met := metrics.NewWithRegistry("test", reg)

	m, err := NewModule(&Config{Config: testConfig(remote.URL), Metrics: met})
	require.NoError(t, err)

	r := gin.New()
	m.RegisterRoutes(r.Group("/api/v1"))

	// create a session
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil))
	require.Equal(t, http.StatusCreated, w.Code)
	var snap session.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, "default prompt", snap.Prompt)

	// run two generations with one reference
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("prompt", "a red square"))
	require.NoError(t, mw.WriteField("model", catalog.ModelFlash))
	require.NoError(t, mw.WriteField("ratio", "1:1"))
	require.NoError(t, mw.WriteField("count", "2"))
	require.NoError(t, mw.WriteField("download", "true"))
	fw, err := mw.CreateFormFile("images", "ref.png")
	require.NoError(t, err)
	_, err = fw.Write(pngBytes(t))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+snap.ID.String()+"/generations", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer sk-test")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var report orchestrator.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 2, report.Succeeded)
	require.Len(t, report.Outcomes, 2)
	assert.Equal(t, remote.URL+"/files/out.png", report.Outcomes[0].Result.URL)
	require.NotNil(t, report.Outcomes[1].Artifact)
	assert.Equal(t, "image/png", report.Outcomes[1].Artifact.ContentType)

	// the session kept the prompt and both images
	state, err := m.Sessions().Get(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, "a red square", state.Prompt())
	assert.Equal(t, 2, state.Len())

	assert.Equal(t, float64(2), testutil.ToFloat64(met.GenerationsTotal.WithLabelValues(catalog.ModelFlash, "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(met.ActiveSessions))
}
