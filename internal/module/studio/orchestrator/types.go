package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/wuhu/studio/internal/module/studio/chat"
	"github.com/wuhu/studio/internal/module/studio/download"
)

// Generator issues one generation call.
type Generator interface {
	Generate(ctx context.Context, apiKey string, req *chat.GenerationRequest) (*chat.Completion, error)
}

// Downloader fetches a generated image.
type Downloader interface {
	Fetch(ctx context.Context, url string, index int) (*download.Artifact, error)
}

// Clock abstracts time so the pacing delay can be observed in tests.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// RealClock is the wall clock.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time { return time.Now() }

// Sleep blocks for d or until ctx is done.
func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ResultStatus classifies one generation.
type ResultStatus string

const (
	StatusSuccess ResultStatus = "success"
	StatusFailure ResultStatus = "failure"
)

// Result is the classified outcome of one generation call. Diagnostic is set on failure
// and is shown to the user verbatim.
type Result struct {
	Status     ResultStatus `json:"status"`
	URL        string       `json:"url,omitempty"`
	Diagnostic string       `json:"diagnostic,omitempty"`
}

// Success reports whether the result carries an image URL.
func (r Result) Success() bool { return r.Status == StatusSuccess }

// Job is the input of one run.
type Job struct {
	APIKey     string
	Request    *chat.GenerationRequest
	Count      int
	ModelLabel string
	RatioLabel string
	Download   bool
}

// Outcome is the result of iteration Index, placed in display column Slot.
type Outcome struct {
	Index        int                `json:"index"`
	Slot         int                `json:"slot"`
	Title        string             `json:"title"`
	Result       Result             `json:"result"`
	DownloadLink string             `json:"download_link,omitempty"`
	Artifact     *download.Artifact `json:"artifact,omitempty"`
}

// Report summarizes a finished run.
type Report struct {
	RunID      uuid.UUID `json:"run_id"`
	Total      int       `json:"total"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Dropped    int       `json:"dropped"`
	Outcomes   []Outcome `json:"outcomes"`
	Warnings   []string  `json:"warnings,omitempty"`
	Message    string    `json:"message"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Status announces that iteration Index is queued.
type Status struct {
	Index   int    `json:"index"`
	Total   int    `json:"total"`
	Message string `json:"message"`
}

// Progress reports Done of Total iterations finished.
type Progress struct {
	Done  int     `json:"done"`
	Total int     `json:"total"`
	Ratio float64 `json:"ratio"`
}

// Observer receives run events in order. Calls happen on the run goroutine.
type Observer interface {
	OnStatus(Status)
	OnResult(Outcome)
	OnDownload(index int, artifact *download.Artifact)
	OnWarning(message string)
	OnProgress(Progress)
	OnCompleted(*Report)
}

// NopObserver ignores all events. Embed it to implement a subset of Observer.
type NopObserver struct{}

func (NopObserver) OnStatus(Status) {}
func (NopObserver) OnResult(Outcome) {}
func (NopObserver) OnDownload(int, *download.Artifact) {}
func (NopObserver) OnWarning(string) {}
func (NopObserver) OnProgress(Progress) {}
func (NopObserver) OnCompleted(*Report) {}
