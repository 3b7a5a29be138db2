package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wuhu/studio/internal/module/studio/chat"
	"github.com/wuhu/studio/internal/module/studio/extract"
	"github.com/wuhu/studio/internal/module/studio/session"
	"github.com/wuhu/studio/internal/utils/metrics"
)

// NoURLDiagnostic is reported when a reply carries no content at all.
const NoURLDiagnostic = "no image URL in response"

const completedMessage = "✅ 所有任务已完成！"

var (
	ErrMissingAPIKey = errors.New("api key is required")
	ErrInvalidCount  = errors.New("count must be at least 1")
	ErrNoRequest     = errors.New("generation request is required")
)

// Config contains loop configuration.
type Config struct {
	PacingDelay time.Duration
}

// DefaultConfig returns the default loop configuration.
func DefaultConfig() *Config {
	return &Config{PacingDelay: 2 * time.Second}
}

// Loop runs N sequential generations for one session.
type Loop struct {
	generator  Generator
	downloader Downloader
	clock      Clock
	config     *Config
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewLoop creates a loop. downloader may be nil when downloads are never requested; clock
// defaults to the wall clock.
func NewLoop(generator Generator, downloader Downloader, clock Clock, cfg *Config, logger *zap.Logger, m *metrics.Metrics) *Loop {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		generator:  generator,
		downloader: downloader,
		clock:      clock,
		config:     cfg,
		logger:     logger.Named("orchestrator"),
		metrics:    m,
	}
}

// Run performs job.Count generations one after another, reusing job.Request for each.
// Failures inside the run are reported per iteration; the returned error is only set when
// the run could not start.
func (l *Loop) Run(ctx context.Context, state *session.State, job *Job, obs Observer) (*Report, error) {
	if job == nil || job.Request == nil {
		return nil, ErrNoRequest
	}
	if strings.TrimSpace(job.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if job.Count < 1 {
		return nil, ErrInvalidCount
	}
	if obs == nil {
		obs = NopObserver{}
	}

	report := &Report{
		RunID:     uuid.New(),
		Total:     job.Count,
		Outcomes:  make([]Outcome, 0, job.Count),
		StartedAt: l.clock.Now(),
	}
	log := l.logger.With(
		zap.String("run_id", report.RunID.String()),
		zap.String("model", job.Request.Model),
		zap.Int("count", job.Count))
	log.Info("run started", zap.Int("references", len(job.Request.Images)))

	for i := 0; i < job.Count; i++ {
		obs.OnStatus(Status{
			Index:   i,
			Total:   job.Count,
			Message: fmt.Sprintf("正在生成第 %d / %d 张图片... (排队中)", i+1, job.Count),
		})

		if i > 0 {
			if err := l.clock.Sleep(ctx, l.config.PacingDelay); err != nil {
				log.Warn("pacing delay interrupted", zap.Error(err))
			}
		}

		start := l.clock.Now()
		completion, err := l.generator.Generate(ctx, job.APIKey, job.Request)
		result := Classify(completion, err)
		l.metrics.RecordGeneration(job.Request.Model, result.Success(), l.clock.Now().Sub(start))

		outcome := Outcome{Index: i, Slot: i % 2, Result: result}
		if result.Success() {
			outcome.Title = fmt.Sprintf("图片 #%d 生成成功", i+1)
			outcome.DownloadLink = fmt.Sprintf("[📥 点击下载原图](%s)", result.URL)
			report.Succeeded++
		} else {
			outcome.Title = fmt.Sprintf("图片 #%d 生成失败", i+1)
			report.Failed++
			log.Warn("generation failed", zap.Int("index", i), zap.String("diagnostic", result.Diagnostic))
		}
		obs.OnResult(outcome)

		if result.Success() {
			if job.Download && l.downloader != nil {
				artifact, err := l.downloader.Fetch(ctx, result.URL, i)
				if err != nil {
					msg := fmt.Sprintf("图片 #%d 下载失败: %v", i+1, err)
					report.Warnings = append(report.Warnings, msg)
					obs.OnWarning(msg)
				} else {
					outcome.Artifact = artifact
					obs.OnDownload(i, artifact)
				}
			}

			if state != nil {
				state.Append(session.HistoryEntry{
					URL:        result.URL,
					Prompt:     job.Request.Prompt,
					Timestamp:  l.clock.Now(),
					ModelLabel: job.ModelLabel,
					RatioLabel: job.RatioLabel,
				})
			}
		}

		report.Outcomes = append(report.Outcomes, outcome)
		obs.OnProgress(Progress{Done: i + 1, Total: job.Count, Ratio: float64(i+1) / float64(job.Count)})
	}

	report.Message = completedMessage
	report.FinishedAt = l.clock.Now()
	obs.OnCompleted(report)

	log.Info("run completed",
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)))
	return report, nil
}

// Classify turns one generation call into a Result. A call error becomes a failure with
// the error text as diagnostic; a reply without an http URL becomes a failure carrying the
// raw content.
func Classify(completion *chat.Completion, err error) Result {
	if err != nil {
		return Result{Status: StatusFailure, Diagnostic: err.Error()}
	}
	if completion == nil {
		return Result{Status: StatusFailure, Diagnostic: NoURLDiagnostic}
	}

	if url, ok := extract.ImageURL(completion.Content); ok && strings.HasPrefix(url, "http") {
		return Result{Status: StatusSuccess, URL: url}
	}

	diagnostic := completion.Content
	if strings.TrimSpace(diagnostic) == "" {
		diagnostic = NoURLDiagnostic
	}
	return Result{Status: StatusFailure, Diagnostic: diagnostic}
}
