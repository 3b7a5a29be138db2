package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wuhu/studio/internal/module/studio/catalog"
	"github.com/wuhu/studio/internal/module/studio/chat"
	"github.com/wuhu/studio/internal/module/studio/download"
	"github.com/wuhu/studio/internal/module/studio/imageproc"
	"github.com/wuhu/studio/internal/module/studio/orchestrator"
	"github.com/wuhu/studio/internal/module/studio/session"
	apperrors "github.com/wuhu/studio/internal/shared/errors"
)

// AcceptedUploadTypes lists the reference image extensions offered by the upload form.
var AcceptedUploadTypes = []string{"png", "jpg", "jpeg", "webp"}

// Translator translates prompt text to English.
type Translator interface {
	Translate(ctx context.Context, apiKey, text string) (string, error)
}

// Runner runs a generation job.
type Runner interface {
	Run(ctx context.Context, state *session.State, job *orchestrator.Job, obs orchestrator.Observer) (*orchestrator.Report, error)
}

// Config contains service limits.
type Config struct {
	MaxCount      int
	DefaultPrompt string
}

// Service validates user input and drives the studio components.
type Service struct {
	processor  *imageproc.Processor
	translator Translator
	runner     Runner
	downloader orchestrator.Downloader
	sessions   *session.Manager
	config     *Config
	logger     *zap.Logger
}

// NewService creates a studio service.
func NewService(
	processor *imageproc.Processor,
	translator Translator,
	runner Runner,
	downloader orchestrator.Downloader,
	sessions *session.Manager,
	cfg *Config,
	logger *zap.Logger,
) *Service {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.MaxCount <= 0 {
		cfg.MaxCount = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		processor:  processor,
		translator: translator,
		runner:     runner,
		downloader: downloader,
		sessions:   sessions,
		config:     cfg,
		logger:     logger.Named("studio"),
	}
}

// Catalog describes the selectable models and ratios and the input limits.
type Catalog struct {
	Models        []catalog.Entry `json:"models"`
	Ratios        []catalog.Entry `json:"ratios"`
	DefaultModel  catalog.Entry   `json:"default_model"`
	DefaultRatio  catalog.Entry   `json:"default_ratio"`
	DefaultPrompt string          `json:"default_prompt"`
	MaxReferences int             `json:"max_references"`
	MinCount      int             `json:"min_count"`
	MaxCount      int             `json:"max_count"`
	UploadTypes   []string        `json:"upload_types"`
}

// Catalog returns the static option lists.
func (s *Service) Catalog() *Catalog {
	return &Catalog{
		Models:        catalog.Models(),
		Ratios:        catalog.Ratios(),
		DefaultModel:  catalog.DefaultModel(),
		DefaultRatio:  catalog.DefaultRatio(),
		DefaultPrompt: s.config.DefaultPrompt,
		MaxReferences: s.processor.MaxImages(),
		MinCount:      1,
		MaxCount:      s.config.MaxCount,
		UploadTypes:   append([]string(nil), AcceptedUploadTypes...),
	}
}

// ===== Sessions =====

// CreateSession starts a new session.
func (s *Service) CreateSession() session.Snapshot {
	return s.sessions.Create().Snapshot()
}

// GetSession returns a session snapshot.
func (s *Service) GetSession(id uuid.UUID) (session.Snapshot, error) {
	state, err := s.session(id)
	if err != nil {
		return session.Snapshot{}, err
	}
	return state.Snapshot(), nil
}

// DeleteSession ends a session.
func (s *Service) DeleteSession(id uuid.UUID) error {
	if err := s.sessions.Delete(id); err != nil {
		return apperrors.NotFound("session")
	}
	return nil
}

// SetPrompt replaces the session prompt text.
func (s *Service) SetPrompt(id uuid.UUID, prompt string) (session.Snapshot, error) {
	state, err := s.session(id)
	if err != nil {
		return session.Snapshot{}, err
	}
	state.SetPrompt(prompt)
	return state.Snapshot(), nil
}

// History returns the session history, oldest first.
func (s *Service) History(id uuid.UUID) ([]session.HistoryEntry, error) {
	state, err := s.session(id)
	if err != nil {
		return nil, err
	}
	return state.History(), nil
}

// ClearHistory empties the session history.
func (s *Service) ClearHistory(id uuid.UUID) error {
	state, err := s.session(id)
	if err != nil {
		return err
	}
	state.Clear()
	return nil
}

func (s *Service) session(id uuid.UUID) (*session.State, error) {
	state, err := s.sessions.Get(id)
	if err != nil {
		return nil, apperrors.NotFound("session")
	}
	return state, nil
}

// ===== Translation =====

// Translate translates text, or the session prompt when text is blank, and stores the
// result as the new session prompt.
func (s *Service) Translate(ctx context.Context, id uuid.UUID, apiKey, text string) (string, error) {
	state, err := s.session(id)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(apiKey) == "" {
		return "", apperrors.MissingAPIKey()
	}
	if strings.TrimSpace(text) == "" {
		text = state.Prompt()
	}
	if strings.TrimSpace(text) == "" {
		return "", apperrors.ValidationError("EMPTY_PROMPT", "nothing to translate")
	}

	translated, err := s.translator.Translate(ctx, apiKey, text)
	if err != nil {
		return "", apperrors.Upstream("翻译失败: "+err.Error(), err)
	}

	state.SetPrompt(translated)
	return translated, nil
}

// ===== Generation =====

// GenerateInput is one generation run as submitted by the user.
type GenerateInput struct {
	APIKey     string
	Prompt     string
	Model      string
	Ratio      string
	Count      int
	Download   bool
	References []imageproc.Reference
}

// Generate validates the input, preprocesses the references and runs the loop.
func (s *Service) Generate(ctx context.Context, id uuid.UUID, in *GenerateInput, obs orchestrator.Observer) (*orchestrator.Report, error) {
	state, err := s.session(id)
	if err != nil {
		return nil, err
	}
	job, refs, err := s.validate(state, in)
	if err != nil {
		return nil, err
	}
	if obs == nil {
		obs = orchestrator.NopObserver{}
	}

	dropped := 0
	if limit := s.processor.MaxImages(); len(refs) > limit {
		dropped = len(refs) - limit
	}

	images, decodeErrs := s.processor.Preprocess(refs)
	warnings := make([]string, 0, len(decodeErrs))
	for _, e := range decodeErrs {
		msg := "图片处理失败 " + e.Error()
		var decErr *imageproc.DecodeError
		if errors.As(e, &decErr) && decErr.Name != "" {
			msg = fmt.Sprintf("图片处理失败 %s: %v", decErr.Name, decErr.Err)
		}
		warnings = append(warnings, msg)
		obs.OnWarning(msg)
	}

	job.Request = chat.NewGenerationRequest(job.Request.Prompt, images, job.Request.Model, job.Request.AspectRatio)

	s.logger.Info("generation requested",
		zap.String("session_id", id.String()),
		zap.String("model", job.Request.Model),
		zap.String("aspect_ratio", job.Request.AspectRatio),
		zap.Int("count", job.Count),
		zap.Int("references", len(images)),
		zap.Int("dropped", dropped))

	report, err := s.runner.Run(ctx, state, job, obs)
	if err != nil {
		return nil, s.runError(err)
	}
	report.Dropped = dropped
	report.Warnings = append(warnings, report.Warnings...)
	return report, nil
}

// validate checks the run preconditions in order: API key, references, count, model, ratio.
func (s *Service) validate(state *session.State, in *GenerateInput) (*orchestrator.Job, []imageproc.Reference, error) {
	if in == nil {
		return nil, nil, apperrors.BadRequest("missing generation input")
	}
	if strings.TrimSpace(in.APIKey) == "" {
		return nil, nil, apperrors.MissingAPIKey()
	}
	if len(in.References) == 0 {
		return nil, nil, apperrors.NoReferenceImages()
	}

	count := in.Count
	if count == 0 {
		count = 1
	}
	if count < 1 || count > s.config.MaxCount {
		return nil, nil, apperrors.ValidationError("INVALID_COUNT",
			fmt.Sprintf("count must be between 1 and %d", s.config.MaxCount))
	}

	model := catalog.DefaultModel()
	if in.Model != "" {
		var ok bool
		if model, ok = catalog.LookupModel(in.Model); !ok {
			return nil, nil, apperrors.ValidationError("UNKNOWN_MODEL", fmt.Sprintf("unknown model %q", in.Model))
		}
	}
	ratio := catalog.DefaultRatio()
	if in.Ratio != "" {
		var ok bool
		if ratio, ok = catalog.LookupRatio(in.Ratio); !ok {
			return nil, nil, apperrors.ValidationError("UNKNOWN_RATIO", fmt.Sprintf("unknown aspect ratio %q", in.Ratio))
		}
	}

	prompt := in.Prompt
	if strings.TrimSpace(prompt) == "" {
		prompt = state.Prompt()
	} else {
		state.SetPrompt(prompt)
	}

	return &orchestrator.Job{
		APIKey:     in.APIKey,
		Request:    chat.NewGenerationRequest(prompt, nil, model.ID, ratio.ID),
		Count:      count,
		ModelLabel: model.Label,
		RatioLabel: ratio.Label,
		Download:   in.Download,
	}, in.References, nil
}

func (s *Service) runError(err error) error {
	switch {
	case errors.Is(err, orchestrator.ErrMissingAPIKey):
		return apperrors.MissingAPIKey()
	case errors.Is(err, orchestrator.ErrInvalidCount):
		return apperrors.ValidationError("INVALID_COUNT", err.Error())
	default:
		return apperrors.Internal("generation run failed", err)
	}
}

// ===== Download =====

// Download fetches one generated image for saving.
func (s *Service) Download(ctx context.Context, url string, index int) (*download.Artifact, error) {
	if index < 0 {
		return nil, apperrors.BadRequest("index must not be negative")
	}
	artifact, err := s.downloader.Fetch(ctx, url, index)
	if err != nil {
		var statusErr *download.StatusError
		switch {
		case errors.Is(err, download.ErrInvalidURL):
			return nil, apperrors.BadRequest(err.Error())
		case errors.As(err, &statusErr):
			return nil, apperrors.Upstream(err.Error(), err)
		case errors.Is(err, download.ErrTooLarge):
			return nil, apperrors.Upstream(err.Error(), err)
		default:
			return nil, apperrors.Upstream("download failed", err)
		}
	}
	return artifact, nil
}
