// Package ollama summarizes press releases with a local Ollama model.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/press-digest/internal/digest"
	"github.com/JakeFAU/press-digest/internal/metrics"
)

const (
	defaultHost          = "ollama"
	defaultPort          = 11434
	defaultModel         = "qwen2.5:0.5b"
	defaultTimeout       = 30 * time.Second
	defaultHealthTimeout = 5 * time.Second
	defaultMaxInputRunes = 2000

	temperature = 0.3
	numPredict  = 150

	// PlaceholderPoint pads responses with fewer than three points.
	PlaceholderPoint = "Detail unavailable"
	emptyBody        = "No content available"
)

// DegradedPoints are returned whenever the backend call fails.
var DegradedPoints = []string{"Summary generation failed", "Error in processing", "Please retry"}

// Config describes how to reach the Ollama server.
type Config struct {
	Host          string
	Port          int
	Model         string
	Timeout       time.Duration
	HealthTimeout time.Duration
	MaxInputRunes int
	// BaseURL overrides Host and Port when set.
	BaseURL string
}

// Summarizer implements digest.Summarizer against the Ollama HTTP API.
type Summarizer struct {
	cfg     Config
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// New creates a Summarizer. client may be nil.
func New(cfg Config, client *http.Client, logger *zap.Logger) *Summarizer {
	if cfg.Host == "" {
		cfg.Host = defaultHost
	}
	if cfg.Port <= 0 {
		cfg.Port = defaultPort
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = defaultHealthTimeout
	}
	if cfg.MaxInputRunes <= 0 {
		cfg.MaxInputRunes = defaultMaxInputRunes
	}
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "http://" + net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	}
	return &Summarizer{
		cfg:     cfg,
		baseURL: base,
		client:  client,
		logger:  logger.Named("ollama"),
	}
}

// HealthCheck reports whether the tags endpoint answers 200 within the
// health timeout.
func (s *Summarizer) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.HealthTimeout)
	defer cancel()

	healthy := s.probe(ctx)
	metrics.SetBackendHealthy(healthy)
	return healthy
}

func (s *Summarizer) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/tags", http.NoBody)
	if err != nil {
		s.logger.Error("failed to create health check request", zap.Error(err))
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error("health check request failed", zap.String("url", s.baseURL), zap.Error(err))
		return false
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		s.logger.Error("backend not healthy", zap.Int("status", resp.StatusCode))
		return false
	}
	return true
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Summarize never fails: any backend problem yields a degraded draft.
func (s *Summarizer) Summarize(ctx context.Context, body, title string) digest.SummaryDraft {
	text, err := s.generate(ctx, BuildPrompt(body, title, s.cfg.MaxInputRunes))
	if err != nil {
		s.logger.Error("summarization failed", zap.String("title", digest.TruncateRunes(title, 80)), zap.Error(err))
		return Degraded()
	}
	points := ExtractKeyPoints(text)
	return digest.SummaryDraft{
		SummaryText: FormatPoints(points),
		KeyPoints:   points,
		PointCount:  digest.CountWords(points),
		BackendUsed: s.cfg.Model,
	}
}

func (s *Summarizer) generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	payload, err := json.Marshal(generateRequest{
		Model:   s.cfg.Model,
		Prompt:  prompt,
		Stream:  false,
		Options: generateOptions{Temperature: temperature, NumPredict: numPredict},
	})
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call generate endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("generate endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode generate response: %w", err)
	}
	text := strings.TrimSpace(out.Response)
	if text == "" {
		return "", fmt.Errorf("generate endpoint returned an empty response")
	}
	return text, nil
}

// BuildPrompt renders the three-bullet instruction for one document.
func BuildPrompt(body, title string, maxInputRunes int) string {
	body = digest.TruncateRunes(body, maxInputRunes)
	if strings.TrimSpace(body) == "" {
		body = emptyBody
	}
	if strings.TrimSpace(title) == "" {
		title = digest.DefaultTitle
	}

	var b strings.Builder
	b.WriteString("Summarize this SEC press release into EXACTLY 3 bullet points.\n")
	b.WriteString("Each bullet point should be concise and factual.\n")
	b.WriteString("Total word count for all 3 bullets must be ≤50 words.\n\n")
	b.WriteString("Title: ")
	b.WriteString(title)
	b.WriteString("\n\nContent:\n")
	b.WriteString(body)
	b.WriteString("\n\nFormat your response as:\n")
	b.WriteString("• First key point\n• Second key point\n• Third key point")
	return b.String()
}

// ExtractKeyPoints turns free text into exactly digest.KeyPointCount points.
// Bullet lines win; otherwise sentence fragments are used; gaps are padded.
func ExtractKeyPoints(text string) []string {
	var points []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if isBullet(line) {
			if p := stripBullet(line); p != "" {
				points = append(points, p)
			}
		}
	}

	if len(points) < digest.KeyPointCount {
		points = points[:0]
		// Fragments of a short bulleted reply still start with a marker.
		for _, frag := range strings.Split(text, ".") {
			if p := stripBullet(strings.TrimSpace(frag)); p != "" {
				points = append(points, p)
			}
			if len(points) == digest.KeyPointCount {
				break
			}
		}
	}

	for len(points) < digest.KeyPointCount {
		points = append(points, PlaceholderPoint)
	}
	return points[:digest.KeyPointCount]
}

// FormatPoints renders points as a bulleted block.
func FormatPoints(points []string) string {
	lines := make([]string, len(points))
	for i, p := range points {
		lines[i] = "• " + p
	}
	return strings.Join(lines, "\n")
}

// Degraded returns the placeholder draft stored when the backend fails.
func Degraded() digest.SummaryDraft {
	points := append([]string(nil), DegradedPoints...)
	return digest.SummaryDraft{
		SummaryText: FormatPoints(points),
		KeyPoints:   points,
		PointCount:  digest.CountWords(points),
		BackendUsed: digest.DegradedBackend,
	}
}

func isBullet(line string) bool {
	return strings.HasPrefix(line, "•") || strings.HasPrefix(line, "-") || strings.HasPrefix(line, "*")
}

func stripBullet(s string) string {
	return strings.TrimSpace(strings.TrimLeft(s, "•-* "))
}
