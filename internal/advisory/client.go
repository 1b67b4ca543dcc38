// Package advisory — клиент генеративного API (Gemini generateContent через genai). Любой сбой превращается в
// ErrUnavailable, а хелперы подставляют фиксированный ответ: ядро никогда не ждёт советника дольше таймаута.
package advisory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/agrilink/internal/logger"
)

// ErrUnavailable — сервис не настроен, недоступен или ответил некорректно.
var ErrUnavailable = errors.New("advisory service unavailable")

type Mode string

const (
	ModeMediator    Mode = "mediator"
	ModeNegotiation Mode = "negotiation"
	ModeDamage      Mode = "damage"
	ModeWeather     Mode = "weather"
	ModeAssistant   Mode = "assistant"
	ModeGuidance    Mode = "guidance"
	ModeHarvest     Mode = "harvest"
)

// Context — где находится пользователь в приложении.
type Context struct {
	Location string `json:"location,omitempty"`
	Weather  string `json:"weather,omitempty"`
	Page     string `json:"page,omitempty"`
	UserRole string `json:"user_role,omitempty"`
}

// Request — один запрос к советнику: текст или изображение, язык и режим.
type Request struct {
	Mode     Mode
	Prompt   string
	Context  *Context
	Image    []byte
	MimeType string
	Language string
	// JSON требует ответ application/json.
	JSON bool
}

// Counter считает исходы запросов (metrics).
type Counter interface {
	AdvisoryResult(mode string, ok bool)
}

type Client struct {
	api     *genai.Client
	model   string
	timeout time.Duration
	counter Counter
}

// NewClient — пустой apiKey означает «всегда заглушки». baseURL — корень API без версии;
// пустой оставляет адрес по умолчанию.
func NewClient(baseURL, apiKey, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := &Client{model: model, timeout: timeout}
	if apiKey == "" {
		return c
	}
	gc, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: baseURL},
		HTTPClient:  &http.Client{Timeout: timeout},
	})
	if err != nil {
		logger.Errorf("advisory NewClient: %v", err)
		return c
	}
	c.api = gc
	return c
}

func (c *Client) WithCounter(counter Counter) *Client {
	c.counter = counter
	return c
}

func (c *Client) Enabled() bool {
	return c != nil && c.api != nil
}

func (r Request) buildPrompt() string {
	var b strings.Builder
	if r.Language != "" {
		fmt.Fprintf(&b, "Language: %s (reply in this language)\n", r.Language)
	}
	if r.Context != nil {
		fmt.Fprintf(&b, "Context: location=%q weather=%q page=%q role=%q\n",
			r.Context.Location, r.Context.Weather, r.Context.Page, r.Context.UserRole)
	}
	b.WriteString(r.Prompt)
	return b.String()
}

// Generate возвращает текст ответа или ErrUnavailable.
func (c *Client) Generate(ctx context.Context, req Request) (text string, err error) {
	defer logger.DeferLogDuration("advisory."+string(req.Mode), time.Now())()
	defer func() {
		if c.counter != nil {
			c.counter.AdvisoryResult(string(req.Mode), err == nil)
		}
	}()
	if !c.Enabled() {
		return "", fmt.Errorf("%w: not configured", ErrUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var parts []*genai.Part
	if len(req.Image) > 0 {
		mime := req.MimeType
		if mime == "" {
			mime = "image/jpeg"
		}
		parts = append(parts, genai.NewPartFromBytes(req.Image, mime))
	}
	parts = append(parts, genai.NewPartFromText(req.buildPrompt()))
	var cfg *genai.GenerateContentConfig
	if req.JSON {
		cfg = &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}
	}

	resp, err := c.api.Models.GenerateContent(ctx, c.model, []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, cfg)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	text = strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("%w: empty response", ErrUnavailable)
	}
	return text, nil
}

// GenerateJSON декодирует ответ в dst. Некорректный JSON — ErrUnavailable.
func (c *Client) GenerateJSON(ctx context.Context, req Request, dst any) error {
	req.JSON = true
	text, err := c.Generate(ctx, req)
	if err != nil {
		return err
	}
	text = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(text), "```json"), "```")
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), dst); err != nil {
		return fmt.Errorf("%w: bad json: %v", ErrUnavailable, err)
	}
	return nil
}
