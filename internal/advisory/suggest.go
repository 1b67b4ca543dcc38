package advisory

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/agrilink/internal/logger"
)

// Ответы на случай недоступности сервиса.
const (
	FallbackMediator    = "As an AI Mediator, I suggest a 5-10% compromise from both sides to close the deal effectively."
	FallbackNegotiation = "Based on market rates, a 5-10% discount for bulk orders is standard fair practice."
	FallbackDamage      = "Visual analysis suggests significant damage likely due to excess moisture or pest infestation. Recommend immediate salvage of remaining healthy crop."
	FallbackWeather     = "Ensure proper irrigation and check for pests."
	FallbackAssistant   = "I am having trouble connecting to the farm network. Please check your internet."
)

func fallback(mode Mode, err error) {
	logger.Warnf("advisory %s: %v, using fallback", mode, err)
}

// Mediate — нейтральная подсказка посредника по истории переговоров.
func (c *Client) Mediate(ctx context.Context, history string) string {
	prompt := `Act as an impartial AI Mediator for an agricultural marketplace trade between a Farmer and a Buyer.
Analyze the following negotiation chat history.

Your Goal:
1. Identify the product, the farmer's price, and the buyer's offer if mentioned.
2. Suggest a fair compromise price based on typical Indian market rates (assume realistic INR values if not stated).
3. Be polite, constructive, and brief (max 2 sentences).

Chat History:
` + history + `

Mediator Response:`
	text, err := c.Generate(ctx, Request{Mode: ModeMediator, Prompt: prompt})
	if err != nil {
		fallback(ModeMediator, err)
		return FallbackMediator
	}
	return text
}

// Negotiate — совет по компромиссной цене.
func (c *Client) Negotiate(ctx context.Context, history string) string {
	text, err := c.Generate(ctx, Request{Mode: ModeNegotiation, Prompt: "Suggest a fair compromise price based on this chat:\n" + history})
	if err != nil {
		fallback(ModeNegotiation, err)
		return FallbackNegotiation
	}
	return text
}

// DamageReport — оценка ущерба урожаю по фото.
type DamageReport struct {
	Percentage int    `json:"percentage"`
	Report     string `json:"report"`
	Simulated  bool   `json:"simulated,omitempty"`
}

// EstimateDamage — процент ущерба; при сбое случайные 20..60 % и стандартный отчёт.
func (c *Client) EstimateDamage(ctx context.Context, image []byte, mimeType string) DamageReport {
	var out DamageReport
	err := c.GenerateJSON(ctx, Request{
		Mode:     ModeDamage,
		Prompt:   `Estimate damage percentage and report. Return JSON {"percentage": number, "report": string}.`,
		Image:    image,
		MimeType: mimeType,
	}, &out)
	if err == nil && (out.Percentage < 0 || out.Percentage > 100 || out.Report == "") {
		err = fmt.Errorf("%w: implausible damage report", ErrUnavailable)
	}
	if err != nil {
		fallback(ModeDamage, err)
		return DamageReport{Percentage: 20 + rand.IntN(41), Report: FallbackDamage, Simulated: true}
	}
	return out
}

// Weather — текущие условия на ферме.
type Weather struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	WindSpeed   float64 `json:"wind_speed"`
	Rain        float64 `json:"rain"`
	WeatherCode int     `json:"weather_code"`
}

// WeatherInsight — три коротких совета на сегодня.
func (c *Client) WeatherInsight(ctx context.Context, w Weather) string {
	prompt := fmt.Sprintf(`Analyze these weather conditions for a farm:
Temperature: %.1f°C
Humidity: %.0f%%
Wind: %.1f km/h
Rain: %.1f mm
Condition Code: %d

Provide 3 brief, specific actionable farming tips (irrigation, pest control, and crop protection) for today based on this weather. Output as plain text bullet points.`,
		w.Temperature, w.Humidity, w.WindSpeed, w.Rain, w.WeatherCode)
	text, err := c.Generate(ctx, Request{Mode: ModeWeather, Prompt: prompt})
	if err != nil {
		fallback(ModeWeather, err)
		return FallbackWeather
	}
	return text
}

// Assist — голосовой помощник: ответ на вопрос или (mode=guidance) приветствие для экрана.
func (c *Client) Assist(ctx context.Context, query string, actx Context, language string, mode Mode) string {
	if mode != ModeGuidance {
		mode = ModeAssistant
	}
	var prompt string
	if mode == ModeGuidance {
		prompt = fmt.Sprintf("You are 'Farmer Ji', a friendly agricultural assistant for the AgriLink app. "+
			"The user just opened the '%s' screen. Provide a very short (max 2 sentences), simple, and welcoming "+
			"voice message explaining what they can do here.", actx.Page)
	} else {
		prompt = "You are 'Farmer Ji', a friendly agricultural assistant for the AgriLink app. " +
			"Keep answers short, slow, and clear.\nUser Query: \"" + query + "\""
	}
	text, err := c.Generate(ctx, Request{Mode: mode, Prompt: prompt, Context: &actx, Language: language})
	if err != nil {
		fallback(mode, err)
		return FallbackAssistant
	}
	return text
}

// HarvestSchedule — ожидаемое окно уборки.
type HarvestSchedule struct {
	CropName         string `json:"crop_name"`
	SowingDate       string `json:"sowing_date"`
	HarvestStartDate string `json:"harvest_start_date"`
	HarvestEndDate   string `json:"harvest_end_date"`
	Notes            string `json:"notes"`
	Simulated        bool   `json:"simulated,omitempty"`
}

// PredictHarvest — при сбое окно «посев + 90 дней, две недели».
func (c *Client) PredictHarvest(ctx context.Context, cropName string, sowing time.Time) HarvestSchedule {
	out := HarvestSchedule{CropName: cropName, SowingDate: sowing.Format(time.DateOnly)}
	var data struct {
		HarvestStartDate string `json:"harvestStartDate"`
		HarvestEndDate   string `json:"harvestEndDate"`
		Notes            string `json:"notes"`
	}
	err := c.GenerateJSON(ctx, Request{
		Mode: ModeHarvest,
		Prompt: fmt.Sprintf(`Predict harvest schedule for %s sown on %s. Return JSON {"harvestStartDate": "YYYY-MM-DD", "harvestEndDate": "YYYY-MM-DD", "notes": string}.`,
			cropName, out.SowingDate),
	}, &data)
	if err == nil && data.HarvestStartDate != "" {
		out.HarvestStartDate, out.HarvestEndDate, out.Notes = data.HarvestStartDate, data.HarvestEndDate, data.Notes
		return out
	}
	if err == nil {
		err = fmt.Errorf("%w: empty schedule", ErrUnavailable)
	}
	fallback(ModeHarvest, err)
	start := sowing.AddDate(0, 0, 90)
	out.HarvestStartDate = start.Format(time.DateOnly)
	out.HarvestEndDate = start.AddDate(0, 0, 14).Format(time.DateOnly)
	out.Notes = fmt.Sprintf("Typical growth cycle for %s is ~3 months. Expect harvest around simulated dates.", cropName)
	out.Simulated = true
	return out
}
