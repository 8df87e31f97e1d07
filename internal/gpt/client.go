// internal/gpt/client.go
package gpt

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"etinuxe/internal/models"
	"etinuxe/internal/pricing"
)

type Client struct {
	client *openai.Client
	model  string
}

func NewClient(apiKey string) *Client {
	return &Client{
		client: openai.NewClient(apiKey),
		model:  openai.GPT4oMini,
	}
}

// NewClientWithBaseURL points the client at an OpenAI-compatible endpoint.
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &Client{
		client: openai.NewClientWithConfig(cfg),
		model:  openai.GPT4oMini,
	}
}

func (c *Client) WithModel(model string) *Client {
	if model != "" {
		c.model = model
	}
	return c
}

// HealthNarrative turns a scored lifestyle survey into a short summary for the
// candidate. The score and bucket are given to the model, never asked of it.
func (c *Client) HealthNarrative(ctx context.Context, survey models.HealthSurvey, a pricing.HealthAssessment) (string, error) {
	risks := "none"
	if len(a.Risks) > 0 {
		risks = strings.Join(a.Risks, ", ")
	}

	prompt := fmt.Sprintf(
		"Summarise the health of a miniaturization candidate in at most four sentences.\n"+
			"- Health score: %d/100 (%s)\n"+
			"- Sleep: %.1f hours per night\n"+
			"- Exercise: %d minutes per week\n"+
			"- Diet quality: %d/5\n"+
			"- Stress level: %d/5\n"+
			"- Chronic condition: %t\n"+
			"- Alcohol: %d units per week\n"+
			"- Smoker: %t\n"+
			"- Meditation: %d minutes per week\n"+
			"- Hydration: %.1f litres per day\n"+
			"- Flagged risks: %s\n\n"+
			"Do not change the score. End with one concrete recommendation.",
		a.Score, a.Bucket,
		survey.SleepHours, survey.ExerciseMinutesPerWeek, survey.DietQuality, survey.StressLevel,
		survey.ChronicCondition, survey.AlcoholUnitsPerWeek, survey.Smoker,
		survey.MeditationMinutesPerWeek, survey.HydrationLitersPerDay, risks,
	)

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are a clinical intake assistant. Be factual and encouraging.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		MaxTokens:   300,
		Temperature: 0.4,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from GPT API")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
