package models

import (
	"encoding/json"
	"time"
)

type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// JSON returns the viewport as stored in the viewport column.
func (v Viewport) JSON() string {
	data, _ := json.Marshal(v)
	return string(data)
}

type SurveyResponse struct {
	ID               int64
	SessionID        string
	Interest         string
	UseCases         []string
	Frequency        string
	PainPoint        string
	PriceWilling     int
	Features         []string
	Feedback         string
	Notify           bool
	Email            string
	TimeToComplete   int64
	InteractionCount int
	UserAgent        string
	Viewport         Viewport
	Referrer         string
	CreatedAt        time.Time
}

type InteractionEvent struct {
	ID              int64
	SessionID       string
	ClientTimestamp int64
	Type            string
	Element         string
	Value           string
	Question        string
	TimeOnPage      int64
	UserAgent       string
	Viewport        Viewport
	CreatedAt       time.Time
}

// StatsSnapshot is derived from poll_responses and never authoritative.
type StatsSnapshot struct {
	TotalResponses        int64   `json:"totalResponses"`
	AverageCompletionTime float64 `json:"averageCompletionTime"`
	AverageInteractions   float64 `json:"averageInteractions"`
	AveragePriceWilling   float64 `json:"averagePriceWilling"`
	VeryInterestedCount   int64   `json:"veryInterestedCount"`
}

type InteractionTypeCount struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

type ResponseRow struct {
	Interest         string    `json:"interest"`
	UseCases         []string  `json:"use_cases"`
	PriceWilling     int       `json:"price_willing"`
	Features         []string  `json:"features"`
	TimeToComplete   int64     `json:"time_to_complete"`
	InteractionCount int       `json:"interaction_count"`
	CreatedAt        time.Time `json:"created_at"`
}

type AnalyticsSnapshot struct {
	TotalResponses        int64                  `json:"totalResponses"`
	AverageCompletionTime float64                `json:"averageCompletionTime"`
	AverageInteractions   float64                `json:"averageInteractions"`
	AveragePriceWilling   float64                `json:"averagePriceWilling"`
	VeryInterestedCount   int64                  `json:"veryInterestedCount"`
	InteractionTypes      []InteractionTypeCount `json:"interactionTypes"`
	ResponseData          []ResponseRow          `json:"responseData"`
	GeneratedAt           time.Time              `json:"generatedAt"`
}
