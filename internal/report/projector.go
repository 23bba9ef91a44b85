// Package report turns a decoded freshness report into the view-model consumed by renderers.
package report

import (
	"math"
	"strconv"

	"github.com/franckalain/freshness/internal/models"
)

// Category is the resolved status of a report
type Category string

const (
	Fresh       Category = "FRESH"
	ConsumeSoon Category = "CONSUME_SOON"
	Spoiled     Category = "SPOILED"
	Unknown     Category = "UNKNOWN"
)

// Tone is a presentation color family
type Tone string

const (
	Blue  Tone = "blue"
	Amber Tone = "amber"
	Red   Tone = "red"
	Green Tone = "green"
	Gray  Tone = "gray"
)

// Card is one storage-condition metric
type Card struct {
	Key      string  `json:"key"`
	Title    string  `json:"title"`
	Icon     string  `json:"icon"`
	Tone     Tone    `json:"tone"`
	Value    string  `json:"value"`
	Subtitle string  `json:"subtitle"`
	Final    float64 `json:"final"`
	DaysLeft float64 `json:"days_left"`
}

// Score is the initial freshness in display and proportional forms
type Score struct {
	Rounded  int     `json:"rounded"`
	Raw      float64 `json:"raw"`
	Display  string  `json:"display"`
	Progress float64 `json:"progress"`
}

// ShelfCell is one shelf-life estimate
type ShelfCell struct {
	Title string  `json:"title"`
	Days  float64 `json:"days"`
	Value string  `json:"value"`
}

// StatusConfig is the display configuration of a status category
type StatusConfig struct {
	Category   Category `json:"category"`
	Label      string   `json:"label"`
	Background string   `json:"background"`
	Border     string   `json:"border"`
	Glow       string   `json:"glow"`
	Icon       string   `json:"icon"`
	Message    string   `json:"message"`
	Tips       []string `json:"tips"`
	Tone       Tone     `json:"tone"`
	Color      string   `json:"color"`
}

// Chart is the decay series, passed through unchanged
type Chart struct {
	Labels    []string  `json:"labels"`
	Freshness []float64 `json:"freshness"`
	DaysLeft  []float64 `json:"days_left"`
}

// ViewModel is the render-ready projection of a report
type ViewModel struct {
	Empty      bool         `json:"empty"`
	Fruit      string       `json:"fruit,omitempty"`
	Title      string       `json:"title,omitempty"`
	DaysPassed float64      `json:"days_passed,omitempty"`
	Cards      []Card       `json:"cards,omitempty"`
	Initial    Score        `json:"initial"`
	ShelfLife  []ShelfCell  `json:"shelf_life,omitempty"`
	Status     StatusConfig `json:"status"`
	Chart      *Chart       `json:"chart,omitempty"`
}

var statusConfigs = map[Category]StatusConfig{
	Fresh: {
		Category:   Fresh,
		Background: "from-green-500/20 to-green-600/10",
		Border:     "border-green-500/50",
		Glow:       "glow-green",
		Icon:       "✓",
		Message:    "This produce is fresh and safe to consume!",
		Tips:       []string{"Store properly to maintain freshness", "Consume within recommended time"},
		Tone:       Green,
		Color:      "#22c55e",
	},
	ConsumeSoon: {
		Category:   ConsumeSoon,
		Background: "from-amber-500/20 to-amber-600/10",
		Border:     "border-amber-500/50",
		Glow:       "glow-amber",
		Icon:       "⚠",
		Message:    "This produce should be consumed soon.",
		Tips:       []string{"Use within 1-2 days", "Check for any soft spots before consuming"},
		Tone:       Amber,
		Color:      "#f59e0b",
	},
	Spoiled: {
		Category:   Spoiled,
		Background: "from-red-500/20 to-red-600/10",
		Border:     "border-red-500/50",
		Glow:       "glow-red",
		Icon:       "✕",
		Message:    "This produce appears to be spoiled.",
		Tips:       []string{"Do not consume", "Dispose of properly", "Check other stored items"},
		Tone:       Red,
		Color:      "#ef4444",
	},
	Unknown: {
		Category:   Unknown,
		Background: "from-gray-500/20 to-gray-600/10",
		Border:     "border-gray-500/50",
		Icon:       "?",
		Message:    "Status unknown",
		Tips:       []string{},
		Tone:       Gray,
		Color:      "#6b7280",
	},
}

// Categorize maps a service status string to its category.
// Only the exact service values are recognized.
func Categorize(status string) Category {
	switch status {
	case "FRESH":
		return Fresh
	case "CONSUME SOON":
		return ConsumeSoon
	case "SPOILED":
		return Spoiled
	default:
		return Unknown
	}
}

// ResolveStatus returns the display configuration for a status. color overrides the
// category default when non-empty.
func ResolveStatus(status, color string) StatusConfig {
	cfg := statusConfigs[Categorize(status)]
	cfg.Tips = append([]string{}, cfg.Tips...)
	cfg.Label = status
	if cfg.Label == "" {
		cfg.Label = string(Unknown)
	}
	if color != "" {
		cfg.Color = color
	}
	return cfg
}

// Project builds the view-model for r. It never modifies r.
func Project(r *models.Report) ViewModel {
	if r == nil {
		return ViewModel{Empty: true, Status: ResolveStatus("", "")}
	}

	vm := ViewModel{
		Fruit:      r.Fruit,
		Title:      r.Fruit + " Freshness Report",
		DaysPassed: r.Decay.DaysPassed,
		Cards: []Card{
			card("ideal", "Ideal Storage", "❄️", Blue, r.Decay.IdealFinal, r.Decay.IdealDaysLeft),
			card("room", "Room Temperature", "🏠", Amber, r.Decay.RoomFinal, r.Decay.RoomDaysLeft),
			card("humid", "High Humidity", "💧", Red, r.Decay.HumidFinal, r.Decay.HumidDaysLeft),
		},
		Initial: score(r.InitialFreshness),
		Status:  ResolveStatus(r.Status, r.StatusColor),
	}

	if r.ShelfLife != nil {
		vm.ShelfLife = []ShelfCell{
			shelf("Ideal Shelf", r.ShelfLife.Ideal),
			shelf("Room Shelf", r.ShelfLife.Room),
			shelf("Humid Shelf", r.ShelfLife.Humid),
		}
	}

	if r.ChartData != nil {
		vm.Chart = &Chart{
			Labels:    append([]string(nil), r.ChartData.Labels...),
			Freshness: append([]float64(nil), r.ChartData.Freshness...),
			DaysLeft:  append([]float64(nil), r.ChartData.DaysLeft...),
		}
	}
	return vm
}

func card(key, title, icon string, tone Tone, final, daysLeft float64) Card {
	return Card{
		Key:      key,
		Title:    title,
		Icon:     icon,
		Tone:     tone,
		Value:    FormatNumber(final) + "%",
		Subtitle: FormatNumber(daysLeft) + " days left",
		Final:    final,
		DaysLeft: daysLeft,
	}
}

func score(raw float64) Score {
	return Score{
		Rounded:  int(math.Floor(raw + 0.5)),
		Raw:      raw,
		Display:  FormatNumber(raw) + "%",
		Progress: math.Max(0, math.Min(100, raw)),
	}
}

func shelf(title string, days float64) ShelfCell {
	return ShelfCell{Title: title, Days: days, Value: FormatNumber(days) + "d"}
}

// FormatNumber prints v in its shortest form: 70 -> "70", 12.5 -> "12.5"
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
