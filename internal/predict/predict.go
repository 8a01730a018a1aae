// Package predict produces the dashboard predictions that accompany every
// chat answer: a crop recommendation, yield, pest risk, quality, price band
// and scheme eligibility, all from one structured model call.
package predict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/krishisakhi-go/internal/backend"
	"github.com/54b3r/krishisakhi-go/internal/llm"
	"github.com/54b3r/krishisakhi-go/internal/logging"
	"github.com/54b3r/krishisakhi-go/internal/structured"
	"github.com/54b3r/krishisakhi-go/internal/weather"
)

// ErrPrediction is wrapped when the default predictions are returned.
var ErrPrediction = errors.New("predict: prediction failed")

// PriceRange is a market price band per quintal.
type PriceRange struct {
	CropName string `json:"crop_name"`
	MinPrice int    `json:"min_price"`
	MaxPrice int    `json:"max_price"`
}

// Predictions is the dashboard report.
type Predictions struct {
	RecommendedCrop       string     `json:"recommended_crop"`
	YieldPredictionKgAcre float64    `json:"yield_prediction_kg_acre"`
	PestRiskPercent       int        `json:"pest_risk_percent"`
	QualityGradingScore   int        `json:"quality_grading_score"`
	PriceRangePerQuintal  PriceRange `json:"price_range_per_quintal"`
	ApplicableSchemes     []string   `json:"applicable_schemes"`
	AppliedSchemes        []string   `json:"applied_schemes"`
}

// String renders the predictions for the answer prompt.
func (p Predictions) String() string {
	return fmt.Sprintf("{recommended_crop: %s, yield_prediction_kg_acre: %s, pest_risk_percent: %d, "+
		"quality_grading_score: %d, price_range_per_quintal: {crop_name: %s, min_price: %d, max_price: %d}, "+
		"applicable_schemes: [%s], applied_schemes: [%s]}",
		p.RecommendedCrop, strconv.FormatFloat(p.YieldPredictionKgAcre, 'f', -1, 64),
		p.PestRiskPercent, p.QualityGradingScore,
		p.PriceRangePerQuintal.CropName, p.PriceRangePerQuintal.MinPrice, p.PriceRangePerQuintal.MaxPrice,
		strings.Join(p.ApplicableSchemes, ", "), strings.Join(p.AppliedSchemes, ", "),
	)
}

// Default returns the fallback predictions for profile.
func Default(profile backend.Profile) Predictions {
	return Predictions{
		RecommendedCrop:       "Rice",
		YieldPredictionKgAcre: 1500.0,
		PestRiskPercent:       40,
		QualityGradingScore:   75,
		PriceRangePerQuintal: PriceRange{
			CropName: profile.PrimaryCrop("N/A"),
			MinPrice: 2000,
			MaxPrice: 2200,
		},
		ApplicableSchemes: []string{"PM-KISAN"},
		AppliedSchemes:    profile.Strings("participation_in_govt_schemes"),
	}
}

var percent = map[string]any{"type": "integer", "minimum": 0, "maximum": 100}

var stringList = map[string]any{"type": "array", "items": map[string]any{"type": "string"}}

func schemeList(desc string) *schema.ParameterInfo {
	return &schema.ParameterInfo{Type: schema.Array, Required: true, Desc: desc, ElemInfo: &schema.ParameterInfo{Type: schema.String}}
}

// Tool is the function the model is forced to call with the report.
var Tool = llm.Tool{
	Name: "dashboard_report",
	Desc: "Report crop, yield, pest risk, quality, price and scheme predictions for one farmer.",
	Params: map[string]*schema.ParameterInfo{
		"recommended_crop":         {Type: schema.String, Required: true, Desc: "Best crop for the next planting season."},
		"yield_prediction_kg_acre": {Type: schema.Number, Required: true, Desc: "Predicted yield of the primary crop in kg/acre."},
		"pest_risk_percent":        {Type: schema.Integer, Required: true, Desc: "Pest risk from 0 to 100."},
		"quality_grading_score":    {Type: schema.Integer, Required: true, Desc: "Quality grading score from 0 to 100."},
		"price_range_per_quintal": {Type: schema.Object, Required: true, Desc: "Market price band per quintal for the primary crop.",
			SubParams: map[string]*schema.ParameterInfo{
				"crop_name": {Type: schema.String, Required: true},
				"min_price": {Type: schema.Integer, Required: true},
				"max_price": {Type: schema.Integer, Required: true},
			}},
		"applicable_schemes": schemeList("Government schemes the farmer is likely eligible for."),
		"applied_schemes":    schemeList("Schemes already applied for, from the profile."),
	},
}

// Schema checks the arguments of the model's call.
var Schema = structured.Schema{
	"type": "object",
	"required": []string{
		"recommended_crop", "yield_prediction_kg_acre", "pest_risk_percent", "quality_grading_score",
		"price_range_per_quintal", "applicable_schemes", "applied_schemes",
	},
	"properties": map[string]any{
		"recommended_crop":         map[string]any{"type": "string", "minLength": 1},
		"yield_prediction_kg_acre": map[string]any{"type": "number", "minimum": 0},
		"pest_risk_percent":        percent,
		"quality_grading_score":    percent,
		"price_range_per_quintal": map[string]any{
			"type":     "object",
			"required": []string{"crop_name", "min_price", "max_price"},
			"properties": map[string]any{
				"crop_name": map[string]any{"type": "string"},
				"min_price": map[string]any{"type": "integer"},
				"max_price": map[string]any{"type": "integer"},
			},
		},
		"applicable_schemes": stringList,
		"applied_schemes":    stringList,
	},
}

const promptTemplate = `You are an expert agricultural analyst for India. Based on the following farmer profile and real-time weather, generate a complete, structured dashboard report.

Farmer Profile:
- State: %s
- District: %s
- Primary Crop: %s
- Soil pH: %s
- Soil Nutrients (N,P,K in kg/ha): %s, %s, %s
- Farming Experience: %s years
- Past Pest Issues: %s
- Government Schemes Applied For: %s

Real-Time Weather Data:
- Temperature: %s°C
- Condition: %s
- Humidity: %s%%

Your Tasks:
1. Crop Recommendation: Recommend the single best crop for the next planting season.
2. Yield Prediction: Predict the yield in kg/acre for their current primary crop.
3. Pest Risk: Predict the pest risk as a percentage from 0 to 100.
4. Quality Grading: Estimate a "Quality Grading Score" from 0 to 100.
5. Price Range: Provide an estimated market price range (min and max) per quintal for their primary crop in their district.
6. Scheme Analysis: List relevant government schemes they are likely eligible for, and also list the ones they've already applied for from their profile.

Return only a JSON object matching this JSON Schema:
%s`

// Generator makes a tool-constrained model call. *llm.Client satisfies it.
type Generator interface {
	Structured(ctx context.Context, prompt string, tool llm.Tool) (string, error)
}

// Predictor generates Predictions with a model.
type Predictor struct {
	gen Generator
}

// New returns a Predictor.
func New(gen Generator) *Predictor {
	return &Predictor{gen: gen}
}

// Prompt renders the prediction prompt. report may be nil when weather is
// unavailable.
func Prompt(profile backend.Profile, report *weather.Report) string {
	schemes := "None"
	if s := profile.Strings("participation_in_govt_schemes"); len(s) > 0 {
		schemes = strings.Join(s, ", ")
	}
	temp, cond, hum := "N/A", "N/A", "N/A"
	if report != nil {
		temp = strconv.FormatFloat(report.Temperature, 'f', -1, 64)
		cond = report.Weather
		hum = strconv.Itoa(report.Humidity)
	}
	return fmt.Sprintf(promptTemplate,
		profile.Get("state", "N/A"),
		profile.Get("district", "N/A"),
		profile.PrimaryCrop("N/A"),
		profile.Get("soil_ph", "N/A"),
		profile.Get("soil_N", "N/A"), profile.Get("soil_P", "N/A"), profile.Get("soil_K", "N/A"),
		profile.Get("farming_experience_years", "N/A"),
		profile.Get("past_pest_disease_issues", "None mentioned"),
		schemes,
		temp, cond, hum,
		Schema.String(),
	)
}

// Predict returns the model's predictions, or Default(profile) together
// with an error wrapping ErrPrediction.
func (p *Predictor) Predict(ctx context.Context, profile backend.Profile, report *weather.Report) (Predictions, error) {
	raw, err := p.gen.Structured(ctx, Prompt(profile, report), Tool)
	if err != nil {
		return Default(profile), fmt.Errorf("%w: %w", ErrPrediction, err)
	}
	var out Predictions
	if err := structured.Decode(raw, Schema, &out); err != nil {
		logging.FromContext(ctx).Warn("predict: unusable model reply, using defaults", slog.Any("error", err))
		return Default(profile), fmt.Errorf("%w: %w", ErrPrediction, err)
	}
	if out.ApplicableSchemes == nil {
		out.ApplicableSchemes = []string{}
	}
	if out.AppliedSchemes == nil {
		out.AppliedSchemes = []string{}
	}
	return out, nil
}
