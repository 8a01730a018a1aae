package predict

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/krishisakhi-go/internal/backend"
	"github.com/54b3r/krishisakhi-go/internal/llm"
	"github.com/54b3r/krishisakhi-go/internal/weather"
)

type fakeGen struct {
	reply  string
	err    error
	prompt string
	tool   llm.Tool
}

func (f *fakeGen) Structured(_ context.Context, prompt string, tool llm.Tool) (string, error) {
	f.prompt = prompt
	f.tool = tool
	return f.reply, f.err
}

var profile = backend.Profile{
	"state":                         "Kerala",
	"district":                      "Alappuzha",
	"primary_crop":                  "Paddy",
	"soil_ph":                       6.2,
	"participation_in_govt_schemes": []any{"PMFBY"},
}

func TestPredict(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{reply: `{"recommended_crop":"Banana","yield_prediction_kg_acre":1820.5,"pest_risk_percent":35,` +
		`"quality_grading_score":80,"price_range_per_quintal":{"crop_name":"Paddy","min_price":2100,"max_price":2350},` +
		`"applicable_schemes":["PM-KISAN","PMFBY"],"applied_schemes":["PMFBY"]}`}

	got, err := New(gen).Predict(context.Background(), profile, &weather.Report{Temperature: 29.5, Weather: "Light Rain", Humidity: 84})
	require.NoError(t, err)
	assert.Equal(t, "Banana", got.RecommendedCrop)
	assert.InDelta(t, 1820.5, got.YieldPredictionKgAcre, 1e-9)
	assert.Equal(t, PriceRange{CropName: "Paddy", MinPrice: 2100, MaxPrice: 2350}, got.PriceRangePerQuintal)

	assert.Contains(t, gen.prompt, "- State: Kerala")
	assert.Contains(t, gen.prompt, "- Soil pH: 6.2")
	assert.Contains(t, gen.prompt, "- Soil Nutrients (N,P,K in kg/ha): N/A, N/A, N/A")
	assert.Contains(t, gen.prompt, "- Past Pest Issues: None mentioned")
	assert.Contains(t, gen.prompt, "- Government Schemes Applied For: PMFBY")
	assert.Contains(t, gen.prompt, "- Temperature: 29.5°C")
	assert.Contains(t, gen.prompt, "- Humidity: 84%")

	assert.Equal(t, "dashboard_report", gen.tool.Name)
	for name := range Schema["properties"].(map[string]any) {
		require.Contains(t, gen.tool.Params, name)
		assert.True(t, gen.tool.Params[name].Required, name)
	}
}

func TestPredict_DefaultsOnFailure(t *testing.T) {
	t.Parallel()

	want := Predictions{
		RecommendedCrop:       "Rice",
		YieldPredictionKgAcre: 1500.0,
		PestRiskPercent:       40,
		QualityGradingScore:   75,
		PriceRangePerQuintal:  PriceRange{CropName: "Paddy", MinPrice: 2000, MaxPrice: 2200},
		ApplicableSchemes:     []string{"PM-KISAN"},
		AppliedSchemes:        []string{"PMFBY"},
	}

	tests := []struct {
		name string
		gen  *fakeGen
	}{
		{"model error", &fakeGen{err: errors.New("rate limited")}},
		{"not json", &fakeGen{reply: "I think rice."}},
		{"out of range", &fakeGen{reply: `{"recommended_crop":"Rice","yield_prediction_kg_acre":1,"pest_risk_percent":140,` +
			`"quality_grading_score":1,"price_range_per_quintal":{"crop_name":"x","min_price":1,"max_price":2},` +
			`"applicable_schemes":[],"applied_schemes":[]}`}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := New(tc.gen).Predict(context.Background(), profile, nil)
			assert.ErrorIs(t, err, ErrPrediction)
			assert.Equal(t, want, got)
		})
	}
}

func TestPrompt_NoWeather(t *testing.T) {
	t.Parallel()

	p := Prompt(backend.Profile{}, nil)
	assert.Contains(t, p, "- Temperature: N/A°C")
	assert.Contains(t, p, "- Condition: N/A")
	assert.Contains(t, p, "- Government Schemes Applied For: None")
}

func TestDefault_NoProfile(t *testing.T) {
	t.Parallel()

	d := Default(nil)
	assert.Equal(t, "N/A", d.PriceRangePerQuintal.CropName)
	assert.Equal(t, []string{}, d.AppliedSchemes)
}

func TestPredictions_String(t *testing.T) {
	t.Parallel()

	s := Default(profile).String()
	assert.Contains(t, s, "recommended_crop: Rice")
	assert.Contains(t, s, "yield_prediction_kg_acre: 1500,")
	assert.Contains(t, s, "applied_schemes: [PMFBY]")
}
