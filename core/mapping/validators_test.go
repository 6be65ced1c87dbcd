package mapping

import (
	"testing"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/taxonomy"
)

func TestPayloadValidation(t *testing.T) {
	validate := validator.New()
	uni := ut.New(en.New())
	trans, _ := uni.GetTranslator("en")
	core.InitValidators(validate, trans)
	InitValidators(validate, trans, taxonomy.Default())

	sr := SuggestionsRequest{ClassName: " G1 Achievers ", Subject: " kcfs"}
	require.NoError(t, sr.Validate(validate))
	assert.Equal(t, "G1 Achievers", sr.ClassName)
	assert.Equal(t, "KCFS", sr.Subject)

	sr = SuggestionsRequest{ClassName: "G1 Achievers", Subject: "PE"}
	err := sr.Validate(validate)
	require.Error(t, err)
	msgs := core.TranslateErrors(err.(validator.ValidationErrors), trans)
	assert.Equal(t, "subject must be one of the school subjects", msgs["subject"])

	or := OptimizeRequest{}
	require.NoError(t, or.Validate(validate))
	or = OptimizeRequest{Strategy: " aggressive ", SkipCleaning: true}
	require.NoError(t, or.Validate(validate))
	assert.Equal(t, CompleteOptions{RunOptions: RunOptions{Strategy: StrategyAggressive}, SkipCleaning: true}, or.Options())

	or = OptimizeRequest{Strategy: "reckless"}
	err = or.Validate(validate)
	require.Error(t, err)
	msgs = core.TranslateErrors(err.(validator.ValidationErrors), trans)
	assert.Equal(t, "strategy must be AGGRESSIVE, BALANCED or CONSERVATIVE", msgs["strategy"])

	qf := QuickFixRequest{}
	assert.Error(t, qf.Validate(validate))
	qf = QuickFixRequest{Issues: []Issue{{Type: IssueMissingMapping, Expected: "G1 Achievers-LT"}}}
	assert.NoError(t, qf.Validate(validate))
}
