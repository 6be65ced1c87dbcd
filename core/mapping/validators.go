package mapping

import (
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/taxonomy"
)

var (
	subjectTag  = "subject"
	subjectText = "{0} must be one of the school subjects"

	strategyTag  = "mapping_strategy"
	strategyText = "{0} must be AGGRESSIVE, BALANCED or CONSERVATIVE"
)

// InitValidators registers the validations of the mapping payloads against tax.
func InitValidators(validate *validator.Validate, translator ut.Translator, tax *taxonomy.Taxonomy) {
	_ = validate.RegisterValidation(subjectTag, func(fl validator.FieldLevel) bool {
		return tax.HasSubject(strings.ToUpper(fl.Field().String()))
	})
	core.RegisterCustomTranslation(validate, translator, subjectTag, subjectText)

	_ = validate.RegisterValidation(strategyTag, func(fl validator.FieldLevel) bool {
		_, err := StrategyByName(fl.Field().String())
		return err == nil
	})
	core.RegisterCustomTranslation(validate, translator, strategyTag, strategyText)
}

type (
	SuggestionsRequest struct {
		ClassName string `json:"className" validate:"required"`
		Subject   string `json:"subject" validate:"required,subject"`
	}

	OptimizeRequest struct {
		Strategy     string `json:"strategy" validate:"omitempty,mapping_strategy"`
		ForceRefresh bool   `json:"forceRefresh"`
		KeepExisting bool   `json:"keepExisting"`
		SkipBackup   bool   `json:"skipBackup"`
		SkipCleaning bool   `json:"skipCleaning"`
	}

	QuickFixRequest struct {
		Issues []Issue `json:"issues" validate:"required,min=1"`
	}
)

func (r *SuggestionsRequest) Validate(validate *validator.Validate) error {
	r.ClassName = core.CleanString(r.ClassName)
	r.Subject = strings.ToUpper(core.CleanString(r.Subject))
	return validate.Struct(r)
}

func (r *OptimizeRequest) Validate(validate *validator.Validate) error {
	r.Strategy = strings.ToUpper(core.CleanString(r.Strategy))
	return validate.Struct(r)
}

func (r *OptimizeRequest) Options() CompleteOptions {
	return CompleteOptions{
		RunOptions: RunOptions{
			Strategy:     r.Strategy,
			ForceRefresh: r.ForceRefresh,
			KeepExisting: r.KeepExisting,
			SkipBackup:   r.SkipBackup,
		},
		SkipCleaning: r.SkipCleaning,
	}
}

func (r *QuickFixRequest) Validate(validate *validator.Validate) error {
	return validate.Struct(r)
}
