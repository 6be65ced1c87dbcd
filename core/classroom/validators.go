package classroom

import (
	"regexp"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/gradebook/core"
)

var (
	classroomIDTag   = "classroom_id"
	classroomIDText  = "{0} must be a Classroom course id (10 to 15 digits)"
	classroomIDRegex = regexp.MustCompile(`^\d{10,15}$`)
)

// InitValidators registers the validations of the classroom payloads.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(classroomIDTag, classroomIDValidation)
	core.RegisterCustomTranslation(validate, translator, classroomIDTag, classroomIDText)
}

func classroomIDValidation(fl validator.FieldLevel) bool {
	return classroomIDRegex.MatchString(fl.Field().String())
}
