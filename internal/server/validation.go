package server

import (
	"reflect"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/studybuddy/internal/access"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/progress"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/reminders"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/study"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var (
	registerValidatorsOnce sync.Once
	registerValidatorsErr  error
)

// registerValidators installs the domain rules on gin's validator engine and
// reports field names by their json tag.
func registerValidators() error {
	registerValidatorsOnce.Do(func() {
		engine, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		engine.RegisterTagNameFunc(jsonFieldName)
		rules := map[string]validator.Func{
			"share_role":      parsesWith(func(value string) error { _, err := access.ParseRole(value); return err }),
			"activity_kind":   parsesWith(func(value string) error { _, err := progress.ParseKind(value); return err }),
			"reminder_kind":   parsesWith(func(value string) error { _, err := reminders.ParseKind(value); return err }),
			"review_response": parsesWith(func(value string) error { _, err := study.ParseReviewResponse(value); return err }),
		}
		for tag, rule := range rules {
			if err := engine.RegisterValidation(tag, rule); err != nil {
				registerValidatorsErr = err
				return
			}
		}
	})
	return registerValidatorsErr
}

func parsesWith(parse func(string) error) validator.Func {
	return func(field validator.FieldLevel) bool {
		return parse(field.Field().String()) == nil
	}
}

func jsonFieldName(field reflect.StructField) string {
	for _, tag := range []string{"json", "form"} {
		name := strings.SplitN(field.Tag.Get(tag), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return field.Name
}
