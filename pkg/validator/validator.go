package validator

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin/binding"
	playground "github.com/go-playground/validator/v10"
)

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

// Validator provides validation functionality
type Validator interface {
	Validate(interface{}) error
	ValidateField(field string, value interface{}, rules string) error
}

type validator struct {
	v *playground.Validate
}

var (
	once     sync.Once
	instance *validator
)

// New returns the shared validator with the custom tags registered.
func New() Validator {
	once.Do(func() {
		v := playground.New()
		register(v)
		instance = &validator{v: v}
	})
	return instance
}

// RegisterGin installs the custom tags on gin's binding engine so
// ShouldBindJSON enforces them too.
func RegisterGin() error {
	v, ok := binding.Validator.Engine().(*playground.Validate)
	if !ok {
		return fmt.Errorf("unexpected binding engine %T", binding.Validator.Engine())
	}
	register(v)
	return nil
}

func register(v *playground.Validate) {
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("date", layoutRule(DateLayout))
	_ = v.RegisterValidation("clock", layoutRule(ClockLayout))
}

func layoutRule(layout string) playground.Func {
	return func(fl playground.FieldLevel) bool {
		s := fl.Field().String()
		if len(s) != len(layout) {
			return false
		}
		_, err := time.Parse(layout, s)
		return err == nil
	}
}

func (v *validator) Validate(obj interface{}) error {
	return Humanize(v.v.Struct(obj))
}

func (v *validator) ValidateField(field string, value interface{}, rules string) error {
	if err := v.v.Var(value, rules); err != nil {
		var verrs playground.ValidationErrors
		if ok := asValidationErrors(err, &verrs); ok && len(verrs) > 0 {
			return fmt.Errorf("%s %s", field, describe(verrs[0]))
		}
		return err
	}
	return nil
}

// Humanize flattens validator errors into a single readable error. Other
// errors pass through untouched.
func Humanize(err error) error {
	if err == nil {
		return nil
	}
	var verrs playground.ValidationErrors
	if !asValidationErrors(err, &verrs) {
		return err
	}
	msgs := Messages(verrs)
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

// Messages renders one line per failed field.
func Messages(verrs playground.ValidationErrors) []string {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s %s", fe.Field(), describe(fe)))
	}
	return msgs
}

func asValidationErrors(err error, target *playground.ValidationErrors) bool {
	verrs, ok := err.(playground.ValidationErrors)
	if ok {
		*target = verrs
	}
	return ok
}

func describe(fe playground.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_without":
		return fmt.Sprintf("is required when %s is empty", fe.Param())
	case "date":
		return "must be a date in YYYY-MM-DD format"
	case "clock":
		return "must be a time in HH:mm format"
	case "uuid", "uuid4":
		return "must be a valid UUID"
	case "url":
		return "must be a valid URL"
	case "max":
		return fmt.Sprintf("must not exceed %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
