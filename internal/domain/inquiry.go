package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var (
	phonePattern = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)
	validate     = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

// Inquiry is a project request submitted through the site's contact form.
// It is immutable once persisted.
type Inquiry struct {
	ID             string
	Name           string `validate:"required,max=255"`
	Company        string `validate:"required,max=255"`
	ProjectDetails string `validate:"required"`
	PhoneNumber    string `validate:"required,phone"`
	Email          string `validate:"required,email,max=255"`
	AgreedToTerms  bool   `validate:"eq=true"`
	CreatedAt      time.Time
}

// Normalize trims surrounding whitespace from every text field.
func (i *Inquiry) Normalize() {
	i.Name = strings.TrimSpace(i.Name)
	i.Company = strings.TrimSpace(i.Company)
	i.ProjectDetails = strings.TrimSpace(i.ProjectDetails)
	i.PhoneNumber = strings.TrimSpace(i.PhoneNumber)
	i.Email = strings.TrimSpace(i.Email)
}

func (i *Inquiry) Validate() error {
	err := validate.Struct(i)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	fields := make(FieldErrors, len(fieldErrs))
	for _, fe := range fieldErrs {
		name := lowerFirst(fe.Field())
		fields[name] = append(fields[name], fieldMessage(fe))
	}
	return fields
}

func fieldMessage(fe validator.FieldError) string {
	field := lowerFirst(fe.Field())

	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "max":
		return fmt.Sprintf("%s exceeds %s characters", field, fe.Param())
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "phone":
		return fmt.Sprintf("%s must look like +79991234567", field)
	case "eq":
		return fmt.Sprintf("%s must be accepted", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}
