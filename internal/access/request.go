package access

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/SentinelX-Auth/SentinelX/internal/behavior"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report JSON field names in errors.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return strings.ToLower(fld.Name)
		}
		return name
	})
	return v
}

// ValidationError reports a malformed request field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("access: invalid %s: %s", e.Field, e.Message)
}

// LoginRequest is the full input of one login attempt.
type LoginRequest struct {
	Origin     string            `json:"origin" validate:"max=64"`
	UserAgent  string            `json:"user_agent" validate:"max=512"`
	Username   string            `json:"username" validate:"required,min=2,max=64"`
	DeviceID   string            `json:"device_id" validate:"max=255"`
	Credential Credential        `json:"-" validate:"required"`
	Sample     *behavior.Sample  `json:"sample"`
	Metrics    *behavior.Metrics `json:"metrics"`
}

// Validate checks field constraints and sample sanity.
func (r *LoginRequest) Validate() error {
	if err := check(r); err != nil {
		return err
	}
	return checkSample(r.Sample)
}

// ReauthRequest re-checks the behavior of a user who already holds a
// session. No credential is required.
type ReauthRequest struct {
	Origin    string            `json:"origin" validate:"max=64"`
	UserAgent string            `json:"user_agent" validate:"max=512"`
	Username  string            `json:"username" validate:"required,min=2,max=64"`
	DeviceID  string            `json:"device_id" validate:"max=255"`
	Sample    *behavior.Sample  `json:"sample" validate:"required"`
	Metrics   *behavior.Metrics `json:"metrics"`
}

// Validate checks field constraints and sample sanity.
func (r *ReauthRequest) Validate() error {
	if err := check(r); err != nil {
		return err
	}
	return checkSample(r.Sample)
}

// RegisterRequest creates a password account.
type RegisterRequest struct {
	Origin    string `json:"origin" validate:"max=64"`
	UserAgent string `json:"user_agent" validate:"max=512"`
	Username  string `json:"username" validate:"required,min=2,max=64"`
	Password  string `json:"password" validate:"required,max=128"`
	DeviceID  string `json:"device_id" validate:"max=255"`
}

// Validate checks field constraints.
func (r *RegisterRequest) Validate() error {
	return check(r)
}

// EnrollRequest submits enrollment samples for an existing account.
type EnrollRequest struct {
	Username string             `json:"username" validate:"required,min=2,max=64"`
	Samples  []*behavior.Sample `json:"samples" validate:"required,min=1,dive,required"`
}

// Validate checks field constraints and every sample.
func (r *EnrollRequest) Validate() error {
	if err := check(r); err != nil {
		return err
	}
	for i, s := range r.Samples {
		if err := s.Validate(); err != nil {
			return &ValidationError{Field: fmt.Sprintf("samples[%d]", i), Message: err.Error()}
		}
	}
	return nil
}

func check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{Field: "request", Message: err.Error()}
	}
	fe := verrs[0]
	return &ValidationError{Field: fe.Field(), Message: message(fe)}
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("needs at least %s entries", fe.Param())
		}
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

func checkSample(s *behavior.Sample) error {
	if s == nil {
		return nil
	}
	if err := s.Validate(); err != nil {
		return &ValidationError{Field: "sample", Message: err.Error()}
	}
	return nil
}
