package httpapi

import (
	"sort"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// FieldViolation reports one field that failed validation. Secret fields
// carry a redacted Rejected value.
type FieldViolation struct {
	Field       string   `json:"field"`
	Rejected    any      `json:"rejected,omitempty"`
	Constraints []string `json:"constraints"`
}

const redacted = "[REDACTED]"

type registerRequest struct {
	Email     string `json:"email"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

func (r registerRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&r.Username, validation.Required, validation.Length(3, 32), is.Alphanumeric),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 72)),
		validation.Field(&r.FirstName, validation.Length(1, 100)),
		validation.Field(&r.LastName, validation.Length(1, 100)),
	)
}

func (r registerRequest) fieldValues() map[string]any {
	return map[string]any{
		"email":     r.Email,
		"username":  r.Username,
		"password":  redacted,
		"firstName": r.FirstName,
		"lastName":  r.LastName,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r loginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

func (r loginRequest) fieldValues() map[string]any {
	return map[string]any{
		"email":    r.Email,
		"password": redacted,
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (r refreshRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RefreshToken, validation.Required),
	)
}

func (r refreshRequest) fieldValues() map[string]any {
	return map[string]any{"refreshToken": redacted}
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (r changePasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.CurrentPassword, validation.Required),
		validation.Field(&r.NewPassword, validation.Required, validation.Length(8, 72)),
	)
}

func (r changePasswordRequest) fieldValues() map[string]any {
	return map[string]any{
		"currentPassword": redacted,
		"newPassword":     redacted,
	}
}

type validatable interface {
	Validate() error
	fieldValues() map[string]any
}

// violations flattens an ozzo validation error into the per-field report the
// envelope carries. Field order is stable so clients and tests can rely on it.
func violations(err error, req validatable) []FieldViolation {
	errs, ok := err.(validation.Errors)
	if !ok {
		return []FieldViolation{{Field: "body", Constraints: []string{err.Error()}}}
	}

	fields := make([]string, 0, len(errs))
	for f := range errs {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	values := req.fieldValues()
	out := make([]FieldViolation, 0, len(fields))
	for _, f := range fields {
		out = append(out, FieldViolation{
			Field:       f,
			Rejected:    values[f],
			Constraints: []string{errs[f].Error()},
		})
	}
	return out
}
