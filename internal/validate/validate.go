// Package validate centralizes input shape checks for the auth flows.
// Checks compose into a single domain Validation error carrying per-field messages.
package validate

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/go-playground/validator"

	"github.com/FilipeAphrody/farmhand-auth/internal/domain"
)

const (
	minPasswordLen = 8
	maxPasswordLen = 128
)

var (
	usernameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{2,31}$`)
	e164Re     = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)
)

var (
	once     sync.Once
	instance *validator.Validate
)

func get() *validator.Validate {
	once.Do(func() {
		v := validator.New()
		_ = v.RegisterValidation("strongpassword", func(fl validator.FieldLevel) bool {
			return StrongPassword(fl.Field().String())
		})
		_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
			return usernameRe.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
			return e164Re.MatchString(fl.Field().String())
		})
		instance = v
	})
	return instance
}

// StrongPassword reports whether p has the minimum length, upper and lower case letters and a digit.
func StrongPassword(p string) bool {
	if len(p) < minPasswordLen || len(p) > maxPasswordLen {
		return false
	}
	var upper, lower, digit bool
	for _, r := range p {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return upper && lower && digit
}

// Check is one field value paired with validator tags.
type Check struct {
	Field string
	Value string
	Tag   string
}

func Email(v string) Check { return Check{Field: "email", Value: v, Tag: "required,email,max=254"} }

func Username(v string) Check { return Check{Field: "username", Value: v, Tag: "required,username"} }

// Password checks strength for the named field (password, newPassword).
func Password(field, v string) Check {
	return Check{Field: field, Value: v, Tag: "required,strongpassword"}
}

func Phone(v string) Check { return Check{Field: "phone", Value: v, Tag: "required,phone"} }

// SelfServiceRole allows an empty role; admin is never self-assigned.
func SelfServiceRole(v string) Check {
	return Check{Field: "role", Value: v, Tag: "omitempty,oneof=farmer agronomist general"}
}

// AnyRole is used on the admin path.
func AnyRole(v string) Check {
	return Check{Field: "role", Value: v, Tag: "omitempty,oneof=admin farmer agronomist general"}
}

func Code(v string) Check { return Check{Field: "code", Value: v, Tag: "required,numeric,max=12"} }

func Required(field, v string) Check { return Check{Field: field, Value: v, Tag: "required"} }

// Collect runs every check and returns a Validation error listing each failing field, or nil.
func Collect(checks ...Check) error {
	v := get()
	fields := map[string]string{}
	for _, c := range checks {
		if _, seen := fields[c.Field]; seen {
			continue
		}
		err := v.Var(c.Value, c.Tag)
		if err == nil {
			continue
		}
		errs, ok := err.(validator.ValidationErrors)
		if !ok || len(errs) == 0 {
			fields[c.Field] = "is not valid"
			continue
		}
		fields[c.Field] = message(errs[0].Tag())
	}
	if len(fields) == 0 {
		return nil
	}
	return domain.Validation(summary(fields), fields)
}

func message(tag string) string {
	switch tag {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "strongpassword":
		return "must be 8 to 128 characters with upper and lower case letters and a digit"
	case "username":
		return "must be 3 to 32 letters, digits, dots, underscores or hyphens"
	case "phone":
		return "must be an E.164 phone number such as +14155552671"
	case "oneof":
		return "is not an allowed value"
	case "numeric":
		return "must contain only digits"
	case "max":
		return "is too long"
	default:
		return "is not valid"
	}
}

func summary(fields map[string]string) string {
	if len(fields) == 1 {
		for f, m := range fields {
			return f + " " + m
		}
	}
	names := make([]string, 0, len(fields))
	for f := range fields {
		names = append(names, f)
	}
	sort.Strings(names)
	return "invalid fields: " + strings.Join(names, ", ")
}
