package http

import (
	"net/http"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"gatepro/portal/internal/model"
)

const (
	emailFormatTag    = "email_format"
	passwordPolicyTag = "password_policy"
	knownRoleTag      = "known_role"
)

var (
	validate   *validator.Validate
	translator ut.Translator

	emailPattern = regexp.MustCompile(`\S+@\S+\.\S+`)
)

func init() {
	validate = validator.New()

	english := en.New()
	uni := ut.New(english, english)
	translator, _ = uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("form"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation(emailFormatTag, func(fl validator.FieldLevel) bool {
		return emailPattern.MatchString(fl.Field().String())
	})
	_ = validate.RegisterValidation(passwordPolicyTag, func(fl validator.FieldLevel) bool {
		return passwordProblem(fl.Field().String()) == ""
	})
	_ = validate.RegisterValidation(knownRoleTag, func(fl validator.FieldLevel) bool {
		_, err := model.ParseRole(fl.Field().String())
		return err == nil
	})
}

type loginForm struct {
	Email    string `form:"email" validate:"required,email_format"`
	Password string `form:"password" validate:"required"`
}

type signupForm struct {
	Name     string `form:"fullName" validate:"required"`
	Email    string `form:"email" validate:"required,email_format"`
	Password string `form:"password" validate:"required,password_policy"`
	Role     string `form:"role" validate:"required,known_role"`
}

// fieldErrors maps form field names to the message shown next to them.
type fieldErrors map[string]string

func parseLoginForm(r *http.Request) loginForm {
	return loginForm{
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Password: r.PostFormValue("password"),
	}
}

func parseSignupForm(r *http.Request) signupForm {
	return signupForm{
		Name:     strings.TrimSpace(r.PostFormValue("fullName")),
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Password: r.PostFormValue("password"),
		Role:     strings.TrimSpace(r.PostFormValue("role")),
	}
}

// validateForm returns nil when form is valid.
func validateForm(form interface{}) fieldErrors {
	err := validate.Struct(form)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fieldErrors{"general": msgUnexpectedError}
	}
	out := fieldErrors{}
	for _, fe := range verrs {
		if _, seen := out[fe.Field()]; seen {
			continue
		}
		out[fe.Field()] = fieldMessage(fe)
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return requiredMessage(fe.Field())
	case emailFormatTag:
		return "Invalid email format."
	case passwordPolicyTag:
		return passwordProblem(fe.Value().(string))
	case knownRoleTag:
		return "Please choose student, teacher or admin."
	default:
		return fe.Translate(translator)
	}
}

func requiredMessage(field string) string {
	switch field {
	case "email":
		return "Email is required."
	case "password":
		return "Password is required."
	case "fullName":
		return "Full name is required."
	case "role":
		return "Role is required."
	default:
		return field + " is required."
	}
}

// passwordProblem explains the first password rule that fails, or returns
// the empty string.
func passwordProblem(password string) string {
	switch {
	case len(password) < 8:
		return "Password must be at least 8 characters long."
	case !strings.ContainsAny(password, "ABCDEFGHIJKLMNOPQRSTUVWXYZ"):
		return "Password must contain at least one uppercase letter."
	case !strings.ContainsAny(password, "abcdefghijklmnopqrstuvwxyz"):
		return "Password must contain at least one lowercase letter."
	case !strings.ContainsAny(password, "0123456789"):
		return "Password must contain at least one number."
	case !strings.ContainsAny(password, "!@#$%^&*"):
		return "Password must contain at least one special character (!@#$%^&*)."
	default:
		return ""
	}
}
