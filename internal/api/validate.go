package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	perrors "github.com/p-blackswan/videofunnel/internal/errors"
)

var fieldMessages = map[string]string{
	"email.required": "Email is required.",
	"email.email":    "Please provide a valid email address.",
	"email.max":      "Email address is too long.",
	"firstName.max":  "First name cannot exceed 50 characters.",
	"source.oneof":   "Lead source must be one of the predefined values.",
	"referrer.max":   "Referrer cannot exceed 2048 characters.",
	"tags.max":       "At most 20 tags are allowed.",
	"metadata.max":   "At most 50 metadata entries are allowed.",
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateStruct runs v over s and converts failures into a
// *perrors.ValidationError with human readable messages.
func validateStruct(v *validator.Validate, s interface{}) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return fmt.Errorf("validate: %w", err)
	}

	out := &perrors.ValidationError{}
	for _, fe := range ves {
		field := fe.Field()
		// Elements of tags/metadata report as tags[3] or metadata[key].
		if i := strings.IndexByte(field, '['); i > 0 {
			out.Add(field, fmt.Sprintf("%s entry is invalid (%s).", field[:i], fe.Tag()))
			continue
		}
		msg, ok := fieldMessages[field+"."+fe.Tag()]
		if !ok {
			msg = fmt.Sprintf("%s failed %s validation.", field, fe.Tag())
		}
		out.Add(field, msg)
	}
	return out
}

// validationMessage joins field messages into one sentence list.
func validationMessage(ve *perrors.ValidationError) string {
	msgs := make([]string, 0, len(ve.Fields))
	for _, f := range ve.Fields {
		msgs = append(msgs, f.Message)
	}
	return strings.Join(msgs, " ")
}
