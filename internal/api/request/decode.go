// Package request decodes and validates API request bodies.
package request

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/good-yellow-bee/logtrap/internal/api/response"
)

// MaxBodyBytes caps a request body.
const MaxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON names in errors.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Decode reads a JSON body into dst and validates its struct tags.
func Decode(w http.ResponseWriter, r *http.Request, dst any) *response.Error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return response.NewBadRequest(fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
		}
		return response.ErrInvalidBody
	}
	return Validate(dst)
}

// Validate checks dst's struct tags.
func Validate(dst any) *response.Error {
	err := validate.Struct(dst)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return response.ErrInvalidBody
	}
	return response.NewValidationError(describe(verrs[0]))
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), strings.Split(fe.Namespace(), ".")[0]+".")
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return field + " must be at most " + fe.Param()
	case "min":
		return field + " must be at least " + fe.Param()
	case "gte":
		return field + " must be at least " + fe.Param()
	case "oneof":
		return field + " must be one of " + fe.Param()
	default:
		return field + " is invalid (" + fe.Tag() + ")"
	}
}

// IntQuery parses a non-negative integer query parameter, returning def when it
// is absent.
func IntQuery(r *http.Request, name string, def int) (int, *response.Error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, response.NewValidationError(name + " must be a non-negative integer")
	}
	return v, nil
}
