package validation_test

import (
	"errors"
	"net/http"
	"testing"

	domainerrors "github.com/listenupapp/fen/internal/errors"
	"github.com/listenupapp/fen/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type TestRequest struct {
	Path     string       `json:"path" validate:"required"`
	Handler  func()       `json:"-" validate:"required"`
	Patterns []string     `json:"patterns" validate:"omitempty,dive,required,glob"`
	Mask     uint8        `json:"mask" validate:"lte=63"`
	Nested   NestedFilter `json:"nested"`
}

type NestedFilter struct {
	Workers int `json:"workers" validate:"gte=0"`
}

func validRequest() TestRequest {
	return TestRequest{
		Path:     "/media/books",
		Handler:  func() {},
		Patterns: []string{"*.m4b", "chapter-??.mp3"},
		Mask:     3,
	}
}

func TestValidator_ValidateSuccess(t *testing.T) {
	v := validation.New()

	assert.NoError(t, v.Validate(validRequest()))
}

func TestValidator_ValidateErrors(t *testing.T) {
	v := validation.New()

	tests := []struct {
		name       string
		mutate     func(*TestRequest)
		wantErrMsg string
	}{
		{
			name:       "missing path",
			mutate:     func(r *TestRequest) { r.Path = "" },
			wantErrMsg: "path",
		},
		{
			name:       "nil handler",
			mutate:     func(r *TestRequest) { r.Handler = nil },
			wantErrMsg: "Handler",
		},
		{
			name:       "malformed glob",
			mutate:     func(r *TestRequest) { r.Patterns = []string{"[unterminated"} },
			wantErrMsg: "glob",
		},
		{
			name:       "empty pattern",
			mutate:     func(r *TestRequest) { r.Patterns = []string{""} },
			wantErrMsg: "required",
		},
		{
			name:       "mask out of range",
			mutate:     func(r *TestRequest) { r.Mask = 64 },
			wantErrMsg: "mask",
		},
		{
			name:       "nested field",
			mutate:     func(r *TestRequest) { r.Nested.Workers = -1 },
			wantErrMsg: "workers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)

			err := v.Validate(req)
			require.Error(t, err)

			var domainErr *domainerrors.Error
			if assert.True(t, errors.As(err, &domainErr)) {
				assert.Equal(t, domainerrors.CodeInvalidWatchRequest, domainErr.Code)
				assert.Equal(t, http.StatusBadRequest, domainErr.HTTPStatus())
				assert.Contains(t, domainErr.Message, tt.wantErrMsg)
				assert.NotEmpty(t, domainErr.Details)
			}
			assert.True(t, errors.Is(err, domainerrors.ErrInvalidWatchRequest))
		})
	}
}

func TestValidator_JSONFieldNames(t *testing.T) {
	v := validation.New()

	req := validRequest()
	req.Path = ""

	err := v.Validate(req)
	require.Error(t, err)

	// Should use JSON tag name "path", not struct field name "Path"
	assert.Contains(t, err.Error(), "path")
	assert.NotContains(t, err.Error(), "Path")
}
