package validation_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/bibmerge/bibmerge/internal/errors"
	"github.com/bibmerge/bibmerge/internal/validation"
)

type testSettings struct {
	Institution string `yaml:"institution" validate:"required"`
	Format      string `yaml:"format" validate:"required,oneof=json ese"`
	IDPrefix    string `yaml:"idPrefix" validate:"omitempty,idprefix"`
	Limit       int    `json:"limit" validate:"gte=0,lte=100"`
}

func TestValidator_ValidateSuccess(t *testing.T) {
	v := validation.New()

	err := v.Validate(testSettings{Institution: "HelMet", Format: "json", IDPrefix: "helmet_1"})
	assert.NoError(t, err)
}

func TestValidator_ValidateErrors(t *testing.T) {
	v := validation.New()

	tests := []struct {
		name      string
		in        testSettings
		wantField string
		wantMsg   string
	}{
		{
			name:      "missing required field",
			in:        testSettings{Format: "json"},
			wantField: "institution",
			wantMsg:   "is required",
		},
		{
			name:      "unknown format",
			in:        testSettings{Institution: "HelMet", Format: "marc"},
			wantField: "format",
			wantMsg:   "must be one of: json ese",
		},
		{
			name:      "id prefix with dot",
			in:        testSettings{Institution: "HelMet", Format: "ese", IDPrefix: "hel.met"},
			wantField: "idPrefix",
			wantMsg:   "may contain only letters, digits, '_' and '-'",
		},
		{
			name:      "json tag used when no yaml tag",
			in:        testSettings{Institution: "HelMet", Format: "ese", Limit: 101},
			wantField: "limit",
			wantMsg:   "must be less than or equal to 100",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.in)
			require.Error(t, err)

			var de *domainerrors.Error
			require.ErrorAs(t, err, &de)
			assert.Equal(t, http.StatusBadRequest, de.HTTPStatus())
			assert.True(t, domainerrors.Is(err, domainerrors.ErrValidation))

			fields := validation.FieldErrors(err)
			assert.Equal(t, tt.wantMsg, fields[tt.wantField])
		})
	}
}

func TestValidator_NestedNamespace(t *testing.T) {
	type inner struct {
		MaxLength int `yaml:"maxLength" validate:"gte=0"`
	}
	type outer struct {
		Normalization inner `yaml:"normalization"`
	}

	err := validation.New().Validate(outer{Normalization: inner{MaxLength: -1}})
	require.Error(t, err)
	assert.Contains(t, validation.FieldErrors(err), "normalization.maxLength")
}

func TestFieldErrors_NonValidationError(t *testing.T) {
	assert.Nil(t, validation.FieldErrors(domainerrors.NotFound("x")))
	assert.Nil(t, validation.FieldErrors(nil))
}
