// internal/metadata/params.go
package metadata

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// JobParameters is what the dispatcher writes onto the worker instance.
type JobParameters struct {
	InputLocator    string `json:"input_locator" validate:"required"`
	OutputBucket    string `json:"output_bucket" validate:"required"`
	CredentialToken string `json:"-"`
	JobID           string `json:"job_id" validate:"required,pathsegment"`
}

// Keys names the instance attributes holding each job parameter.
type Keys struct {
	InputLocator    string
	OutputBucket    string
	CredentialToken string
	JobID           string
}

func DefaultKeys() Keys {
	return Keys{
		InputLocator:    "gcs-input-path",
		OutputBucket:    "gcs-output-bucket",
		CredentialToken: "huggingface-token",
		JobID:           "transcription-id",
	}
}

// Items returns the parameters as instance attribute key/value pairs in a
// stable order.
func (k Keys) Items(p JobParameters) [][2]string {
	return [][2]string{
		{k.InputLocator, p.InputLocator},
		{k.OutputBucket, p.OutputBucket},
		{k.CredentialToken, p.CredentialToken},
		{k.JobID, p.JobID},
	}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func paramsValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("pathsegment", func(fl validator.FieldLevel) bool {
			s := fl.Field().String()
			return s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
		})
	})
	return validate
}

// Validate reports the first missing or malformed field of p.
func Validate(p JobParameters) error {
	err := paramsValidator().Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Tag() == "required" {
			return fmt.Errorf("%w: %s", ErrMissingParameter, fe.Field())
		}
		return fmt.Errorf("%w: %s fails %q", ErrInvalidParameter, fe.Field(), fe.Tag())
	}
	return err
}
