package utils

import (
	"testing"

	"github.com/go-playground/validator/v10"
)

func TestProcessValidationErrors(t *testing.T) {
	type dispatchRequest struct {
		Kind  string `validate:"required"`
		JobId int    `validate:"required,min=1"`
		Notes string
	}

	err := validator.New().Struct(dispatchRequest{Notes: "whatever"})
	if err == nil {
		t.Fatalf("expected validation to fail")
	}

	fields := ProcessValidationErrors(err)
	if len(fields) != 2 {
		t.Fatalf("expected 2 failing fields, got %v", fields)
	}
	if fields["Kind"] != "required" {
		t.Errorf("Kind = %q, want required", fields["Kind"])
	}
	if fields["JobId"] != "required" {
		t.Errorf("JobId = %q, want required", fields["JobId"])
	}
}
