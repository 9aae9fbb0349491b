package validator

import (
	"slices"
	"testing"
)

type stageRequest struct {
	Stage          string `json:"toStage" validate:"required,stage"`
	Override       bool   `json:"override"`
	OverrideReason string `json:"overrideReason" validate:"required_if=Override true"`
}

type ownerQuery struct {
	OwnerID string `form:"ownerId" validate:"omitempty,uuid"`
}

func newStageValidator(t *testing.T) *Validator {
	t.Helper()
	val := New()
	if err := val.RegisterOneOf("stage", func(s string) bool { return s == "screening" }); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	return val
}

func TestRegisterOneOf(t *testing.T) {
	val := newStageValidator(t)

	if err := val.Struct(stageRequest{Stage: "screening"}); err != nil {
		t.Fatalf("expected known stage to pass, got %v", err)
	}
	err := val.Struct(stageRequest{Stage: "nowhere"})
	if err == nil {
		t.Fatalf("expected unknown stage to fail")
	}
	msgs := Messages(err)
	if len(msgs) != 1 || msgs[0] != "toStage: failed stage" {
		t.Fatalf("unexpected messages %v", msgs)
	}
}

func TestMessagesUseWireNames(t *testing.T) {
	val := newStageValidator(t)

	msgs := Messages(val.Struct(stageRequest{Override: true}))
	want := []string{"toStage: is required", "overrideReason: is required when Override is true"}
	if !slices.Equal(msgs, want) {
		t.Fatalf("expected %v, got %v", want, msgs)
	}

	msgs = Messages(val.Struct(ownerQuery{OwnerID: "me"}))
	if len(msgs) != 1 || msgs[0] != "ownerId: must be a UUID" {
		t.Fatalf("unexpected messages %v", msgs)
	}
}
