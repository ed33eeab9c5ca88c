package condition

import (
	"testing"

	"github.com/danmuck/amqpengine/internal/testutil/testlog"
)

func TestEmptyConditionDescribe(t *testing.T) {
	testlog.Start(t)
	var c Condition
	if !c.Empty() {
		t.Fatalf("expected zero condition to be empty")
	}
	if got := c.Describe(); got != "" {
		t.Fatalf("expected empty describe, got %q", got)
	}
}

func TestNamedConditionDescribe(t *testing.T) {
	testlog.Start(t)
	c := Named("err", "foo bar")
	if c.Empty() {
		t.Fatalf("expected non-empty condition")
	}
	if c.Name() != "err" || c.Description() != "foo bar" {
		t.Fatalf("unexpected fields: %q %q", c.Name(), c.Description())
	}
	if got := c.Describe(); got != "err: foo bar" {
		t.Fatalf("expected %q, got %q", "err: foo bar", got)
	}
	if got := Named("", "only text").Describe(); got != "only text" {
		t.Fatalf("expected description only, got %q", got)
	}
	if got := Named("only-name", "").Describe(); got != "only-name" {
		t.Fatalf("expected name only, got %q", got)
	}
}

func TestDescriptionOnlyUsesDefaultName(t *testing.T) {
	testlog.Start(t)
	c := New("socket reset")
	if c.Name() != DefaultName {
		t.Fatalf("expected default name %q, got %q", DefaultName, c.Name())
	}
	if got := c.Describe(); got != "proton:io:error: socket reset" {
		t.Fatalf("unexpected describe %q", got)
	}
}

func TestEqualityIgnoresProperties(t *testing.T) {
	testlog.Start(t)
	a := Named("err", "foo bar")
	b := WithProperties("err", "foo bar", map[string]any{"retry": true})
	if !a.Equal(Named("err", "foo bar")) {
		t.Fatalf("expected structurally equal conditions to be equal")
	}
	if !a.Equal(b) {
		t.Fatalf("expected properties to be excluded from equality")
	}
	if a.Equal(Named("err", "other")) {
		t.Fatalf("expected different descriptions to differ")
	}
}

func TestPropertiesAreCopied(t *testing.T) {
	testlog.Start(t)
	props := map[string]any{"node": "a"}
	c := WithProperties("x", "y", props)
	props["node"] = "mutated"
	got := c.Properties()
	if got["node"] != "a" {
		t.Fatalf("expected construction to copy properties, got %v", got["node"])
	}
	got["node"] = "again"
	if c.Properties()["node"] != "a" {
		t.Fatalf("expected accessor to return a copy")
	}
	if Named("x", "y").Properties() != nil {
		t.Fatalf("expected nil properties when none were set")
	}
}
