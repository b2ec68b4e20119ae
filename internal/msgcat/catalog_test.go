package msgcat

import (
	"testing"
	"testing/fstest"
)

func TestRenderEmbedded(t *testing.T) {
	c := MustDefault()
	got, err := c.Render("denied.owner", map[string]string{"Prefix": ".", "Command": "mode"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "Only the bot owner can use .mode." {
		t.Fatalf("Render = %q", got)
	}
}

func TestRenderMissingField(t *testing.T) {
	c := MustDefault()
	if _, err := c.Render("denied.owner", map[string]string{"Prefix": "."}); err == nil {
		t.Fatalf("expected missing field error")
	}
	if got := c.Text("denied.owner", map[string]string{}, "fallback"); got != "fallback" {
		t.Fatalf("Text fallback = %q", got)
	}
	if got := c.Text("no.such.key", nil, "x"); got != "x" {
		t.Fatalf("Text missing key = %q", got)
	}
	var nilCat *Catalog
	if got := nilCat.Text("denied.owner", nil, "y"); got != "y" {
		t.Fatalf("nil catalog = %q", got)
	}
}

func TestApplyFSOverrides(t *testing.T) {
	c := MustDefault()
	if _, err := c.Render("general.plan", map[string]string{"Plan": "free"}); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	err := c.ApplyFS(fstest.MapFS{
		"a.yaml": {Data: []byte("general:\n  plan: \"tier={{.Plan}}\"\n")},
		"b.txt":  {Data: []byte("ignored")},
	})
	if err != nil {
		t.Fatalf("ApplyFS: %v", err)
	}
	got, err := c.Render("general.plan", map[string]string{"Plan": "sudo"})
	if err != nil || got != "tier=sudo" {
		t.Fatalf("override Render = %q, %v", got, err)
	}
}

func TestApplyFSDuplicateKeys(t *testing.T) {
	c := MustDefault()
	err := c.ApplyFS(fstest.MapFS{
		"a.yaml": {Data: []byte("x:\n  y: one\n")},
		"b.yml":  {Data: []byte("x:\n  y: two\n")},
	})
	if err == nil {
		t.Fatalf("expected duplicate key error")
	}
	if c.Has("x.y") {
		t.Fatalf("failed override must not be applied")
	}
}
