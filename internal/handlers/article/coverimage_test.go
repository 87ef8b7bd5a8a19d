package article

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cronkeeper/cronkeeper/internal/search"
)

func TestCoverImage_ExplicitEmptySourcesSkips(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "cover.png")

	result := CoverImage(context.Background(), search.NoopProvider{}, &Material{Sources: []string{}}, target)
	if result.Status != ImageStatusSkipped || result.Reason != "no_sources" {
		t.Fatalf("got %+v", result)
	}
	if _, err := os.Stat(target); err == nil {
		t.Fatal("expected no file to be written")
	}
}

func TestCoverImage_NilMaterialWritesPlaceholder(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "cover.png")

	result := CoverImage(context.Background(), search.NoopProvider{}, nil, target)
	if result.Status != ImageStatusOK || result.Mode != ImageModePlaceholder {
		t.Fatalf("got %+v", result)
	}
	if result.Attribution != nil {
		t.Fatalf("expected nil attribution, got %v", *result.Attribution)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected placeholder PNG to exist: %v", err)
	}
}

func TestCoverImage_EmptyMaterialWritesPlaceholder(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "cover.png")

	result := CoverImage(context.Background(), search.NoopProvider{}, &Material{}, target)
	if result.Status != ImageStatusOK || result.Mode != ImageModePlaceholder {
		t.Fatalf("got %+v", result)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected placeholder PNG to exist: %v", err)
	}
}
