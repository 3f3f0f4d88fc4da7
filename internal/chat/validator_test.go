package chat

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

// 1x1 transparent PNG.
var pngBytes = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0a, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

func dataURL(mime string, b []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(b)
}

func TestValidateMessage(t *testing.T) {
	if err := ValidateMessage("hello"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateMessage(""); !errors.Is(err, ErrEmptyText) {
		t.Errorf("expected ErrEmptyText, got %v", err)
	}
	if err := ValidateMessage(strings.Repeat("a", MaxMessageBytes+1)); err == nil {
		t.Error("expected byte limit error")
	}
	if err := ValidateMessage(strings.Repeat("é", MaxTextChars+1)); err == nil {
		t.Error("expected character limit error")
	}
	if err := ValidateMessage("bad \xff byte"); err == nil {
		t.Error("expected invalid UTF-8 error")
	}
}

func TestValidateCaption(t *testing.T) {
	if err := ValidateCaption(""); err != nil {
		t.Errorf("empty caption should be allowed: %v", err)
	}
	if err := ValidateCaption(strings.Repeat("a", MaxMessageBytes+1)); err == nil {
		t.Error("expected byte limit error")
	}
}

func TestAttachmentDeclaredType(t *testing.T) {
	got, err := Attachment(KindImage, "", dataURL("image/png", pngBytes))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "image/png" {
		t.Errorf("expected image/png, got %q", got)
	}
}

func TestAttachmentClientFieldWins(t *testing.T) {
	got, err := Attachment(KindFile, "application/x-custom", dataURL("application/octet-stream", []byte("abc")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "application/x-custom" {
		t.Errorf("expected client type, got %q", got)
	}
}

func TestAttachmentSniffed(t *testing.T) {
	raw := "data:;base64," + base64.StdEncoding.EncodeToString(pngBytes)
	got, err := Attachment(KindFile, "", raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "image/png" {
		t.Errorf("expected sniffed image/png, got %q", got)
	}
}

func TestAttachmentImageMustBeImage(t *testing.T) {
	_, err := Attachment(KindImage, "", dataURL("image/png", []byte("%PDF-1.4 not an image")))
	if err == nil {
		t.Fatal("expected error for non-image bytes in an image message")
	}
}

func TestAttachmentErrors(t *testing.T) {
	if _, err := Attachment(KindFile, "", ""); !errors.Is(err, ErrMissingFileData) {
		t.Errorf("expected ErrMissingFileData, got %v", err)
	}
	for _, bad := range []string{"hello", "data:text/plain,hello", "data:text/plain;base64,@@@"} {
		if _, err := Attachment(KindFile, "", bad); !errors.Is(err, ErrInvalidDataURL) {
			t.Errorf("%q: expected ErrInvalidDataURL, got %v", bad, err)
		}
	}
	big := dataURL("application/octet-stream", make([]byte, MaxAttachmentBytes+1))
	if _, err := Attachment(KindFile, "", big); !errors.Is(err, ErrAttachmentTooLarge) {
		t.Errorf("expected ErrAttachmentTooLarge, got %v", err)
	}
}
