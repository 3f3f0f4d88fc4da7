package chat

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
)

const (
	MaxMessageBytes    = 4096            // 4KB max text payload
	MaxTextChars       = 2000            // max character count
	MaxAttachmentBytes = 5 * 1024 * 1024 // decoded attachment size
)

var (
	ErrEmptyText          = errors.New("message text is empty")
	ErrMissingFileData    = errors.New("attachment has no file data")
	ErrInvalidDataURL     = errors.New("attachment is not a base64 data URL")
	ErrAttachmentTooLarge = fmt.Errorf("attachment exceeds %d bytes", MaxAttachmentBytes)
)

// ValidateMessage checks that a chat message meets content requirements.
func ValidateMessage(text string) error {
	if len(text) == 0 {
		return ErrEmptyText
	}
	if len(text) > MaxMessageBytes {
		return fmt.Errorf("message exceeds %d byte limit", MaxMessageBytes)
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return fmt.Errorf("message exceeds %d character limit", MaxTextChars)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("message contains invalid UTF-8")
	}
	return nil
}

// ValidateCaption checks the optional text that accompanies an attachment.
func ValidateCaption(text string) error {
	if text == "" {
		return nil
	}
	return ValidateMessage(text)
}

// Attachment checks an image or file payload sent as a data URL
// ("data:<mime>;base64,<payload>") and returns the MIME type to record.
// The declared type wins; when both the client field and the data URL are
// silent the decoded bytes are sniffed. The payload itself is stored as
// sent.
func Attachment(kind Kind, fileType, fileData string) (string, error) {
	if fileData == "" {
		return "", ErrMissingFileData
	}

	header, payload, ok := strings.Cut(fileData, ",")
	if !ok || !strings.HasPrefix(header, "data:") || !strings.HasSuffix(header, ";base64") {
		return "", ErrInvalidDataURL
	}
	if base64.StdEncoding.DecodedLen(len(payload)) > MaxAttachmentBytes+3 {
		return "", ErrAttachmentTooLarge
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	if len(raw) > MaxAttachmentBytes {
		return "", ErrAttachmentTooLarge
	}

	declared := strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
	sniffed := mimetype.Detect(raw)

	if kind == KindImage && !strings.HasPrefix(sniffed.String(), "image/") {
		return "", fmt.Errorf("image attachment sniffed as %s", sniffed.String())
	}

	switch {
	case fileType != "":
		return fileType, nil
	case declared != "":
		return declared, nil
	default:
		return sniffed.String(), nil
	}
}
