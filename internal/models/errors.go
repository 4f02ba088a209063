package models

import "errors"

// Validation errors for ledger rows.
var (
	// ErrFilenameRequired indicates a clip row without an artifact name.
	ErrFilenameRequired = errors.New("filename is required")

	// ErrInvalidClipKind indicates an unknown clip kind.
	ErrInvalidClipKind = errors.New("invalid clip kind: must be 'synthesis', 'audition' or 'preview'")
)
