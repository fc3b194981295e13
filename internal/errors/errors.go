// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by the store when a lookup matches nothing.
	ErrNotFound = errors.New("not found")

	ErrInvalidInput = errors.New("invalid input")
)

// ErrCampaignNotFound is returned when a campaign id does not exist.
type ErrCampaignNotFound struct {
	CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

func (e *ErrCampaignNotFound) Is(target error) bool {
	return target == ErrNotFound
}

// Helper constructor
func NewCampaignNotFound(id int) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// UnknownTemplateError is raised by the renderer for an unregistered key.
type UnknownTemplateError struct {
	Key string
}

func (e *UnknownTemplateError) Error() string {
	return fmt.Sprintf("unknown template %q", e.Key)
}

// InvalidTemplateError is raised when a campaign is created with a template
// key that does not resolve.
type InvalidTemplateError struct {
	Key string
	Err error
}

func (e *InvalidTemplateError) Error() string {
	return fmt.Sprintf("invalid template for campaign: %q", e.Key)
}

func (e *InvalidTemplateError) Unwrap() error {
	return e.Err
}

// DuplicateTokenError reports a tracking token collision at insertion.
type DuplicateTokenError struct {
	Token string
}

func (e *DuplicateTokenError) Error() string {
	return "duplicate tracking token"
}

// TransportError wraps a failed send to a single recipient.
type TransportError struct {
	Provider  string
	Recipient string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: send to %s failed: %v", e.Provider, e.Recipient, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func NewTransportError(provider, recipient string, err error) error {
	return &TransportError{Provider: provider, Recipient: recipient, Err: err}
}
