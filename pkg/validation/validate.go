// Package validation checks client-supplied fields before they reach
// the store or the model.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Limits bound client input sizes in bytes.
type Limits struct {
	MaxPromptBytes int
	MaxTitleBytes  int
	MaxIDBytes     int
}

func DefaultLimits() Limits {
	return Limits{
		MaxPromptBytes: 32 * 1024,
		MaxTitleBytes:  512,
		MaxIDBytes:     128,
	}
}

// Prompt validates the text sent to the model.
func (l Limits) Prompt(s string) error {
	var errs []string
	if strings.TrimSpace(s) == "" {
		errs = append(errs, "prompt is empty")
	}
	if len(s) > l.MaxPromptBytes {
		errs = append(errs, fmt.Sprintf("prompt too large: %d > %d bytes", len(s), l.MaxPromptBytes))
	}
	if !utf8.ValidString(s) {
		errs = append(errs, "prompt is not valid utf-8")
	}
	return joined(errs)
}

// Title validates a conversation title supplied by a client.
func (l Limits) Title(s string) error {
	var errs []string
	if strings.TrimSpace(s) == "" {
		errs = append(errs, "title is empty")
	}
	if len(s) > l.MaxTitleBytes {
		errs = append(errs, fmt.Sprintf("title too large: %d > %d bytes", len(s), l.MaxTitleBytes))
	}
	if !utf8.ValidString(s) {
		errs = append(errs, "title is not valid utf-8")
	}
	return joined(errs)
}

// ID validates message, conversation and session identifiers.
func (l Limits) ID(s string) error {
	var errs []string
	if s == "" {
		errs = append(errs, "id is empty")
	}
	if len(s) > l.MaxIDBytes {
		errs = append(errs, fmt.Sprintf("id too large: %d > %d bytes", len(s), l.MaxIDBytes))
	}
	if strings.ContainsAny(s, " \t\r\n") {
		errs = append(errs, "id contains whitespace")
	}
	return joined(errs)
}

func joined(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.New(strings.Join(errs, "; "))
}
