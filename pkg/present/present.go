// Package present turns evaluation errors into constrained HTML markup for an
// error panel.
//
// Diagnostics are rendered with ANSI colors and translated to markup. Every
// other error is shown as escaped plain text.
package present

import (
	"errors"
	"html"
	"strings"

	"github.com/aixgo-dev/playground/pkg/interp"
)

const (
	// SuccessColor is the markup color of bright green, which diagnostics
	// use to highlight the offending position.
	SuccessColor = "#5f5"
	// MutedColor replaces SuccessColor so error panels never read as success.
	MutedColor = "#262"

	lineBreak = "<br/>"
)

// Present renders err for display. It reports false when err is nil or the
// diagnostic could not be converted, in which case no message should be shown.
func Present(err error) (string, bool) {
	if err == nil {
		return "", false
	}

	var diag *interp.Diagnostic
	if errors.As(err, &diag) {
		markup, convErr := DiagnosticToMarkup(diag)
		if convErr != nil {
			return "", false
		}
		return markup, true
	}

	return PlainToMarkup(err.Error()), true
}

// DiagnosticToMarkup converts the colored rendering of d to markup and applies
// RemapSuccessColor.
func DiagnosticToMarkup(d *interp.Diagnostic) (string, error) {
	markup, err := ANSIToMarkup(d.Pretty(true))
	if err != nil {
		return "", err
	}
	return RemapSuccessColor(markup), nil
}

// RemapSuccessColor rewrites the success color to the muted tone.
func RemapSuccessColor(markup string) string {
	return strings.ReplaceAll(markup, "color:"+SuccessColor, "color:"+MutedColor)
}

// PlainToMarkup escapes text and turns newlines into line breaks.
func PlainToMarkup(text string) string {
	return strings.ReplaceAll(html.EscapeString(text), "\n", lineBreak)
}
