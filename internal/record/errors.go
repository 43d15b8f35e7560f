// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

package record

import "fmt"

// AdjusterError reports a value rejected by a field adjuster.
// The message is safe to surface outside the pipeline (no raw input echoed
// beyond the offending field name and a short reason).
type AdjusterError struct {
	Field  string
	Reason string
}

func (e *AdjusterError) Error() string {
	return fmt.Sprintf("field %q: %s", e.Field, e.Reason)
}

// EnvelopeError reports a record that could not be built from wire input:
// malformed JSON, an unknown key, or any adjuster failure.
type EnvelopeError struct {
	Msg string
	Err error
}

func (e *EnvelopeError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *EnvelopeError) Unwrap() error { return e.Err }

func adjusterErr(field, reason string) error {
	return &AdjusterError{Field: field, Reason: reason}
}
