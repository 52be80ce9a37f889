// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

// RedactedStr replaces secret values in logs and API responses.
const RedactedStr = "<redacted>"

// RedactString returns RedactedStr for any non-empty value.
func RedactString(s string) string {
	if len(s) == 0 {
		return ""
	}

	return RedactedStr
}

// IsRedactedString reports whether value is the redaction placeholder, which
// happens when a redacted config dump is pasted back into a config file.
func IsRedactedString(value string) bool {
	return value == RedactedStr
}
