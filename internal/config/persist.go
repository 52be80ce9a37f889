// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// updateLogSettingsInTOML sets the top-level log keys in content, replacing
// existing or commented-out lines in place. Keys that are missing entirely are
// inserted before the first table header. An empty path leaves logPath alone.
func updateLogSettingsInTOML(content, level, path string, maxSize, maxBackups int) string {
	settings := []struct {
		key   string
		value string
	}{
		{"logLevel", strconv.Quote(level)},
		{"logPath", strconv.Quote(path)},
		{"logMaxSize", strconv.Itoa(maxSize)},
		{"logMaxBackups", strconv.Itoa(maxBackups)},
	}

	lines := strings.Split(content, "\n")
	headerIdx := firstTableHeader(lines)

	var missing []string
	for _, s := range settings {
		if s.key == "logPath" && path == "" {
			continue
		}
		if s.key == "logLevel" && level == "" {
			continue
		}

		line := fmt.Sprintf("%s = %s", s.key, s.value)
		re := regexp.MustCompile(`^\s*#?\s*` + regexp.QuoteMeta(s.key) + `\s*=`)

		replaced := false
		for i := 0; i < headerIdx; i++ {
			if re.MatchString(lines[i]) {
				lines[i] = line
				replaced = true
				break
			}
		}
		if !replaced {
			missing = append(missing, line)
		}
	}

	if len(missing) == 0 {
		return strings.Join(lines, "\n")
	}

	block := append([]string{"# Log settings"}, missing...)
	block = append(block, "")

	out := make([]string, 0, len(lines)+len(block))
	out = append(out, lines[:headerIdx]...)
	out = append(out, block...)
	out = append(out, lines[headerIdx:]...)
	return strings.Join(out, "\n")
}

func firstTableHeader(lines []string) int {
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "[") {
			return i
		}
	}
	return len(lines)
}
