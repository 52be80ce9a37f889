// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package persistence

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/autobrr/tempo/internal/models"
)

// DefaultMigrator upgrades version 1 entries: epoch-millisecond issuedAt and
// expiresAt become RFC 3339 strings and a missing type defaults to streaming.
var DefaultMigrator Migrator = MigratorFunc(migrateV1)

func migrateV1(from int, raw json.RawMessage) (json.RawMessage, error) {
	if from != 1 {
		return nil, fmt.Errorf("no migration from version %d", from)
	}

	var entry map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("entry is null")
	}

	for _, field := range []string{"issuedAt", "expiresAt"} {
		value, ok := entry[field]
		if !ok {
			continue
		}
		converted, err := epochMillisToRFC3339(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", field, err)
		}
		if converted == nil {
			delete(entry, field)
			continue
		}
		entry[field] = converted
	}

	if _, ok := entry["type"]; !ok {
		entry["type"] = json.RawMessage(strconv.Quote(string(models.LicenseTypeStreaming)))
	}

	return json.Marshal(entry)
}

// epochMillisToRFC3339 returns nil for null, leaves strings as they are and
// converts numbers.
func epochMillisToRFC3339(raw json.RawMessage) (json.RawMessage, error) {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, err
	}

	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return raw, nil
	case float64:
		if v < 0 {
			return nil, fmt.Errorf("negative timestamp %v", v)
		}
		t := time.UnixMilli(int64(v)).UTC()
		return json.Marshal(t.Format(time.RFC3339Nano))
	default:
		return nil, fmt.Errorf("unsupported timestamp %s", string(raw))
	}
}
