package syncer

import (
	"encoding/json"
	"errors"
	"strings"

	"respawnbot/internal/respawn"
)

// ParseResponse extracts a base time from the sync source body.
//
// Accepted shapes:
//   - JSON object with a "base_time" field: {"base_time":"21:00:00"}
//   - plain text: "21:00" or "21:00:00" (surrounding whitespace ignored)
//
// The value must parse as HH:MM[:SS] or the response is rejected wholesale.
func ParseResponse(body []byte) (string, error) {
	s := strings.TrimSpace(string(body))
	if s == "" {
		return "", errors.New("empty sync response")
	}

	if strings.HasPrefix(s, "{") {
		var payload struct {
			BaseTime string `json:"base_time"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return "", errors.New("sync response is not valid JSON")
		}
		s = strings.TrimSpace(payload.BaseTime)
		if s == "" {
			return "", errors.New("sync response missing base_time")
		}
	}

	if _, err := respawn.ParseBaseTime(s); err != nil {
		return "", err
	}
	return s, nil
}
