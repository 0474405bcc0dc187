// Package meta reads loosely-typed values out of provider metadata maps.
// Providers echo metadata back as strings or numbers depending on how the
// originating client set it, so every lookup tolerates both.
package meta

import (
	"encoding/json"
	"strconv"
	"strings"
)

func ReadString(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	value, ok := metadata[key]
	if !ok {
		return ""
	}
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast)
	case float64:
		if cast == 0 {
			return ""
		}
		return strconv.FormatInt(int64(cast), 10)
	case json.Number:
		return cast.String()
	case int64:
		return strconv.FormatInt(cast, 10)
	case int:
		return strconv.Itoa(cast)
	}
	return ""
}
