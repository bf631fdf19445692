package validators

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/angelmondragon/payrecon/pkg/enums"
	pkgerrors "github.com/angelmondragon/payrecon/pkg/errors"
)

// ParseQueryInt reads an optional bounded integer query parameter.
func ParseQueryInt(r *http.Request, key string, defaultVal, min, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return defaultVal, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < min || value > max {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, key+" must be a number in range").
			WithDetails(map[string]any{"field": key, "min": min, "max": max})
	}
	return value, nil
}

// ParsePollingState reads an optional polling task state filter. Only states
// a live task can be in are accepted.
func ParsePollingState(r *http.Request, key string) (enums.PollingState, error) {
	raw := strings.ToLower(strings.TrimSpace(r.URL.Query().Get(key)))
	switch state := enums.PollingState(raw); state {
	case "":
		return "", nil
	case enums.PollingStateScheduled, enums.PollingStatePolling:
		return state, nil
	default:
		return "", pkgerrors.New(pkgerrors.CodeValidation, "unknown polling state").
			WithDetails(map[string]any{"field": key, "value": raw})
	}
}
