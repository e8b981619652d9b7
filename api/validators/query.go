package validators

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/angelmondragon/kitforge-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/kitforge-backend/pkg/errors"
)

// queryValue trims the parameter and caps it at maxLen bytes when maxLen > 0.
func queryValue(r *http.Request, key string, maxLen int) string {
	value := strings.TrimSpace(r.URL.Query().Get(key))
	if maxLen > 0 && len(value) > maxLen {
		value = value[:maxLen]
	}
	return value
}

func fieldError(key, message string) *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeValidation, message).WithDetails(map[string]any{"field": key})
}

// RequireQuery returns the trimmed, length-capped value of key or a
// validation error when it is blank.
func RequireQuery(r *http.Request, key string, maxLen int) (string, error) {
	value := queryValue(r, key, maxLen)
	if value == "" {
		return "", fieldError(key, key+" is required")
	}
	return value, nil
}

func ParseQueryInt(r *http.Request, key string, defaultVal, min, max int) (int, error) {
	raw := queryValue(r, key, 0)
	if raw == "" {
		return defaultVal, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fieldError(key, key+" must be numeric")
	}
	if value < min || value > max {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, key+" out of range").
			WithDetails(map[string]any{"field": key, "min": min, "max": max})
	}
	return value, nil
}

// ParseProviderQuery reads an optional provider filter. An empty value
// returns nil, meaning any provider.
func ParseProviderQuery(r *http.Request, key string) (*enums.Provider, error) {
	raw := queryValue(r, key, 0)
	if raw == "" {
		return nil, nil
	}
	provider, err := enums.ParseProvider(raw)
	if err != nil {
		return nil, fieldError(key, "unknown provider")
	}
	return &provider, nil
}
