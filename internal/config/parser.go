package config

import (
	"errors"
	"strings"
)

// Parse reads configuration content as JSONC.
//
// The document must be a single JSON object; comments and trailing commas are
// tolerated. An empty document yields the validated base config.
func Parse(content string, base Config) (Config, []Warning, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		validatedWarnings, err := Validate(base)
		if err != nil {
			return Config{}, nil, err
		}
		return base, validatedWarnings, nil
	}

	if !strings.HasPrefix(trimmed, "{") {
		return Config{}, nil, errors.New("config must be a JSONC object (expected leading '{')")
	}

	return parseJSONC(content, base)
}
