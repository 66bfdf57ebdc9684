package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// History limits.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

var validate = validator.New()

// validateUserID accepts printable ASCII identifiers up to 128 bytes.
func validateUserID(id string) error {
	if err := validate.Var(id, "required,max=128,printascii,excludesall= /"); err != nil {
		return fmt.Errorf("invalid user id")
	}
	return nil
}

// parseLimit reads ?limit=, defaulting to DefaultLimit and capped at
// MaxLimit. Zero means default.
func parseLimit(r *http.Request) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return DefaultLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("limit must be a non-negative integer")
	}
	switch {
	case n == 0:
		return DefaultLimit, nil
	case n > MaxLimit:
		return MaxLimit, nil
	}
	return n, nil
}
