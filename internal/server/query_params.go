package server

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

const dateOnlyLayout = "2006-01-02"

// pathID parses a snowflake path parameter, aborting with a validation error
// when it is malformed.
func pathID(c *gin.Context, name string) (snowflake.ID, bool) {
	id, err := parseOptionalSnowflakeID(c.Param(name))
	if err != nil || id == nil {
		AbortWithError(c, newValidationError(name, "invalid_"+name, "invalid "+name))
		return 0, false
	}
	return *id, true
}

func parseOptionalInt64(value string) (*int64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func parseOptionalSnowflakeID(value string) (*snowflake.ID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := snowflake.ParseString(trimmed)
	if err != nil || parsed == 0 {
		return nil, errors.New("invalid_snowflake_id")
	}
	return &parsed, nil
}

// parseOptionalTime accepts RFC3339 or a bare date, which is read as midnight UTC.
func parseOptionalTime(value string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return &parsed, nil
	}
	if parsed, err := time.Parse(dateOnlyLayout, trimmed); err == nil {
		parsed = time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, time.UTC)
		return &parsed, nil
	}
	return nil, errors.New("invalid_time")
}

func parseOptionalLimit(value string) (int, error) {
	parsed, err := parseOptionalInt64(value)
	if err != nil {
		return 0, err
	}
	if parsed == nil {
		return 0, nil
	}
	if *parsed < 0 {
		return 0, errors.New("invalid_limit")
	}
	return int(*parsed), nil
}
