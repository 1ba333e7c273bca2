package handler

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/analysis-tracker/internal/storage"
)

// DecodeTrackingCursor parses a next_cursor value. An empty string means the first page.
func DecodeTrackingCursor(cursorStr string) (*storage.Cursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor encoding: %w", err)
	}

	// job ids may contain '|', so only the first separator counts
	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil, fmt.Errorf("invalid cursor format")
	}

	createdAt, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid createdAt in cursor: %w", err)
	}

	return &storage.Cursor{
		CreatedAt: time.Unix(0, createdAt).UTC(),
		JobID:     parts[1],
	}, nil
}

// EncodeTrackingCursor builds the next_cursor value for the last row of a page
func EncodeTrackingCursor(cursor *storage.Cursor) string {
	cs := fmt.Sprintf("%d|%s", cursor.CreatedAt.UnixNano(), cursor.JobID)
	return base64.RawURLEncoding.EncodeToString([]byte(cs))
}
