package utils

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Разделитель частей курсора внутри base64.
const cursorSeparator = "_"

// EncodeCursor кодирует пару (created_at, id) последнего элемента страницы
// в непрозрачную строку keyset-курсора.
func EncodeCursor(t time.Time, id uuid.UUID) string {
	if id == uuid.Nil || t.IsZero() {
		return ""
	}
	// Наносекунды, чтобы не терять точность TIMESTAMPTZ.
	cursorData := strconv.FormatInt(t.UnixNano(), 10) + cursorSeparator + id.String()
	return base64.URLEncoding.EncodeToString([]byte(cursorData))
}

// DecodeCursor разбирает строку курсора обратно в пару (created_at, id).
// Пустой курсор валиден и означает начало списка.
func DecodeCursor(cursor string) (time.Time, uuid.UUID, error) {
	if cursor == "" {
		return time.Time{}, uuid.Nil, nil
	}

	decodedBytes, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, uuid.Nil, fmt.Errorf("invalid cursor base64 format: %w", err)
	}

	parts := strings.SplitN(string(decodedBytes), cursorSeparator, 2)
	if len(parts) != 2 {
		return time.Time{}, uuid.Nil, fmt.Errorf("invalid cursor format, expected 2 parts, got %d", len(parts))
	}

	timestampNano, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, uuid.Nil, fmt.Errorf("invalid cursor timestamp format: %w", err)
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return time.Time{}, uuid.Nil, fmt.Errorf("invalid cursor uuid format: %w", err)
	}

	return time.Unix(0, timestampNano).UTC(), id, nil
}
