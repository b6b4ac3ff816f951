package sandbox

import (
	"encoding/base64"
	"strings"
	"unicode/utf8"
)

func encodeBase64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// decodeBase64Lossy decodes a base64 payload (trimming the trailing newline
// `base64` appends) and falls back to a binary-size sentinel when the
// decoded bytes are not valid UTF-8, mirroring the local backend's ReadFile.
func decodeBase64Lossy(encoded string) (string, error) {
	trimmed := strings.TrimSpace(encoded)
	data, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return BinarySentinel(len(data)), nil
	}
	return string(data), nil
}
