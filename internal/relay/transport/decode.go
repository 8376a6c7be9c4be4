package transport

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
)

// decodeBody turns the raw response bytes into a UTF-8 string, undoing
// gzip content encoding and transcoding legacy charsets. Older CMS
// installs still serve ISO 8859-1 pages.
func decodeBody(raw []byte, headers http.Header) (string, error) {
	if strings.EqualFold(headers.Get("Content-Encoding"), "gzip") {
		reader, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return "", fmt.Errorf("gunzip response: %w", err)
		}
		defer reader.Close()
		raw, err = io.ReadAll(reader)
		if err != nil {
			return "", fmt.Errorf("gunzip response: %w", err)
		}
	}

	label := charsetLabel(raw, headers.Get("Content-Type"))
	if label == "" || label == "utf-8" {
		return string(raw), nil
	}

	reader, err := charset.NewReaderLabel(label, bytes.NewReader(raw))
	if err != nil {
		// Unknown label, serve the bytes as-is.
		return string(raw), nil
	}
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("transcode %s response: %w", label, err)
	}
	return string(decoded), nil
}

// charsetLabel picks the charset from the Content-Type header, falling
// back to detection when the header is silent and the bytes are not
// valid UTF-8.
func charsetLabel(raw []byte, contentType string) string {
	if _, params, err := parseMediaType(contentType); err == nil {
		if cs, ok := params["charset"]; ok {
			return strings.ToLower(cs)
		}
	}
	if utf8.Valid(raw) {
		return "utf-8"
	}
	detector := chardet.NewTextDetector()
	result, err := detector.DetectBest(raw)
	if err != nil || result == nil {
		return "utf-8"
	}
	return strings.ToLower(result.Charset)
}

// parseMediaType is a minimal media-type parameter splitter; mime.ParseMediaType
// rejects some sloppy CMS headers outright.
func parseMediaType(value string) (string, map[string]string, error) {
	parts := strings.Split(value, ";")
	if len(parts) == 0 || parts[0] == "" {
		return "", nil, fmt.Errorf("empty media type")
	}
	params := map[string]string{}
	for _, part := range parts[1:] {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) == 2 {
			params[strings.ToLower(kv[0])] = strings.Trim(kv[1], `"`)
		}
	}
	return strings.TrimSpace(strings.ToLower(parts[0])), params, nil
}
