// Package assets turns deployment request attachments into files that
// can be committed to a repository and referenced in generation prompts.
package assets

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/appforge/forge/pkg/forged/deployment"
)

const (
	dataURLPrefix    = "data:"
	base64Marker     = ";base64"
	maxPreviewLength = 4096
)

// Asset is a single decoded attachment.
type Asset struct {
	Name    string
	Content []byte
	Binary  bool
}

// Materialize decodes all attachments of a deployment request.
// Any malformed attachment fails the whole batch.
func Materialize(attachments []deployment.Attachment) ([]Asset, error) {
	assets := make([]Asset, 0, len(attachments))
	seen := make(map[string]bool)

	for _, attachment := range attachments {
		asset, err := Parse(attachment.Name, attachment.URL)
		if err != nil {
			return nil, fmt.Errorf("attachment '%s': %s", attachment.Name, err)
		}
		if seen[asset.Name] {
			return nil, fmt.Errorf("attachment '%s': duplicate file name", attachment.Name)
		}
		seen[asset.Name] = true
		assets = append(assets, *asset)
	}

	return assets, nil
}

// Parse decodes a single RFC 2397 data URL into an asset.
func Parse(name, dataURL string) (*Asset, error) {
	safeName, err := safeRelativePath(name)
	if err != nil {
		return nil, err
	}

	if !strings.HasPrefix(dataURL, dataURLPrefix) {
		return nil, fmt.Errorf("not a data URL")
	}

	meta, payload, found := strings.Cut(dataURL[len(dataURLPrefix):], ",")
	if !found {
		return nil, fmt.Errorf("data URL has no payload separator")
	}

	mediaType := meta
	encoded := false
	if strings.HasSuffix(meta, base64Marker) {
		encoded = true
		mediaType = strings.TrimSuffix(meta, base64Marker)
	}

	var content []byte
	if encoded {
		content, err = decodeBase64(payload)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 payload: %s", err)
		}
	} else {
		decoded, err := url.PathUnescape(payload)
		if err != nil {
			return nil, fmt.Errorf("invalid percent encoding: %s", err)
		}
		content = []byte(decoded)
	}

	return &Asset{
		Name:    safeName,
		Content: content,
		Binary:  !textMediaType(mediaType) || !utf8.Valid(content),
	}, nil
}

// Preview returns the asset content as a string suitable for inlining
// into a generation prompt. Binary assets have no preview, and long
// text assets are cut off at a rune boundary.
func (a *Asset) Preview() string {
	if a.Binary {
		return ""
	}
	if len(a.Content) <= maxPreviewLength {
		return string(a.Content)
	}
	cut := maxPreviewLength
	for cut > 0 && !utf8.RuneStart(a.Content[cut]) {
		cut--
	}
	return string(a.Content[:cut]) + "\n(truncated)"
}

func (a *Asset) Size() int {
	return len(a.Content)
}

func decodeBase64(payload string) ([]byte, error) {
	payload = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, payload)

	content, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return base64.RawStdEncoding.DecodeString(payload)
	}
	return content, nil
}

// The default media type for data URLs is text/plain.
func textMediaType(mediaType string) bool {
	mediaType, _, _ = strings.Cut(mediaType, ";")
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	if mediaType == "" || strings.HasPrefix(mediaType, "text/") {
		return true
	}
	switch mediaType {
	case "application/json", "application/javascript", "application/xml", "image/svg+xml":
		return true
	}
	return strings.HasSuffix(mediaType, "+json") || strings.HasSuffix(mediaType, "+xml")
}

// Attachment names end up as file names in a repository, so anything
// resembling path traversal is rejected rather than silently rewritten.
func safeRelativePath(name string) (string, error) {
	if len(name) == 0 {
		return "", fmt.Errorf("empty file name")
	}
	name = strings.ReplaceAll(name, "\\", "/")
	cleaned := path.Clean(name)
	if cleaned == "." || cleaned == ".." || path.IsAbs(cleaned) || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("unsafe file name '%s'", name)
	}
	return cleaned, nil
}
