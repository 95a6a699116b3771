package transport

import (
	"bytes"
	"strings"
)

var defaultBlockKeywords = []string{
	"captcha",
	"cf-chl",
	"access denied",
	"unusual traffic",
	"are you a robot",
	"request blocked",
}

// BlockDetector tells fingerprint-detection responses apart from ordinary
// HTTP errors using simple body signals.
type BlockDetector struct {
	keywords [][]byte
}

// NewBlockDetector builds a detector. Empty input falls back to the default
// challenge markers.
func NewBlockDetector(keywords []string) *BlockDetector {
	if len(keywords) == 0 {
		keywords = defaultBlockKeywords
	}
	lowered := make([][]byte, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(strings.ToLower(kw))
		if kw == "" {
			continue
		}
		lowered = append(lowered, []byte(kw))
	}
	return &BlockDetector{keywords: lowered}
}

// Blocked reports whether the response looks like an anti-bot challenge.
// Only statuses a challenge wall actually serves are considered.
func (d *BlockDetector) Blocked(status int, body []byte) bool {
	switch status {
	case 403, 429, 503:
	default:
		return false
	}
	if len(body) == 0 {
		return false
	}
	lower := bytes.ToLower(body)
	for _, kw := range d.keywords {
		if bytes.Contains(lower, kw) {
			return true
		}
	}
	return false
}
