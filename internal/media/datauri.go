// Package media owns camera/microphone acquisition and the data-URI
// encoding every media payload uses to cross the external AI boundary.
package media

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// DataURI is a self-describing inline media encoding:
// "data:<mime>;base64,<payload>". It is the sole media transport format
// accepted by the analysis gateway.
type DataURI string

// EncodeDataURI wraps raw bytes into a data URI with the given MIME type.
func EncodeDataURI(mimeType string, data []byte) DataURI {
	return DataURI("data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data))
}

// Decode splits a data URI into its MIME type and decoded payload.
func (d DataURI) Decode() (mimeType string, data []byte, err error) {
	s := string(d)
	if !strings.HasPrefix(s, "data:") {
		return "", nil, fmt.Errorf("media: not a data uri")
	}
	rest := s[len("data:"):]
	sep := strings.Index(rest, ";base64,")
	if sep < 0 {
		return "", nil, fmt.Errorf("media: data uri is not base64 encoded")
	}
	mimeType = rest[:sep]
	data, err = base64.StdEncoding.DecodeString(rest[sep+len(";base64,"):])
	if err != nil {
		return "", nil, fmt.Errorf("media: decode data uri payload: %w", err)
	}
	return mimeType, data, nil
}

// MIMEType reports the declared MIME type, or "" for malformed input.
func (d DataURI) MIMEType() string {
	s := string(d)
	if !strings.HasPrefix(s, "data:") {
		return ""
	}
	rest := s[len("data:"):]
	if sep := strings.IndexAny(rest, ";,"); sep >= 0 {
		return rest[:sep]
	}
	return ""
}

// Valid reports whether the value looks like a base64 data URI. The
// orchestrator never assumes more than "has MIME type and is base64".
func (d DataURI) Valid() bool {
	return strings.HasPrefix(string(d), "data:") && strings.Contains(string(d), ";base64,")
}
