package domain

import (
	"fmt"
	"path"
	"strings"
	"time"
)

const (
	apSignaturePrefix       = "ap_signature_"
	receiverSignaturePrefix = "receiver_"
)

// ValidMediaFilename reports whether name is a single safe path element.
func ValidMediaFilename(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return false
	}
	return path.Base(name) == name
}

// InferMediaRole derives a role from legacy signature filename prefixes.
func InferMediaRole(filename string) MediaRole {
	switch {
	case strings.HasPrefix(filename, apSignaturePrefix):
		return MediaRoleAPSignature
	case strings.HasPrefix(filename, receiverSignaturePrefix):
		return MediaRoleReceiverSignature
	default:
		return MediaRolePhoto
	}
}

// mediaStamp formats a timestamp so it is safe inside a filename.
func mediaStamp(ts time.Time) string {
	return strings.ReplaceAll(ts.UTC().Format("2006-01-02T15:04:05"), ":", "-")
}

// mediaSuffix tags a generated filename with the owning event id so events
// sharing a timestamp never share a blob key.
func mediaSuffix(eventID string) string {
	tag := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '-'
		}
	}, strings.TrimSpace(eventID))
	if tag == "" {
		return ""
	}
	return "_" + tag
}

// PhotoFilename names the n-th (1-based) photo captured for an event.
func PhotoFilename(eventType EventType, eventID string, n int, ts time.Time, ext string) string {
	return fmt.Sprintf("%s_%d_%s%s%s", eventType, n, mediaStamp(ts), mediaSuffix(eventID), normalizeExt(ext))
}

// APSignatureFilename names the depot staff signature for an event.
func APSignatureFilename(eventID string, ts time.Time) string {
	return apSignaturePrefix + mediaStamp(ts) + mediaSuffix(eventID) + ".png"
}

// ReceiverSignatureFilename names the site receiver signature for an outcome.
func ReceiverSignatureFilename(outcome Outcome, eventID string, ts time.Time) string {
	label := string(outcome)
	if label == "" {
		label = "unknown"
	}
	return receiverSignaturePrefix + label + "_" + mediaStamp(ts) + mediaSuffix(eventID) + ".png"
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ".jpg"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
