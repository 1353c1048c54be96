package stats

import (
	"crypto/md5"
	"encoding/hex"
)

// StatsError is one distinct (method, name, errorText) failure fingerprint
// and how many times it occurred since the aggregator's last report.
type StatsError struct {
	Method      string
	Name        string
	Error       string
	Occurrences int64
}

// fingerprint returns the stable bucket key for a failure, hashing
// (method, name, errorText). A collision here only
// merges the occurrence counts of two distinct errors under one bucket; it
// never loses a failure count, so falling back to the plain concatenation on
// the (practically unreachable) hashing failure path below is safe.
func fingerprint(method, name, errorText string) string {
	h := md5.New()
	if _, err := h.Write([]byte(method + "\x00" + name + "\x00" + errorText)); err != nil {
		return method + "|" + name + "|" + errorText
	}
	return hex.EncodeToString(h.Sum(nil))
}
