// Copyright 2025 Certen Protocol
//
// Package interservice authenticates the HTTP calls the upload service
// makes into the payment service's reserve/refund/check/finalize
// endpoints (and vice versa for any callback) with a per-request
// HMAC-SHA256 signature keyed by a 32-byte shared secret, per spec §6.
package interservice

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"
)

const (
	headerTimestamp = "X-Internal-Timestamp"
	headerSignature = "X-Internal-Signature"
	// MaxClockSkew bounds how stale a signed request may be, guarding
	// against replay of a captured request.
	MaxClockSkew = 5 * time.Minute
)

// Sign computes the HMAC-SHA256 over "<method>\n<path>\n<timestamp>\n<body>"
// with the shared secret, hex-encoded.
func Sign(secretHex, method, path string, timestamp int64, body []byte) (string, error) {
	secret, err := hex.DecodeString(secretHex)
	if err != nil {
		return "", fmt.Errorf("interservice: bad secret encoding: %w", err)
	}
	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%s\n%s\n%d\n", method, path, timestamp)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// SignRequest attaches the timestamp and signature headers to req. body
// must be the exact bytes already set as req's body.
func SignRequest(req *http.Request, secretHex string, body []byte) error {
	ts := time.Now().Unix()
	sig, err := Sign(secretHex, req.Method, req.URL.Path, ts, body)
	if err != nil {
		return err
	}
	req.Header.Set(headerTimestamp, fmt.Sprintf("%d", ts))
	req.Header.Set(headerSignature, sig)
	return nil
}

// Verify checks a request's signature and timestamp freshness. Returns
// a non-nil error that callers should map to apierr.Unauthorized.
func Verify(secretHex, method, path string, headers http.Header, body []byte) error {
	tsHeader := headers.Get(headerTimestamp)
	sigHeader := headers.Get(headerSignature)
	if tsHeader == "" || sigHeader == "" {
		return fmt.Errorf("interservice: missing auth headers")
	}
	var ts int64
	if _, err := fmt.Sscanf(tsHeader, "%d", &ts); err != nil {
		return fmt.Errorf("interservice: bad timestamp: %w", err)
	}
	if skew := time.Since(time.Unix(ts, 0)); skew > MaxClockSkew || skew < -MaxClockSkew {
		return fmt.Errorf("interservice: timestamp outside allowed skew")
	}

	expected, err := Sign(secretHex, method, path, ts, body)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(sigHeader)) {
		return fmt.Errorf("interservice: signature mismatch")
	}
	return nil
}
