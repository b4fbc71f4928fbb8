package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// SignScore computes the signature a trusted client attaches to a score
// submission: HMAC-SHA256 over the canonical tuple
// "userId-gameId-score-timestamp", keyed with the server secret, hex encoded.
func SignScore(userID, gameID string, score, timestamp int64, secret string) string {
	payload := fmt.Sprintf("%s-%s-%d-%d", userID, gameID, score, timestamp)
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyScoreSignature recomputes the expected signature and compares it to
// the supplied one with hmac.Equal, so the comparison does not leak a prefix
// match through timing. Fails closed: a missing signature, missing secret, or
// any mismatch is invalid.
func VerifyScoreSignature(userID, gameID string, score, timestamp int64, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	expected := SignScore(userID, gameID, score, timestamp, secret)
	return hmac.Equal([]byte(signature), []byte(expected))
}
