package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/stemsi/gameverify-backend/internal/model"
	"golang.org/x/crypto/hkdf"
)

// signingKeyInfo binds derived keys to this use; bump the version to rotate.
const signingKeyInfo = "gameverify/submission-signature/v1"

// Signer computes and verifies submission signatures. The key never leaves
// the process.
type Signer struct {
	key []byte
}

// NewSigner derives the HMAC key from secret with HKDF-SHA256.
func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("signing secret is required")
	}

	key := make([]byte, sha256.Size)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(signingKeyInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}
	return &Signer{key: key}, nil
}

// Sign returns the base64 HMAC-SHA256 of the canonical submission message.
func (s *Signer) Sign(sessionID string, answers []model.AnswerSubmission) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(canonicalMessage(sessionID, answers)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches the submission. Comparison is
// constant time.
func (s *Signer) Verify(sessionID string, answers []model.AnswerSubmission, signature string) bool {
	got, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(canonicalMessage(sessionID, answers)))
	return hmac.Equal(got, mac.Sum(nil))
}

// canonicalMessage length-prefixes every field so no pair of distinct
// submissions serialises to the same bytes. Timing values are not covered.
func canonicalMessage(sessionID string, answers []model.AnswerSubmission) string {
	var b strings.Builder
	writeField(&b, sessionID)
	for _, a := range answers {
		b.WriteByte('|')
		writeField(&b, a.QuestionID)
		b.WriteByte('|')
		writeField(&b, a.Answer)
	}
	return b.String()
}

func writeField(b *strings.Builder, v string) {
	b.WriteString(strconv.Itoa(len(v)))
	b.WriteByte(':')
	b.WriteString(v)
}
