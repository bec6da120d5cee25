package model

import (
	"crypto/sha256"
	"fmt"
	"math"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// fingerprintLimit caps normalized text fed into the fingerprint so minor
// trailing-page noise cannot change document identity.
const fingerprintLimit = 50000

var (
	punctRe      = regexp.MustCompile(`[^\w\s]`)
	spaceRe      = regexp.MustCompile(`\s+`)
	identifierRe = regexp.MustCompile(`[^a-z0-9]`)
)

// NormalizeText lowercases, folds unicode, strips punctuation and collapses
// whitespace. This is the canonical form used for fingerprinting and for
// substring matching during classification.
func NormalizeText(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ToLower(s)
	s = punctRe.ReplaceAllString(s, " ")
	s = spaceRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	if len(s) > fingerprintLimit {
		s = s[:fingerprintLimit]
	}
	return s
}

// NormalizeIdentifier normalizes account and invoice numbers so they match
// across punctuation variants ("12-345 / 6" and "123456" are the same key).
func NormalizeIdentifier(s string) string {
	s = NormalizeText(s)
	return identifierRe.ReplaceAllString(s, "")
}

// ContentFingerprint computes the deterministic identity of document text.
// Format: "sha256:" followed by the first 16 hex characters of the digest.
func ContentFingerprint(text string) string {
	digest := sha256.Sum256([]byte(NormalizeText(text)))
	return fmt.Sprintf("sha256:%x", digest[:8])
}

// InvoiceKey derives the cross-document duplicate-detection key from the
// semantic identity of an invoice: vendor, invoice number and total. Empty
// when either identifying component normalizes away.
func InvoiceKey(vendorName, invoiceNumber string, totalCents int64) string {
	vendor := NormalizeIdentifier(vendorName)
	number := NormalizeIdentifier(invoiceNumber)
	if vendor == "" || number == "" {
		return ""
	}
	return fmt.Sprintf("%s|inv:%s|amt:%d", vendor, number, totalCents)
}

// ToCents converts a decimal amount to integer cents, rounding half away
// from zero.
func ToCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
