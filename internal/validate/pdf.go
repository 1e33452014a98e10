// Package validate checks that a downloaded document is plausibly a study
// protocol PDF before it is written to disk.
package validate

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Rejection reasons surfaced in manifest records.
var (
	ErrTooSmall    = errors.New("file too small")
	ErrNotPDF      = errors.New("not a valid PDF")
	ErrNotProtocol = errors.New("missing protocol indicators")
)

const (
	minDocumentBytes = 100
	// leadingPages bounds how much text the oracle extracts.
	leadingPages = 2
	// minTextForCheck is the minimum extracted-text length for the
	// protocol-likeness classification to be trusted at all.
	minTextForCheck = 200
)

var pdfSignature = []byte("%PDF")

// bareSAP matches "sap" as a standalone token so that words like
// "sapient" do not trip the exclusion.
var bareSAP = regexp.MustCompile(`(?i)\bsap\b`)

// TextExtractor pulls leading text out of a PDF. A nil extractor means the
// capability is unavailable and content checks are skipped.
type TextExtractor func(pdf []byte, maxPages int) (string, error)

// Validator performs signature, size, and optional content checks.
type Validator struct {
	// Extract is the optional PDF text oracle.
	Extract TextExtractor
}

// Validate returns nil when data looks like a protocol PDF. With
// requireProtocolContent set and an oracle available, the leading text is
// classified; indeterminate results (no oracle, sparse text, oracle error)
// pass rather than blocking the pipeline.
func (v *Validator) Validate(data []byte, requireProtocolContent bool) error {
	if len(data) < minDocumentBytes {
		return fmt.Errorf("%w (%d bytes)", ErrTooSmall, len(data))
	}
	if !bytes.HasPrefix(data, pdfSignature) {
		return ErrNotPDF
	}
	if !requireProtocolContent || v == nil || v.Extract == nil {
		return nil
	}
	text, err := v.Extract(data, leadingPages)
	if err != nil || len(text) < minTextForCheck {
		// Indeterminate: prefer a false negative over rejecting on a
		// missing or struggling oracle.
		return nil
	}
	if !looksLikeProtocol(text) {
		return ErrNotProtocol
	}
	return nil
}

// looksLikeProtocol classifies extracted text: it must mention "protocol"
// and must not read like a statistical analysis plan.
func looksLikeProtocol(text string) bool {
	lower := strings.ToLower(text)
	if !strings.Contains(lower, "protocol") {
		return false
	}
	if strings.Contains(lower, "statistical analysis plan") {
		return false
	}
	if bareSAP.MatchString(lower) {
		return false
	}
	return true
}
