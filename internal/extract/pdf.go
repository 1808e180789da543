package extract

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ledongthuc/pdf"
)

// extractPDF pulls the plain text out of a PDF document. The underlying
// parser panics on some malformed inputs, so panics are converted into
// ErrExtractionFailure.
func extractPDF(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("%w: parsing pdf: %v", ErrExtractionFailure, r)
		}
	}()

	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty pdf payload", ErrExtractionFailure)
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: opening pdf: %v", ErrExtractionFailure, err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("%w: extracting pdf text: %v", ErrExtractionFailure, err)
	}

	out, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("%w: reading pdf text: %v", ErrExtractionFailure, err)
	}
	return string(out), nil
}
