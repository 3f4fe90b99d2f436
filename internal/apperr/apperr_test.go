package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type codedErr struct{}

func (codedErr) Error() string { return "coded" }
func (codedErr) Code() Code    { return CodeGatewayInvalidResponse }

func TestCodeOf(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(nil))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
	assert.Equal(t, CodeSegmentationFailed, CodeOf(New(CodeSegmentationFailed, "empty document")))

	wrapped := fmt.Errorf("run: %w", Wrap(CodeExtractionFailed, "pdf", errors.New("bad xref")))
	assert.Equal(t, CodeExtractionFailed, CodeOf(wrapped))
	assert.True(t, Is(wrapped, CodeExtractionFailed))

	assert.Equal(t, CodeGatewayInvalidResponse, CodeOf(fmt.Errorf("x: %w", codedErr{})))
}

func TestErrorMessage(t *testing.T) {
	err := Wrap(CodeExtractionFailed, "read docx", errors.New("zip: not a valid zip file"))
	assert.Equal(t, "extraction_failed: read docx: zip: not a valid zip file", err.Error())
	assert.Equal(t, "not_ready: session is processing", New(CodeNotReady, "session is processing").Error())
}

func TestFatal(t *testing.T) {
	assert.True(t, CodeExtractionFailed.Fatal())
	assert.True(t, CodeSegmentationFailed.Fatal())
	assert.False(t, CodeGatewayNonTransient.Fatal())
	assert.False(t, CodeStageDegraded.Fatal())
}
