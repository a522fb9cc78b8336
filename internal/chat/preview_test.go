package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rufae/servibot/internal/model"
)

func TestEmailPreviewRendersMessage(t *testing.T) {
	preview, err := EmailPreview(&model.EmailParams{
		To:      "ana@example.com",
		Subject: "Resumen semanal",
		Body:    "Aquí está el resumen.",
	})
	require.NoError(t, err)

	assert.Contains(t, preview, "To: <ana@example.com>")
	assert.Contains(t, preview, "Subject: Resumen semanal")
	assert.Contains(t, preview, "Aquí está el resumen.")
}

func TestEmailPreviewMultipleRecipients(t *testing.T) {
	preview, err := EmailPreview(&model.EmailParams{
		To:      "ana@example.com, luis@example.com",
		Subject: "Hola",
		Body:    "Hola a los dos",
	})
	require.NoError(t, err)
	assert.Contains(t, preview, "ana@example.com")
	assert.Contains(t, preview, "luis@example.com")
}

func TestEmailPreviewRequiresRecipient(t *testing.T) {
	_, err := EmailPreview(&model.EmailParams{Subject: "sin destinatario", Body: "x"})
	assert.Error(t, err)
}
