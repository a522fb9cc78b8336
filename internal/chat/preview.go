package chat

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/rufae/servibot/internal/model"
)

// EmailPreview renders a send_email draft as the RFC 5322 message the
// backend will effectively produce, so the confirmation dialog can show
// the user exactly what goes out.
func EmailPreview(p *model.EmailParams) (string, error) {
	var header mail.Header
	header.SetDate(time.Now())
	header.SetSubject(p.Subject)

	var recipients []*mail.Address
	for _, part := range strings.Split(p.To, ",") {
		addr := strings.TrimSpace(part)
		if addr == "" {
			continue
		}
		recipients = append(recipients, &mail.Address{Address: addr})
	}
	if len(recipients) == 0 {
		return "", fmt.Errorf("email draft has no recipients")
	}
	header.SetAddressList("To", recipients)
	header.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, header)
	if err != nil {
		return "", fmt.Errorf("building email preview: %w", err)
	}
	if _, err := io.WriteString(w, p.Body); err != nil {
		w.Close()
		return "", fmt.Errorf("writing email body: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalizing email preview: %w", err)
	}

	return buf.String(), nil
}
