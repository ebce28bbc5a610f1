package notifier

import (
	"fmt"
	"slices"
	"strings"

	"github.com/himanshu-sugha/StreamKAS/internal/stream"
)

// alertFor decides whether u deserves an alert and renders it.
func alertFor(u stream.Update) (string, bool) {
	if !slices.Contains(u.Fields, stream.FieldStatus) {
		return "", false
	}
	s := u.Stream
	var head string
	switch s.Status {
	case stream.StatusActive:
		// Only the first activation; resumes are operator actions.
		if !slices.Contains(u.Fields, stream.FieldStartedAt) {
			return "", false
		}
		head = "▶️ Stream started"
	case stream.StatusCompleted:
		head = "✅ Stream completed"
	case stream.StatusCancelled:
		head = "⏹ Stream cancelled"
	case stream.StatusError:
		head = "⚠️ Stream halted"
	default:
		return "", false
	}

	var b strings.Builder
	b.WriteString(head)
	b.WriteString("\n")
	fmt.Fprintf(&b, "id: %s\n", s.ID)
	fmt.Fprintf(&b, "to: %s\n", s.Recipient)
	fmt.Fprintf(&b, "sent: %s / %s KAS (%d txs)\n",
		stream.SompiToKas(s.AmountSent).String(),
		stream.SompiToKas(s.TotalAmount).String(),
		len(s.TxHistory),
	)
	if s.Status == stream.StatusActive {
		fmt.Fprintf(&b, "rate: %s KAS every %ds", stream.SompiToKas(s.FlowRate).String(), s.IntervalSeconds)
	} else {
		fmt.Fprintf(&b, "active: %s", formatSeconds(s.ElapsedActiveSeconds))
	}
	if s.ErrorMessage != "" {
		fmt.Fprintf(&b, "\nerror: %s", s.ErrorMessage)
	}
	return b.String(), true
}

func formatSeconds(sec float64) string {
	total := int64(sec)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
