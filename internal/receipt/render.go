package receipt

import (
	"fmt"
	"strings"
)

const lineWidth = 42

// Render formats a payload as plain text for a line printer.
func Render(p Payload) []byte {
	var b strings.Builder

	if p.Header != "" {
		writeCentered(&b, p.Header)
	}
	writeCentered(&b, fmt.Sprintf("Table %s", shortID(p.TableID.String())))
	if p.SplitName != "" {
		writeCentered(&b, p.SplitName)
	}
	if !p.PaidAt.IsZero() {
		writeCentered(&b, p.PaidAt.Format("2006-01-02 15:04"))
	}
	b.WriteString(strings.Repeat("-", lineWidth))
	b.WriteByte('\n')

	for _, item := range p.Items {
		left := item.Description
		if item.Quantity > 1 {
			left = fmt.Sprintf("%dx %s", item.Quantity, item.Description)
		}
		writeRow(&b, left, item.Total.StringFixed(2))
	}

	b.WriteString(strings.Repeat("-", lineWidth))
	b.WriteByte('\n')
	writeRow(&b, "TOTAL", p.Total.StringFixed(2))
	if p.Method != "" {
		writeRow(&b, "Paid by", strings.ToUpper(p.Method))
	}
	if p.CustomerName != "" {
		writeRow(&b, "Guest", p.CustomerName)
	}
	if p.Footer != "" {
		b.WriteByte('\n')
		writeCentered(&b, p.Footer)
	}
	b.WriteByte('\n')
	return []byte(b.String())
}

func writeCentered(b *strings.Builder, s string) {
	if len(s) >= lineWidth {
		b.WriteString(s)
	} else {
		b.WriteString(strings.Repeat(" ", (lineWidth-len(s))/2))
		b.WriteString(s)
	}
	b.WriteByte('\n')
}

func writeRow(b *strings.Builder, left, right string) {
	pad := lineWidth - len(left) - len(right)
	if pad < 1 {
		pad = 1
	}
	b.WriteString(left)
	b.WriteString(strings.Repeat(" ", pad))
	b.WriteString(right)
	b.WriteByte('\n')
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
