package receipt

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func testPayload() Payload {
	return Payload{
		TableID:   uuid.New(),
		SessionID: uuid.New(),
		Header:    "COMANDA CAFE",
		Footer:    "Thank you!",
		Items: []Item{
			{Description: "Pasta Carbonara", Quantity: 1, Total: decimal.RequireFromString("12.50")},
			{Description: "House Wine", Quantity: 2, Total: decimal.RequireFromString("18.00")},
		},
		Total:  decimal.RequireFromString("30.50"),
		Method: "cash",
		PaidAt: time.Date(2025, 6, 14, 19, 30, 0, 0, time.UTC),
	}
}

func TestRenderRowsFitPrinterWidth(t *testing.T) {
	out := string(Render(testPayload()))

	for _, line := range strings.Split(out, "\n") {
		if len(line) > lineWidth {
			t.Errorf("line exceeds %d columns: %q", lineWidth, line)
		}
	}

	// Item and total rows are padded to the full width
	for _, want := range []string{"Pasta Carbonara", "2x House Wine", "TOTAL"} {
		row := findLine(t, out, want)
		if len(row) != lineWidth {
			t.Errorf("row %q has width %d, want %d", row, len(row), lineWidth)
		}
	}
}

func TestRenderContents(t *testing.T) {
	out := string(Render(testPayload()))

	row := findLine(t, out, "2x House Wine")
	if !strings.HasSuffix(row, "18.00") {
		t.Errorf("wine row not right-aligned with amount: %q", row)
	}

	total := findLine(t, out, "TOTAL")
	if !strings.HasSuffix(total, "30.50") {
		t.Errorf("total row: %q", total)
	}

	if !strings.Contains(out, "CASH") {
		t.Error("payment method should be upper-cased")
	}
	if !strings.Contains(out, "2025-06-14 19:30") {
		t.Error("paid-at timestamp missing")
	}
	if !strings.Contains(out, "Thank you!") {
		t.Error("footer missing")
	}
}

func TestRenderSingleQuantityHasNoPrefix(t *testing.T) {
	out := string(Render(testPayload()))

	if strings.Contains(out, "1x Pasta") {
		t.Error("quantity prefix should be omitted for single items")
	}
}

func TestRenderSplitReceipt(t *testing.T) {
	p := testPayload()
	p.SplitName = "Split 2"
	p.Items = []Item{{Description: "1/3 of table total", Quantity: 1, Total: decimal.RequireFromString("10.17")}}
	p.Total = decimal.RequireFromString("10.17")

	out := string(Render(p))

	if !strings.Contains(out, "Split 2") {
		t.Error("split name missing")
	}
	row := findLine(t, out, "1/3 of table total")
	if !strings.HasSuffix(row, "10.17") {
		t.Errorf("share row: %q", row)
	}
}

func TestRenderLongDescriptionKeepsAmountSeparate(t *testing.T) {
	p := testPayload()
	long := strings.Repeat("Very Long Dish Name ", 3)
	p.Items = []Item{{Description: long, Quantity: 1, Total: decimal.RequireFromString("9.99")}}

	out := string(Render(p))

	row := findLine(t, out, "Very Long Dish Name")
	if !strings.HasSuffix(row, " 9.99") {
		t.Errorf("amount should stay separated by at least one space: %q", row)
	}
}

func findLine(t *testing.T, out, substr string) string {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, substr) {
			return line
		}
	}
	t.Fatalf("no line containing %q in output:\n%s", substr, out)
	return ""
}
