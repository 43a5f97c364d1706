package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/Strob0t/flowgate/internal/port/backend"
)

// InvoiceHistory answers whether the company behind a qualification has
// been invoiced before. The approval gate uses it for first-invoice rules.
type InvoiceHistory struct {
	client backend.Client
}

// NewInvoiceHistory creates an InvoiceHistory on client.
func NewInvoiceHistory(client backend.Client) *InvoiceHistory {
	return &InvoiceHistory{client: client}
}

// HasPriorRecords resolves the qualification's company and counts its
// invoices.
func (h *InvoiceHistory) HasPriorRecords(ctx context.Context, qualificationID, requestID string) (bool, error) {
	raw, err := h.client.Do(ctx, backend.Request{
		Backend:   backend.RPC,
		Path:      "get_qualification_by_id",
		Body:      map[string]any{"p_id": qualificationID},
		RequestID: requestID,
	})
	if err != nil {
		return false, err
	}
	qual, ok := decodeObject(raw)
	if !ok {
		return false, fmt.Errorf("qualification %s not found", qualificationID)
	}
	entrepriseID := str(qual, "entreprise_id")
	if entrepriseID == "" {
		return false, fmt.Errorf("qualification %s has no entreprise_id", qualificationID)
	}

	raw, err = h.client.Do(ctx, backend.Request{
		Backend:   backend.RPC,
		Path:      "count_factures_by_entreprise",
		Body:      map[string]any{"p_entreprise_id": entrepriseID},
		RequestID: requestID,
	})
	if err != nil {
		return false, err
	}
	n, err := parseCount(raw)
	if err != nil {
		return false, fmt.Errorf("count factures for %s: %w", entrepriseID, err)
	}
	return n > 0, nil
}

// parseCount accepts a bare number, or an object or single-row list with a
// "count" field.
func parseCount(raw json.RawMessage) (int64, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.Int64()
	}
	obj, ok := decodeObject(raw)
	if !ok {
		return 0, fmt.Errorf("unexpected answer %s", raw)
	}
	s := str(obj, "count")
	if s == "" {
		return 0, fmt.Errorf("unexpected answer %s", raw)
	}
	return strconv.ParseInt(s, 10, 64)
}
