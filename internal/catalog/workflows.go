package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/flowgate/internal/domain"
	"github.com/Strob0t/flowgate/internal/domain/tool"
	"github.com/Strob0t/flowgate/internal/port/backend"
)

func (c *Catalog) workflowTools() []tool.Descriptor {
	return []tool.Descriptor{
		{
			Name:        "generate_facture_pdf",
			Category:    tool.CategoryWorkflow,
			Summary:     "Generate and store an invoice PDF without sending it",
			Description: "Fetches the invoice, renders the PDF with upload to storage, and records the PDF URL. An existing PDF is reused unless force_regenerate is set.",
			Schema: json.RawMessage(`{"type":"object","properties":{
				"facture_id":{"type":"string"},"force_regenerate":{"type":"boolean"}
			},"required":["facture_id"]}`),
			Handler: c.generateFacturePDF,
		},
		{
			Name:        "send_facture_email",
			Category:    tool.CategoryWorkflow,
			Summary:     "Render an invoice PDF, upload it and email it",
			Description: "Fetches the invoice, resolves the recipient from the company when none is given, renders and uploads the PDF, sends the email and marks the invoice sent.",
			Schema: json.RawMessage(`{"type":"object","properties":{
				"facture_id":{"type":"string"},"recipient_email":{"type":"string"},"message":{"type":"string"}
			},"required":["facture_id"]}`),
			Handler: func(ctx context.Context, inv tool.Invocation) (any, error) {
				var p sendInput
				if err := decode(inv, &p); err != nil {
					return nil, err
				}
				return c.sendFactureEmail(ctx, inv.RequestID, p)
			},
		},
		{
			Name:        "create_and_send_facture",
			Category:    tool.CategoryWorkflow,
			Summary:     "Create an invoice, then render and email it",
			Description: "Large amounts and first invoices of a company wait for human approval before anything is written.",
			Schema: json.RawMessage(`{"type":"object","properties":{
				"qualification_id":{"type":"string"},
				"montant":{"type":"number"},
				"description":{"type":"string"},
				"date_emission":{"type":"string"},
				"date_echeance":{"type":"string"},
				"recipient_email":{"type":"string"},
				"message":{"type":"string"}
			},"required":["qualification_id","montant"]}`),
			Handler: c.createAndSendFacture,
		},
		{
			Name:        "generate_monthly_report",
			Category:    tool.CategoryWorkflow,
			Summary:     "Render the monthly revenue report and optionally email it",
			Description: "Collects revenue statistics and unpaid invoices for the month, renders and uploads the report PDF, and emails it when send_email is set.",
			Schema: json.RawMessage(`{"type":"object","properties":{
				"year":{"type":"integer"},"month":{"type":"integer"},
				"send_email":{"type":"boolean"},"recipient_email":{"type":"string"}
			},"required":["year","month"]}`),
			Handler: c.generateMonthlyReport,
		},
	}
}

func (c *Catalog) fetchFacture(ctx context.Context, requestID, id string) (map[string]any, error) {
	raw, err := c.rpc(ctx, requestID, "get_facture_by_id", map[string]any{"p_id": id})
	if err != nil {
		return nil, err
	}
	facture, ok := decodeObject(raw)
	if !ok {
		return nil, notFound(backend.RPC, "facture", id)
	}
	return facture, nil
}

func (c *Catalog) generateFacturePDF(ctx context.Context, inv tool.Invocation) (any, error) {
	var p struct {
		FactureID       string `json:"facture_id"`
		ForceRegenerate bool   `json:"force_regenerate"`
	}
	if err := decode(inv, &p); err != nil {
		return nil, err
	}
	log := slog.With("workflow", inv.Tool, "facture_id", p.FactureID, "request_id", inv.RequestID)

	facture, err := c.fetchFacture(ctx, inv.RequestID, p.FactureID)
	if err != nil {
		return nil, err
	}
	if pdfURL := str(facture, "pdf_url"); !p.ForceRegenerate && pdfURL != "" && str(facture, "pdf_status") == "generated" {
		log.Info("pdf already generated", "pdf_url", pdfURL)
		return map[string]any{
			"success":    true,
			"facture_id": p.FactureID,
			"pdf_url":    pdfURL,
			"pdf_status": "generated",
			"message":    "PDF already exists (use force_regenerate=true to regenerate)",
		}, nil
	}

	raw, err := c.call(ctx, inv.RequestID, backend.Document, http.MethodPost, "/generate/facture", map[string]any{
		"facture_id": p.FactureID,
		"upload":     true,
		"bucket":     "factures",
	}, false)
	if err != nil {
		return nil, err
	}
	doc, _ := decodeObject(raw)
	pdfURL := str(doc, "pdf_url")
	if pdfURL == "" {
		pdfURL = str(doc, "public_url")
	}
	if pdfURL == "" {
		return nil, missingField(backend.Document, "a PDF URL")
	}

	if _, err := c.call(ctx, inv.RequestID, backend.Database, http.MethodPut, "/facture/"+url.PathEscape(p.FactureID), map[string]any{
		"pdf_status": "generated",
		"pdf_url":    pdfURL,
	}, false); err != nil {
		return nil, err
	}

	log.Info("facture pdf generated", "pdf_url", pdfURL)
	return map[string]any{
		"success":        true,
		"facture_id":     p.FactureID,
		"pdf_url":        pdfURL,
		"pdf_status":     "generated",
		"numero_facture": facture["numero_facture"],
	}, nil
}

type sendInput struct {
	FactureID      string `json:"facture_id"`
	RecipientEmail string `json:"recipient_email"`
	Message        string `json:"message"`
}

// sendFactureEmail renders, uploads and emails an invoice, then marks it
// sent.
func (c *Catalog) sendFactureEmail(ctx context.Context, requestID string, p sendInput) (map[string]any, error) {
	log := slog.With("workflow", "send_facture_email", "facture_id", p.FactureID, "request_id", requestID)

	facture, err := c.fetchFacture(ctx, requestID, p.FactureID)
	if err != nil {
		return nil, err
	}

	recipient := p.RecipientEmail
	if recipient == "" {
		entrepriseID := str(facture, "entreprise_id")
		raw, err := c.rpc(ctx, requestID, "get_entreprise_by_id", map[string]any{"p_id": entrepriseID})
		if err != nil {
			return nil, err
		}
		entreprise, _ := decodeObject(raw)
		if recipient = str(entreprise, "email"); recipient == "" {
			return nil, fmt.Errorf("%w: no email address found for company %s", domain.ErrValidation, entrepriseID)
		}
	}

	raw, err := c.call(ctx, requestID, backend.Document, http.MethodPost, "/generate/facture",
		map[string]any{"facture_id": p.FactureID}, false)
	if err != nil {
		return nil, err
	}
	doc, _ := decodeObject(raw)
	filePath := str(doc, "file_path")
	if filePath == "" {
		return nil, missingField(backend.Document, "a file path")
	}

	numero := str(facture, "numero")
	if numero == "" {
		numero = p.FactureID
	}
	publicURL, err := c.upload(ctx, requestID, "factures", filePath, "factures/"+numero+".pdf")
	if err != nil {
		return nil, err
	}

	raw, err = c.call(ctx, requestID, backend.Email, http.MethodPost, "/send", map[string]any{
		"to":          recipient,
		"subject":     "Facture " + numero,
		"template":    "facture",
		"message":     p.Message,
		"attachments": []string{publicURL},
	}, false)
	if err != nil {
		return nil, err
	}
	email, _ := decodeObject(raw)

	if _, err := c.call(ctx, requestID, backend.Database, http.MethodPut, "/facture/"+url.PathEscape(p.FactureID), map[string]any{
		"pdf_status": "sent",
		"pdf_url":    publicURL,
	}, false); err != nil {
		return nil, err
	}

	sent, _ := email["success"].(bool)
	log.Info("facture sent", "email_sent", sent)
	return map[string]any{
		"success":    true,
		"pdf_url":    publicURL,
		"email_sent": sent,
		"recipient":  recipient,
	}, nil
}

func (c *Catalog) upload(ctx context.Context, requestID, bucket, filePath, destination string) (string, error) {
	raw, err := c.call(ctx, requestID, backend.Storage, http.MethodPost, "/upload", map[string]any{
		"bucket":      bucket,
		"file_path":   filePath,
		"destination": destination,
	}, false)
	if err != nil {
		return "", err
	}
	obj, _ := decodeObject(raw)
	publicURL := str(obj, "public_url")
	if publicURL == "" {
		return "", missingField(backend.Storage, "a public URL")
	}
	return publicURL, nil
}

// createAndSendFacture creates an invoice and sends it. The approval gate
// runs before any write; a resumed invocation skips it.
func (c *Catalog) createAndSendFacture(ctx context.Context, inv tool.Invocation) (any, error) {
	var p struct {
		factureInput
		RecipientEmail string `json:"recipient_email"`
		Message        string `json:"message"`
	}
	if err := decode(inv, &p); err != nil {
		return nil, err
	}

	if c.gate != nil && !inv.Resumed {
		pending, err := c.gate.Check(ctx, inv)
		if err != nil {
			return nil, err
		}
		if pending != nil {
			return pending, nil
		}
	}

	_, factureID, err := c.createFacture(ctx, inv.RequestID, p.factureInput)
	if err != nil {
		return nil, err
	}

	sent, err := c.sendFactureEmail(ctx, inv.RequestID, sendInput{
		FactureID:      factureID,
		RecipientEmail: p.RecipientEmail,
		Message:        p.Message,
	})
	if err != nil {
		return nil, &domain.StepError{Done: fmt.Sprintf("facture %s created but not sent", factureID), Err: err}
	}
	sent["facture_id"] = factureID
	sent["created"] = true
	return sent, nil
}

func (c *Catalog) generateMonthlyReport(ctx context.Context, inv tool.Invocation) (any, error) {
	var p struct {
		Year           int    `json:"year"`
		Month          int    `json:"month"`
		SendEmail      bool   `json:"send_email"`
		RecipientEmail string `json:"recipient_email"`
	}
	if err := decode(inv, &p); err != nil {
		return nil, err
	}
	if p.Month < 1 || p.Month > 12 || p.Year < 1 {
		return nil, fmt.Errorf("%w: invalid period %d-%02d", domain.ErrValidation, p.Year, p.Month)
	}
	if p.SendEmail && p.RecipientEmail == "" {
		return nil, fmt.Errorf("%w: recipient_email is required when send_email is true", domain.ErrValidation)
	}

	start := time.Date(p.Year, time.Month(p.Month), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, -1)

	var stats, unpaid json.RawMessage
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stats, err = c.rpc(gctx, inv.RequestID, "get_revenue_stats", map[string]any{
			"p_start_date": start.Format(time.DateOnly),
			"p_end_date":   end.Format(time.DateOnly),
		})
		return err
	})
	g.Go(func() error {
		var err error
		unpaid, err = c.rpc(gctx, inv.RequestID, "get_unpaid_factures", map[string]any{"p_limit": 100})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	raw, err := c.call(ctx, inv.RequestID, backend.Document, http.MethodPost, "/generate/report", map[string]any{
		"year":   p.Year,
		"month":  p.Month,
		"stats":  stats,
		"unpaid": unpaid,
	}, false)
	if err != nil {
		return nil, err
	}
	doc, _ := decodeObject(raw)
	filePath := str(doc, "file_path")
	if filePath == "" {
		return nil, missingField(backend.Document, "a file path")
	}

	publicURL, err := c.upload(ctx, inv.RequestID, "reports", filePath,
		fmt.Sprintf("reports/monthly_%d_%02d.pdf", p.Year, p.Month))
	if err != nil {
		return nil, err
	}

	result := map[string]any{
		"success": true,
		"pdf_url": publicURL,
		"year":    p.Year,
		"month":   p.Month,
		"stats":   stats,
	}
	if p.SendEmail {
		raw, err := c.call(ctx, inv.RequestID, backend.Email, http.MethodPost, "/send", map[string]any{
			"to":          p.RecipientEmail,
			"subject":     fmt.Sprintf("Rapport mensuel %d/%d", p.Month, p.Year),
			"template":    "monthly_report",
			"attachments": []string{publicURL},
		}, false)
		if err != nil {
			return nil, err
		}
		email, _ := decodeObject(raw)
		sent, _ := email["success"].(bool)
		result["email_sent"] = sent
		result["recipient"] = p.RecipientEmail
	}
	return result, nil
}
