package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/Strob0t/flowgate/internal/domain"
	"github.com/Strob0t/flowgate/internal/domain/tool"
	"github.com/Strob0t/flowgate/internal/port/backend"
)

type factureInput struct {
	QualificationID string  `json:"qualification_id"`
	Montant         float64 `json:"montant"`
	Description     *string `json:"description"`
	DateEmission    *string `json:"date_emission"`
	DateEcheance    *string `json:"date_echeance"`
}

const factureSchema = `{"type":"object","properties":{
	"qualification_id":{"type":"string"},
	"montant":{"type":"number"},
	"description":{"type":"string"},
	"date_emission":{"type":"string"},
	"date_echeance":{"type":"string"}
},"required":["qualification_id","montant"]}`

func (c *Catalog) writeTools() []tool.Descriptor {
	return []tool.Descriptor{
		{
			Name:     "upsert_entreprise",
			Category: tool.CategoryWrite,
			Summary:  "Create or update a company",
			Schema: json.RawMessage(`{"type":"object","properties":{
				"nom":{"type":"string"},"email":{"type":"string"},"telephone":{"type":"string"},
				"adresse":{"type":"string"},"notes":{"type":"string"}
			},"required":["nom"]}`),
			Handler: c.upsertEntreprise,
		},
		{
			Name:     "upsert_qualification",
			Category: tool.CategoryWrite,
			Summary:  "Create or update a qualification",
			Schema: json.RawMessage(`{"type":"object","properties":{
				"entreprise_id":{"type":"string"},"statut":{"type":"string"},"montant_estime":{"type":"number"},
				"description":{"type":"string"},"date_prevue":{"type":"string"}
			},"required":["entreprise_id","statut"]}`),
			Handler: c.upsertQualification,
		},
		{
			Name:     "create_facture",
			Category: tool.CategoryWrite,
			Summary:  "Create an invoice",
			Schema:   json.RawMessage(factureSchema),
			Handler: func(ctx context.Context, inv tool.Invocation) (any, error) {
				var in factureInput
				if err := decode(inv, &in); err != nil {
					return nil, err
				}
				raw, _, err := c.createFacture(ctx, inv.RequestID, in)
				return raw, err
			},
		},
		{
			Name:     "update_facture",
			Category: tool.CategoryWrite,
			Summary:  "Update an invoice",
			Schema: json.RawMessage(`{"type":"object","properties":{
				"facture_id":{"type":"string"},"montant":{"type":"number"},
				"description":{"type":"string"},"date_echeance":{"type":"string"}
			},"required":["facture_id"]}`),
			Handler: c.updateFacture,
		},
		{
			Name:     "delete_facture",
			Category: tool.CategoryWrite,
			Summary:  "Soft-delete an invoice",
			Schema:   json.RawMessage(`{"type":"object","properties":{"facture_id":{"type":"string"}},"required":["facture_id"]}`),
			Handler: func(ctx context.Context, inv tool.Invocation) (any, error) {
				var p struct {
					FactureID string `json:"facture_id"`
				}
				if err := decode(inv, &p); err != nil {
					return nil, err
				}
				return c.call(ctx, inv.RequestID, backend.Database, http.MethodDelete,
					"/facture/"+url.PathEscape(p.FactureID), map[string]any{}, false)
			},
		},
		{
			Name:     "mark_facture_paid",
			Category: tool.CategoryWrite,
			Summary:  "Mark an invoice as paid",
			Schema: json.RawMessage(`{"type":"object","properties":{
				"facture_id":{"type":"string"},"payment_date":{"type":"string"},"payment_method":{"type":"string"}
			},"required":["facture_id"]}`),
			Handler: c.markFacturePaid,
		},
	}
}

// write performs a validated database write and checks the answer carries
// an identifier. When wantID is set the identifier must equal it.
func (c *Catalog) write(ctx context.Context, requestID, method, path string, body any, wantID string, idKeys ...string) (json.RawMessage, string, error) {
	raw, err := c.call(ctx, requestID, backend.Database, method, path, body, true)
	if err != nil {
		return nil, "", err
	}
	id, ok := responseID(raw, idKeys...)
	if !ok {
		return nil, "", fmt.Errorf("%w: database worker answered %s %s without an id", domain.ErrValidation, method, path)
	}
	if wantID != "" && id != wantID {
		return nil, "", fmt.Errorf("%w: database worker updated %s, expected %s", domain.ErrValidation, id, wantID)
	}
	return raw, id, nil
}

func (c *Catalog) upsertEntreprise(ctx context.Context, inv tool.Invocation) (any, error) {
	var p struct {
		Nom       string  `json:"nom"`
		Email     *string `json:"email"`
		Telephone *string `json:"telephone"`
		Adresse   *string `json:"adresse"`
		Notes     *string `json:"notes"`
	}
	if err := decode(inv, &p); err != nil {
		return nil, err
	}
	raw, _, err := c.write(ctx, inv.RequestID, http.MethodPost, "/entreprise/upsert", map[string]any{
		"nom":       p.Nom,
		"email":     p.Email,
		"telephone": p.Telephone,
		"adresse":   p.Adresse,
		"notes":     p.Notes,
	}, "", "entreprise_id")
	return raw, err
}

func (c *Catalog) upsertQualification(ctx context.Context, inv tool.Invocation) (any, error) {
	var p struct {
		EntrepriseID  string   `json:"entreprise_id"`
		Statut        string   `json:"statut"`
		MontantEstime *float64 `json:"montant_estime"`
		Description   *string  `json:"description"`
		DatePrevue    *string  `json:"date_prevue"`
	}
	if err := decode(inv, &p); err != nil {
		return nil, err
	}
	raw, _, err := c.write(ctx, inv.RequestID, http.MethodPost, "/qualification/upsert", map[string]any{
		"entreprise_id":  p.EntrepriseID,
		"statut":         p.Statut,
		"montant_estime": p.MontantEstime,
		"description":    p.Description,
		"date_prevue":    p.DatePrevue,
	}, "", "qualification_id")
	return raw, err
}

// createFacture is shared by the create_facture tool and the invoice
// workflow. It returns the raw answer and the new invoice id.
func (c *Catalog) createFacture(ctx context.Context, requestID string, in factureInput) (json.RawMessage, string, error) {
	return c.write(ctx, requestID, http.MethodPost, "/facture/create", map[string]any{
		"qualification_id": in.QualificationID,
		"montant":          in.Montant,
		"description":      in.Description,
		"date_emission":    in.DateEmission,
		"date_echeance":    in.DateEcheance,
	}, "", "facture_id")
}

func (c *Catalog) updateFacture(ctx context.Context, inv tool.Invocation) (any, error) {
	var p struct {
		FactureID    string   `json:"facture_id"`
		Montant      *float64 `json:"montant"`
		Description  *string  `json:"description"`
		DateEcheance *string  `json:"date_echeance"`
	}
	if err := decode(inv, &p); err != nil {
		return nil, err
	}
	raw, _, err := c.write(ctx, inv.RequestID, http.MethodPut, "/facture/"+url.PathEscape(p.FactureID), map[string]any{
		"montant":       p.Montant,
		"description":   p.Description,
		"date_echeance": p.DateEcheance,
	}, p.FactureID, "facture_id")
	return raw, err
}

func (c *Catalog) markFacturePaid(ctx context.Context, inv tool.Invocation) (any, error) {
	var p struct {
		FactureID     string  `json:"facture_id"`
		PaymentDate   *string `json:"payment_date"`
		PaymentMethod *string `json:"payment_method"`
	}
	if err := decode(inv, &p); err != nil {
		return nil, err
	}
	raw, _, err := c.write(ctx, inv.RequestID, http.MethodPut, "/facture/"+url.PathEscape(p.FactureID), map[string]any{
		"payment_status": "paid",
		"payment_date":   p.PaymentDate,
		"payment_method": p.PaymentMethod,
	}, p.FactureID, "facture_id")
	return raw, err
}
