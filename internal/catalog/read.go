package catalog

import (
	"context"
	"encoding/json"

	"github.com/Strob0t/flowgate/internal/domain/tool"
)

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

// rpcTool builds a read tool that maps its parameters onto RPC arguments.
func (c *Catalog) rpcTool(name, summary, schema string, args func(inv tool.Invocation) (map[string]any, error)) tool.Descriptor {
	return tool.Descriptor{
		Name:     name,
		Category: tool.CategoryRead,
		Summary:  summary,
		Schema:   json.RawMessage(schema),
		Handler: func(ctx context.Context, inv tool.Invocation) (any, error) {
			a, err := args(inv)
			if err != nil {
				return nil, err
			}
			return c.rpc(ctx, inv.RequestID, name, a)
		},
	}
}

func (c *Catalog) readTools() []tool.Descriptor {
	return []tool.Descriptor{
		c.rpcTool("search_entreprise_with_stats", "Search companies by name, with invoicing statistics",
			`{"type":"object","properties":{"search_term":{"type":"string"},"limit":{"type":"integer"}},"required":["search_term"]}`,
			func(inv tool.Invocation) (map[string]any, error) {
				var p struct {
					SearchTerm string `json:"search_term"`
					Limit      *int   `json:"limit"`
				}
				if err := decode(inv, &p); err != nil {
					return nil, err
				}
				return map[string]any{"p_search_term": p.SearchTerm, "p_limit": intOr(p.Limit, 10)}, nil
			}),

		c.rpcTool("get_entreprise_by_id", "Get full details of a company",
			`{"type":"object","properties":{"entreprise_id":{"type":"string"}},"required":["entreprise_id"]}`,
			func(inv tool.Invocation) (map[string]any, error) {
				var p struct {
					EntrepriseID string `json:"entreprise_id"`
				}
				if err := decode(inv, &p); err != nil {
					return nil, err
				}
				return map[string]any{"p_id": p.EntrepriseID}, nil
			}),

		c.rpcTool("list_entreprises", "List companies with pagination",
			`{"type":"object","properties":{"limit":{"type":"integer"},"offset":{"type":"integer"}}}`,
			func(inv tool.Invocation) (map[string]any, error) {
				var p struct {
					Limit  *int `json:"limit"`
					Offset *int `json:"offset"`
				}
				if err := decode(inv, &p); err != nil {
					return nil, err
				}
				return map[string]any{"p_limit": intOr(p.Limit, 50), "p_offset": intOr(p.Offset, 0)}, nil
			}),

		c.rpcTool("get_stats_entreprises", "Global company and revenue statistics",
			`{"type":"object","properties":{}}`,
			func(tool.Invocation) (map[string]any, error) { return map[string]any{}, nil }),

		c.rpcTool("get_entreprise_qualifications", "List the qualifications of a company",
			`{"type":"object","properties":{"entreprise_id":{"type":"string"}},"required":["entreprise_id"]}`,
			func(inv tool.Invocation) (map[string]any, error) {
				var p struct {
					EntrepriseID string `json:"entreprise_id"`
				}
				if err := decode(inv, &p); err != nil {
					return nil, err
				}
				return map[string]any{"p_entreprise_id": p.EntrepriseID}, nil
			}),

		c.rpcTool("search_qualifications", "Search qualifications by status and date range",
			`{"type":"object","properties":{"statut":{"type":"string"},"start_date":{"type":"string"},"end_date":{"type":"string"},"limit":{"type":"integer"}}}`,
			func(inv tool.Invocation) (map[string]any, error) {
				var p struct {
					Statut    *string `json:"statut"`
					StartDate *string `json:"start_date"`
					EndDate   *string `json:"end_date"`
					Limit     *int    `json:"limit"`
				}
				if err := decode(inv, &p); err != nil {
					return nil, err
				}
				return map[string]any{
					"p_statut":     p.Statut,
					"p_start_date": p.StartDate,
					"p_end_date":   p.EndDate,
					"p_limit":      intOr(p.Limit, 50),
				}, nil
			}),

		c.rpcTool("search_factures", "Search invoices by company, payment status and date range",
			`{"type":"object","properties":{"entreprise_id":{"type":"string"},"payment_status":{"type":"string"},"start_date":{"type":"string"},"end_date":{"type":"string"},"limit":{"type":"integer"}}}`,
			func(inv tool.Invocation) (map[string]any, error) {
				var p struct {
					EntrepriseID  *string `json:"entreprise_id"`
					PaymentStatus *string `json:"payment_status"`
					StartDate     *string `json:"start_date"`
					EndDate       *string `json:"end_date"`
					Limit         *int    `json:"limit"`
				}
				if err := decode(inv, &p); err != nil {
					return nil, err
				}
				return map[string]any{
					"p_entreprise_id":  p.EntrepriseID,
					"p_payment_status": p.PaymentStatus,
					"p_start_date":     p.StartDate,
					"p_end_date":       p.EndDate,
					"p_limit":          intOr(p.Limit, 50),
				}, nil
			}),

		c.rpcTool("get_facture_by_id", "Get full details of an invoice",
			`{"type":"object","properties":{"facture_id":{"type":"string"}},"required":["facture_id"]}`,
			func(inv tool.Invocation) (map[string]any, error) {
				var p struct {
					FactureID string `json:"facture_id"`
				}
				if err := decode(inv, &p); err != nil {
					return nil, err
				}
				return map[string]any{"p_id": p.FactureID}, nil
			}),

		c.rpcTool("get_unpaid_factures", "List unpaid invoices",
			`{"type":"object","properties":{"limit":{"type":"integer"}}}`,
			func(inv tool.Invocation) (map[string]any, error) {
				var p struct {
					Limit *int `json:"limit"`
				}
				if err := decode(inv, &p); err != nil {
					return nil, err
				}
				return map[string]any{"p_limit": intOr(p.Limit, 100)}, nil
			}),

		c.rpcTool("get_revenue_stats", "Revenue statistics for a period",
			`{"type":"object","properties":{"start_date":{"type":"string"},"end_date":{"type":"string"}},"required":["start_date","end_date"]}`,
			func(inv tool.Invocation) (map[string]any, error) {
				var p struct {
					StartDate string `json:"start_date"`
					EndDate   string `json:"end_date"`
				}
				if err := decode(inv, &p); err != nil {
					return nil, err
				}
				return map[string]any{"p_start_date": p.StartDate, "p_end_date": p.EndDate}, nil
			}),

		c.rpcTool("list_recent_interactions", "List recent customer interactions",
			`{"type":"object","properties":{"entreprise_id":{"type":"string"},"limit":{"type":"integer"}}}`,
			func(inv tool.Invocation) (map[string]any, error) {
				var p struct {
					EntrepriseID *string `json:"entreprise_id"`
					Limit        *int    `json:"limit"`
				}
				if err := decode(inv, &p); err != nil {
					return nil, err
				}
				return map[string]any{"p_entreprise_id": p.EntrepriseID, "p_limit": intOr(p.Limit, 20)}, nil
			}),
	}
}
