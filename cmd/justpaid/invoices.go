package main

import (
	"github.com/spf13/cobra"

	"github.com/artpar/justpaid/core/formatter"
	"github.com/artpar/justpaid/domain/billing"
	"github.com/artpar/justpaid/ports"
)

var invoicesCmd = &cobra.Command{
	Use:   "invoices",
	Short: "List invoices",
	Long: `List invoices, one page at a time.

The RECONCILED column shows whether the invoice amount equals the sum of its
line items to the cent.

Examples:
  justpaid invoices
  justpaid invoices --limit=50 --offset=100
  justpaid invoices -o json`,
	RunE: runInvoices,
}

var invoiceParams ports.InvoiceListParams

func init() {
	rootCmd.AddCommand(invoicesCmd)

	invoicesCmd.Flags().IntVar(&invoiceParams.Limit, "limit", 0, "page size (default set by the platform)")
	invoicesCmd.Flags().IntVar(&invoiceParams.Offset, "offset", 0, "invoices to skip")
	addFormatFlags(invoicesCmd)
}

// invoiceRow adds display fields to an invoice.
type invoiceRow struct {
	billing.Invoice
	CustomerName  string `json:"customer_name,omitempty"`
	Total         string `json:"total"`
	LineItemCount int    `json:"line_item_count"`
	Reconciled    bool   `json:"reconciled"`
}

var invoiceView = formatter.View{
	Kind:    "invoice",
	Columns: []string{"invoice_number", "invoice_status", "invoice_date", "customer_name", "total", "line_item_count", "reconciled"},
}

func runInvoices(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}

	resp, err := e.api.Invoices(cmd.Context(), invoiceParams)
	if err != nil {
		return err
	}

	rows := make([]invoiceRow, 0, len(resp.Items))
	for _, inv := range resp.Items {
		row := invoiceRow{
			Invoice:       inv,
			Total:         billing.FormatAmount(inv.Amount, inv.Currency),
			LineItemCount: len(inv.LineItems),
			Reconciled:    inv.Reconciles(),
		}
		if inv.Customer != nil {
			row.CustomerName = inv.Customer.Name
		}
		rows = append(rows, row)
	}

	view := invoiceView
	view.Total = resp.Count
	return printRecords(e, cmd, view, rows)
}
