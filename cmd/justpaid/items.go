package main

import (
	"github.com/spf13/cobra"

	"github.com/artpar/justpaid/core/formatter"
	"github.com/artpar/justpaid/ports"
)

var itemsCmd = &cobra.Command{
	Use:   "items",
	Short: "List billable items per customer",
	Long: `List the billable items of customers. Without filters every customer is
returned.

Examples:
  justpaid items
  justpaid items --customer=8b0d9c3e-3f4a-4f52-9a51-0d4c1e2b7a10
  justpaid items --external-customer=acme -o json`,
	RunE: runItems,
}

var itemsQuery ports.BillableItemsQuery

func init() {
	rootCmd.AddCommand(itemsCmd)

	itemsCmd.Flags().StringVar(&itemsQuery.CustomerID, "customer", "", "JustPaid customer id")
	itemsCmd.Flags().StringVar(&itemsQuery.ExternalCustomerID, "external-customer", "", "your customer id")
	addFormatFlags(itemsCmd)
}

// itemRow is one billable item of one customer.
type itemRow struct {
	CustomerID         string `json:"customer_id"`
	ExternalCustomerID string `json:"external_customer_id,omitempty"`
	CustomerName       string `json:"customer_name,omitempty"`
	ItemID             string `json:"item_id"`
	ItemName           string `json:"item_name"`
	BillingAlias       string `json:"billing_alias,omitempty"`
}

var itemView = formatter.View{
	Kind:    "billable item",
	Columns: []string{"external_customer_id", "customer_name", "item_id", "item_name", "billing_alias"},
}

func runItems(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}

	resp, err := e.api.BillableItems(cmd.Context(), itemsQuery)
	if err != nil {
		return err
	}

	var rows []itemRow
	for _, c := range resp.Customers {
		for _, it := range c.Items {
			rows = append(rows, itemRow{
				CustomerID:         c.CustomerID,
				ExternalCustomerID: c.ExternalCustomerID,
				CustomerName:       c.CustomerName,
				ItemID:             it.ItemID,
				ItemName:           it.ItemName,
				BillingAlias:       it.BillingAlias,
			})
		}
	}
	return printRecords(e, cmd, itemView, rows)
}
