package billing

import (
	"strings"

	"github.com/artpar/justpaid/core/schema"
)

// Invoice statuses seen on the platform. The set is open.
const (
	InvoiceStatusDraft = "draft"
	InvoiceStatusOpen  = "open"
	InvoiceStatusPaid  = "paid"
	InvoiceStatusVoid  = "void"
)

// InvoiceCustomer is the customer an invoice is addressed to.
type InvoiceCustomer struct {
	ExternalID       string   `json:"external_id,omitempty"`
	UUID             string   `json:"uuid"`
	Name             string   `json:"name,omitempty"`
	ContactName      string   `json:"contact_name,omitempty"`
	Email            string   `json:"email,omitempty"`
	AdditionalEmails []string `json:"additional_emails,omitempty"`
	BillingEmails    []string `json:"billing_emails,omitempty"`
	// PhoneNumber includes the country code.
	PhoneNumber string `json:"phone_number,omitempty"`
	Currency    string `json:"currency,omitempty"`
	TaxID       string `json:"tax_id,omitempty"`
}

// InvoiceLineItem is one charge on an invoice.
type InvoiceLineItem struct {
	Name      string  `json:"name"`
	UnitPrice float64 `json:"unit_price"`
	Quantity  float64 `json:"quantity"`
	// Amount is expected to equal UnitPrice * Quantity.
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Description string  `json:"description,omitempty"`
}

// ExpectedAmount returns UnitPrice * Quantity computed exactly.
func (li InvoiceLineItem) ExpectedAmount() (Decimal, error) {
	price, err := DecimalFromFloat(li.UnitPrice)
	if err != nil {
		return Decimal{}, err
	}
	qty, err := DecimalFromFloat(li.Quantity)
	if err != nil {
		return Decimal{}, err
	}
	return price.Mul(qty)
}

// Reconciles reports whether Amount matches UnitPrice * Quantity to the cent.
func (li InvoiceLineItem) Reconciles() bool {
	want, err := li.ExpectedAmount()
	if err != nil {
		return false
	}
	got, err := DecimalFromFloat(li.Amount)
	if err != nil {
		return false
	}
	return equalCents(want, got)
}

// equalCents reports whether a and b agree to the cent. Amounts that cannot
// be rounded never agree.
func equalCents(a, b Decimal) bool {
	ra, err := a.Round(2)
	if err != nil {
		return false
	}
	rb, err := b.Round(2)
	if err != nil {
		return false
	}
	return ra.Cmp(rb) == 0
}

// Invoice is an invoice issued by the platform. Dates are passed through as
// the platform formats them.
type Invoice struct {
	UUID               string            `json:"uuid"`
	InvoiceStatus      string            `json:"invoice_status"`
	Amount             float64           `json:"amount"`
	Currency           string            `json:"currency"`
	InvoiceNumber      string            `json:"invoice_number"`
	InvoiceDate        string            `json:"invoice_date"`
	DueDate            string            `json:"due_date,omitempty"`
	ServiceStartDate   string            `json:"service_start_date,omitempty"`
	ServiceEndDate     string            `json:"service_end_date,omitempty"`
	Description        string            `json:"description,omitempty"`
	CreatedAt          string            `json:"created_at"`
	IsRecurring        bool              `json:"is_recurring"`
	FromExternalSource bool              `json:"from_external_source"`
	ExternalSource     string            `json:"external_source,omitempty"`
	ExternalSourceID   string            `json:"external_source_id,omitempty"`
	PaymentLink        string            `json:"payment_link,omitempty"`
	LineItems          []InvoiceLineItem `json:"line_items"`
	FileURL            string            `json:"file_url,omitempty"`
	Customer           *InvoiceCustomer  `json:"customer,omitempty"`
}

// IsPaid reports whether the invoice has been paid.
func (inv Invoice) IsPaid() bool {
	return strings.EqualFold(inv.InvoiceStatus, InvoiceStatusPaid)
}

// LineItemsTotal sums the line item amounts exactly.
func (inv Invoice) LineItemsTotal() (Decimal, error) {
	total, _ := NewDecimal("0")
	for _, li := range inv.LineItems {
		amount, err := DecimalFromFloat(li.Amount)
		if err != nil {
			return Decimal{}, err
		}
		if total, err = total.Add(amount); err != nil {
			return Decimal{}, err
		}
	}
	return total, nil
}

// Reconciles reports whether the invoice amount equals the sum of its line
// items to the cent. An invoice without line items reconciles only at zero.
func (inv Invoice) Reconciles() bool {
	total, err := inv.LineItemsTotal()
	if err != nil {
		return false
	}
	amount, err := DecimalFromFloat(inv.Amount)
	if err != nil {
		return false
	}
	return equalCents(total, amount)
}

// InvoiceListResponse is one page of invoices. Count is the total number of
// invoices, not the length of the page.
type InvoiceListResponse struct {
	Items []Invoice `json:"items"`
	Count int       `json:"count"`
}

// ParseInvoiceListResponse decodes an invoice list page. Items is never nil on
// success.
func ParseInvoiceListResponse(data []byte) (InvoiceListResponse, error) {
	obj, errs := schema.Decode("InvoiceListResponse", data)

	items := obj.Array("items")
	resp := InvoiceListResponse{
		Items: make([]Invoice, 0, len(items)),
		Count: obj.Int("count"),
	}
	for _, item := range items {
		resp.Items = append(resp.Items, invoiceFrom(item))
	}

	if err := errs.Err(); err != nil {
		return InvoiceListResponse{}, err
	}
	return resp, nil
}

func invoiceFrom(o *schema.Object) Invoice {
	inv := Invoice{
		UUID:               o.String("uuid"),
		InvoiceStatus:      o.String("invoice_status"),
		Amount:             o.Number("amount"),
		Currency:           o.String("currency"),
		InvoiceNumber:      o.String("invoice_number"),
		InvoiceDate:        o.String("invoice_date"),
		DueDate:            o.OptString("due_date"),
		ServiceStartDate:   o.OptString("service_start_date"),
		ServiceEndDate:     o.OptString("service_end_date"),
		Description:        o.OptString("description"),
		CreatedAt:          o.String("created_at"),
		IsRecurring:        o.Bool("is_recurring"),
		FromExternalSource: o.Bool("from_external_source"),
		ExternalSource:     o.OptString("external_source"),
		ExternalSourceID:   o.OptString("external_source_id"),
		PaymentLink:        o.OptString("payment_link"),
		FileURL:            o.OptString("file_url"),
	}

	lines := o.Array("line_items")
	inv.LineItems = make([]InvoiceLineItem, 0, len(lines))
	for _, li := range lines {
		inv.LineItems = append(inv.LineItems, InvoiceLineItem{
			Name:        li.String("name"),
			UnitPrice:   li.Number("unit_price"),
			Quantity:    li.Number("quantity"),
			Amount:      li.Number("amount"),
			Currency:    li.String("currency"),
			Description: li.OptString("description"),
		})
	}

	if c := o.OptObject("customer"); c != nil {
		inv.Customer = &InvoiceCustomer{
			ExternalID:       c.OptString("external_id"),
			UUID:             c.String("uuid"),
			Name:             c.OptString("name"),
			ContactName:      c.OptString("contact_name"),
			Email:            c.OptString("email"),
			AdditionalEmails: c.OptStrings("additional_emails"),
			BillingEmails:    c.OptStrings("billing_emails"),
			PhoneNumber:      c.OptString("phone_number"),
			Currency:         c.OptString("currency"),
			TaxID:            c.OptString("tax_id"),
		}
	}
	return inv
}
