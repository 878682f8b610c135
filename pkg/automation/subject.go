// Package automation builds the read-only context a run exposes to node configuration.
package automation

import "time"

// Supported subject types.
const (
	SubjectTypeWorkflowJob = "workflow_job"
	SubjectTypeInvoice     = "invoice"
)

// Subject is the domain entity that triggered a run. The set of implementations
// is closed to this package; new subject types are added here.
type Subject interface {
	Type() string
	ID() string
	templateData() map[string]any
}

// Contact is a customer or supplier referenced by jobs and invoices.
type Contact struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Invoice is a billing document.
type Invoice struct {
	ID        string     `json:"id"`
	Number    string     `json:"number"`
	Status    string     `json:"status"`
	Total     float64    `json:"total"`
	Currency  string     `json:"currency"`
	IssuedAt  *time.Time `json:"issued_at,omitempty"`
	DueAt     *time.Time `json:"due_at,omitempty"`
	ContactID string     `json:"contact_id,omitempty"`
}

// Stage is a pipeline column a workflow job sits in.
type Stage struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Position int    `json:"position"`
}

// WorkflowJob is a job moving through a pipeline.
type WorkflowJob struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	StageID   string `json:"stage_id,omitempty"`
	ContactID string `json:"contact_id,omitempty"`
	InvoiceID string `json:"invoice_id,omitempty"`
}

// WorkflowJobSubject is a job together with its stage, contact and invoice.
type WorkflowJobSubject struct {
	Job     WorkflowJob
	Stage   *Stage
	Contact *Contact
	Invoice *Invoice
}

func (s *WorkflowJobSubject) Type() string { return SubjectTypeWorkflowJob }

func (s *WorkflowJobSubject) ID() string { return s.Job.ID }

func (s *WorkflowJobSubject) templateData() map[string]any {
	return map[string]any{
		"job": map[string]any{
			"id":         s.Job.ID,
			"title":      s.Job.Title,
			"status":     s.Job.Status,
			"stage_id":   s.Job.StageID,
			"contact_id": s.Job.ContactID,
			"invoice_id": s.Job.InvoiceID,
		},
		"stage":   stageData(s.Stage),
		"contact": contactData(s.Contact),
		"invoice": invoiceData(s.Invoice),
	}
}

// InvoiceSubject is an invoice together with its contact.
type InvoiceSubject struct {
	Invoice Invoice
	Contact *Contact
}

func (s *InvoiceSubject) Type() string { return SubjectTypeInvoice }

func (s *InvoiceSubject) ID() string { return s.Invoice.ID }

func (s *InvoiceSubject) templateData() map[string]any {
	return map[string]any{
		"invoice": invoiceData(&s.Invoice),
		"contact": contactData(s.Contact),
	}
}

func stageData(stage *Stage) any {
	if stage == nil {
		return nil
	}

	return map[string]any{
		"id":       stage.ID,
		"name":     stage.Name,
		"position": float64(stage.Position),
	}
}

func contactData(contact *Contact) any {
	if contact == nil {
		return nil
	}

	return map[string]any{
		"id":    contact.ID,
		"name":  contact.Name,
		"email": contact.Email,
		"phone": contact.Phone,
	}
}

func invoiceData(invoice *Invoice) any {
	if invoice == nil {
		return nil
	}

	return map[string]any{
		"id":         invoice.ID,
		"number":     invoice.Number,
		"status":     invoice.Status,
		"total":      invoice.Total,
		"currency":   invoice.Currency,
		"issued_at":  formatTime(invoice.IssuedAt),
		"due_at":     formatTime(invoice.DueAt),
		"contact_id": invoice.ContactID,
	}
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}

	return t.UTC().Format(time.RFC3339)
}
