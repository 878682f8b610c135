package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tallybook/automation/pkg/automation"
)

// SubjectRepository reads the application tables that automation runs are
// triggered by. It never writes.
type SubjectRepository struct {
	db *sql.DB
}

// NewSubjectRepository creates a new subject repository.
func NewSubjectRepository(db *sql.DB) *SubjectRepository {
	return &SubjectRepository{db: db}
}

// JobWithRelations loads a workflow job with its stage, contact and invoice.
func (r *SubjectRepository) JobWithRelations(ctx context.Context, jobID string) (*automation.WorkflowJobSubject, error) {
	var (
		job                           automation.WorkflowJob
		stageID, contactID, invoiceID sql.NullString
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT id, title, status, stage_id, contact_id, invoice_id
		FROM workflow_jobs
		WHERE id = $1
	`, jobID).Scan(&job.ID, &job.Title, &job.Status, &stageID, &contactID, &invoiceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: workflow_job %s", automation.ErrSubjectNotFound, jobID)
		}

		return nil, fmt.Errorf("failed to load workflow job %s: %w", jobID, err)
	}

	job.StageID = stageID.String
	job.ContactID = contactID.String
	job.InvoiceID = invoiceID.String

	subject := &automation.WorkflowJobSubject{Job: job}

	subject.Stage, err = r.stage(ctx, job.StageID)
	if err != nil {
		return nil, err
	}

	subject.Contact, err = r.contact(ctx, job.ContactID)
	if err != nil {
		return nil, err
	}

	if job.InvoiceID != "" {
		invoice, err := r.invoice(ctx, job.InvoiceID)
		if err != nil && !errors.Is(err, automation.ErrSubjectNotFound) {
			return nil, err
		}

		subject.Invoice = invoice
	}

	return subject, nil
}

// InvoiceWithContact loads an invoice with its contact.
func (r *SubjectRepository) InvoiceWithContact(ctx context.Context, invoiceID string) (*automation.InvoiceSubject, error) {
	invoice, err := r.invoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	contact, err := r.contact(ctx, invoice.ContactID)
	if err != nil {
		return nil, err
	}

	return &automation.InvoiceSubject{Invoice: *invoice, Contact: contact}, nil
}

func (r *SubjectRepository) invoice(ctx context.Context, id string) (*automation.Invoice, error) {
	var (
		invoice         automation.Invoice
		issuedAt, dueAt sql.NullTime
		contactID       sql.NullString
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT id, number, status, total::float8, currency, issued_at, due_at, contact_id
		FROM invoices
		WHERE id = $1
	`, id).Scan(
		&invoice.ID,
		&invoice.Number,
		&invoice.Status,
		&invoice.Total,
		&invoice.Currency,
		&issuedAt,
		&dueAt,
		&contactID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: invoice %s", automation.ErrSubjectNotFound, id)
		}

		return nil, fmt.Errorf("failed to load invoice %s: %w", id, err)
	}

	invoice.IssuedAt = timePtr(issuedAt)
	invoice.DueAt = timePtr(dueAt)
	invoice.ContactID = contactID.String

	return &invoice, nil
}

func (r *SubjectRepository) contact(ctx context.Context, id string) (*automation.Contact, error) {
	if id == "" {
		return nil, nil
	}

	var (
		contact      automation.Contact
		email, phone sql.NullString
	)

	err := r.db.QueryRowContext(ctx, "SELECT id, name, email, phone FROM contacts WHERE id = $1", id).
		Scan(&contact.ID, &contact.Name, &email, &phone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to load contact %s: %w", id, err)
	}

	contact.Email = email.String
	contact.Phone = phone.String

	return &contact, nil
}

func (r *SubjectRepository) stage(ctx context.Context, id string) (*automation.Stage, error) {
	if id == "" {
		return nil, nil
	}

	var stage automation.Stage

	err := r.db.QueryRowContext(ctx, "SELECT id, name, position FROM workflow_stages WHERE id = $1", id).
		Scan(&stage.ID, &stage.Name, &stage.Position)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to load stage %s: %w", id, err)
	}

	return &stage, nil
}
