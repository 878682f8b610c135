package automation

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/tallybook/automation/pkg/models"
)

var (
	// ErrUnknownSubjectType indicates a run references a subject type with no loader.
	ErrUnknownSubjectType = errors.New("unknown subject type")

	// ErrSubjectNotFound indicates the subject row referenced by a run does not exist.
	ErrSubjectNotFound = errors.New("subject not found")
)

// Context is the read-only view of a run's subject handed to node runners.
type Context struct {
	RunID        string
	AutomationID string
	TenantID     string
	TriggerEvent string
	Subject      Subject
}

// SubjectType returns the type of the run's subject.
func (c *Context) SubjectType() string {
	return c.Subject.Type()
}

// ToTemplateData projects the context into a template-data map and merges the
// per-execution input over it. Input keys win on collision.
func (c *Context) ToTemplateData(input map[string]any) map[string]any {
	data := c.Subject.templateData()
	data["subject_type"] = c.Subject.Type()
	data["subject_id"] = c.Subject.ID()
	data["run"] = map[string]any{
		"id":            c.RunID,
		"automation_id": c.AutomationID,
		"tenant_id":     c.TenantID,
		"trigger_event": c.TriggerEvent,
	}

	maps.Copy(data, input)

	return data
}

// JobRepository loads workflow jobs with their stage, contact and invoice.
type JobRepository interface {
	JobWithRelations(ctx context.Context, jobID string) (*WorkflowJobSubject, error)
}

// InvoiceRepository loads invoices with their contact.
type InvoiceRepository interface {
	InvoiceWithContact(ctx context.Context, invoiceID string) (*InvoiceSubject, error)
}

// Loader loads the subject with the given id.
type Loader func(ctx context.Context, subjectID string) (Subject, error)

// Builder assembles a Context for a run, dispatching on the run's subject type.
type Builder struct {
	loaders map[string]Loader
}

// NewBuilder creates a builder for the built-in subject types.
func NewBuilder(jobs JobRepository, invoices InvoiceRepository) *Builder {
	b := &Builder{loaders: make(map[string]Loader)}

	if jobs != nil {
		b.loaders[SubjectTypeWorkflowJob] = func(ctx context.Context, id string) (Subject, error) {
			subject, err := jobs.JobWithRelations(ctx, id)
			if err != nil {
				return nil, err
			}

			if subject == nil {
				return nil, ErrSubjectNotFound
			}

			return subject, nil
		}
	}

	if invoices != nil {
		b.loaders[SubjectTypeInvoice] = func(ctx context.Context, id string) (Subject, error) {
			subject, err := invoices.InvoiceWithContact(ctx, id)
			if err != nil {
				return nil, err
			}

			if subject == nil {
				return nil, ErrSubjectNotFound
			}

			return subject, nil
		}
	}

	return b
}

// Supports reports whether a loader exists for the subject type.
func (b *Builder) Supports(subjectType string) bool {
	_, ok := b.loaders[subjectType]

	return ok
}

// Build loads the run's subject and wraps it in a Context.
func (b *Builder) Build(ctx context.Context, run *models.AutomationRun) (*Context, error) {
	loader, ok := b.loaders[run.SubjectType]
	if !ok {
		return nil, fmt.Errorf("%w [%s]", ErrUnknownSubjectType, run.SubjectType)
	}

	subject, err := loader(ctx, run.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s %s: %w", run.SubjectType, run.SubjectID, err)
	}

	return &Context{
		RunID:        run.ID,
		AutomationID: run.AutomationID,
		TenantID:     run.TenantID,
		TriggerEvent: run.TriggerEvent,
		Subject:      subject,
	}, nil
}
