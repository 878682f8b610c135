package automation

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process subject store. It serves tests and local
// development where the surrounding application's tables are not available.
type MemoryStore struct {
	mu       sync.RWMutex
	jobs     map[string]WorkflowJob
	stages   map[string]Stage
	contacts map[string]Contact
	invoices map[string]Invoice
}

// NewMemoryStore creates an empty subject store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:     make(map[string]WorkflowJob),
		stages:   make(map[string]Stage),
		contacts: make(map[string]Contact),
		invoices: make(map[string]Invoice),
	}
}

func (m *MemoryStore) PutJob(job WorkflowJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
}

func (m *MemoryStore) PutStage(stage Stage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages[stage.ID] = stage
}

func (m *MemoryStore) PutContact(contact Contact) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contacts[contact.ID] = contact
}

func (m *MemoryStore) PutInvoice(invoice Invoice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invoices[invoice.ID] = invoice
}

// JobWithRelations implements JobRepository.
func (m *MemoryStore) JobWithRelations(_ context.Context, jobID string) (*WorkflowJobSubject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: workflow_job %s", ErrSubjectNotFound, jobID)
	}

	subject := &WorkflowJobSubject{Job: job}

	if stage, ok := m.stages[job.StageID]; ok {
		subject.Stage = &stage
	}

	if contact, ok := m.contacts[job.ContactID]; ok {
		subject.Contact = &contact
	}

	if invoice, ok := m.invoices[job.InvoiceID]; ok {
		subject.Invoice = &invoice
	}

	return subject, nil
}

// InvoiceWithContact implements InvoiceRepository.
func (m *MemoryStore) InvoiceWithContact(_ context.Context, invoiceID string) (*InvoiceSubject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	invoice, ok := m.invoices[invoiceID]
	if !ok {
		return nil, fmt.Errorf("%w: invoice %s", ErrSubjectNotFound, invoiceID)
	}

	subject := &InvoiceSubject{Invoice: invoice}

	if contact, ok := m.contacts[invoice.ContactID]; ok {
		subject.Contact = &contact
	}

	return subject, nil
}
