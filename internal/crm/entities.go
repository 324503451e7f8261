// Package crm holds the CRM entities and the per-entity hooks that apply
// gated, optimistic, audited mutations to them.
package crm

import "time"

// Entity is implemented by every CRM record. WithKey returns a copy carrying
// the given identifier.
type Entity[T any] interface {
	Key() string
	WithKey(id string) T
}

// Lead is a prospective customer.
type Lead struct {
	ID      string `json:"id"`
	Name    string `json:"name" validate:"required,max=200"`
	Email   string `json:"email,omitempty" validate:"omitempty,email"`
	Phone   string `json:"phone,omitempty" validate:"omitempty,max=32"`
	Company string `json:"company,omitempty" validate:"omitempty,max=200"`
	Source  string `json:"source,omitempty"`
	Status  string `json:"status" validate:"omitempty,oneof=new contacted qualified converted lost"`
	Notes   string `json:"notes,omitempty"`
}

func (l Lead) Key() string { return l.ID }

func (l Lead) WithKey(id string) Lead {
	l.ID = id
	return l
}

// Customer is an account the business invoices.
type Customer struct {
	ID      string `json:"id"`
	Name    string `json:"name" validate:"required,max=200"`
	Email   string `json:"email,omitempty" validate:"omitempty,email"`
	Phone   string `json:"phone,omitempty" validate:"omitempty,max=32"`
	Address string `json:"address,omitempty"`
	Status  string `json:"status" validate:"omitempty,oneof=active inactive"`
}

func (c Customer) Key() string { return c.ID }

func (c Customer) WithKey(id string) Customer {
	c.ID = id
	return c
}

// Job is a unit of field work for a customer.
type Job struct {
	ID          string     `json:"id"`
	CustomerID  string     `json:"customer_id" validate:"required"`
	Title       string     `json:"title" validate:"required,max=200"`
	Status      string     `json:"status" validate:"omitempty,oneof=scheduled in_progress completed cancelled"`
	Address     string     `json:"address,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

func (j Job) Key() string { return j.ID }

func (j Job) WithKey(id string) Job {
	j.ID = id
	return j
}

// Estimate is a priced proposal sent before a job is accepted.
type Estimate struct {
	ID         string     `json:"id"`
	CustomerID string     `json:"customer_id" validate:"required"`
	JobID      string     `json:"job_id,omitempty"`
	Total      float64    `json:"total" validate:"gte=0"`
	Status     string     `json:"status" validate:"omitempty,oneof=draft sent accepted rejected"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
}

func (e Estimate) Key() string { return e.ID }

func (e Estimate) WithKey(id string) Estimate {
	e.ID = id
	return e
}

// Invoice bills a customer for completed work.
type Invoice struct {
	ID         string     `json:"id"`
	CustomerID string     `json:"customer_id" validate:"required"`
	JobID      string     `json:"job_id,omitempty"`
	Amount     float64    `json:"amount" validate:"gte=0"`
	Total      float64    `json:"total" validate:"gte=0"`
	Status     string     `json:"status" validate:"omitempty,oneof=draft sent paid overdue void"`
	DueDate    *time.Time `json:"due_date,omitempty"`
}

func (i Invoice) Key() string { return i.ID }

func (i Invoice) WithKey(id string) Invoice {
	i.ID = id
	return i
}

// Task is an internal to-do item.
type Task struct {
	ID         string     `json:"id"`
	Title      string     `json:"title" validate:"required,max=200"`
	AssigneeID string     `json:"assignee_id,omitempty"`
	Priority   string     `json:"priority,omitempty" validate:"omitempty,oneof=low medium high"`
	Status     string     `json:"status" validate:"omitempty,oneof=todo in_progress done"`
	DueDate    *time.Time `json:"due_date,omitempty"`
}

func (t Task) Key() string { return t.ID }

func (t Task) WithKey(id string) Task {
	t.ID = id
	return t
}
