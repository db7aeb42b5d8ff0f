package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stallmarket/backend/internal/domain/billing"
	"gorm.io/datatypes"
)

// VendorModel is the persistence model for vendors.
type VendorModel struct {
	BaseModel
	Name   string               `gorm:"type:varchar(200);not null"`
	Email  string               `gorm:"type:varchar(200)"`
	Status billing.VendorStatus `gorm:"type:varchar(20);not null;default:'active'"`
}

func (VendorModel) TableName() string {
	return "vendors"
}

// StallModel is the persistence model for stalls.
type StallModel struct {
	BaseModel
	Code   string              `gorm:"type:varchar(50);not null;uniqueIndex"`
	Status billing.StallStatus `gorm:"type:varchar(20);not null;default:'available'"`
}

func (StallModel) TableName() string {
	return "stalls"
}

func (m *StallModel) ToDomain() *billing.Stall {
	return &billing.Stall{BaseEntity: m.BaseModel.ToDomain(), Code: m.Code, Status: m.Status}
}

func (m *StallModel) FromDomain(s *billing.Stall) {
	m.FromDomainBaseEntity(s.BaseEntity)
	m.Code = s.Code
	m.Status = s.Status
}

// LeaseModel is the persistence model for leases.
type LeaseModel struct {
	BaseModel
	VendorID    uuid.UUID           `gorm:"type:uuid;not null;index"`
	StallID     uuid.UUID           `gorm:"type:uuid;not null;index"`
	MonthlyRent decimal.Decimal     `gorm:"type:decimal(14,4);not null"`
	Currency    string              `gorm:"type:varchar(3);not null"`
	StartDate   time.Time           `gorm:"type:date;not null"`
	EndDate     *time.Time          `gorm:"type:date"`
	Status      billing.LeaseStatus `gorm:"type:varchar(20);not null;index"`
	Notes       string              `gorm:"type:text"`
}

func (LeaseModel) TableName() string {
	return "leases"
}

func (m *LeaseModel) ToDomain() *billing.Lease {
	return &billing.Lease{
		BaseEntity:  m.BaseModel.ToDomain(),
		VendorID:    m.VendorID,
		StallID:     m.StallID,
		MonthlyRent: m.MonthlyRent,
		Currency:    m.Currency,
		StartDate:   m.StartDate,
		EndDate:     m.EndDate,
		Status:      m.Status,
		Notes:       m.Notes,
	}
}

func (m *LeaseModel) FromDomain(l *billing.Lease) {
	m.FromDomainBaseEntity(l.BaseEntity)
	m.VendorID = l.VendorID
	m.StallID = l.StallID
	m.MonthlyRent = l.MonthlyRent
	m.Currency = l.Currency
	m.StartDate = l.StartDate
	m.EndDate = l.EndDate
	m.Status = l.Status
	m.Notes = l.Notes
}

// InvoiceModel is the persistence model for invoices.
// (lease_id, billing_period) is unique: one invoice per lease per month.
type InvoiceModel struct {
	BaseModel
	LeaseID          uuid.UUID             `gorm:"type:uuid;not null;uniqueIndex:uq_invoices_lease_period,priority:1"`
	VendorID         uuid.UUID             `gorm:"type:uuid;not null;index"`
	BillingPeriod    string                `gorm:"type:varchar(7);not null;uniqueIndex:uq_invoices_lease_period,priority:2"`
	Amount           decimal.Decimal       `gorm:"type:decimal(14,4);not null"`
	AmountPaid       decimal.Decimal       `gorm:"type:decimal(14,4);not null"`
	Currency         string                `gorm:"type:varchar(3);not null"`
	Status           billing.InvoiceStatus `gorm:"type:varchar(20);not null;index"`
	DueDate          time.Time             `gorm:"type:date;not null;index"`
	GatewayOrderID   *string               `gorm:"type:varchar(64);uniqueIndex"`
	GatewayCaptureID *string               `gorm:"type:varchar(64)"`
	ReceiptNumber    *string               `gorm:"type:varchar(64);uniqueIndex"`
	PaidAt           *time.Time
}

func (InvoiceModel) TableName() string {
	return "invoices"
}

func (m *InvoiceModel) ToDomain() *billing.Invoice {
	return &billing.Invoice{
		BaseEntity:       m.BaseModel.ToDomain(),
		LeaseID:          m.LeaseID,
		VendorID:         m.VendorID,
		BillingPeriod:    m.BillingPeriod,
		Amount:           m.Amount,
		AmountPaid:       m.AmountPaid,
		Currency:         m.Currency,
		Status:           m.Status,
		DueDate:          billing.DateOf(m.DueDate),
		GatewayOrderID:   m.GatewayOrderID,
		GatewayCaptureID: m.GatewayCaptureID,
		ReceiptNumber:    m.ReceiptNumber,
		PaidAt:           m.PaidAt,
	}
}

func (m *InvoiceModel) FromDomain(i *billing.Invoice) {
	m.FromDomainBaseEntity(i.BaseEntity)
	m.LeaseID = i.LeaseID
	m.VendorID = i.VendorID
	m.BillingPeriod = i.BillingPeriod
	m.Amount = i.Amount
	m.AmountPaid = i.AmountPaid
	m.Currency = i.Currency
	m.Status = i.Status
	m.DueDate = billing.DateOf(i.DueDate)
	m.GatewayOrderID = i.GatewayOrderID
	m.GatewayCaptureID = i.GatewayCaptureID
	m.ReceiptNumber = i.ReceiptNumber
	m.PaidAt = i.PaidAt
}

// PendingPaymentModel is the persistence model for pending payments.
// A partial unique index keeps one pending row per (vendor, lease, amount, type).
type PendingPaymentModel struct {
	BaseModel
	VendorID         uuid.UUID                    `gorm:"type:uuid;not null;uniqueIndex:uq_pending_payments_open,priority:1,where:status = 'pending'"`
	LeaseID          uuid.UUID                    `gorm:"type:uuid;not null;uniqueIndex:uq_pending_payments_open,priority:2"`
	InvoiceID        uuid.UUID                    `gorm:"type:uuid;not null;index"`
	Amount           decimal.Decimal              `gorm:"type:decimal(14,4);not null;uniqueIndex:uq_pending_payments_open,priority:3"`
	Currency         string                       `gorm:"type:varchar(3);not null"`
	Type             billing.PaymentType          `gorm:"type:varchar(20);not null;uniqueIndex:uq_pending_payments_open,priority:4"`
	Status           billing.PendingPaymentStatus `gorm:"type:varchar(20);not null;index"`
	GatewayOrderID   *string                      `gorm:"type:varchar(64);uniqueIndex"`
	ApprovalURL      string                       `gorm:"type:text"`
	GatewayCaptureID *string                      `gorm:"type:varchar(64)"`
	ProcessedAt      *time.Time
}

func (PendingPaymentModel) TableName() string {
	return "pending_payments"
}

func (m *PendingPaymentModel) ToDomain() *billing.PendingPayment {
	return &billing.PendingPayment{
		BaseEntity:       m.BaseModel.ToDomain(),
		VendorID:         m.VendorID,
		LeaseID:          m.LeaseID,
		InvoiceID:        m.InvoiceID,
		Amount:           m.Amount,
		Currency:         m.Currency,
		Type:             m.Type,
		Status:           m.Status,
		GatewayOrderID:   m.GatewayOrderID,
		ApprovalURL:      m.ApprovalURL,
		GatewayCaptureID: m.GatewayCaptureID,
		ProcessedAt:      m.ProcessedAt,
	}
}

func (m *PendingPaymentModel) FromDomain(p *billing.PendingPayment) {
	m.FromDomainBaseEntity(p.BaseEntity)
	m.VendorID = p.VendorID
	m.LeaseID = p.LeaseID
	m.InvoiceID = p.InvoiceID
	m.Amount = p.Amount
	m.Currency = p.Currency
	m.Type = p.Type
	m.Status = p.Status
	m.GatewayOrderID = p.GatewayOrderID
	m.ApprovalURL = p.ApprovalURL
	m.GatewayCaptureID = p.GatewayCaptureID
	m.ProcessedAt = p.ProcessedAt
}

// CaptureAuditModel is the append-only capture trail.
type CaptureAuditModel struct {
	ID               uuid.UUID             `gorm:"type:uuid;primary_key"`
	InvoiceID        uuid.UUID             `gorm:"type:uuid;not null;index"`
	PendingPaymentID *uuid.UUID            `gorm:"type:uuid"`
	GatewayOrderID   string                `gorm:"type:varchar(64);not null;index"`
	GatewayCaptureID string                `gorm:"type:varchar(64);not null;uniqueIndex"`
	Amount           decimal.Decimal       `gorm:"type:decimal(14,4);not null"`
	Currency         string                `gorm:"type:varchar(3);not null"`
	Source           billing.CaptureSource `gorm:"type:varchar(10);not null"`
	CapturedAt       time.Time             `gorm:"not null"`
}

func (CaptureAuditModel) TableName() string {
	return "capture_audits"
}

func (m *CaptureAuditModel) ToDomain() *billing.CaptureAudit {
	return &billing.CaptureAudit{
		ID:               m.ID,
		InvoiceID:        m.InvoiceID,
		PendingPaymentID: m.PendingPaymentID,
		GatewayOrderID:   m.GatewayOrderID,
		GatewayCaptureID: m.GatewayCaptureID,
		Amount:           m.Amount,
		Currency:         m.Currency,
		Source:           m.Source,
		CapturedAt:       m.CapturedAt,
	}
}

func (m *CaptureAuditModel) FromDomain(a *billing.CaptureAudit) {
	m.ID = a.ID
	m.InvoiceID = a.InvoiceID
	m.PendingPaymentID = a.PendingPaymentID
	m.GatewayOrderID = a.GatewayOrderID
	m.GatewayCaptureID = a.GatewayCaptureID
	m.Amount = a.Amount
	m.Currency = a.Currency
	m.Source = a.Source
	m.CapturedAt = a.CapturedAt
}

// OrderPinModel persists the amount a vendor confirmed for an order.
type OrderPinModel struct {
	OrderID          string          `gorm:"type:varchar(64);primary_key"`
	InvoiceID        uuid.UUID       `gorm:"type:uuid;not null;index"`
	VendorID         uuid.UUID       `gorm:"type:uuid;not null"`
	PendingPaymentID uuid.UUID       `gorm:"type:uuid;not null"`
	ExpectedAmount   decimal.Decimal `gorm:"type:decimal(14,4);not null"`
	Currency         string          `gorm:"type:varchar(3);not null"`
	ExpiresAt        time.Time       `gorm:"not null"`
	CreatedAt        time.Time       `gorm:"not null"`
}

func (OrderPinModel) TableName() string {
	return "order_pins"
}

func (m *OrderPinModel) ToDomain() *billing.OrderPin {
	return &billing.OrderPin{
		OrderID:          m.OrderID,
		InvoiceID:        m.InvoiceID,
		VendorID:         m.VendorID,
		PendingPaymentID: m.PendingPaymentID,
		ExpectedAmount:   m.ExpectedAmount,
		Currency:         m.Currency,
		ExpiresAt:        m.ExpiresAt,
		CreatedAt:        m.CreatedAt,
	}
}

func (m *OrderPinModel) FromDomain(p *billing.OrderPin) {
	m.OrderID = p.OrderID
	m.InvoiceID = p.InvoiceID
	m.VendorID = p.VendorID
	m.PendingPaymentID = p.PendingPaymentID
	m.ExpectedAmount = p.ExpectedAmount
	m.Currency = p.Currency
	m.ExpiresAt = p.ExpiresAt
	m.CreatedAt = p.CreatedAt
}

// ReminderLogModel claims one reminder per (invoice, kind, day).
type ReminderLogModel struct {
	InvoiceID    uuid.UUID            `gorm:"type:uuid;primary_key"`
	Kind         billing.ReminderKind `gorm:"type:varchar(32);primary_key"`
	ReminderDate time.Time            `gorm:"type:date;primary_key"`
	SentAt       time.Time            `gorm:"not null"`
}

func (ReminderLogModel) TableName() string {
	return "reminder_logs"
}

// BillingRunModel records when a vendor's bootstrap pass last ran.
type BillingRunModel struct {
	VendorID  uuid.UUID `gorm:"type:uuid;primary_key"`
	LastRunAt time.Time `gorm:"not null"`
}

func (BillingRunModel) TableName() string {
	return "billing_runs"
}

// WebhookEventModel stores verified gateway events for de-duplication and replay.
type WebhookEventModel struct {
	EventID     string         `gorm:"type:varchar(128);primary_key"`
	EventType   string         `gorm:"type:varchar(64);not null;index"`
	ResourceID  string         `gorm:"type:varchar(64);index"`
	Payload     datatypes.JSON `gorm:"not null"`
	ReceivedAt  time.Time      `gorm:"not null"`
	ProcessedAt *time.Time
}

func (WebhookEventModel) TableName() string {
	return "webhook_events"
}

func (m *WebhookEventModel) ToDomain() *billing.WebhookEvent {
	return &billing.WebhookEvent{
		EventID:     m.EventID,
		EventType:   m.EventType,
		ResourceID:  m.ResourceID,
		Payload:     []byte(m.Payload),
		ReceivedAt:  m.ReceivedAt,
		ProcessedAt: m.ProcessedAt,
	}
}

// BillingModels lists every billing table model, for AutoMigrate in tests.
func BillingModels() []any {
	return []any{
		&VendorModel{},
		&StallModel{},
		&LeaseModel{},
		&InvoiceModel{},
		&PendingPaymentModel{},
		&CaptureAuditModel{},
		&OrderPinModel{},
		&ReminderLogModel{},
		&BillingRunModel{},
		&WebhookEventModel{},
	}
}
