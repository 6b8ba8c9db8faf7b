package domain

import "time"

type Tenant struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

type Contact struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

type Booking struct {
	ID          string    `json:"id"`
	ContactID   string    `json:"contactId,omitempty"`
	ServiceName string    `json:"serviceName,omitempty"`
	StartsAt    time.Time `json:"startsAt,omitempty"`
	Status      string    `json:"status,omitempty"`
}

type Invoice struct {
	ID          string    `json:"id"`
	ContactID   string    `json:"contactId,omitempty"`
	Number      string    `json:"number,omitempty"`
	AmountCents int64     `json:"amountCents"`
	Currency    string    `json:"currency,omitempty"`
	Status      string    `json:"status,omitempty"`
	DueDate     time.Time `json:"dueDate,omitempty"`
}

type Payment struct {
	ID          string `json:"id"`
	InvoiceID   string `json:"invoiceId,omitempty"`
	AmountCents int64  `json:"amountCents"`
	Currency    string `json:"currency,omitempty"`
	Status      string `json:"status,omitempty"`
}

type Tag struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Color string `json:"color,omitempty"`
}

// EntityType names a taggable entity kind.
type EntityType string

const (
	EntityContact EntityType = "contact"
	EntityBooking EntityType = "booking"
	EntityInvoice EntityType = "invoice"
	EntityPayment EntityType = "payment"
)

func (e EntityType) Valid() bool {
	switch e {
	case EntityContact, EntityBooking, EntityInvoice, EntityPayment:
		return true
	}
	return false
}

// TriggerContext is the snapshot of entities relevant to a firing event.
// Build it with engine.NewTriggerContext; the value is never mutated after construction.
type TriggerContext struct {
	Tenant  Tenant   `json:"tenant"`
	Contact *Contact `json:"contact,omitempty"`
	Booking *Booking `json:"booking,omitempty"`
	Invoice *Invoice `json:"invoice,omitempty"`
	Payment *Payment `json:"payment,omitempty"`
	Tag     *Tag     `json:"tag,omitempty"`
}

// EntityID returns the ID of the entity of the given type, or "" when absent.
func (c TriggerContext) EntityID(t EntityType) string {
	switch t {
	case EntityContact:
		if c.Contact != nil {
			return c.Contact.ID
		}
	case EntityBooking:
		if c.Booking != nil {
			return c.Booking.ID
		}
	case EntityInvoice:
		if c.Invoice != nil {
			return c.Invoice.ID
		}
	case EntityPayment:
		if c.Payment != nil {
			return c.Payment.ID
		}
	}
	return ""
}

// PrimaryEntity picks the entity an action applies to when none is named:
// contact, then booking, invoice, payment.
func (c TriggerContext) PrimaryEntity() (EntityType, string, bool) {
	for _, t := range []EntityType{EntityContact, EntityBooking, EntityInvoice, EntityPayment} {
		if id := c.EntityID(t); id != "" {
			return t, id, true
		}
	}
	return "", "", false
}
