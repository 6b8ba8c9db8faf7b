package engine

import (
	"github.com/dmayes77/clientflow/pkg/clientflow/domain"
)

type ContextOption func(*domain.TriggerContext)

// WithContact and the other options store a copy of the entity, so later changes to the
// caller's struct are not visible in the context.
func WithContact(c domain.Contact) ContextOption {
	return func(tc *domain.TriggerContext) { tc.Contact = &c }
}

func WithBooking(b domain.Booking) ContextOption {
	return func(tc *domain.TriggerContext) { tc.Booking = &b }
}

func WithInvoice(i domain.Invoice) ContextOption {
	return func(tc *domain.TriggerContext) { tc.Invoice = &i }
}

func WithPayment(p domain.Payment) ContextOption {
	return func(tc *domain.TriggerContext) { tc.Payment = &p }
}

func WithTag(t domain.Tag) ContextOption {
	return func(tc *domain.TriggerContext) { tc.Tag = &t }
}

// NewTriggerContext assembles the snapshot passed to Fire. Only the tenant id is required.
func NewTriggerContext(tenant domain.Tenant, opts ...ContextOption) (domain.TriggerContext, error) {
	if tenant.ID == "" {
		return domain.TriggerContext{}, domain.ErrMissingTenant
	}
	tc := domain.TriggerContext{Tenant: tenant}
	for _, opt := range opts {
		opt(&tc)
	}
	return tc, nil
}

// cloneContext returns a copy that shares no pointers with tc.
func cloneContext(tc domain.TriggerContext) domain.TriggerContext {
	out := domain.TriggerContext{Tenant: tc.Tenant}
	if tc.Contact != nil {
		c := *tc.Contact
		out.Contact = &c
	}
	if tc.Booking != nil {
		b := *tc.Booking
		out.Booking = &b
	}
	if tc.Invoice != nil {
		i := *tc.Invoice
		out.Invoice = &i
	}
	if tc.Payment != nil {
		p := *tc.Payment
		out.Payment = &p
	}
	if tc.Tag != nil {
		t := *tc.Tag
		out.Tag = &t
	}
	return out
}
