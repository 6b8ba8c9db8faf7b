package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/dmayes77/clientflow/pkg/clientflow/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventWF(id, tenant, event string, active bool) domain.Workflow {
	return domain.Workflow{ID: id, TenantID: tenant, Name: id, TriggerType: domain.TriggerEvent, EventName: event, Active: active}
}

func tagWF(id, tenant, tag string, tt domain.TriggerType) domain.Workflow {
	return domain.Workflow{ID: id, TenantID: tenant, Name: id, TriggerType: tt, TriggerTagID: tag, Active: true}
}

func ids(wfs []domain.Workflow) []string {
	out := make([]string, 0, len(wfs))
	for _, wf := range wfs {
		out = append(out, wf.ID)
	}
	return out
}

func TestMatcher_EventMatchesActiveWorkflowsOfTenantOnly(t *testing.T) {
	store := &memWorkflowStore{}
	store.add(eventWF("a", "t1", "lead_created", true))
	store.add(eventWF("b", "t1", "lead_created", false))
	store.add(eventWF("c", "t2", "lead_created", true))
	store.add(eventWF("d", "t1", "booking_created", true))
	store.add(eventWF("e", "t1", "lead_created", true))

	m := NewMatcher(store)
	got, err := m.Match(context.Background(), Trigger{TenantID: "t1", EventName: "lead_created"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "e"}, ids(got))
}

func TestMatcher_TagDirection(t *testing.T) {
	store := &memWorkflowStore{}
	store.add(tagWF("added", "t1", "T", domain.TriggerTagAdded))
	store.add(tagWF("removed", "t1", "T", domain.TriggerTagRemoved))
	store.add(tagWF("other", "t1", "U", domain.TriggerTagAdded))

	m := NewMatcher(store)
	got, err := m.Match(context.Background(), Trigger{TenantID: "t1", TagID: "T", TagAction: TagAdded})
	require.NoError(t, err)
	assert.Equal(t, []string{"added"}, ids(got))

	got, err = m.Match(context.Background(), Trigger{TenantID: "t1", TagID: "T", TagAction: TagRemoved})
	require.NoError(t, err)
	assert.Equal(t, []string{"removed"}, ids(got))
}

func TestMatcher_EntityTagEventWorkflows(t *testing.T) {
	store := &memWorkflowStore{}
	store.add(tagWF("by-tag", "t1", "overdue", domain.TriggerTagAdded))
	store.add(eventWF("by-entity", "t1", "invoice_tag_added", true))
	store.add(eventWF("wrong-entity", "t1", "contact_tag_added", true))
	store.add(eventWF("wrong-direction", "t1", "invoice_tag_removed", true))

	m := NewMatcher(store)
	got, err := m.Match(context.Background(), Trigger{TenantID: "t1", TagID: "overdue", TagAction: TagAdded, EntityType: domain.EntityInvoice})
	require.NoError(t, err)
	assert.Equal(t, []string{"by-tag", "by-entity"}, ids(got))

	got, err = m.Match(context.Background(), Trigger{TenantID: "t1", TagID: "overdue", TagAction: TagAdded})
	require.NoError(t, err)
	assert.Equal(t, []string{"by-tag"}, ids(got))
}

func TestMatcher_DeduplicatesByID(t *testing.T) {
	store := &memWorkflowStore{}
	wf := eventWF("a", "t1", "lead_created", true)
	store.add(wf)
	store.add(wf)

	got, err := NewMatcher(store).Match(context.Background(), Trigger{TenantID: "t1", EventName: "lead_created"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(got))
}

func TestMatcher_SkipsMalformedWorkflows(t *testing.T) {
	store := &memWorkflowStore{}
	both := eventWF("both", "t1", "lead_created", true)
	both.TriggerTagID = "vip"
	unknown := eventWF("unknown", "t1", "lead_created", true)
	unknown.TriggerType = "cron"
	tagWithEvent := tagWF("tag-with-event", "t1", "vip", domain.TriggerTagAdded)
	tagWithEvent.EventName = "lead_created"
	store.add(both)
	store.add(unknown)
	store.add(tagWithEvent)
	store.add(eventWF("good", "t1", "lead_created", true))

	m := NewMatcher(store)
	got, err := m.Match(context.Background(), Trigger{TenantID: "t1", EventName: "lead_created"})
	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, ids(got))

	got, err = m.Match(context.Background(), Trigger{TenantID: "t1", TagID: "vip", TagAction: TagAdded})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMatcher_Errors(t *testing.T) {
	store := &memWorkflowStore{}
	m := NewMatcher(store)

	_, err := m.Match(context.Background(), Trigger{EventName: "lead_created"})
	assert.ErrorIs(t, err, domain.ErrMissingTenant)

	_, err = m.Match(context.Background(), Trigger{TenantID: "t1"})
	assert.Error(t, err)

	_, err = m.Match(context.Background(), Trigger{TenantID: "t1", TagID: "vip", TagAction: "toggled"})
	assert.Error(t, err)

	store.err = errors.New("db down")
	_, err = m.Match(context.Background(), Trigger{TenantID: "t1", EventName: "lead_created"})
	assert.ErrorContains(t, err, "db down")
}

func TestTriggerLabel(t *testing.T) {
	assert.Equal(t, "lead_created", Trigger{EventName: "lead_created"}.Label())
	assert.Equal(t, "tag_added:vip", Trigger{TagID: "vip", TagAction: TagAdded}.Label())
	assert.Equal(t, "tag_removed:vip", Trigger{TagID: "vip", TagAction: TagRemoved}.Label())
}
