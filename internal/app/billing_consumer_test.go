package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/tutorhub/usage-service/internal/domain"
)

func TestHandleMessageAppliesSubscriptionUpdate(t *testing.T) {
	subs := newFakeSubscriptionStore()
	consumer := NewBillingEventConsumer(newTestResolver(subs))
	userID := uuid.New()

	body, _ := json.Marshal(domain.SubscriptionUpdatedEvent{
		UserID: userID.String(),
		Plan:   string(domain.PlanPremium),
		Status: string(domain.StatusActive),
	})

	if !consumer.HandleMessage(body) {
		t.Fatal("expected a valid event to be acknowledged")
	}

	sub, err := subs.GetSubscriptionByUserID(context.Background(), userID)
	if err != nil {
		t.Fatalf("get after event returned error: %v", err)
	}
	if sub.Plan != domain.PlanPremium || sub.Status != domain.StatusActive {
		t.Fatalf("expected premium/active after the event, got %+v", sub)
	}
}

func TestHandleMessageDropsMalformedPayloads(t *testing.T) {
	consumer := NewBillingEventConsumer(newTestResolver(newFakeSubscriptionStore()))

	cases := []struct {
		name string
		body []byte
	}{
		{"invalid json", []byte("{not json")},
		{"invalid user id", []byte(`{"user_id":"not-a-uuid","plan":"premium","status":"active"}`)},
		{"unknown plan", []byte(`{"user_id":"` + uuid.NewString() + `","plan":"platinum","status":"active"}`)},
		{"unknown status", []byte(`{"user_id":"` + uuid.NewString() + `","plan":"premium","status":"paused"}`)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if !consumer.HandleMessage(tc.body) {
				t.Fatal("malformed events must be acknowledged and dropped, not requeued")
			}
		})
	}
}

func TestHandleMessageRequeuesOnStoreFailure(t *testing.T) {
	subs := newFakeSubscriptionStore()
	subs.upsertErr = errors.New("connection refused")
	consumer := NewBillingEventConsumer(newTestResolver(subs))

	body, _ := json.Marshal(domain.SubscriptionUpdatedEvent{
		UserID: uuid.NewString(),
		Plan:   string(domain.PlanFree),
		Status: string(domain.StatusActive),
	})

	if consumer.HandleMessage(body) {
		t.Fatal("expected a store failure to requeue the event")
	}
}
