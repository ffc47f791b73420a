package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplySubscriptionStatus(t *testing.T) {
	tests := []struct {
		role   string
		status string
		want   string
		pro    bool
	}{
		{ROLE_FREE, SubscriptionStatusTrialing, ROLE_PRO, true},
		{ROLE_FREE, SubscriptionStatusActive, ROLE_PRO, true},
		{ROLE_PRO, SubscriptionStatusCanceling, ROLE_PRO, true},
		{ROLE_PRO, SubscriptionStatusPastDue, ROLE_FREE, false},
		{ROLE_PRO, SubscriptionStatusCanceled, ROLE_FREE, false},
		{ROLE_FREE, SubscriptionStatusNone, ROLE_FREE, false},
		{ROLE_ADMIN, SubscriptionStatusCanceled, ROLE_ADMIN, false},
		{ROLE_ADMIN, SubscriptionStatusActive, ROLE_ADMIN, true},
	}
	for _, tt := range tests {
		p := &Profile{Role: tt.role}
		p.ApplySubscriptionStatus(tt.status)
		assert.Equal(t, tt.want, p.Role, "%s -> %s", tt.role, tt.status)
		assert.Equal(t, tt.pro, p.IsPro, "%s -> %s", tt.role, tt.status)
		assert.Equal(t, SubscriptionRole(tt.status), p.BillingRole())
	}
}
