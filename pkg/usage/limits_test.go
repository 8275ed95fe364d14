package usage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/billingkit/pkg/subscription"
	"github.com/dmitrymomot/billingkit/pkg/usage"
)

func TestLimitFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		limits map[string]int64
		kind   usage.Resource
		want   int64
		found  bool
	}{
		{name: "max prefix", limits: map[string]int64{"max_projects": 3}, kind: usage.ResourceProjects, want: 3, found: true},
		{name: "bare key", limits: map[string]int64{"courses": 4}, kind: usage.ResourceCourses, want: 4, found: true},
		{name: "max prefix wins", limits: map[string]int64{"max_courses": 1, "courses": 4}, kind: usage.ResourceCourses, want: 1, found: true},
		{name: "ai per month", limits: map[string]int64{"ai_requests_per_month": 100}, kind: usage.ResourceAIRequests, want: 100, found: true},
		{name: "storage mb", limits: map[string]int64{"storage_mb": 250}, kind: usage.ResourceStorage, want: 250, found: true},
		{name: "storage gb", limits: map[string]int64{"storage_gb": 2}, kind: usage.ResourceStorage, want: 2048, found: true},
		{name: "storage mb wins", limits: map[string]int64{"storage_gb": 2, "storage_mb": 10}, kind: usage.ResourceStorage, want: 10, found: true},
		{name: "unlimited storage", limits: map[string]int64{"storage_gb": -1}, kind: usage.ResourceStorage, want: subscription.Unlimited, found: true},
		{name: "zero ceiling", limits: map[string]int64{"max_tasks": 0}, kind: usage.ResourceTasks, want: 0, found: true},
		{name: "missing", limits: map[string]int64{"max_projects": 3}, kind: usage.ResourceTasks},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok := usage.LimitFor(subscription.Plan{Limits: tt.limits}, tt.kind)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPlanResources(t *testing.T) {
	t.Parallel()

	p := subscription.Plan{Limits: map[string]int64{
		"max_projects":          1,
		"storage_gb":            1,
		"storage_mb":            5,
		"ai_requests_per_month": 9,
		"courses":               2,
	}}
	assert.Equal(t, []usage.Resource{"ai_requests", "courses", "projects", "storage"}, usage.PlanResources(p))
}

func TestDecision_Percentage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 66.7, usage.Decision{Reason: usage.ReasonWithinLimit, Current: 2, Limit: 3}.Percentage())
	assert.Equal(t, 150.0, usage.Decision{Reason: usage.ReasonLimitReached, Current: 3, Limit: 2}.Percentage())
	assert.Equal(t, 100.0, usage.Decision{Reason: usage.ReasonLimitReached, Current: 0, Limit: 0}.Percentage())
	assert.Zero(t, usage.Decision{Reason: usage.ReasonUnlimited, Current: 9, Limit: -1}.Percentage())
}
