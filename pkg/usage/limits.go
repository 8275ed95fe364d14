package usage

import (
	"strings"

	"github.com/dmitrymomot/billingkit/pkg/subscription"
)

// storageKeys are read in order; the first key a plan sets wins. Gigabyte
// ceilings are converted to megabytes.
var storageKeys = []struct {
	key   string
	scale int64
}{
	{"storage_mb", 1},
	{"max_storage_mb", 1},
	{"storage_gb", 1024},
	{"max_storage_gb", 1024},
}

// LimitFor resolves the plan ceiling for kind. Keys are tried as
// "max_<kind>" then "<kind>"; ai_requests also accepts
// "ai_requests_per_month". Storage is reported in megabytes. The second
// result is false when the plan sets no limit for kind.
func LimitFor(p subscription.Plan, kind Resource) (int64, bool) {
	if kind == ResourceStorage {
		for _, k := range storageKeys {
			v, ok := p.Limit(k.key)
			if !ok {
				continue
			}
			if v == subscription.Unlimited {
				return v, true
			}
			return v * k.scale, true
		}
		return 0, false
	}
	for _, key := range limitKeys(kind) {
		if v, ok := p.Limit(key); ok {
			return v, true
		}
	}
	return 0, false
}

func limitKeys(kind Resource) []string {
	keys := []string{"max_" + string(kind), string(kind)}
	if kind == ResourceAIRequests {
		keys = append(keys, "ai_requests_per_month")
	}
	return keys
}

// ResourceForKey maps a plan limit key back to the resource it gates.
func ResourceForKey(key string) Resource {
	switch key {
	case "storage_mb", "max_storage_mb", "storage_gb", "max_storage_gb":
		return ResourceStorage
	case "ai_requests_per_month":
		return ResourceAIRequests
	}
	return Resource(strings.TrimPrefix(key, "max_"))
}

// PlanResources lists the distinct resources a plan sets limits for, in the
// order of its limit keys.
func PlanResources(p subscription.Plan) []Resource {
	seen := make(map[Resource]bool, len(p.Limits))
	var out []Resource
	for _, key := range p.LimitKeys() {
		r := ResourceForKey(key)
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}
