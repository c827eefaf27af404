package usagemeter

import "fmt"

// effectiveLimit applies a per-user override on top of the plan default.
func effectiveLimit(override *int64, planLimit int64) int64 {
	if override != nil {
		return *override
	}
	return planLimit
}

// EnsureRequestCapacity verifies that user may consume amount more requests
// under the built-in catalog. It is a check, not a reservation: no state is
// mutated, so callers using it as a pre-flight before long-running work must
// accept a race between the check and the later commit.
//
// Fails with NoCapacity (402) when the effective limit is zero or negative,
// and LimitExceeded (402) when used+amount would exceed it.
func EnsureRequestCapacity(user *UserAccount, amount int64) error {
	return ensureRequestCapacity(GetPlanDefinition(user.Plan), user, amount)
}

func ensureRequestCapacity(plan PlanDefinition, user *UserAccount, amount int64) error {
	if amount < 1 {
		return fmt.Errorf("usagemeter: amount must be at least 1, got %d", amount)
	}
	limit := effectiveLimit(user.QuestionLimit, plan.QuestionLimit)
	if limit <= 0 {
		return noCapacityError("Your current plan does not include request capacity. Upgrade to continue.")
	}
	if user.QuestionsUsed+amount > limit {
		return limitExceededError("Monthly request limit reached. Upgrade your plan to continue.")
	}
	return nil
}

// EnsurePipelineCapacity verifies that user may create add more pipelines on
// top of active existing ones. Same taxonomy as the request check.
func EnsurePipelineCapacity(user *UserAccount, active, add int64) error {
	return ensurePipelineCapacity(GetPlanDefinition(user.Plan), user, active, add)
}

func ensurePipelineCapacity(plan PlanDefinition, user *UserAccount, active, add int64) error {
	if add < 1 {
		return fmt.Errorf("usagemeter: add must be at least 1, got %d", add)
	}
	limit := effectiveLimit(user.ChatbotLimit, plan.ChatbotLimit)
	if limit <= 0 {
		return noCapacityError("Your current plan does not include pipeline capacity. Upgrade to continue.")
	}
	if active+add > limit {
		return limitExceededError("Pipeline limit reached. Upgrade your plan to create more pipelines.")
	}
	return nil
}

// EnsureStorageCapacity verifies that user may store addMb more megabytes.
func EnsureStorageCapacity(user *UserAccount, addMb int64) error {
	return ensureStorageCapacity(GetPlanDefinition(user.Plan), user, addMb)
}

func ensureStorageCapacity(plan PlanDefinition, user *UserAccount, addMb int64) error {
	if addMb < 1 {
		return fmt.Errorf("usagemeter: addMb must be at least 1, got %d", addMb)
	}
	limit := effectiveLimit(user.StorageLimitMb, plan.StorageLimitMb)
	if limit <= 0 {
		return noCapacityError("Your current plan does not include storage capacity. Upgrade to continue.")
	}
	if user.StorageUsedMb+addMb > limit {
		return limitExceededError("Storage limit reached. Upgrade your plan or remove datasets to continue.")
	}
	return nil
}
