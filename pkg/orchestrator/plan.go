package orchestrator

import (
	"fmt"

	"github.com/Mindburn-Labs/autonomy-kernel/pkg/contracts"
)

// ValidatePlanGraph checks the structural plan invariants: unique step
// IDs and a dependsOn relation that references earlier steps only,
// which makes the graph a DAG by construction.
func ValidatePlanGraph(plan *contracts.ExecutionPlan) []string {
	var issues []string
	if plan == nil {
		return []string{"plan is nil"}
	}
	if len(plan.Steps) == 0 {
		issues = append(issues, "plan has no steps")
	}

	seen := make(map[string]int, len(plan.Steps))
	for i, step := range plan.Steps {
		if step.ID == "" {
			issues = append(issues, fmt.Sprintf("step %d has no id", i))
			continue
		}
		if _, dup := seen[step.ID]; dup {
			issues = append(issues, fmt.Sprintf("duplicate step id %q", step.ID))
			continue
		}
		seen[step.ID] = i
		if step.ToolName == "" {
			issues = append(issues, fmt.Sprintf("step %q has no tool", step.ID))
		}
		for _, dep := range step.DependsOn {
			j, ok := seen[dep]
			if !ok {
				issues = append(issues, fmt.Sprintf("step %q depends on %q which is not an earlier step", step.ID, dep))
				continue
			}
			if j >= i {
				issues = append(issues, fmt.Sprintf("step %q depends on itself", step.ID))
			}
		}
	}
	return issues
}

// ToolChecker is satisfied by the tool registry.
type ToolChecker interface {
	Has(name string) bool
}

// ValidatePlanTools reports steps whose tool is not registered.
func ValidatePlanTools(plan *contracts.ExecutionPlan, tools ToolChecker) []string {
	var issues []string
	for _, step := range plan.Steps {
		if step.ToolName != "" && !tools.Has(step.ToolName) {
			issues = append(issues, fmt.Sprintf("step %q references unknown tool %q", step.ID, step.ToolName))
		}
	}
	return issues
}

// TopologicalSteps orders steps so every step follows its dependencies.
// Plans that passed ValidatePlanGraph are already in a valid order; this
// re-derives one defensively for planner implementations that interleave.
func TopologicalSteps(plan *contracts.ExecutionPlan) ([]contracts.PlanStep, error) {
	byID := make(map[string]contracts.PlanStep, len(plan.Steps))
	indegree := make(map[string]int, len(plan.Steps))
	dependents := make(map[string][]string)

	for _, step := range plan.Steps {
		byID[step.ID] = step
		indegree[step.ID] = len(step.DependsOn)
		for _, dep := range step.DependsOn {
			dependents[dep] = append(dependents[dep], step.ID)
		}
	}

	// Seed with ready steps in plan order to keep output deterministic.
	var queue []string
	for _, step := range plan.Steps {
		if indegree[step.ID] == 0 {
			queue = append(queue, step.ID)
		}
	}

	out := make([]contracts.PlanStep, 0, len(plan.Steps))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		out = append(out, byID[id])
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(out) != len(plan.Steps) {
		return nil, fmt.Errorf("plan %s has a dependency cycle", plan.ID)
	}
	return out, nil
}
