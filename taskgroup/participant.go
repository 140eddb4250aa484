package taskgroup

import "strings"

// Step identifiers inserted into task variants.
const (
	StepMedicationTiming      = "medicationTiming"
	StepPassiveDataPermission = "passiveDataPermission"
)

// Participant carries the participant state consulted when building task
// variants.
type Participant struct {
	DataGroups []string

	// AnsweredMedicationTiming is true once the medication timing question
	// has been answered today; the step is only shown once per day.
	AnsweredMedicationTiming bool

	// PassiveDataAllowed is true once passive data collection permission has
	// been resolved (granted or explicitly declined).
	PassiveDataAllowed bool
}

// HasDataGroup reports whether the participant belongs to the data group.
func (p Participant) HasDataGroup(group string) bool {
	for _, g := range p.DataGroups {
		if g == group {
			return true
		}
	}
	return false
}

// dataGroupParkinsons marks diagnosed participants, who track medication
// timing alongside each measurement.
const dataGroupParkinsons = "parkinsons"

// AugmentTask returns the task with the extra steps this participant should
// see: the medication timing question ahead of the task for diagnosed
// participants who have not answered it today, and the passive data
// permission prompt after the task while permission is unresolved.
func AugmentTask(task Task, p Participant) Task {
	var steps []string
	if p.HasDataGroup(dataGroupParkinsons) && !p.AnsweredMedicationTiming {
		steps = append(steps, StepMedicationTiming)
	}
	if !p.PassiveDataAllowed {
		steps = append(steps, StepPassiveDataPermission)
	}
	task.Steps = steps
	return task
}

// EngagementVariant resolves the engagement content variant for the
// participant: one data group per configured axis, joined in axis order. The
// second return is false when any axis has no matching group.
func EngagementVariant(axes [][]string, dataGroups []string) (string, bool) {
	if len(axes) == 0 {
		return "", false
	}

	member := make(map[string]bool, len(dataGroups))
	for _, g := range dataGroups {
		member[g] = true
	}

	picked := make([]string, 0, len(axes))
	for _, axis := range axes {
		found := ""
		for _, g := range axis {
			if member[g] {
				found = g
				break
			}
		}
		if found == "" {
			return "", false
		}
		picked = append(picked, found)
	}
	return strings.Join(picked, " "), true
}
