package rbac

import "filedesk/api/internal/record"

// supervisorFields is the whitelist a supervisor may propose changes to.
var supervisorFields = []record.Field{
	record.FieldLatitude,
	record.FieldLongitude,
	record.FieldStatus,
	record.FieldCompletionDate,
	record.FieldBeneficiaryCount,
	record.FieldRemarks,
}

// Sites in any other status (billed, paid, unknown) are locked for supervisors.
var supervisorEditableStatuses = map[record.Status]struct{}{
	record.StatusIssued:     {},
	record.StatusInProgress: {},
	record.StatusCompleted:  {},
	record.StatusFailed:     {},
}

// EditableFields is the field authorization policy: the set of site fields a
// role may change on a site currently in status.
func EditableFields(role Role, status record.Status) record.FieldSet {
	switch role {
	case RoleAdmin, RoleEditor:
		return record.AllFieldSet()
	case RoleSupervisor:
		if !SupervisorEditableStatus(status) {
			return record.NewFieldSet()
		}
		return record.NewFieldSet(supervisorFields...)
	default:
		return record.NewFieldSet()
	}
}

// SupervisorEditableStatus reports whether status is inside the subset a
// supervisor may edit, and therefore also may set.
func SupervisorEditableStatus(status record.Status) bool {
	_, ok := supervisorEditableStatuses[status]
	return ok
}
