// Package rbac decides which documents and collection entities a principal
// may view or change. It performs no I/O; every caller in the client and the
// reference server goes through Authorize.
package rbac

import "deptdocs/core/internal/domain"

type Action string

const (
	ActionView   Action = "view"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Reason explains a Decision. It is stable and safe to show to end users.
type Reason string

const (
	ReasonAdmin          Reason = "admin"
	ReasonGlobal         Reason = "document has no department"
	ReasonMember         Reason = "member of department"
	ReasonCreator        Reason = "creator"
	ReasonNotMember      Reason = "not a member of the department"
	ReasonNoDepartment   Reason = "only administrators may create documents without a department"
	ReasonAdminOnly      Reason = "administrator role required"
	ReasonAuthenticated  Reason = "authenticated"
	ReasonUnknownAction  Reason = "unknown action"
	ReasonNotCreatorOrIn Reason = "neither creator nor member of the department"
)

// Decision is the typed result of an authorization check. Callers branch on
// Allowed; denial is never reported as an error by this package.
type Decision struct {
	Allowed bool
	Reason  Reason
}

func allow(reason Reason) Decision { return Decision{Allowed: true, Reason: reason} }
func deny(reason Reason) Decision  { return Decision{Allowed: false, Reason: reason} }

// Target is what an action applies to. Document is used for view, update and
// delete; DepartmentID is the target department for create (nil means the
// document would be globally visible).
type Target struct {
	Document     *domain.Document
	DepartmentID *int64
}

func OnDocument(doc domain.Document) Target {
	return Target{Document: &doc}
}

func InDepartment(departmentID *int64) Target {
	return Target{DepartmentID: departmentID}
}

// Authorize evaluates the rule set in order; the first matching rule wins.
func Authorize(principal domain.Principal, action Action, target Target) Decision {
	if principal.IsAdmin() {
		return allow(ReasonAdmin)
	}

	switch action {
	case ActionView:
		if target.Document == nil {
			return deny(ReasonUnknownAction)
		}
		dept := target.Document.DepartmentID
		if dept == nil {
			return allow(ReasonGlobal)
		}
		if principal.MemberOf(*dept) {
			return allow(ReasonMember)
		}
		return deny(ReasonNotMember)
	case ActionCreate:
		if target.DepartmentID == nil {
			return deny(ReasonNoDepartment)
		}
		if principal.MemberOf(*target.DepartmentID) {
			return allow(ReasonMember)
		}
		return deny(ReasonNotMember)
	case ActionUpdate, ActionDelete:
		if target.Document == nil {
			return deny(ReasonUnknownAction)
		}
		if target.Document.CreatedBy == principal.ID {
			return allow(ReasonCreator)
		}
		if dept := target.Document.DepartmentID; dept != nil && principal.MemberOf(*dept) {
			return allow(ReasonMember)
		}
		return deny(ReasonNotCreatorOrIn)
	default:
		return deny(ReasonUnknownAction)
	}
}

// Can is the boolean form of Authorize.
func Can(principal domain.Principal, action Action, target Target) bool {
	return Authorize(principal, action, target).Allowed
}

// AuthorizeCollection covers departments, categories and users: anyone
// authenticated may read, only administrators may change them.
func AuthorizeCollection(principal domain.Principal, action Action) Decision {
	if principal.IsAdmin() {
		return allow(ReasonAdmin)
	}
	switch action {
	case ActionView:
		return allow(ReasonAuthenticated)
	case ActionCreate, ActionUpdate, ActionDelete:
		return deny(ReasonAdminOnly)
	default:
		return deny(ReasonUnknownAction)
	}
}

// VisibleTo filters docs down to those principal may view, preserving order.
func VisibleTo(principal domain.Principal, docs []domain.Document) []domain.Document {
	out := make([]domain.Document, 0, len(docs))
	for _, doc := range docs {
		if Can(principal, ActionView, OnDocument(doc)) {
			out = append(out, doc)
		}
	}
	return out
}
