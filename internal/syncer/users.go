package syncer

import (
	"context"

	"deptdocs/core/internal/domain"
	"deptdocs/core/internal/rbac"
	"go.uber.org/zap"
)

// LoadMyDepartments refreshes the session principal's own user record and
// publishes its departments as the MyDepartments read model.
func (s *Synchronizer) LoadMyDepartments(ctx context.Context) ([]domain.Department, error) {
	snap, ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	token := s.issue(domain.EntityUser)
	user, err := s.api.GetUser(ctx, snap.Principal.Credential, snap.Principal.ID)
	if err != nil {
		return nil, s.failed("load my departments", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live(snap) {
		return nil, s.superseded(domain.EntityUser, user.ID, token, 0, "session ended")
	}
	if !s.cache.Users.Put(user, token) {
		return nil, s.superseded(domain.EntityUser, user.ID, token, s.cache.Users.Revision(user.ID), "newer write committed")
	}
	s.listOrder[domain.EntityUser] = appendID(s.listOrder[domain.EntityUser], user.ID)
	s.myDepts = append([]domain.Department(nil), user.Departments...)
	s.myDeptsSet = true
	return append([]domain.Department(nil), user.Departments...), nil
}

// AssignDepartment adds the user to a department.
func (s *Synchronizer) AssignDepartment(ctx context.Context, userID, departmentID int64) (domain.User, error) {
	return s.membership(ctx, "assign department", userID, departmentID, s.api.AssignDepartment)
}

// RemoveDepartment takes the user out of a department.
func (s *Synchronizer) RemoveDepartment(ctx context.Context, userID, departmentID int64) (domain.User, error) {
	return s.membership(ctx, "remove department", userID, departmentID, s.api.RemoveDepartment)
}

type membershipCall func(ctx context.Context, token string, userID, departmentID int64) (domain.User, error)

func (s *Synchronizer) membership(ctx context.Context, op string, userID, departmentID int64, call membershipCall) (domain.User, error) {
	if userID <= 0 || departmentID <= 0 {
		return domain.User{}, domain.ValidationFailed("user and department ids are required",
			map[string]any{"userId": userID, "departmentId": departmentID})
	}
	snap, ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return domain.User{}, err
	}
	defer cancel()
	if err := requireCollection(snap.Principal, rbac.ActionUpdate); err != nil {
		return domain.User{}, err
	}

	token := s.issue(domain.EntityUser)
	user, err := call(ctx, snap.Principal.Credential, userID, departmentID)
	if err != nil {
		return domain.User{}, s.failed(op, err)
	}
	if user.ID != userID {
		return domain.User{}, s.failed(op, domain.ShapeMismatch("membership response names another user", nil))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live(snap) {
		return domain.User{}, s.superseded(domain.EntityUser, userID, token, 0, "session ended")
	}
	if !s.cache.Users.Put(user, token) {
		_ = s.superseded(domain.EntityUser, userID, token, s.cache.Users.Revision(userID), "newer write committed")
		return user, nil
	}
	s.listOrder[domain.EntityUser] = appendID(s.listOrder[domain.EntityUser], userID)
	if userID == snap.Principal.ID {
		s.myDepts = append([]domain.Department(nil), user.Departments...)
		s.myDeptsSet = true
	}
	s.log.Info(op, zap.Int64("user", userID), zap.Int64("department", departmentID))
	return user, nil
}

// RegisterUser creates an account through the registration endpoint.
func (s *Synchronizer) RegisterUser(ctx context.Context, in domain.UserInput) (domain.User, error) {
	if err := domain.Validate(in); err != nil {
		return domain.User{}, err
	}
	snap, ctx, cancel, err := s.begin(ctx)
	if err != nil {
		return domain.User{}, err
	}
	defer cancel()
	if err := requireCollection(snap.Principal, rbac.ActionCreate); err != nil {
		return domain.User{}, err
	}

	token := s.issue(domain.EntityUser)
	user, err := s.api.Register(ctx, snap.Principal.Credential, in)
	if err != nil {
		return domain.User{}, s.failed("register user", err)
	}
	return user, s.users.commit(snap.Generation, user, token, "registered")
}
