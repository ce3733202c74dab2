package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"deptdocs/core/internal/domain"
	"deptdocs/core/internal/query"
	"github.com/jackc/pgx/v5/pgconn"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Array columns are read through to_json so they scan into plain bytes.
const documentColumns = `d.id, d.title, d.description, d.content, d.status, to_json(d.tags),
	d.department_id, d.category_id, d.created_by, d.file_name, d.file_type, d.created_at, d.updated_at`

func scanDocument(row rowScanner) (domain.Document, error) {
	var (
		doc       domain.Document
		status    string
		tags      []byte
		dept, cat sql.NullInt64
	)
	err := row.Scan(&doc.ID, &doc.Title, &doc.Description, &doc.Content, &status, &tags,
		&dept, &cat, &doc.CreatedBy, &doc.FileName, &doc.FileType, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return domain.Document{}, err
	}
	doc.Status = domain.Status(status)
	if err := json.Unmarshal(tags, &doc.Tags); err != nil {
		return domain.Document{}, fmt.Errorf("decode tags: %w", err)
	}
	if doc.Tags == nil {
		doc.Tags = []string{}
	}
	if dept.Valid {
		doc.DepartmentID = domain.Int64(dept.Int64)
	}
	if cat.Valid {
		doc.CategoryID = domain.Int64(cat.Int64)
	}
	return doc, nil
}

func scanDocuments(rows *sql.Rows) ([]domain.Document, error) {
	defer rows.Close()
	docs := []domain.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

// translate maps driver errors onto domain errors. Constraint violations are
// the caller's fault; everything else is wrapped as is.
func translate(err error, what string, entity domain.EntityType, id int64) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NotFound(entity, id)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		details := map[string]any{"constraint": pgErr.ConstraintName}
		switch pgErr.Code {
		case "23505":
			return domain.ValidationFailed(fmt.Sprintf("%s already exists", strings.TrimSuffix(string(entity), "s")), details)
		case "23503":
			return domain.ValidationFailed("referenced record does not exist", details)
		case "23514", "22P02":
			return domain.ValidationFailed("invalid "+strings.TrimSuffix(string(entity), "s"), details)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

// Documents

func (s *PostgresStore) ListDocuments(ctx context.Context, scope Scope) ([]domain.Document, error) {
	b, err := documentFilter(query.Spec{}, scope)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents d`+b.where()+` ORDER BY d.id`, b.args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return scanDocuments(rows)
}

// QueryDocuments returns one page of the documents in scope matching spec,
// with metadata computed from the full match count.
func (s *PostgresStore) QueryDocuments(ctx context.Context, spec query.Spec, scope Scope) (query.PageResult, error) {
	if err := spec.Validate(); err != nil {
		return query.PageResult{}, err
	}
	b, err := documentFilter(spec, scope)
	if err != nil {
		return query.PageResult{}, err
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM documents d`+b.where(), b.args...).Scan(&total); err != nil {
		return query.PageResult{}, fmt.Errorf("count documents: %w", err)
	}
	meta := query.Paginate(total, spec.Page, spec.PageSize)

	limit := b.arg(meta.PerPage)
	offset := b.arg(meta.Offset())
	stmt := `SELECT ` + documentColumns + ` FROM documents d` + b.where() + documentOrder(spec) +
		` LIMIT ` + limit + ` OFFSET ` + offset
	rows, err := s.db.QueryContext(ctx, stmt, b.args...)
	if err != nil {
		return query.PageResult{}, fmt.Errorf("query documents: %w", err)
	}
	docs, err := scanDocuments(rows)
	if err != nil {
		return query.PageResult{}, err
	}
	return query.PageResult{Items: docs, PageMeta: meta}, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id int64) (domain.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents d WHERE d.id=$1`, id)
	doc, err := scanDocument(row)
	if err != nil {
		return domain.Document{}, translate(err, "get document", domain.EntityDocument, id)
	}
	return doc, nil
}

// DocumentsByID loads the given ids, keeping their order and skipping any
// that no longer exist.
func (s *PostgresStore) DocumentsByID(ctx context.Context, ids []int64) ([]domain.Document, error) {
	if len(ids) == 0 {
		return []domain.Document{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents d WHERE d.id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	docs, err := scanDocuments(rows)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]domain.Document, len(docs))
	for _, doc := range docs {
		byID[doc.ID] = doc
	}
	out := make([]domain.Document, 0, len(docs))
	for _, id := range ids {
		if doc, ok := byID[id]; ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (s *PostgresStore) CreateDocument(ctx context.Context, in domain.DocumentInput, createdBy int64) (domain.Document, error) {
	tags := in.Tags
	if tags == nil {
		tags = []string{}
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO documents AS d (title, description, content, status, tags, department_id, category_id, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+documentColumns,
		in.Title, in.Description, in.Content, string(in.Status), tags, in.DepartmentID, in.CategoryID, createdBy)
	doc, err := scanDocument(row)
	if err != nil {
		return domain.Document{}, translate(err, "create document", domain.EntityDocument, 0)
	}
	return doc, nil
}

// SaveDocument writes every mutable column of doc. createdAt is never
// touched and updatedAt only moves forward.
func (s *PostgresStore) SaveDocument(ctx context.Context, doc domain.Document) (domain.Document, error) {
	tags := doc.Tags
	if tags == nil {
		tags = []string{}
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE documents AS d
		SET title=$2, description=$3, content=$4, status=$5, tags=$6, department_id=$7,
			category_id=$8, file_name=$9, file_type=$10, updated_at=GREATEST(NOW(), d.updated_at)
		WHERE d.id=$1
		RETURNING `+documentColumns,
		doc.ID, doc.Title, doc.Description, doc.Content, string(doc.Status), tags,
		doc.DepartmentID, doc.CategoryID, doc.FileName, doc.FileType)
	saved, err := scanDocument(row)
	if err != nil {
		return domain.Document{}, translate(err, "update document", domain.EntityDocument, doc.ID)
	}
	return saved, nil
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "documents", domain.EntityDocument, id)
}

func (s *PostgresStore) deleteByID(ctx context.Context, table string, entity domain.EntityType, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id=$1`, id)
	if err != nil {
		return translate(err, "delete "+table, entity, id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	if n == 0 {
		return domain.NotFound(entity, id)
	}
	return nil
}

// Departments and categories share one shape.

type namedRow struct {
	ID          int64
	Name        string
	Description string
}

func (s *PostgresStore) listNamed(ctx context.Context, table string) ([]namedRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, description FROM `+table+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()
	out := []namedRow{}
	for rows.Next() {
		var r namedRow
		if err := rows.Scan(&r.ID, &r.Name, &r.Description); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) getNamed(ctx context.Context, table string, entity domain.EntityType, id int64) (namedRow, error) {
	var r namedRow
	err := s.db.QueryRowContext(ctx, `SELECT id, name, description FROM `+table+` WHERE id=$1`, id).
		Scan(&r.ID, &r.Name, &r.Description)
	return r, translate(err, "get "+table, entity, id)
}

func (s *PostgresStore) createNamed(ctx context.Context, table string, entity domain.EntityType, name, description string) (namedRow, error) {
	var r namedRow
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO `+table+` (name, description) VALUES ($1, $2) RETURNING id, name, description`,
		strings.TrimSpace(name), strings.TrimSpace(description)).Scan(&r.ID, &r.Name, &r.Description)
	return r, translate(err, "create "+table, entity, 0)
}

func (s *PostgresStore) updateNamed(ctx context.Context, table string, entity domain.EntityType, id int64, name, description string) (namedRow, error) {
	var r namedRow
	err := s.db.QueryRowContext(ctx,
		`UPDATE `+table+` SET name=$2, description=$3 WHERE id=$1 RETURNING id, name, description`,
		id, strings.TrimSpace(name), strings.TrimSpace(description)).Scan(&r.ID, &r.Name, &r.Description)
	return r, translate(err, "update "+table, entity, id)
}

func (r namedRow) department() domain.Department {
	return domain.Department{ID: r.ID, Name: r.Name, Description: r.Description}
}

func (r namedRow) category() domain.Category {
	return domain.Category{ID: r.ID, Name: r.Name, Description: r.Description}
}

func (s *PostgresStore) ListDepartments(ctx context.Context) ([]domain.Department, error) {
	rows, err := s.listNamed(ctx, "departments")
	if err != nil {
		return nil, err
	}
	out := make([]domain.Department, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.department())
	}
	return out, nil
}

func (s *PostgresStore) GetDepartment(ctx context.Context, id int64) (domain.Department, error) {
	r, err := s.getNamed(ctx, "departments", domain.EntityDepartment, id)
	return r.department(), err
}

func (s *PostgresStore) CreateDepartment(ctx context.Context, in domain.DepartmentInput) (domain.Department, error) {
	r, err := s.createNamed(ctx, "departments", domain.EntityDepartment, in.Name, in.Description)
	return r.department(), err
}

func (s *PostgresStore) UpdateDepartment(ctx context.Context, id int64, in domain.DepartmentInput) (domain.Department, error) {
	r, err := s.updateNamed(ctx, "departments", domain.EntityDepartment, id, in.Name, in.Description)
	return r.department(), err
}

func (s *PostgresStore) DeleteDepartment(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "departments", domain.EntityDepartment, id)
}

func (s *PostgresStore) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := s.listNamed(ctx, "categories")
	if err != nil {
		return nil, err
	}
	out := make([]domain.Category, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.category())
	}
	return out, nil
}

func (s *PostgresStore) GetCategory(ctx context.Context, id int64) (domain.Category, error) {
	r, err := s.getNamed(ctx, "categories", domain.EntityCategory, id)
	return r.category(), err
}

func (s *PostgresStore) CreateCategory(ctx context.Context, in domain.CategoryInput) (domain.Category, error) {
	r, err := s.createNamed(ctx, "categories", domain.EntityCategory, in.Name, in.Description)
	return r.category(), err
}

func (s *PostgresStore) UpdateCategory(ctx context.Context, id int64, in domain.CategoryInput) (domain.Category, error) {
	r, err := s.updateNamed(ctx, "categories", domain.EntityCategory, id, in.Name, in.Description)
	return r.category(), err
}

func (s *PostgresStore) DeleteCategory(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "categories", domain.EntityCategory, id)
}

// Users

func scanUser(row rowScanner, hash *string) (domain.User, error) {
	var (
		user  domain.User
		roles []byte
	)
	dest := []any{&user.ID, &user.DisplayName, &user.Email, &roles}
	if hash != nil {
		dest = append(dest, hash)
	}
	if err := row.Scan(dest...); err != nil {
		return domain.User{}, err
	}
	if err := json.Unmarshal(roles, &user.Roles); err != nil {
		return domain.User{}, fmt.Errorf("decode roles: %w", err)
	}
	for i, role := range user.Roles {
		user.Roles[i] = domain.NormalizeRole(role)
	}
	if len(user.Roles) == 0 {
		user.Roles = []string{domain.RoleUser}
	}
	user.Departments = []domain.Department{}
	return user, nil
}

// departmentsOf loads memberships for the given users, keyed by user id.
func (s *PostgresStore) departmentsOf(ctx context.Context, userIDs []int64) (map[int64][]domain.Department, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ud.user_id, dp.id, dp.name, dp.description
		FROM user_departments ud
		JOIN departments dp ON dp.id = ud.department_id
		WHERE ud.user_id = ANY($1)
		ORDER BY ud.user_id, dp.id
	`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("load memberships: %w", err)
	}
	defer rows.Close()
	out := make(map[int64][]domain.Department)
	for rows.Next() {
		var (
			userID int64
			dept   domain.Department
		)
		if err := rows.Scan(&userID, &dept.ID, &dept.Name, &dept.Description); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		out[userID] = append(out[userID], dept)
	}
	return out, rows.Err()
}

func (s *PostgresStore) withDepartments(ctx context.Context, user domain.User) (domain.User, error) {
	memberships, err := s.departmentsOf(ctx, []int64{user.ID})
	if err != nil {
		return domain.User{}, err
	}
	if depts, ok := memberships[user.ID]; ok {
		user.Departments = depts
	}
	return user, nil
}

const userColumns = `u.id, u.display_name, u.email, to_json(u.roles)`

func (s *PostgresStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users u ORDER BY u.id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	users := []domain.User{}
	ids := []int64{}
	for rows.Next() {
		user, err := scanUser(rows, nil)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
		ids = append(ids, user.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	memberships, err := s.departmentsOf(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range users {
		if depts, ok := memberships[users[i].ID]; ok {
			users[i].Departments = depts
		}
	}
	return users, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id int64) (domain.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users u WHERE u.id=$1`, id), nil)
	if err != nil {
		return domain.User{}, translate(err, "get user", domain.EntityUser, id)
	}
	return s.withDepartments(ctx, user)
}

// CredentialsByEmail looks a user up for sign-in. Emails compare
// case-insensitively.
func (s *PostgresStore) CredentialsByEmail(ctx context.Context, email string) (Credentials, error) {
	var hash string
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+`, u.password_hash FROM users u WHERE LOWER(u.email)=LOWER($1)`, strings.TrimSpace(email))
	user, err := scanUser(row, &hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Credentials{}, domain.NotFound(domain.EntityUser, 0)
		}
		return Credentials{}, fmt.Errorf("lookup credentials: %w", err)
	}
	user, err = s.withDepartments(ctx, user)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{User: user, PasswordHash: hash}, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, in NewUser) (domain.User, error) {
	roles := in.Roles
	if len(roles) == 0 {
		roles = []string{domain.RoleUser}
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users AS u (display_name, email, password_hash, roles)
		VALUES ($1, $2, $3, $4)
		RETURNING `+userColumns,
		strings.TrimSpace(in.DisplayName), strings.TrimSpace(in.Email), in.PasswordHash, roles)
	user, err := scanUser(row, nil)
	if err != nil {
		return domain.User{}, translate(err, "create user", domain.EntityUser, 0)
	}
	return user, nil
}

func (s *PostgresStore) UpdateUser(ctx context.Context, id int64, patch domain.UserPatch) (domain.User, error) {
	current, err := s.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	if patch.DisplayName != nil {
		current.DisplayName = strings.TrimSpace(*patch.DisplayName)
	}
	if patch.Email != nil {
		current.Email = strings.TrimSpace(*patch.Email)
	}
	if patch.Roles != nil {
		current.Roles = append([]string(nil), *patch.Roles...)
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE users AS u SET display_name=$2, email=$3, roles=$4
		WHERE u.id=$1
		RETURNING `+userColumns,
		id, current.DisplayName, current.Email, current.Roles)
	user, err := scanUser(row, nil)
	if err != nil {
		return domain.User{}, translate(err, "update user", domain.EntityUser, id)
	}
	return s.withDepartments(ctx, user)
}

func (s *PostgresStore) DeleteUser(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "users", domain.EntityUser, id)
}

// AssignDepartment adds a membership. Assigning an existing membership is a
// no-op; the user is returned either way.
func (s *PostgresStore) AssignDepartment(ctx context.Context, userID, departmentID int64) (domain.User, error) {
	if _, err := s.GetDepartment(ctx, departmentID); err != nil {
		return domain.User{}, err
	}
	if _, err := s.GetUser(ctx, userID); err != nil {
		return domain.User{}, err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_departments (user_id, department_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, userID, departmentID)
	if err != nil {
		return domain.User{}, translate(err, "assign department", domain.EntityUser, userID)
	}
	return s.GetUser(ctx, userID)
}

func (s *PostgresStore) RemoveDepartment(ctx context.Context, userID, departmentID int64) (domain.User, error) {
	if _, err := s.GetUser(ctx, userID); err != nil {
		return domain.User{}, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_departments WHERE user_id=$1 AND department_id=$2`, userID, departmentID); err != nil {
		return domain.User{}, fmt.Errorf("remove department: %w", err)
	}
	return s.GetUser(ctx, userID)
}

// CountAdmins is used at startup to decide whether to seed an administrator.
func (s *PostgresStore) CountAdmins(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM users WHERE roles @> ARRAY['ROLE_ADMIN']`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count admins: %w", err)
	}
	return n, nil
}
