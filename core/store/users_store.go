package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	GroupPlatformAdmin  = "PlatformAdmin"
	GroupRegulatorAdmin = "RegulatorAdmin"
	GroupRegulatorUser  = "RegulatorUser"
	GroupOperatorAdmin  = "OperatorAdmin"
	GroupOperatorStaff  = "OperatorStaff"
	GroupIncidentUser   = "IncidentUser"
)

type UserCompany struct {
	CompanyID              int64  `json:"company_id"`
	Identifier             string `json:"identifier"`
	Name                   string `json:"name"`
	IsCompanyAdministrator bool   `json:"is_company_administrator"`
}

// User mirrors an identity managed by the external login service.
type User struct {
	ID          int64         `json:"id"`
	Username    string        `json:"username"`
	FirstName   string        `json:"first_name"`
	LastName    string        `json:"last_name"`
	Email       string        `json:"email"`
	PhoneNumber string        `json:"phone_number"`
	Active      bool          `json:"active"`
	CreatedAt   time.Time     `json:"created_at"`
	Groups      []string      `json:"groups"`
	SectorIDs   []int64       `json:"sector_ids,omitempty"`
	Companies   []UserCompany `json:"companies,omitempty"`
}

func (u *User) InGroup(name string) bool {
	if u == nil {
		return false
	}
	for _, g := range u.Groups {
		if g == name {
			return true
		}
	}
	return false
}

type UsersStore interface {
	Create(ctx context.Context, u *User) (int64, error)
	Get(ctx context.Context, id int64) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
}

type usersStore struct {
	db *sql.DB
}

func NewUsersStore(db *sql.DB) UsersStore {
	return &usersStore{db: db}
}

func (s *usersStore) Create(ctx context.Context, u *User) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	id, err := insertReturningID(ctx, tx, `
		INSERT INTO users(username, first_name, last_name, email, phone_number, active, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7)`,
		strings.TrimSpace(u.Username), u.FirstName, u.LastName, u.Email, u.PhoneNumber, u.Active, now)
	if err != nil {
		tx.Rollback()
		if isUniqueViolation(err) {
			return 0, ErrConflict
		}
		return 0, err
	}
	for _, g := range u.Groups {
		if _, err := tx.ExecContext(ctx, `INSERT INTO user_groups(user_id, group_name) VALUES($1,$2)`, id, g); err != nil {
			tx.Rollback()
			return 0, err
		}
	}
	if err := replaceLinks(ctx, tx, "user_sectors", "user_id", "sector_id", id, u.SectorIDs); err != nil {
		tx.Rollback()
		return 0, err
	}
	for _, c := range u.Companies {
		if _, err := tx.ExecContext(ctx, `INSERT INTO user_companies(user_id, company_id, is_company_administrator) VALUES($1,$2,$3)`,
			id, c.CompanyID, c.IsCompanyAdministrator); err != nil {
			tx.Rollback()
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	u.ID = id
	u.CreatedAt = now
	return id, nil
}

func (s *usersStore) Get(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, username, first_name, last_name, email, phone_number, active, created_at FROM users WHERE id=$1`, id)
	return s.load(ctx, row)
}

func (s *usersStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, username, first_name, last_name, email, phone_number, active, created_at FROM users WHERE username=$1`, strings.TrimSpace(username))
	return s.load(ctx, row)
}

func (s *usersStore) load(ctx context.Context, row *sql.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.Email, &u.PhoneNumber, &u.Active, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	groups, err := s.db.QueryContext(ctx, `SELECT group_name FROM user_groups WHERE user_id=$1 ORDER BY group_name`, u.ID)
	if err != nil {
		return nil, err
	}
	for groups.Next() {
		var g string
		if err := groups.Scan(&g); err != nil {
			groups.Close()
			return nil, err
		}
		u.Groups = append(u.Groups, g)
	}
	groups.Close()
	if u.SectorIDs, err = queryIDs(ctx, s.db, `SELECT sector_id FROM user_sectors WHERE user_id=$1 ORDER BY sector_id`, u.ID); err != nil {
		return nil, err
	}
	companies, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.identifier, c.name, uc.is_company_administrator
		FROM user_companies uc JOIN companies c ON c.id=uc.company_id
		WHERE uc.user_id=$1 ORDER BY c.name, c.id`, u.ID)
	if err != nil {
		return nil, err
	}
	defer companies.Close()
	for companies.Next() {
		var c UserCompany
		if err := companies.Scan(&c.CompanyID, &c.Identifier, &c.Name, &c.IsCompanyAdministrator); err != nil {
			return nil, err
		}
		u.Companies = append(u.Companies, c)
	}
	return &u, companies.Err()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}
