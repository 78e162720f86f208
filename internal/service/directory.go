package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"github.com/iliyamo/eduvault/internal/model"
	"github.com/iliyamo/eduvault/internal/repository"
	"github.com/iliyamo/eduvault/internal/utils"
)

// SearchLimit caps faculty search results.
const SearchLimit = 10

// PortalClient fetches a student's record from an institution portal.
type PortalClient interface {
	FetchStudent(ctx context.Context, baseURL, apiKey, roll string) (json.RawMessage, error)
}

// StudentRegistration is the input of RegisterStudent.
type StudentRegistration struct {
	Name        string `json:"name" validate:"notblank"`
	Roll        string `json:"roll" validate:"notblank"`
	Password    string `json:"password" validate:"notblank"`
	Institution string `json:"institution" validate:"notblank"`
	Programme   string `json:"programme" validate:"notblank"`
	Department  string `json:"department" validate:"notblank"`
	Email       string `json:"email" validate:"notblank,email"`
}

// FacultyRegistration is the input of RegisterFaculty.
type FacultyRegistration struct {
	Name        string `json:"name" validate:"notblank"`
	Institution string `json:"institution" validate:"notblank"`
	Department  string `json:"department" validate:"notblank"`
	Position    string `json:"position"`
	Email       string `json:"email" validate:"notblank,email"`
	Password    string `json:"password" validate:"notblank"`
}

// InstitutionRegistration is the input of RegisterInstitution.
type InstitutionRegistration struct {
	Name     string `json:"name" validate:"notblank"`
	Location string `json:"location" validate:"notblank"`
	Password string `json:"password" validate:"notblank"`
}

// PortalSettings is the input of ConfigurePortal.
type PortalSettings struct {
	APIURL string `json:"apiUrl" validate:"notblank,url"`
	APIKey string `json:"apiKey" validate:"notblank"`
}

// Directory registers accounts, serves profile reads and faculty search,
// and connects students to their institution's portal.
type Directory struct {
	accounts      *repository.AccountRepo
	validate      *validator.Validate
	bcryptCost    int
	sealer        *utils.Sealer
	portal        PortalClient
	portalTimeout time.Duration
	log           *slog.Logger
}

// DirectoryOptions configures the optional parts of a Directory.  A nil
// Sealer or Portal disables the portal operations with ErrDependency.
type DirectoryOptions struct {
	BcryptCost    int
	Sealer        *utils.Sealer
	Portal        PortalClient
	PortalTimeout time.Duration
	Logger        *slog.Logger
}

func NewDirectory(accounts *repository.AccountRepo, opts DirectoryOptions) *Directory {
	if accounts == nil {
		panic("NewDirectory: nil AccountRepo")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PortalTimeout <= 0 {
		opts.PortalTimeout = 10 * time.Second
	}
	return &Directory{
		accounts:      accounts,
		validate:      NewValidator(),
		bcryptCost:    opts.BcryptCost,
		sealer:        opts.Sealer,
		portal:        opts.Portal,
		portalTimeout: opts.PortalTimeout,
		log:           opts.Logger,
	}
}

// NewValidator returns a validator that knows "notblank" and reports fields
// by their json names.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// check runs struct validation and converts failures into a
// ValidationError naming every failing field.
func (d *Directory) check(in any) error {
	err := d.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	return invalid(fields...)
}

func trimAll(ps ...*string) {
	for _, p := range ps {
		*p = strings.TrimSpace(*p)
	}
}

// RegisterStudent creates a student of an existing institution.
func (d *Directory) RegisterStudent(ctx context.Context, in StudentRegistration) (model.Account, error) {
	trimAll(&in.Name, &in.Roll, &in.Institution, &in.Programme, &in.Department, &in.Email)
	if err := d.check(in); err != nil {
		return model.Account{}, err
	}
	if err := d.requireInstitution(ctx, in.Institution); err != nil {
		return model.Account{}, err
	}
	a := model.Account{
		Role:     model.RoleStudent,
		Name:     in.Name,
		LoginKey: NormalizeEmail(in.Email),
		Student: &model.StudentProfile{
			InstitutionID:  in.Institution,
			Roll:           in.Roll,
			Programme:      in.Programme,
			Department:     in.Department,
			Certifications: []string{},
		},
	}
	a.Student.Email = a.LoginKey
	return d.create(ctx, a, in.Password)
}

// RegisterFaculty creates a faculty member of an existing institution.
func (d *Directory) RegisterFaculty(ctx context.Context, in FacultyRegistration) (model.Account, error) {
	trimAll(&in.Name, &in.Institution, &in.Department, &in.Position, &in.Email)
	if err := d.check(in); err != nil {
		return model.Account{}, err
	}
	if err := d.requireInstitution(ctx, in.Institution); err != nil {
		return model.Account{}, err
	}
	a := model.Account{
		Role:     model.RoleFaculty,
		Name:     in.Name,
		LoginKey: NormalizeEmail(in.Email),
		Faculty: &model.FacultyProfile{
			InstitutionID: in.Institution,
			Department:    in.Department,
			Position:      in.Position,
			Pending:       []string{},
			Approved:      []string{},
		},
	}
	a.Faculty.Email = a.LoginKey
	return d.create(ctx, a, in.Password)
}

// RegisterInstitution creates an institution.  Name and location together
// are unique.
func (d *Directory) RegisterInstitution(ctx context.Context, in InstitutionRegistration) (model.Account, error) {
	trimAll(&in.Name, &in.Location)
	if err := d.check(in); err != nil {
		return model.Account{}, err
	}
	a := model.Account{
		Role:        model.RoleInstitution,
		Name:        in.Name,
		LoginKey:    InstitutionLoginKey(in.Name, in.Location),
		Institution: &model.InstitutionProfile{Location: in.Location},
	}
	return d.create(ctx, a, in.Password)
}

func (d *Directory) requireInstitution(ctx context.Context, id string) error {
	inst, err := d.accounts.GetByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && inst.Role != model.RoleInstitution) {
		return fmt.Errorf("%w: institution %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("%w: load institution: %v", ErrInternal, err)
	}
	return nil
}

func (d *Directory) create(ctx context.Context, a model.Account, password string) (model.Account, error) {
	hash, err := utils.HashPassword(password, d.bcryptCost)
	if errors.Is(err, utils.ErrPasswordTooLong) {
		return model.Account{}, invalid("password")
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("%w: hash password: %v", ErrInternal, err)
	}
	a.ID = utils.NewID()
	a.PasswordHash = hash
	if err := d.accounts.Create(ctx, &a); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return model.Account{}, fmt.Errorf("%w: %s with these details", ErrConflict, a.Role)
		}
		return model.Account{}, fmt.Errorf("%w: create account: %v", ErrInternal, err)
	}
	return d.Current(ctx, a.ID, a.Role)
}

// ChangePassword replaces the password after verifying the old one.
func (d *Directory) ChangePassword(ctx context.Context, accountID, oldPassword, newPassword string) error {
	a, err := d.accounts.GetByID(ctx, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: account", ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("%w: load account: %v", ErrInternal, err)
	}
	if !utils.VerifyPassword(a.PasswordHash, oldPassword) {
		return fmt.Errorf("%w: old password is incorrect", ErrUnauthorized)
	}
	if strings.TrimSpace(newPassword) == "" {
		return invalid("newPassword")
	}
	hash, err := utils.HashPassword(newPassword, d.bcryptCost)
	if errors.Is(err, utils.ErrPasswordTooLong) {
		return invalid("newPassword")
	}
	if err != nil {
		return fmt.Errorf("%w: hash password: %v", ErrInternal, err)
	}
	if err := d.accounts.UpdatePassword(ctx, accountID, hash); err != nil {
		return fmt.Errorf("%w: update password: %v", ErrInternal, err)
	}
	return nil
}

// Current returns the caller's own account.  The result's JSON form never
// carries the password or refresh hashes.
func (d *Directory) Current(ctx context.Context, accountID string, role model.Role) (model.Account, error) {
	a, err := d.accounts.GetByID(ctx, accountID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && a.Role != role) {
		return model.Account{}, fmt.Errorf("%w: %s", ErrNotFound, role)
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("%w: load account: %v", ErrInternal, err)
	}
	return a, nil
}

// SearchFaculty finds faculty of the calling student's institution whose
// name contains query.  A blank query yields an empty list.
func (d *Directory) SearchFaculty(ctx context.Context, studentID, query string) ([]model.FacultySummary, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []model.FacultySummary{}, nil
	}
	student, err := d.Current(ctx, studentID, model.RoleStudent)
	if err != nil {
		return nil, err
	}
	out, err := d.accounts.SearchFaculty(ctx, student.Student.InstitutionID, query, SearchLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: search faculty: %v", ErrInternal, err)
	}
	return out, nil
}

// ConfigurePortal stores the institution's portal URL and its API key
// sealed with the server key.
func (d *Directory) ConfigurePortal(ctx context.Context, institutionID string, in PortalSettings) (model.Account, error) {
	trimAll(&in.APIURL, &in.APIKey)
	if err := d.check(in); err != nil {
		return model.Account{}, err
	}
	if u, err := url.Parse(in.APIURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return model.Account{}, invalid("apiUrl")
	}
	if d.sealer == nil {
		return model.Account{}, fmt.Errorf("%w: encryption key not configured", ErrDependency)
	}
	sealed, err := d.sealer.Seal(in.APIKey)
	if err != nil {
		return model.Account{}, fmt.Errorf("%w: seal api key: %v", ErrInternal, err)
	}
	err = d.accounts.SetPortalConfig(ctx, institutionID, strings.TrimRight(in.APIURL, "/"), sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Account{}, fmt.Errorf("%w: institution", ErrNotFound)
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("%w: save portal config: %v", ErrInternal, err)
	}
	return d.Current(ctx, institutionID, model.RoleInstitution)
}

// SyncPortal fetches the student's record from their institution's portal
// and stores it on the student.
func (d *Directory) SyncPortal(ctx context.Context, studentID string) (model.Account, error) {
	student, err := d.Current(ctx, studentID, model.RoleStudent)
	if err != nil {
		return model.Account{}, err
	}
	inst, err := d.Current(ctx, student.Student.InstitutionID, model.RoleInstitution)
	if err != nil {
		return model.Account{}, err
	}
	cfg := inst.Institution
	if cfg.APIURL == nil || cfg.EncryptedAPIKey == nil {
		return model.Account{}, fmt.Errorf("%w: institution portal is not configured", ErrDependency)
	}
	if d.sealer == nil || d.portal == nil {
		return model.Account{}, fmt.Errorf("%w: portal sync disabled", ErrDependency)
	}
	key, err := d.sealer.Open(*cfg.EncryptedAPIKey)
	if err != nil {
		return model.Account{}, fmt.Errorf("%w: open api key: %v", ErrDependency, err)
	}

	pctx, cancel := context.WithTimeout(ctx, d.portalTimeout)
	defer cancel()
	data, err := d.portal.FetchStudent(pctx, *cfg.APIURL, key, student.Student.Roll)
	if err != nil {
		d.log.WarnContext(ctx, "portal sync failed", "student_id", studentID, "institution_id", inst.ID, "err", err)
		return model.Account{}, fmt.Errorf("%w: portal: %v", ErrDependency, err)
	}
	if err := d.accounts.SavePortalSnapshot(ctx, studentID, data, time.Now()); err != nil {
		return model.Account{}, fmt.Errorf("%w: save portal data: %v", ErrInternal, err)
	}
	return d.Current(ctx, studentID, model.RoleStudent)
}
