package user

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/coursekit/core"
	"github.com/trezcool/coursekit/core/purchase"
)

var (
	// errors
	ErrNotFound             = errors.New("user not found")
	ErrEmailExists          = errors.New("a user with this email already exists")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrAccountDeactivated   = errors.New("account deactivated")
)

type (
	Repository interface {
		CreateUser(ctx context.Context, usr User) (User, error)
		GetUserByID(ctx context.Context, id string) (User, error)
		GetUserByEmail(ctx context.Context, email string) (User, error)
		// QueryUsers applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of User.Name or User.Email.
		QueryUsers(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error)
		UpdateUser(ctx context.Context, usr User) (User, error)
	}

	// PurchaseLinker attaches purchases made before signup to an identity.
	PurchaseLinker interface {
		LinkToIdentity(ctx context.Context, userID, email string) (purchase.LinkResult, error)
	}

	Service struct {
		repo   Repository
		linker PurchaseLinker
		logger core.Logger
	}
)

func NewService(repo Repository, linker PurchaseLinker, logger core.Logger) *Service {
	return &Service{repo: repo, linker: linker, logger: logger}
}

func (svc *Service) CheckEmailUniqueness(ctx context.Context, email string, excludedUsers ...User) error {
	usr, err := svc.repo.GetUserByEmail(ctx, core.NormalizeEmail(email))
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return nil
		}
		return errors.Wrap(err, "finding user by email")
	}
	for _, excl := range excludedUsers {
		if excl.ID == usr.ID {
			return nil
		}
	}
	return core.NewValidationError(ErrEmailExists, core.FieldError{Field: "email", Error: ErrEmailExists.Error()})
}

// Signup creates a student account from validated data, then links the purchases made
// with the same email.
func (svc *Service) Signup(ctx context.Context, nu NewUser) (User, error) {
	now := core.NowFunc()
	usr := User{
		ID:        uuid.New().String(),
		Name:      nu.Name,
		Email:     core.NormalizeEmail(nu.Email),
		IsActive:  true,
		Roles:     []string{RoleStudent},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}

	usr, err := svc.repo.CreateUser(ctx, usr)
	if err != nil {
		if errors.Cause(err) == ErrEmailExists {
			return User{}, core.NewValidationError(ErrEmailExists, core.FieldError{Field: "email", Error: ErrEmailExists.Error()})
		}
		return User{}, errors.Wrap(err, "creating user")
	}

	svc.link(ctx, usr)
	return usr, nil
}

// Authenticate checks the credentials, records the login and links the purchases made with
// the user's email since the last visit.
func (svc *Service) Authenticate(ctx context.Context, email, pwd string) (User, error) {
	usr, err := svc.repo.GetUserByEmail(ctx, core.NormalizeEmail(email))
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return User{}, ErrAuthenticationFailed
		}
		return User{}, errors.Wrap(err, "finding user by email")
	}
	if err = usr.CheckPassword(pwd); err != nil {
		return User{}, ErrAuthenticationFailed
	}
	if !usr.IsActive {
		return User{}, ErrAccountDeactivated
	}

	now := core.NowFunc()
	usr.LastLogin = &now
	usr.UpdatedAt = now
	if usr, err = svc.repo.UpdateUser(ctx, usr); err != nil {
		return User{}, errors.Wrap(err, "setting last login")
	}

	svc.link(ctx, usr)
	return usr, nil
}

func (svc *Service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUserByID(ctx, id)
}

func (svc *Service) GetByEmail(ctx context.Context, email string) (User, error) {
	return svc.repo.GetUserByEmail(ctx, core.NormalizeEmail(email))
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error) {
	return svc.repo.QueryUsers(ctx, filter, ordering)
}

// AddUser updates or creates an active user with the given password.
func (svc *Service) AddUser(ctx context.Context, name, email, pwd string, isAdmin bool) (User, error) {
	email = core.NormalizeEmail(email)
	now := core.NowFunc()

	usr, err := svc.repo.GetUserByEmail(ctx, email)
	created := false
	if err != nil {
		if errors.Cause(err) != ErrNotFound {
			return User{}, errors.Wrap(err, "finding user by email")
		}
		usr = User{ID: uuid.New().String(), Email: email, Roles: []string{RoleStudent}, CreatedAt: now}
		created = true
	}
	if name = core.CleanString(name); name != "" {
		usr.Name = name
	} else if usr.Name == "" {
		usr.Name = email
	}
	if isAdmin && !usr.IsAdmin() {
		usr.Roles = append(usr.Roles, RoleAdmin)
	}
	usr.IsActive = true
	usr.UpdatedAt = now
	if err = usr.SetPassword(pwd); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}

	if created {
		usr, err = svc.repo.CreateUser(ctx, usr)
	} else {
		usr, err = svc.repo.UpdateUser(ctx, usr)
	}
	if err != nil {
		return User{}, errors.Wrap(err, "saving user")
	}
	svc.link(ctx, usr)
	return usr, nil
}

// LinkPurchases runs identity linking for usr and reports its errors.
func (svc *Service) LinkPurchases(ctx context.Context, usr User) (purchase.LinkResult, error) {
	res, err := svc.linker.LinkToIdentity(ctx, usr.ID, usr.Email)
	return res, errors.Wrap(err, "linking purchases")
}

// link is best effort: a failure only delays access until the next login.
func (svc *Service) link(ctx context.Context, usr User) {
	res, err := svc.LinkPurchases(ctx, usr)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("linking purchases of user %s: %v", usr.ID, err), err, usr)
		return
	}
	if res.Total() > 0 {
		svc.logger.Info(fmt.Sprintf("linked %d purchase(s) and %d kit order(s) to user %s", res.Purchases, res.KitOrders, usr.ID), usr)
	}
}
