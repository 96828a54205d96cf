package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"korean-tutor-billing/internal/domain"
	"korean-tutor-billing/internal/domain/model"
	"korean-tutor-billing/internal/domain/ports/adapter"
	"korean-tutor-billing/internal/domain/ports/repository"
	"korean-tutor-billing/internal/infra/logging"
)

// Compile-time check
var _ UserUseCase = (*userUC)(nil)

// UserUseCase keeps the learner profile that checkout reads contact details
// and entitlement from.
type UserUseCase interface {
	RegisterOrFetch(ctx context.Context, in RegisterUserInput) (*model.User, error)
	Get(ctx context.Context, userID string) (*model.User, error)
}

type RegisterUserInput struct {
	ID    string
	Name  string
	Email string
	Phone string
}

type userUC struct {
	users repository.UserRepository
	tm    repository.TransactionManager
	clock adapter.Clock
	log   *zerolog.Logger
}

func NewUserUseCase(users repository.UserRepository, tm repository.TransactionManager, clock adapter.Clock, logger *zerolog.Logger) UserUseCase {
	if clock == nil {
		clock = adapter.SystemClock
	}
	l := logger.With().Str("component", "UserUseCase").Logger()
	return &userUC{users: users, tm: tm, clock: clock, log: &l}
}

// RegisterOrFetch creates the profile on first sight and refreshes contact
// details afterwards. Entitlement fields are never touched here.
func (u *userUC) RegisterOrFetch(ctx context.Context, in RegisterUserInput) (*model.User, error) {
	defer logging.TraceDuration(u.log, "UserUC.RegisterOrFetch")()

	if strings.TrimSpace(in.ID) == "" {
		return nil, domain.ErrInvalidArgument
	}
	var user *model.User
	txOpts := pgx.TxOptions{IsoLevel: pgx.Serializable}
	err := u.tm.WithTx(ctx, txOpts, func(ctx context.Context, tx repository.Tx) error {
		usr, err := u.users.FindByID(ctx, tx, in.ID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		if usr != nil {
			changed := false
			if in.Name != "" && usr.Name != in.Name {
				usr.Name, changed = in.Name, true
			}
			if in.Email != "" && usr.Email != in.Email {
				usr.Email, changed = in.Email, true
			}
			if in.Phone != "" && usr.Phone != in.Phone {
				usr.Phone, changed = in.Phone, true
			}
			if changed {
				usr.UpdatedAt = u.clock.Now()
				if err := u.users.Save(ctx, tx, usr); err != nil {
					u.log.Error().Err(err).Str("user_id", usr.ID).Msg("failed to update user")
					return err
				}
			}
			user = usr
			return nil
		}

		nu, err := model.NewUser(in.ID, in.Name, in.Email, in.Phone)
		if err != nil {
			return err
		}
		if err := u.users.Save(ctx, tx, nu); err != nil {
			return err
		}
		u.log.Info().Str("user_id", nu.ID).Msg("user registered")
		user = nu
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (u *userUC) Get(ctx context.Context, userID string) (*model.User, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.ErrInvalidArgument
	}
	return u.users.FindByID(ctx, repository.NoTX, userID)
}
