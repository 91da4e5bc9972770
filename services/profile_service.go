package services

import (
	"context"
	"errors"
	"guardian/models"
	"guardian/repositories"
	"guardian/utils"
	"strings"

	"github.com/sirupsen/logrus"
)

// ProfileSource is what the sequencer reads when an emergency starts.
type ProfileSource interface {
	Snapshot(ctx context.Context) (models.UserProfile, []models.Contact)
}

type ProfileService struct {
	repo      repositories.ProfileRepository
	validator *utils.ValidationService
}

func NewProfileService(repo repositories.ProfileRepository) *ProfileService {
	return &ProfileService{
		repo:      repo,
		validator: utils.NewValidationService(),
	}
}

// =================== PROFILE ===================

func (ps *ProfileService) GetProfile(ctx context.Context) (*models.UserProfile, error) {
	profile, err := ps.repo.GetProfile(ctx)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			def := models.DefaultProfile()
			return &def, nil
		}
		return nil, utils.NewStorageError("get profile", err)
	}
	return profile, nil
}

func (ps *ProfileService) UpdateProfile(ctx context.Context, profile models.UserProfile) (*models.UserProfile, error) {
	profile.Name = strings.TrimSpace(profile.Name)
	if err := ps.validator.Validate(profile); err != nil {
		return nil, err
	}

	if err := ps.repo.SaveProfile(ctx, profile); err != nil {
		return nil, utils.NewStorageError("save profile", err)
	}

	logrus.WithField("responder", profile.IsResponder).Info("Profile updated")
	return &profile, nil
}

// =================== CONTACTS ===================

func (ps *ProfileService) ListContacts(ctx context.Context) ([]models.Contact, error) {
	contacts, err := ps.repo.ListContacts(ctx)
	if err != nil {
		return nil, utils.NewStorageError("list contacts", err)
	}
	return contacts, nil
}

func (ps *ProfileService) CreateContact(ctx context.Context, req models.ContactRequest) (*models.Contact, error) {
	if err := ps.validator.Validate(req); err != nil {
		return nil, err
	}

	contact := req.ToContact(utils.GenerateUUID())
	if err := ps.repo.SaveContact(ctx, contact); err != nil {
		return nil, utils.NewStorageError("save contact", err)
	}

	logrus.WithField("contactId", contact.ID).Info("Emergency contact added")
	return &contact, nil
}

func (ps *ProfileService) UpdateContact(ctx context.Context, id string, req models.ContactRequest) (*models.Contact, error) {
	if err := ps.validator.Validate(req); err != nil {
		return nil, err
	}

	if _, err := ps.repo.GetContact(ctx, id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, utils.NewContactNotFoundError()
		}
		return nil, utils.NewStorageError("get contact", err)
	}

	contact := req.ToContact(id)
	if err := ps.repo.SaveContact(ctx, contact); err != nil {
		return nil, utils.NewStorageError("save contact", err)
	}
	return &contact, nil
}

func (ps *ProfileService) DeleteContact(ctx context.Context, id string) error {
	if err := ps.repo.DeleteContact(ctx, id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return utils.NewContactNotFoundError()
		}
		return utils.NewStorageError("delete contact", err)
	}

	logrus.WithField("contactId", id).Info("Emergency contact removed")
	return nil
}

// =================== SEQUENCER INPUT ===================

// Snapshot never fails: an emergency must start even when storage is down.
func (ps *ProfileService) Snapshot(ctx context.Context) (models.UserProfile, []models.Contact) {
	profile := models.DefaultProfile()
	if stored, err := ps.GetProfile(ctx); err != nil {
		logrus.WithError(err).Warn("Using default profile for emergency")
	} else {
		profile = *stored
	}

	contacts, err := ps.ListContacts(ctx)
	if err != nil {
		logrus.WithError(err).Warn("Emergency contacts unavailable")
		contacts = nil
	}
	return profile, contacts
}

// Seed stores the given profile and contacts. Contacts without an ID get one.
func (ps *ProfileService) Seed(ctx context.Context, profile *models.UserProfile, contacts []models.Contact) error {
	if profile != nil {
		if _, err := ps.UpdateProfile(ctx, *profile); err != nil {
			return err
		}
	}

	for _, c := range contacts {
		if err := ps.validator.Validate(c); err != nil {
			return err
		}
		if c.ID == "" {
			c.ID = utils.GenerateUUID()
		}
		if err := ps.repo.SaveContact(ctx, c); err != nil {
			return utils.NewStorageError("seed contact", err)
		}
	}

	logrus.WithField("contacts", len(contacts)).Info("Profile seed loaded")
	return nil
}
