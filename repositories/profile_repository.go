package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"guardian/models"
	"sort"
	"strings"
	"sync"

	"github.com/go-redis/redis/v8"
)

var ErrNotFound = errors.New("not found")

// ProfileRepository stores the single user's profile and emergency contacts.
type ProfileRepository interface {
	GetProfile(ctx context.Context) (*models.UserProfile, error)
	SaveProfile(ctx context.Context, profile models.UserProfile) error
	ListContacts(ctx context.Context) ([]models.Contact, error)
	GetContact(ctx context.Context, id string) (*models.Contact, error)
	SaveContact(ctx context.Context, contact models.Contact) error
	DeleteContact(ctx context.Context, id string) error
}

func sortContacts(contacts []models.Contact) {
	sort.Slice(contacts, func(i, j int) bool {
		a, b := strings.ToLower(contacts[i].Name), strings.ToLower(contacts[j].Name)
		if a == b {
			return contacts[i].ID < contacts[j].ID
		}
		return a < b
	})
}

// =================== MEMORY ===================

type MemoryProfileRepository struct {
	mu       sync.RWMutex
	profile  *models.UserProfile
	contacts map[string]models.Contact
}

func NewMemoryProfileRepository() *MemoryProfileRepository {
	return &MemoryProfileRepository{
		contacts: make(map[string]models.Contact),
	}
}

func (r *MemoryProfileRepository) GetProfile(ctx context.Context) (*models.UserProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.profile == nil {
		return nil, ErrNotFound
	}
	profile := *r.profile
	return &profile, nil
}

func (r *MemoryProfileRepository) SaveProfile(ctx context.Context, profile models.UserProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profile = &profile
	return nil
}

func (r *MemoryProfileRepository) ListContacts(ctx context.Context) ([]models.Contact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	contacts := make([]models.Contact, 0, len(r.contacts))
	for _, c := range r.contacts {
		contacts = append(contacts, c)
	}
	sortContacts(contacts)
	return contacts, nil
}

func (r *MemoryProfileRepository) GetContact(ctx context.Context, id string) (*models.Contact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contacts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (r *MemoryProfileRepository) SaveContact(ctx context.Context, contact models.Contact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contacts[contact.ID] = contact
	return nil
}

func (r *MemoryProfileRepository) DeleteContact(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.contacts[id]; !ok {
		return ErrNotFound
	}
	delete(r.contacts, id)
	return nil
}

// =================== REDIS ===================

const (
	profileKeySuffix  = ":profile"
	contactsKeySuffix = ":contacts"
)

// RedisProfileRepository keeps the profile as a JSON string and the contacts
// as a hash of id to JSON.
type RedisProfileRepository struct {
	redis       *redis.Client
	profileKey  string
	contactsKey string
}

func NewRedisProfileRepository(client *redis.Client, prefix string) *RedisProfileRepository {
	if prefix == "" {
		prefix = "guardian"
	}
	return &RedisProfileRepository{
		redis:       client,
		profileKey:  prefix + profileKeySuffix,
		contactsKey: prefix + contactsKeySuffix,
	}
}

func (r *RedisProfileRepository) GetProfile(ctx context.Context) (*models.UserProfile, error) {
	raw, err := r.redis.Get(ctx, r.profileKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var profile models.UserProfile
	if err := json.Unmarshal(raw, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *RedisProfileRepository) SaveProfile(ctx context.Context, profile models.UserProfile) error {
	raw, err := json.Marshal(profile)
	if err != nil {
		return err
	}
	return r.redis.Set(ctx, r.profileKey, raw, 0).Err()
}

func (r *RedisProfileRepository) ListContacts(ctx context.Context) ([]models.Contact, error) {
	values, err := r.redis.HGetAll(ctx, r.contactsKey).Result()
	if err != nil {
		return nil, err
	}

	contacts := make([]models.Contact, 0, len(values))
	for _, raw := range values {
		var c models.Contact
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	sortContacts(contacts)
	return contacts, nil
}

func (r *RedisProfileRepository) GetContact(ctx context.Context, id string) (*models.Contact, error) {
	raw, err := r.redis.HGet(ctx, r.contactsKey, id).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var c models.Contact
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *RedisProfileRepository) SaveContact(ctx context.Context, contact models.Contact) error {
	raw, err := json.Marshal(contact)
	if err != nil {
		return err
	}
	return r.redis.HSet(ctx, r.contactsKey, contact.ID, raw).Err()
}

func (r *RedisProfileRepository) DeleteContact(ctx context.Context, id string) error {
	removed, err := r.redis.HDel(ctx, r.contactsKey, id).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return ErrNotFound
	}
	return nil
}
