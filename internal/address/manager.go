// Package address manages the shipping addresses offered at checkout:
// the saved list, the locally selected entry and the new-address draft.
package address

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"storefront/internal/model"
)

// NoSelection is the selected index when nothing is selected.
const NoSelection = -1

// Backend is the subset of the API client the manager needs.
type Backend interface {
	ListAddresses(ctx context.Context) ([]model.Address, error)
	AddAddress(ctx context.Context, draft model.AddressDraft) (*model.Address, error)
}

// Manager holds the address list and selection for one checkout session.
// Safe for concurrent use; backend calls are made without holding the lock.
type Manager struct {
	backend  Backend
	validate *validator.Validate
	logger   *slog.Logger

	mu        sync.Mutex
	addresses []model.Address
	selected  int
	draft     model.AddressDraft
}

// NewManager creates a manager with an empty list and no selection.
func NewManager(backend Backend, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		backend:  backend,
		validate: newValidator(),
		logger:   logger,
		selected: NoSelection,
	}
}

// newValidator reports fields by their JSON names so messages match the form.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// List fetches the saved addresses and applies them. See Fetch and Apply.
func (m *Manager) List(ctx context.Context) ([]model.Address, error) {
	addresses, err := m.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return m.Apply(addresses), nil
}

// Fetch loads the saved addresses without touching the local list, so a
// caller can drop the result if it has been superseded.
func (m *Manager) Fetch(ctx context.Context) ([]model.Address, error) {
	addresses, err := m.backend.ListAddresses(ctx)
	if err != nil {
		return nil, model.NewFetchError("addresses", err)
	}
	return addresses, nil
}

// Apply replaces the local list. The entry flagged as default is selected,
// else the first, else none.
func (m *Manager) Apply(addresses []model.Address) []model.Address {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.addresses = append([]model.Address(nil), addresses...)
	m.selected = NoSelection
	for i, a := range m.addresses {
		if a.IsDefault {
			m.selected = i
			break
		}
	}
	if m.selected == NoSelection && len(m.addresses) > 0 {
		m.selected = 0
	}
	m.revalidate()

	return m.snapshot()
}

// === Draft ===

// Draft returns the current new-address form.
func (m *Manager) Draft() model.AddressDraft {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.draft
}

// SetDraftField updates one field of the draft by its form name.
func (m *Manager) SetDraftField(field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch field {
	case "street":
		m.draft.Street = value
	case "city":
		m.draft.City = value
	case "state":
		m.draft.State = value
	case "zip":
		m.draft.Zip = value
	case "country":
		m.draft.Country = value
	default:
		return model.NewValidationError("unknown address field", field)
	}
	return nil
}

// Cancel discards the draft.
func (m *Manager) Cancel() {
	m.mu.Lock()
	m.draft = model.AddressDraft{}
	m.mu.Unlock()
}

// SubmitDraft adds the current draft. See Add.
func (m *Manager) SubmitDraft(ctx context.Context) (*model.Address, error) {
	return m.Add(ctx, m.Draft())
}

// Add validates and saves a new address, then appends and selects it.
//
// Missing fields fail with a ValidationError naming them and no network
// call. A backend failure returns SaveFailed and leaves the list and the
// selection untouched. The draft is reset on success.
func (m *Manager) Add(ctx context.Context, draft model.AddressDraft) (*model.Address, error) {
	draft = trimDraft(draft)
	if err := m.validateDraft(draft); err != nil {
		return nil, err
	}

	created, err := m.backend.AddAddress(ctx, draft)
	if err != nil {
		m.logger.Warn("saving address failed", slog.String("error", err.Error()))
		return nil, model.NewSaveError("address", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	previousLength := len(m.addresses)
	m.addresses = append(m.addresses, *created)
	m.selected = previousLength
	if created.ID != "" {
		for i, a := range m.addresses {
			if a.ID == created.ID {
				m.selected = i
				break
			}
		}
	}
	m.draft = model.AddressDraft{}
	m.revalidate()

	out := m.addresses[m.selected]
	return &out, nil
}

func (m *Manager) validateDraft(draft model.AddressDraft) error {
	err := m.validate.Struct(draft)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return model.NewValidationError(err.Error())
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	return model.NewValidationError("please fill all address fields", fields...)
}

func trimDraft(d model.AddressDraft) model.AddressDraft {
	return model.AddressDraft{
		Street:  strings.TrimSpace(d.Street),
		City:    strings.TrimSpace(d.City),
		State:   strings.TrimSpace(d.State),
		Zip:     strings.TrimSpace(d.Zip),
		Country: strings.TrimSpace(d.Country),
	}
}

// === Selection ===

// Select chooses the address at index. An out-of-range index clears the
// selection and returns a ValidationError.
func (m *Manager) Select(index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.selected = index
	m.revalidate()
	if m.selected == NoSelection {
		return model.NewValidationError("no such address", "address")
	}
	return nil
}

// Selected returns the selected address, if any.
func (m *Manager) Selected() (model.Address, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.selected == NoSelection {
		return model.Address{}, false
	}
	return m.addresses[m.selected], true
}

// SelectedIndex returns the selected index or NoSelection.
func (m *Manager) SelectedIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selected
}

// Addresses returns a copy of the current list.
func (m *Manager) Addresses() []model.Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot()
}

// revalidate drops a selection that no longer indexes the list. Callers hold mu.
func (m *Manager) revalidate() {
	if m.selected < 0 || m.selected >= len(m.addresses) {
		m.selected = NoSelection
	}
}

// snapshot copies the list. Callers hold mu.
func (m *Manager) snapshot() []model.Address {
	out := make([]model.Address, len(m.addresses))
	copy(out, m.addresses)
	return out
}
