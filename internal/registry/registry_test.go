package registry

import (
	"errors"
	"testing"

	"github.com/mmrzaf/listmat/internal/domain"
)

type staticLoader []*domain.EntityType

func (s staticLoader) List() ([]*domain.EntityType, error) { return s, nil }

func TestLoadRegistersEveryEntityType(t *testing.T) {
	r, err := Load(staticLoader{{Name: "contacts"}, {Name: "accounts"}})
	if err != nil {
		t.Fatal(err)
	}
	names := r.List()
	if len(names) != 2 || names[0] != "accounts" || names[1] != "contacts" {
		t.Fatalf("unexpected names: %v", names)
	}
	if _, err := r.Get("contacts"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Get("leads"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
