package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jmoiron/sqlx"

	"modtok/internal/catalog"
)

func (s *Server) landingPagesResource() *resource {
	return &resource{
		Name:   "landing-pages",
		Target: "landing_page",
		Table:  "landing_pages",
		Fields: []field{
			required(enum("owner_type", "", entityProvider, entityHouse)),
			required(ref("owner_id")),
			required(str("title", 255)),
			readOnly(str("slug", catalog.MaxSlugLen)),
			jsonField("hero"),
			jsonField("sections"),
			jsonField("seo"),
			flag("is_published", false),
		},
		SlugFrom:    "title",
		Search:      []string{"title", "slug"},
		Filters:     []string{"owner_type", "owner_id", "is_published"},
		Sortable:    []string{"title", "is_published"},
		DefaultSort: "-created_at",
		Actions: map[string]statusAction{
			"publish": {
				Set:   map[string]any{"is_published": true},
				Guard: guardLandingOwnersPremium,
			},
			"unpublish": {Set: map[string]any{"is_published": false}},
		},
		Prepare: func(ctx context.Context, s *Server, m *mutation) error {
			return s.requirePremiumOwner(ctx, m.String("owner_type"), m.String("owner_id"))
		},
	}
}

var errNotPremium = httpError(http.StatusForbidden, "Las landing pages requieren tier premium vigente")

// requirePremiumOwner checks the owner's effective tier at request time.
func (s *Server) requirePremiumOwner(ctx context.Context, ownerType, ownerID string) error {
	if _, ok := entityTables[ownerType]; !ok || ownerType == entityService {
		return newValidation("owner_type", "debe ser provider o house")
	}
	tier, err := s.effectiveTierFor(ctx, ownerType, ownerID)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return newValidation("owner_id", "no existe")
		}
		return err
	}
	if tier != catalog.TierPremium {
		return errNotPremium
	}
	return nil
}

type landingOwner struct {
	ID        string `db:"id"`
	OwnerType string `db:"owner_type"`
	OwnerID   string `db:"owner_id"`
}

func guardLandingOwnersPremium(ctx context.Context, s *Server, _ adminUser, ids []string) error {
	q, args, err := sqlx.In("SELECT id, owner_type, owner_id FROM landing_pages WHERE id IN (?)", ids)
	if err != nil {
		return err
	}
	var owners []landingOwner
	if err := s.db.SelectContext(ctx, &owners, q, args...); err != nil {
		return fmt.Errorf("load landing owners: %w", err)
	}
	for _, o := range owners {
		if err := s.requirePremiumOwner(ctx, o.OwnerType, o.OwnerID); err != nil {
			if errors.Is(err, errNotPremium) {
				return httpError(http.StatusForbidden, "La landing "+o.ID+" no tiene un dueño premium vigente")
			}
			return err
		}
	}
	return nil
}
