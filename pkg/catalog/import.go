package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/sakconstructions/storefront/pkg/httputil"
)

// PlanManifest is the YAML document accepted by ImportPlans
//
//	plans:
//	  - slug: four-bed-duplex
//	    title: Four Bedroom Duplex
//	    basic_price: 150000
//	    published: true
type PlanManifest struct {
	Plans []CreatePlanRequest `yaml:"plans"`
}

// ImportResult counts what an import changed
type ImportResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// ImportPlans upserts every plan in a YAML manifest, matching existing plans
// by slug. Entries without a slug are always created. The whole manifest is
// validated before anything is written.
func (s *Service) ImportPlans(ctx context.Context, r io.Reader) (*ImportResult, error) {
	var manifest PlanManifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&manifest); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse plan manifest: %w", err)
	}

	v := httputil.Validator()
	for i := range manifest.Plans {
		req := &manifest.Plans[i]
		if err := v.Struct(req); err != nil {
			return nil, fmt.Errorf("plan %d (%s): %w", i+1, req.Title, err)
		}
		if err := validatePrices(req.BasicPrice, req.StandardPrice, req.PremiumPrice); err != nil {
			return nil, fmt.Errorf("plan %d (%s): %w", i+1, req.Title, err)
		}
	}

	result := &ImportResult{}
	for i := range manifest.Plans {
		req := &manifest.Plans[i]

		if req.Slug != "" {
			existing, err := s.GetPlanBySlug(ctx, generateSlug(req.Slug), true)
			if err != nil && !errors.Is(err, ErrPlanNotFound) {
				return result, err
			}
			if existing != nil {
				if _, err := s.UpdatePlan(ctx, existing.ID, updateFromCreate(req)); err != nil {
					return result, fmt.Errorf("failed to update plan %q: %w", existing.Slug, err)
				}
				result.Updated++
				continue
			}
		}

		if _, err := s.CreatePlan(ctx, req); err != nil {
			return result, fmt.Errorf("failed to import plan %q: %w", req.Title, err)
		}
		result.Created++
	}

	s.logger.WithFields(map[string]interface{}{
		"created": result.Created,
		"updated": result.Updated,
	}).Info("Plan manifest imported")
	return result, nil
}

// updateFromCreate turns a manifest entry into a full replacement of the
// plan's editable fields, slug excluded
func updateFromCreate(req *CreatePlanRequest) *UpdatePlanRequest {
	images := req.Images
	if images == nil {
		images = []string{}
	}
	floors := req.Floors
	if floors == 0 {
		floors = 1
	}
	return &UpdatePlanRequest{
		Title:         &req.Title,
		Description:   &req.Description,
		Category:      &req.Category,
		Style:         &req.Style,
		Bedrooms:      &req.Bedrooms,
		Bathrooms:     &req.Bathrooms,
		Floors:        &floors,
		AreaSqft:      &req.AreaSqft,
		BasicPrice:    &req.BasicPrice,
		StandardPrice: &req.StandardPrice,
		PremiumPrice:  &req.PremiumPrice,
		Images:        &images,
		Featured:      &req.Featured,
		Published:     &req.Published,
	}
}
