package registry

import (
	"context"

	"github.com/fabrica-platform/esb-relay/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository is the control-plane catalog of participating domains.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// GetByName looks a domain up by its unique name.
func (r *Repository) GetByName(ctx context.Context, name string) (*model.EsbDomain, error) {
	var dom model.EsbDomain
	if err := r.db.WithContext(ctx).Where("domain_name = ?", name).First(&dom).Error; err != nil {
		return nil, err
	}
	return &dom, nil
}

// ListActive returns the active catalog entries.
func (r *Repository) ListActive(ctx context.Context) ([]model.EsbDomain, error) {
	var doms []model.EsbDomain
	err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("domain_name").Find(&doms).Error
	return doms, err
}

// List returns every catalog entry.
func (r *Repository) List(ctx context.Context) ([]model.EsbDomain, error) {
	var doms []model.EsbDomain
	err := r.db.WithContext(ctx).Order("domain_name").Find(&doms).Error
	return doms, err
}

// Save upserts a domain by name.
func (r *Repository) Save(ctx context.Context, dom *model.EsbDomain) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "domain_name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"display_name", "service_url", "kafka_topic_prefix", "schema_name",
			"publishes_events", "consumes_events", "is_active", "updated_at",
		}),
	}).Create(dom).Error
}

// Delete removes a domain from the catalog.
func (r *Repository) Delete(ctx context.Context, name string) error {
	return r.db.WithContext(ctx).Where("domain_name = ?", name).Delete(&model.EsbDomain{}).Error
}
