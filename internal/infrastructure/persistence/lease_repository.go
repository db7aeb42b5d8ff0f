package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/stallmarket/backend/internal/domain/billing"
	"github.com/stallmarket/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormLeaseRepository implements billing.LeaseRepository using GORM
type GormLeaseRepository struct {
	db *gorm.DB
}

// NewGormLeaseRepository creates a new GormLeaseRepository
func NewGormLeaseRepository(db *gorm.DB) *GormLeaseRepository {
	return &GormLeaseRepository{db: db}
}

// FindByID finds a lease by its ID
func (r *GormLeaseRepository) FindByID(ctx context.Context, id uuid.UUID) (*billing.Lease, error) {
	var model models.LeaseModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, billing.ErrLeaseNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindForUpdate loads the lease with SELECT ... FOR UPDATE
func (r *GormLeaseRepository) FindForUpdate(ctx context.Context, id uuid.UUID) (*billing.Lease, error) {
	var model models.LeaseModel
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, billing.ErrLeaseNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// ListOpen returns leases that are neither terminated nor expired
func (r *GormLeaseRepository) ListOpen(ctx context.Context, vendorID *uuid.UUID) ([]billing.Lease, error) {
	query := r.db.WithContext(ctx).
		Where("status NOT IN ?", []billing.LeaseStatus{billing.LeaseStatusTerminated, billing.LeaseStatusExpired})
	if vendorID != nil {
		query = query.Where("vendor_id = ?", *vendorID)
	}

	var rows []models.LeaseModel
	if err := query.Order("start_date ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return leasesToDomain(rows), nil
}

// FindByIDs loads the given leases; unknown ids are skipped
func (r *GormLeaseRepository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]billing.Lease, error) {
	if len(ids) == 0 {
		return []billing.Lease{}, nil
	}
	var rows []models.LeaseModel
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	return leasesToDomain(rows), nil
}

// Save creates or updates a lease
func (r *GormLeaseRepository) Save(ctx context.Context, lease *billing.Lease) error {
	var model models.LeaseModel
	model.FromDomain(lease)
	return r.db.WithContext(ctx).Save(&model).Error
}

func leasesToDomain(rows []models.LeaseModel) []billing.Lease {
	leases := make([]billing.Lease, len(rows))
	for i := range rows {
		leases[i] = *rows[i].ToDomain()
	}
	return leases
}

// GormStallRepository implements billing.StallRepository using GORM
type GormStallRepository struct {
	db *gorm.DB
}

// NewGormStallRepository creates a new GormStallRepository
func NewGormStallRepository(db *gorm.DB) *GormStallRepository {
	return &GormStallRepository{db: db}
}

// FindForUpdate loads the stall with SELECT ... FOR UPDATE
func (r *GormStallRepository) FindForUpdate(ctx context.Context, id uuid.UUID) (*billing.Stall, error) {
	var model models.StallModel
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, billing.ErrStallNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Save creates or updates a stall
func (r *GormStallRepository) Save(ctx context.Context, stall *billing.Stall) error {
	var model models.StallModel
	model.FromDomain(stall)
	return r.db.WithContext(ctx).Save(&model).Error
}

// GormVendorDirectory implements billing.VendorDirectory over the vendors table
type GormVendorDirectory struct {
	db *gorm.DB
}

// NewGormVendorDirectory creates a new GormVendorDirectory
func NewGormVendorDirectory(db *gorm.DB) *GormVendorDirectory {
	return &GormVendorDirectory{db: db}
}

// IsActiveVendor reports whether the vendor exists and is active
func (d *GormVendorDirectory) IsActiveVendor(ctx context.Context, vendorID uuid.UUID) (bool, error) {
	var count int64
	err := d.db.WithContext(ctx).Model(&models.VendorModel{}).
		Where("id = ? AND status = ?", vendorID, billing.VendorStatusActive).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

var (
	_ billing.LeaseRepository = (*GormLeaseRepository)(nil)
	_ billing.StallRepository = (*GormStallRepository)(nil)
	_ billing.VendorDirectory = (*GormVendorDirectory)(nil)
)
