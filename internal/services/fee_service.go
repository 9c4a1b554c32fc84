package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"coffee-payment-service/internal/models"
	"coffee-payment-service/pkg/common"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Fee types.
const (
	FeeTypePlanPosting = "PlanPosting"
	FeeTypeStorage     = "Storage"
	FeeTypeProcessing  = "Processing"
)

const feeCacheTTL = 5 * time.Minute

// FeeService resolves the active fee configuration for a payer role
// and fee type. Pure read; candidates are cached in redis per
// (role, feeType) with a short TTL and invalidated on save.
type FeeService struct {
	DB    *gorm.DB
	Redis *redis.Client
}

func NewFeeService(db *gorm.DB, rdb *redis.Client) *FeeService {
	return &FeeService{DB: db, Redis: rdb}
}

func feeCacheKey(roleID int, feeType string) string {
	return fmt.Sprintf("fee-config:%d:%s", roleID, feeType)
}

// Resolve returns the configuration whose validity window contains
// asOf. quantity selects the tonnage bracket for tiered fee types;
// pass nil for flat fees.
func (s *FeeService) Resolve(roleID int, feeType string, asOf time.Time, quantity *float64) (*models.PaymentConfiguration, error) {
	configs, err := s.candidates(roleID, feeType)
	if err != nil {
		return nil, err
	}
	return selectConfiguration(configs, asOf, quantity)
}

func (s *FeeService) candidates(roleID int, feeType string) ([]models.PaymentConfiguration, error) {
	if s.Redis != nil {
		cached, err := s.Redis.Get(context.Background(), feeCacheKey(roleID, feeType)).Bytes()
		if err == nil {
			var configs []models.PaymentConfiguration
			if jerr := json.Unmarshal(cached, &configs); jerr == nil {
				return configs, nil
			}
		}
	}

	var configs []models.PaymentConfiguration
	err := s.DB.Where("role_id = ? AND fee_type = ? AND active = ?", roleID, feeType, true).
		Find(&configs).Error
	if err != nil {
		return nil, err
	}

	if s.Redis != nil {
		if payload, jerr := json.Marshal(configs); jerr == nil {
			if cerr := s.Redis.Set(context.Background(), feeCacheKey(roleID, feeType), payload, feeCacheTTL).Err(); cerr != nil {
				log.Printf("Fee config cache write failed: %v", cerr)
			}
		}
	}
	return configs, nil
}

// selectConfiguration picks the single matching row from the
// candidates. Multiple matches are a configuration-data error, except
// when tonnage brackets overlap: the narrowest bracket containing the
// quantity wins, since it is the most specific rule.
func selectConfiguration(configs []models.PaymentConfiguration, asOf time.Time, quantity *float64) (*models.PaymentConfiguration, error) {
	var matches []models.PaymentConfiguration
	for _, cfg := range configs {
		if asOf.Before(cfg.EffectiveFrom) {
			continue
		}
		if cfg.EffectiveTo != nil && asOf.After(*cfg.EffectiveTo) {
			continue
		}
		if cfg.MinTons != nil || cfg.MaxTons != nil {
			if quantity == nil {
				continue
			}
			if cfg.MinTons != nil && *quantity < *cfg.MinTons {
				continue
			}
			if cfg.MaxTons != nil && *quantity > *cfg.MaxTons {
				continue
			}
		}
		matches = append(matches, cfg)
	}

	switch len(matches) {
	case 0:
		return nil, ErrFeeConfigNotFound
	case 1:
		return &matches[0], nil
	}

	// Tie-break: narrowest tonnage bracket wins. Anything still tied
	// is bad configuration data and must be reported, not guessed.
	best := -1
	bestWidth := 0.0
	ambiguous := false
	for i, cfg := range matches {
		if cfg.MinTons == nil && cfg.MaxTons == nil {
			continue
		}
		width := bracketWidth(cfg)
		if best == -1 || width < bestWidth {
			best = i
			bestWidth = width
			ambiguous = false
		} else if width == bestWidth {
			ambiguous = true
		}
	}
	if best == -1 || ambiguous {
		return nil, ErrAmbiguousFeeConfig
	}
	return &matches[best], nil
}

func bracketWidth(cfg models.PaymentConfiguration) float64 {
	const open = 1e12 // stands in for an unbounded side
	min, max := 0.0, open
	if cfg.MinTons != nil {
		min = *cfg.MinTons
	}
	if cfg.MaxTons != nil {
		max = *cfg.MaxTons
	}
	return max - min
}

type SaveFeeConfigDTO struct {
	ID            uint
	RoleID        int
	FeeType       string
	Amount        float64
	MinTons       *float64
	MaxTons       *float64
	EffectiveFrom time.Time
	EffectiveTo   *time.Time
	Active        bool
}

// SaveConfiguration upserts a fee rule and drops the cache entry for
// its (role, feeType) pair.
func (s *FeeService) SaveConfiguration(data SaveFeeConfigDTO) (common.SuccessResponse, error) {
	cfg := models.PaymentConfiguration{
		ID:            data.ID,
		RoleID:        data.RoleID,
		FeeType:       data.FeeType,
		Amount:        data.Amount,
		MinTons:       data.MinTons,
		MaxTons:       data.MaxTons,
		EffectiveFrom: data.EffectiveFrom,
		EffectiveTo:   data.EffectiveTo,
		Active:        data.Active,
	}
	if err := s.DB.Save(&cfg).Error; err != nil {
		return common.SuccessResponse{}, err
	}

	if s.Redis != nil {
		if err := s.Redis.Del(context.Background(), feeCacheKey(data.RoleID, data.FeeType)).Err(); err != nil {
			log.Printf("Fee config cache invalidation failed: %v", err)
		}
	}
	return common.NewSuccessResponse(cfg, "Fee configuration saved"), nil
}

// ListConfigurations lists fee rules for review.
func (s *FeeService) ListConfigurations(roleID int, page, limit int) (common.PaginationResult, error) {
	if limit <= 0 {
		limit = 50
	}
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	query := s.DB.Model(&models.PaymentConfiguration{})
	if roleID != 0 {
		query = query.Where("role_id = ?", roleID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return common.PaginationResult{}, err
	}

	var configs []models.PaymentConfiguration
	if err := query.Order("effective_from DESC").Limit(limit).Offset(offset).Find(&configs).Error; err != nil {
		return common.PaginationResult{}, err
	}

	return common.PaginateResponse(configs, total, page, limit, "Fee configurations fetched"), nil
}
