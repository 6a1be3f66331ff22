package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/quotelane/quotecore/internal/integration"
)

// ErrInsurerNotFound is returned when an insurer ID is unknown.
var ErrInsurerNotFound = errors.New("insurer not found")

// ErrAgencyNotAppointed is returned when the agency holds no appointment
// with the insurer.
var ErrAgencyNotAppointed = errors.New("agency is not appointed with insurer")

// CarrierRepository serves insurer configuration and the carrier code
// mappings adapters declare a need for.
type CarrierRepository struct {
	db *DB
}

// NewCarrierRepository creates a carrier repository.
func NewCarrierRepository(db *DB) *CarrierRepository {
	return &CarrierRepository{db: db}
}

// Insurer loads one insurer's configuration including credentials.
func (r *CarrierRepository) Insurer(ctx context.Context, insurerID int64) (integration.InsurerConfig, error) {
	var (
		cfg   integration.InsurerConfig
		creds []byte
	)
	err := r.db.Pool.QueryRow(ctx,
		`SELECT id, name, slug, sandbox, credentials FROM insurers WHERE id = $1`,
		insurerID).Scan(&cfg.ID, &cfg.Name, &cfg.Slug, &cfg.Sandbox, &creds)
	if errors.Is(err, pgx.ErrNoRows) {
		return cfg, fmt.Errorf("insurer %d: %w", insurerID, ErrInsurerNotFound)
	}
	if err != nil {
		return cfg, fmt.Errorf("querying insurer %d: %w", insurerID, err)
	}
	if err := json.Unmarshal(creds, &cfg.Credentials); err != nil {
		return cfg, fmt.Errorf("decoding credentials for insurer %d: %w", insurerID, err)
	}
	return cfg, nil
}

// AgencyLocation loads the agency's appointment identifiers with one
// insurer.
func (r *CarrierRepository) AgencyLocation(ctx context.Context, agencyID string, insurerID int64) (integration.AgencyLocation, error) {
	loc := integration.AgencyLocation{AgencyID: agencyID}
	err := r.db.Pool.QueryRow(ctx,
		`SELECT agency_code, agent_code FROM agency_insurer_locations
		 WHERE agency_id = $1 AND insurer_id = $2`,
		agencyID, insurerID).Scan(&loc.AgencyCode, &loc.AgentCode)
	if errors.Is(err, pgx.ErrNoRows) {
		return loc, fmt.Errorf("agency %s with insurer %d: %w", agencyID, insurerID, ErrAgencyNotAppointed)
	}
	if err != nil {
		return loc, fmt.Errorf("querying agency location: %w", err)
	}
	return loc, nil
}

// ActivityCodeMap loads the insurer's class-code mappings for a set of
// territories and activity codes. Unmapped pairs are absent from the
// result; classifying that absence is the adapter's call.
func (r *CarrierRepository) ActivityCodeMap(ctx context.Context, insurerID int64, territories []string, activityCodeIDs []int64) (map[integration.ActivityCodeKey]string, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT territory, activity_code_id, carrier_code FROM insurer_activity_codes
		 WHERE insurer_id = $1 AND territory = ANY($2) AND activity_code_id = ANY($3)`,
		insurerID, territories, activityCodeIDs)
	if err != nil {
		return nil, fmt.Errorf("querying insurer activity codes: %w", err)
	}
	defer rows.Close()

	out := make(map[integration.ActivityCodeKey]string)
	for rows.Next() {
		var key integration.ActivityCodeKey
		var code string
		if err := rows.Scan(&key.Territory, &key.ActivityCodeID, &code); err != nil {
			return nil, err
		}
		out[key] = code
	}
	return out, rows.Err()
}

// IndustryCode returns the insurer's code for an industry, empty when
// unmapped.
func (r *CarrierRepository) IndustryCode(ctx context.Context, insurerID, industryCode int64) (string, error) {
	var code string
	err := r.db.Pool.QueryRow(ctx,
		`SELECT carrier_code FROM insurer_industry_codes
		 WHERE insurer_id = $1 AND industry_code = $2`,
		insurerID, industryCode).Scan(&code)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying insurer industry code: %w", err)
	}
	return code, nil
}
