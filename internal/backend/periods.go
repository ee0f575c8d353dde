package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"
)

const periodsPath = "liquidaciones/periodos"

// Period is a liquidation (billing) period. Totals are computed by the
// backend; the client only displays them.
type Period struct {
	ID         ID              `json:"id"`
	Year       int             `json:"anio"`
	Month      int             `json:"mes"`
	Status     string          `json:"estado"`
	Gross      decimal.Decimal `json:"total_bruto"`
	Deductions decimal.Decimal `json:"total_debitos"`
	Net        decimal.Decimal `json:"total_neto"`
}

// PeriodAction names a state transition the backend applies to a period.
type PeriodAction string

const (
	PeriodClose     PeriodAction = "cerrar"
	PeriodReopen    PeriodAction = "reabrir"
	PeriodReinvoice PeriodAction = "refacturar"
)

// ParsePeriodAction maps the gateway's action names onto backend actions.
func ParsePeriodAction(name string) (PeriodAction, bool) {
	switch name {
	case "close", string(PeriodClose):
		return PeriodClose, true
	case "reopen", string(PeriodReopen):
		return PeriodReopen, true
	case "reinvoice", string(PeriodReinvoice):
		return PeriodReinvoice, true
	default:
		return "", false
	}
}

// CreatePeriod opens a period for year/month. When the backend answers 409
// because the period already exists, the existing period is fetched and
// returned with created=false instead of an error.
func (c *Client) CreatePeriod(ctx context.Context, year, month int) (Period, bool, error) {
	if month < 1 || month > 12 {
		return Period{}, false, fmt.Errorf("invalid month %d", month)
	}
	if year < 1900 {
		return Period{}, false, fmt.Errorf("invalid year %d", year)
	}

	var created Period
	body := map[string]int{"anio": year, "mes": month}
	err := c.do(ctx, http.MethodPost, periodsPath, nil, body, &created)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, ErrConflict) {
		return Period{}, false, err
	}

	existing, findErr := c.FindPeriod(ctx, year, month)
	if findErr != nil {
		return Period{}, false, fmt.Errorf("period %04d-%02d exists but could not be loaded: %w", year, month, findErr)
	}
	return existing, false, nil
}

// FindPeriod looks a period up by year and month.
func (c *Client) FindPeriod(ctx context.Context, year, month int) (Period, error) {
	query := url.Values{}
	query.Set("anio", strconv.Itoa(year))
	query.Set("mes", strconv.Itoa(month))

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, periodsPath, query, nil, &raw); err != nil {
		return Period{}, err
	}
	periods, _, err := decodeCollection[Period](raw)
	if err != nil {
		return Period{}, fmt.Errorf("decode periods: %w", err)
	}
	for _, p := range periods {
		if p.Year == year && p.Month == month {
			return p, nil
		}
	}
	return Period{}, ErrNotFound
}

// ApplyPeriodAction posts a bodiless action and returns the period as the
// backend reports it afterwards.
func (c *Client) ApplyPeriodAction(ctx context.Context, id string, action PeriodAction) (Period, error) {
	var period Period
	if err := c.Action(ctx, periodsPath+"/"+id+"/"+string(action), nil, &period); err != nil {
		return Period{}, err
	}
	return period, nil
}
