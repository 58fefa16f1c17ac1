package search

import (
	"sort"
	"strings"

	"github.com/jkjitendra/transfer-aggregator-service-sub000/internal/models"
)

// applyQuery filters, sorts and optionally paginates a copy of offers. It returns
// the page and the number of offers that matched the filter.
func applyQuery(offers []models.Offer, q models.Query, paginate bool) ([]models.Offer, int) {
	matched := make([]models.Offer, 0, len(offers))
	for _, o := range offers {
		if matches(o, q.Filter) {
			matched = append(matched, o)
		}
	}

	less := lessFunc(q.Sort.Field)
	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if q.Sort.Desc {
			a, b = b, a
		}
		if less(a, b) {
			return true
		}
		if less(b, a) {
			return false
		}
		// deterministic tie-break regardless of direction
		return matched[i].SupplierCode+matched[i].ID < matched[j].SupplierCode+matched[j].ID
	})

	total := len(matched)
	if !paginate {
		return matched, total
	}
	p := q.Page.Normalize()
	start := (p.Number - 1) * p.Size
	if start >= total {
		return []models.Offer{}, total
	}
	end := start + p.Size
	if end > total {
		end = total
	}
	return matched[start:end], total
}

func matches(o models.Offer, f models.Filter) bool {
	if f.MaxPrice > 0 && o.Price.Amount > f.MaxPrice {
		return false
	}
	if f.MinCapacity > 0 && o.Vehicle.MaxPassengers < f.MinCapacity {
		return false
	}
	if f.VehicleType != "" && !strings.EqualFold(o.Vehicle.Type, f.VehicleType) {
		return false
	}
	if f.Provider != "" && !strings.Contains(strings.ToLower(o.Provider.Name), strings.ToLower(f.Provider)) {
		return false
	}
	if f.RefundableOnly && !o.Cancellation.Refundable {
		return false
	}
	return true
}

func lessFunc(field models.SortField) func(a, b models.Offer) bool {
	switch field {
	case models.SortRating:
		return func(a, b models.Offer) bool { return a.Provider.Rating < b.Provider.Rating }
	case models.SortDuration:
		return func(a, b models.Offer) bool { return a.DurationMinutes < b.DurationMinutes }
	case models.SortDistance:
		return func(a, b models.Offer) bool { return a.DistanceKm < b.DistanceKm }
	case models.SortCapacity:
		return func(a, b models.Offer) bool { return a.Vehicle.MaxPassengers < b.Vehicle.MaxPassengers }
	case models.SortProvider:
		return func(a, b models.Offer) bool {
			return strings.ToLower(a.Provider.Name) < strings.ToLower(b.Provider.Name)
		}
	default:
		return func(a, b models.Offer) bool { return a.Price.Amount < b.Price.Amount }
	}
}

// ParseSortField maps a query parameter to a sort field, defaulting to price.
func ParseSortField(s string) (models.SortField, bool) {
	switch f := models.SortField(strings.ToLower(s)); f {
	case "":
		return models.SortPrice, true
	case models.SortPrice, models.SortRating, models.SortDuration, models.SortDistance, models.SortCapacity, models.SortProvider:
		return f, true
	default:
		return "", false
	}
}
