package models

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type SortField string

const (
	SortPrice    SortField = "price"
	SortRating   SortField = "rating"
	SortDuration SortField = "duration"
	SortDistance SortField = "distance"
	SortCapacity SortField = "capacity"
	SortProvider SortField = "provider"
)

// Filter narrows the offers of a search. Zero values do not filter.
type Filter struct {
	MaxPrice       float64
	MinCapacity    int
	VehicleType    string
	Provider       string
	RefundableOnly bool
}

type Sort struct {
	Field SortField
	Desc  bool
}

type Page struct {
	Number int
	Size   int
}

// Normalize clamps the page to valid bounds.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

// Query is the view applied to a search session before it is returned.
type Query struct {
	Filter Filter
	Sort   Sort
	Page   Page
}
