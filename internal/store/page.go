package store

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

type PageRequest struct {
	Page  int
	Limit int
}

// Normalize applies the default page (1) and limit and caps the limit.
func (p PageRequest) Normalize() PageRequest {
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

func (p PageRequest) Offset() int {
	return (p.Page - 1) * p.Limit
}

type Page[T any] struct {
	Items      []T
	Page       int
	Limit      int
	Total      int
	TotalPages int
}

func NewPage[T any](items []T, req PageRequest, total int) Page[T] {
	totalPages := 0
	if req.Limit > 0 {
		totalPages = (total + req.Limit - 1) / req.Limit
	}
	return Page[T]{
		Items:      items,
		Page:       req.Page,
		Limit:      req.Limit,
		Total:      total,
		TotalPages: totalPages,
	}
}

// Paginate slices an already ordered list. Used by stores that hold rows in memory.
func Paginate[T any](items []T, req PageRequest) Page[T] {
	req = req.Normalize()
	total := len(items)

	start := req.Offset()
	if start > total {
		start = total
	}
	end := start + req.Limit
	if end > total {
		end = total
	}
	return NewPage(items[start:end], req, total)
}
