package shared

// Listing defaults.
const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// Pagination describes one page of an in-memory listing.
type Pagination struct {
	Page       int
	PerPage    int
	Total      int
	TotalPages int
}

// NewPagination clamps page and perPage and counts the pages of total rows.
func NewPagination(page, perPage, total int) Pagination {
	switch {
	case perPage <= 0:
		perPage = DefaultPerPage
	case perPage > MaxPerPage:
		perPage = MaxPerPage
	}
	page = max(page, 1)
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: (total + perPage - 1) / perPage}
}

// Window returns the [start, end) bounds of the page within Total rows. A
// page past the end yields an empty window.
func (p Pagination) Window() (start, end int) {
	start = min((p.Page-1)*p.PerPage, p.Total)
	end = min(start+p.PerPage, p.Total)
	return start, end
}
