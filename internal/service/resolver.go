package service

import "stockroom/backend/internal/domain"

type ResolutionKind int

const (
	Unresolved ResolutionKind = iota
	ResolvedByID
	ResolvedByName
)

func (k ResolutionKind) String() string {
	switch k {
	case ResolvedByID:
		return "id"
	case ResolvedByName:
		return "name"
	default:
		return "unresolved"
	}
}

// Resolution points at a stock slice index. Index is -1 when Unresolved.
type Resolution struct {
	Kind  ResolutionKind
	Index int
}

func (r Resolution) Found() bool {
	return r.Kind != Unresolved
}

// Resolve finds the stock item a sale or history entry refers to: exact trimmed
// id first, then case-insensitive trimmed name. The first match wins.
func Resolve(stock []domain.StockItem, itemID domain.Ref, name string) Resolution {
	if key := itemID.Key(); key != "" {
		for i, item := range stock {
			if item.ID.Key() == key {
				return Resolution{Kind: ResolvedByID, Index: i}
			}
		}
	}
	if want := domain.NormalizeName(name); want != "" {
		for i, item := range stock {
			if domain.NormalizeName(item.Name) == want {
				return Resolution{Kind: ResolvedByName, Index: i}
			}
		}
	}
	return Resolution{Kind: Unresolved, Index: -1}
}
