package bus

import "context"

// PageRequest is an offset/limit window into a result set.
type PageRequest struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

func (p PageRequest) normalized() PageRequest {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 {
		p.Limit = 20
	}
	return p
}

// PageResult carries one page plus derived navigation flags.
type PageResult[T any] struct {
	Items   []T  `json:"items"`
	Total   int  `json:"total"`
	Offset  int  `json:"offset"`
	Limit   int  `json:"limit"`
	HasNext bool `json:"has_next"`
	HasPrev bool `json:"has_prev"`
}

// Paginate runs the data query for one page and, when a count query is given,
// derives exact navigation flags from the total. Without a count query the
// total is a lower bound and HasNext falls back to a full-page heuristic.
func Paginate[T any](
	ctx context.Context,
	req PageRequest,
	data func(ctx context.Context, req PageRequest) ([]T, error),
	count func(ctx context.Context) (int, error),
) (*PageResult[T], error) {
	req = req.normalized()

	items, err := data(ctx, req)
	if err != nil {
		return nil, err
	}

	res := &PageResult[T]{
		Items:   items,
		Offset:  req.Offset,
		Limit:   req.Limit,
		HasPrev: req.Offset > 0,
	}

	if count != nil {
		total, err := count(ctx)
		if err != nil {
			return nil, err
		}
		res.Total = total
		res.HasNext = req.Offset+len(items) < total
		return res, nil
	}

	res.Total = req.Offset + len(items)
	res.HasNext = len(items) == req.Limit
	return res, nil
}
