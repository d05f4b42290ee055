package storage

import (
	"context"
	"strings"

	"github.com/qdrant/go-client/qdrant"
)

// Prefix queries run as three tiers, each tried only when the previous one errors:
//  1. native text filter on the "id" payload field; a zero count is final, a non-zero
//     count is confirmed by scrolling the filtered points and checking the prefix
//  2. scroll with the same text filter, checking the prefix client-side
//  3. scroll the whole collection, checking the prefix client-side
//
// The text filter matches substrings, so "doc1" also hits "xdoc1_0". Every tier that
// reports or deletes points has checked strings.HasPrefix on their ids first. When every
// tier fails for a reason other than connectivity, the safe default (false / 0) is
// returned.

const (
	tierNativeFilter   = "native_filter"
	tierFilteredScroll = "filtered_scroll"
	tierFullScroll     = "full_scroll"
)

func idTextFilter(prefix string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatchText(fieldID, prefix)},
	}
}

// ExistsByIDPrefix reports whether any chunk ID starts with prefix.
func (s *QdrantStorage) ExistsByIDPrefix(ctx context.Context, prefix string) (bool, error) {
	filter := idTextFilter(prefix)
	found, err := firstSuccess(ctx, s.logger, "exists_by_id_prefix", []strategy[bool]{
		{tierNativeFilter, func(ctx context.Context) (bool, error) {
			n, err := s.countFiltered(ctx, filter)
			if err != nil || n == 0 {
				return false, err
			}
			ids, err := s.collectPrefix(ctx, prefix, filter, 1)
			return len(ids) > 0, err
		}},
		{tierFilteredScroll, func(ctx context.Context) (bool, error) {
			ids, err := s.collectPrefix(ctx, prefix, filter, 1)
			return len(ids) > 0, err
		}},
		{tierFullScroll, func(ctx context.Context) (bool, error) {
			ids, err := s.collectPrefix(ctx, prefix, nil, 1)
			return len(ids) > 0, err
		}},
	})
	return settle(ctx, s, "exists_by_id_prefix", found, err)
}

// CountByIDPrefix counts chunks whose ID starts with prefix.
func (s *QdrantStorage) CountByIDPrefix(ctx context.Context, prefix string) (int, error) {
	filter := idTextFilter(prefix)
	n, err := firstSuccess(ctx, s.logger, "count_by_id_prefix", []strategy[int]{
		{tierNativeFilter, func(ctx context.Context) (int, error) {
			n, err := s.countFiltered(ctx, filter)
			if err != nil || n == 0 {
				return 0, err
			}
			ids, err := s.collectPrefix(ctx, prefix, filter, 0)
			return len(ids), err
		}},
		{tierFilteredScroll, func(ctx context.Context) (int, error) {
			ids, err := s.collectPrefix(ctx, prefix, filter, 0)
			return len(ids), err
		}},
		{tierFullScroll, func(ctx context.Context) (int, error) {
			ids, err := s.collectPrefix(ctx, prefix, nil, 0)
			return len(ids), err
		}},
	})
	return settle(ctx, s, "count_by_id_prefix", n, err)
}

// DeleteByIDPrefix deletes chunks whose ID starts with prefix and returns how many.
// Points are deleted by their confirmed IDs, never by the text filter itself.
func (s *QdrantStorage) DeleteByIDPrefix(ctx context.Context, prefix string) (int, error) {
	filter := idTextFilter(prefix)
	n, err := firstSuccess(ctx, s.logger, "delete_by_id_prefix", []strategy[int]{
		{tierNativeFilter, func(ctx context.Context) (int, error) {
			n, err := s.countFiltered(ctx, filter)
			if err != nil || n == 0 {
				return 0, err
			}
			return s.deleteCollected(ctx, prefix, filter)
		}},
		{tierFilteredScroll, func(ctx context.Context) (int, error) {
			return s.deleteCollected(ctx, prefix, filter)
		}},
		{tierFullScroll, func(ctx context.Context) (int, error) {
			return s.deleteCollected(ctx, prefix, nil)
		}},
	})
	return settle(ctx, s, "delete_by_id_prefix", n, err)
}

func (s *QdrantStorage) countFiltered(ctx context.Context, filter *qdrant.Filter) (int, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Filter:         filter,
		Exact:          qdrant.PtrOf(true),
	})
	return int(n), err
}

// collectPrefix scrolls points matching filter and keeps those whose logical ID starts
// with prefix. With limit > 0 it stops after that many matches.
func (s *QdrantStorage) collectPrefix(ctx context.Context, prefix string, filter *qdrant.Filter, limit int) ([]*qdrant.PointId, error) {
	var ids []*qdrant.PointId
	err := s.scrollAll(ctx, filter, qdrant.NewWithPayloadInclude(fieldID), func(p *qdrant.RetrievedPoint) bool {
		if strings.HasPrefix(p.GetPayload()[fieldID].GetStringValue(), prefix) {
			ids = append(ids, p.GetId())
		}
		return limit <= 0 || len(ids) < limit
	})
	return ids, err
}

func (s *QdrantStorage) deleteCollected(ctx context.Context, prefix string, filter *qdrant.Filter) (int, error) {
	ids, err := s.collectPrefix(ctx, prefix, filter, 0)
	if err != nil || len(ids) == 0 {
		return 0, err
	}
	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(ids...),
	})
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// settle turns an exhausted cascade into the safe default. Connectivity failures and
// cancellation are returned so the caller can switch to the fallback store.
func settle[T any](ctx context.Context, s *QdrantStorage, op string, result T, err error) (T, error) {
	if err == nil {
		return result, nil
	}
	var zero T
	if ctx.Err() != nil || isConnectivityError(err) {
		return zero, err
	}
	s.logger.Warn("All prefix query strategies failed, returning default",
		"operation", op,
		"collection", s.collection,
		"error", err,
	)
	return zero, nil
}
