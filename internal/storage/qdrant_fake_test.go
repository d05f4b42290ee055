package storage

import (
	"context"
	"strings"
	"sync"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	errUnsupported = status.Error(codes.InvalidArgument, "text match is not supported for this field")
	errUnavailable = status.Error(codes.Unavailable, "connection refused")
)

// fakeQdrant is an in-memory stand-in for the Qdrant gRPC API. Filters support the
// keyword, keywords and text matches the storage package issues.
type fakeQdrant struct {
	mu     sync.Mutex
	points []*qdrant.RetrievedPoint

	collections []string
	info        *qdrant.CollectionInfo
	created     *qdrant.CreateCollection
	indexed     []string
	lastQuery   *qdrant.QueryPoints
	queryResult []*qdrant.ScoredPoint

	healthErr error
	countErr  error
	deleteErr error
	upsertErr error
	queryErr  error
	// scrollErr decides per request whether Scroll fails.
	scrollErr func(req *qdrant.ScrollPoints) error

	calls map[string]int
}

func newFakeQdrant() *fakeQdrant {
	return &fakeQdrant{calls: make(map[string]int)}
}

func (f *fakeQdrant) record(name string) {
	f.calls[name]++
}

func (f *fakeQdrant) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

// seed stores chunks directly, bypassing Upsert.
func (f *fakeQdrant) seed(records ...*ChunkRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range records {
		f.points = append(f.points, &qdrant.RetrievedPoint{
			Id:      pointID(rec.ID),
			Payload: payloadFromRecord(rec).values(),
		})
	}
}

func (f *fakeQdrant) ids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.points))
	for _, p := range f.points {
		out = append(out, p.GetPayload()[fieldID].GetStringValue())
	}
	return out
}

func matches(filter *qdrant.Filter, payload map[string]*qdrant.Value) bool {
	for _, cond := range filter.GetMust() {
		fc := cond.GetField()
		value := payload[fc.GetKey()].GetStringValue()
		switch m := fc.GetMatch().GetMatchValue().(type) {
		case *qdrant.Match_Text:
			if !strings.Contains(value, m.Text) {
				return false
			}
		case *qdrant.Match_Keyword:
			if value != m.Keyword {
				return false
			}
		case *qdrant.Match_Keywords:
			found := false
			for _, k := range m.Keywords.GetStrings() {
				if k == value {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func (f *fakeQdrant) HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("HealthCheck")
	if f.healthErr != nil {
		return nil, f.healthErr
	}
	return &qdrant.HealthCheckReply{Title: "qdrant - vector search engine", Version: "1.16.0"}, nil
}

func (f *fakeQdrant) ListCollections(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ListCollections")
	return f.collections, nil
}

func (f *fakeQdrant) CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateCollection")
	f.created = req
	f.collections = append(f.collections, req.GetCollectionName())
	return nil
}

func (f *fakeQdrant) GetCollectionInfo(ctx context.Context, name string) (*qdrant.CollectionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetCollectionInfo")
	return f.info, nil
}

func (f *fakeQdrant) DeleteCollection(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DeleteCollection")
	f.points = nil
	kept := f.collections[:0]
	for _, c := range f.collections {
		if c != name {
			kept = append(kept, c)
		}
	}
	f.collections = kept
	return nil
}

func (f *fakeQdrant) CreateFieldIndex(ctx context.Context, req *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateFieldIndex")
	f.indexed = append(f.indexed, req.GetFieldName())
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeQdrant) Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Upsert")
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	for _, p := range req.GetPoints() {
		replaced := false
		for i, existing := range f.points {
			if existing.GetId().GetUuid() == p.GetId().GetUuid() {
				f.points[i] = &qdrant.RetrievedPoint{Id: p.GetId(), Payload: p.GetPayload()}
				replaced = true
				break
			}
		}
		if !replaced {
			f.points = append(f.points, &qdrant.RetrievedPoint{Id: p.GetId(), Payload: p.GetPayload()})
		}
	}
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeQdrant) Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Query")
	f.lastQuery = req
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.queryResult, nil
}

func (f *fakeQdrant) Count(ctx context.Context, req *qdrant.CountPoints) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Count")
	if f.countErr != nil {
		return 0, f.countErr
	}
	var n uint64
	for _, p := range f.points {
		if matches(req.GetFilter(), p.GetPayload()) {
			n++
		}
	}
	return n, nil
}

func (f *fakeQdrant) Delete(ctx context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Delete")
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}

	selector := req.GetPoints()
	drop := func(p *qdrant.RetrievedPoint) bool {
		if list := selector.GetPoints(); list != nil {
			for _, id := range list.GetIds() {
				if id.GetUuid() == p.GetId().GetUuid() {
					return true
				}
			}
			return false
		}
		return matches(selector.GetFilter(), p.GetPayload())
	}

	kept := f.points[:0]
	for _, p := range f.points {
		if !drop(p) {
			kept = append(kept, p)
		}
	}
	f.points = kept
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeQdrant) Scroll(ctx context.Context, req *qdrant.ScrollPoints, opts ...grpc.CallOption) (*qdrant.ScrollResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Scroll")
	if f.scrollErr != nil {
		if err := f.scrollErr(req); err != nil {
			return nil, err
		}
	}

	var matched []*qdrant.RetrievedPoint
	for _, p := range f.points {
		if matches(req.GetFilter(), p.GetPayload()) {
			matched = append(matched, p)
		}
	}

	start := 0
	if off := req.GetOffset(); off != nil {
		for i, p := range matched {
			if p.GetId().GetUuid() == off.GetUuid() {
				start = i
				break
			}
		}
	}

	end := min(start+int(req.GetLimit()), len(matched))
	resp := &qdrant.ScrollResponse{Result: matched[start:end]}
	if end < len(matched) {
		resp.NextPageOffset = matched[end].GetId()
	}
	return resp, nil
}

func (f *fakeQdrant) Close() error {
	return nil
}

// failFiltered fails scrolls that carry a filter.
func failFiltered(err error) func(*qdrant.ScrollPoints) error {
	return func(req *qdrant.ScrollPoints) error {
		if req.GetFilter() != nil {
			return err
		}
		return nil
	}
}

func failAll(err error) func(*qdrant.ScrollPoints) error {
	return func(*qdrant.ScrollPoints) error { return err }
}
