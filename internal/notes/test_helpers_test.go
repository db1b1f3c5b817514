package notes

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/dailydust/internal/indexer"
	"github.com/tidwall/gjson"
)

const (
	testWorldAddress = "0x00000000000000000000000000000000000000aa"
	testNamespace    = "dailydust"
	testOwner        = "0x00000000000000000000000000000000000000b1"
)

var testNow = time.Unix(1700000000, 0).UTC()

type stubIndexer struct {
	mu        sync.Mutex
	responses map[string]indexer.Result
	failWith  error
	queries   []string
}

func newStubIndexer() *stubIndexer {
	return &stubIndexer{responses: make(map[string]indexer.Result)}
}

// respond registers a result for any query reading from the named table.
func (s *stubIndexer) respond(table string, result indexer.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[table] = result
}

func (s *stubIndexer) Query(_ context.Context, queryText, address string) (indexer.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, queryText)
	if s.failWith != nil {
		return indexer.Result{}, s.failWith
	}
	if address != testWorldAddress {
		return indexer.Result{}, errors.New("unexpected world address " + address)
	}
	for table, result := range s.responses {
		if strings.Contains(queryText, " FROM \""+testNamespace+"__"+table+"\"") {
			return result, nil
		}
	}
	return indexer.Result{}, nil
}

func (s *stubIndexer) lastQuery() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queries) == 0 {
		return ""
	}
	return s.queries[len(s.queries)-1]
}

func resultOf(columns []string, rowsJSON string) indexer.Result {
	return indexer.Result{Columns: columns, Rows: gjson.Parse(rowsJSON).Array()}
}

func newTestService(t *testing.T, stub *stubIndexer) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Indexer:      stub,
		WorldAddress: testWorldAddress,
		Namespace:    testNamespace,
		Clock:        func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func noteIDFor(suffix string) string {
	return "0x" + strings.Repeat("0", 64-len(suffix)) + suffix
}
