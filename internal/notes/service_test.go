package notes

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/dailydust/internal/indexer"
)

func TestListNotesPaginationAndOrdering(t *testing.T) {
	stub := newStubIndexer()
	service := newTestService(t, stub)

	if _, err := service.ListNotes(context.Background(), ListFilters{}, Pager{Limit: 10, Offset: 20}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	statement := stub.lastQuery()
	if !strings.HasSuffix(statement, `ORDER BY "updatedAt" DESC LIMIT 10 OFFSET 20`) {
		t.Fatalf("unexpected statement %s", statement)
	}
	if strings.Contains(statement, "WHERE") {
		t.Fatalf("expected no predicates without filters: %s", statement)
	}
}

func TestListNotesDefaultsPager(t *testing.T) {
	stub := newStubIndexer()
	service := newTestService(t, stub)

	if _, err := service.ListNotes(context.Background(), ListFilters{}, Pager{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(stub.lastQuery(), "LIMIT 100 OFFSET 0") {
		t.Fatalf("expected default pager, got %s", stub.lastQuery())
	}
}

func TestListNotesBuildsAndedPredicates(t *testing.T) {
	stub := newStubIndexer()
	service := newTestService(t, stub)
	from := int64(1600000000)
	to := int64(1700000000)

	_, err := service.ListNotes(context.Background(), ListFilters{
		Owner:       "not-an-address",
		UpdatedFrom: &from,
		UpdatedTo:   &to,
		BoostedOnly: true,
		Tag:         "guide",
		Search:      "O'Brien",
	}, Pager{})
	if err == nil {
		t.Fatalf("expected malformed owner to be rejected")
	}

	_, err = service.ListNotes(context.Background(), ListFilters{
		Owner:       "0x" + strings.ToUpper(testOwner[2:]),
		UpdatedFrom: &from,
		UpdatedTo:   &to,
		BoostedOnly: true,
		Tag:         "guide",
		Search:      "O'Brien",
	}, Pager{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	statement := stub.lastQuery()
	expectedFragments := []string{
		`"owner" = '` + testOwner + `'`,
		`"updatedAt" >= 1600000000`,
		`"updatedAt" <= 1700000000`,
		`"boostUntil" > 1700000000`,
		`("tags" LIKE '%"guide"%' ESCAPE '\' OR "tags" LIKE '%guide%' ESCAPE '\')`,
		`(LOWER("title") LIKE '%o''brien%' ESCAPE '\' OR LOWER("content") LIKE '%o''brien%' ESCAPE '\')`,
	}
	for _, fragment := range expectedFragments {
		if !strings.Contains(statement, fragment) {
			t.Fatalf("expected fragment %s in %s", fragment, statement)
		}
	}
	if strings.Count(statement, " AND ") != len(expectedFragments)-1 {
		t.Fatalf("expected predicates joined by AND: %s", statement)
	}
}

func TestGetNoteByIDReturnsNilWhenAbsent(t *testing.T) {
	stub := newStubIndexer()
	service := newTestService(t, stub)

	note, err := service.GetNoteByID(context.Background(), noteIDFor("1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if note != nil {
		t.Fatalf("expected nil note, got %#v", note)
	}
}

func TestGetNoteByIDMapsRow(t *testing.T) {
	stub := newStubIndexer()
	stub.respond("Note", resultOf(noteColumns, `[["`+noteIDFor("1")+`","`+testOwner+`","",1,2,0,5,"Hello","World","[\"a\"]",""]]`))
	service := newTestService(t, stub)

	note, err := service.GetNoteByID(context.Background(), "0x1234")
	if err == nil {
		t.Fatalf("expected invalid id to be rejected, got %#v", note)
	}

	note, err = service.GetNoteByID(context.Background(), noteIDFor("1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if note == nil || note.Title != "Hello" || note.TotalTips != 5 || note.Tags[0] != "a" {
		t.Fatalf("unexpected note %#v", note)
	}
	if !strings.Contains(stub.lastQuery(), `"id" = '`+noteIDFor("1")+`' LIMIT 1`) {
		t.Fatalf("unexpected query %s", stub.lastQuery())
	}
}

func TestServiceSurfacesColumnDrift(t *testing.T) {
	stub := newStubIndexer()
	stub.respond("Note", resultOf([]string{"id", "title"}, `[["0x1","t"]]`))
	service := newTestService(t, stub)

	_, err := service.ListTrending(context.Background(), Pager{})
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("expected service error, got %v", err)
	}
	if serviceErr.Code() != "notes.list_trending.column_mismatch" {
		t.Fatalf("unexpected code %s", serviceErr.Code())
	}
	if !errors.Is(err, indexer.ErrColumnMismatch) {
		t.Fatalf("expected wrapped column mismatch")
	}
}

func TestServicePropagatesQueryFailure(t *testing.T) {
	stub := newStubIndexer()
	stub.failWith = &indexer.RequestError{StatusCode: 500, Body: "boom"}
	service := newTestService(t, stub)

	_, err := service.ListBoosted(context.Background(), Pager{})
	var requestErr *indexer.RequestError
	if !errors.As(err, &requestErr) {
		t.Fatalf("expected request error, got %v", err)
	}
}

func TestListTrendingOrdersByTipsThenRecency(t *testing.T) {
	stub := newStubIndexer()
	service := newTestService(t, stub)

	if _, err := service.ListTrending(context.Background(), Pager{Limit: 5}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stub.lastQuery(), `ORDER BY "totalTips" DESC, "updatedAt" DESC LIMIT 5 OFFSET 0`) {
		t.Fatalf("unexpected statement %s", stub.lastQuery())
	}
}

func TestProximityBoxIsAxisAlignedAndInclusive(t *testing.T) {
	box := NewProximityBox(0, 0, 0, 5)
	if !box.Contains(5, 5, 5) {
		t.Fatalf("expected corner (5,5,5) to match")
	}
	if !box.Contains(-5, 0, 5) {
		t.Fatalf("expected boundary point to match")
	}
	if box.Contains(6, 0, 0) {
		t.Fatalf("expected (6,0,0) to be excluded")
	}
}

func TestListNotesNearQueriesBoundingBox(t *testing.T) {
	stub := newStubIndexer()
	service := newTestService(t, stub)

	if _, err := service.ListNotesNear(context.Background(), 0, 0, 0, 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	statement := stub.lastQuery()
	expectedFragments := []string{
		"SELECT DISTINCT n.\"id\"",
		`INNER JOIN "dailydust__WaypointStep" s ON s."noteId" = n."id"`,
		`s."x" >= -5 AND s."x" <= 5`,
		`s."y" >= -5 AND s."y" <= 5`,
		`s."z" >= -5 AND s."z" <= 5`,
		`ORDER BY n."updatedAt" DESC`,
	}
	for _, fragment := range expectedFragments {
		if !strings.Contains(statement, fragment) {
			t.Fatalf("expected fragment %s in %s", fragment, statement)
		}
	}
}

func TestGetRoutesForNoteSortsStepsByIndex(t *testing.T) {
	stub := newStubIndexer()
	noteID := noteIDFor("7")
	stub.respond("WaypointGroup", resultOf(groupColumns, `[
		["`+noteID+`",2,"Second","#00f",true],
		["`+noteID+`",1,"First","#f00",false]
	]`))
	stub.respond("WaypointStep", resultOf(stepColumns, `[
		["`+noteID+`",1,3,30,0,0,"c"],
		["`+noteID+`",2,1,1,1,1,"x"],
		["`+noteID+`",1,1,10,0,0,"a"],
		["`+noteID+`",1,2,20,0,0,"b"],
		["`+noteID+`",9,1,0,0,0,"orphan"]
	]`))
	service := newTestService(t, stub)

	groups, err := service.GetRoutesForNote(context.Background(), noteID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if groups[0].GroupID != 1 || groups[1].GroupID != 2 {
		t.Fatalf("expected groups ordered by id, got %d, %d", groups[0].GroupID, groups[1].GroupID)
	}
	labels := make([]string, 0, len(groups[0].Steps))
	for _, step := range groups[0].Steps {
		labels = append(labels, step.Label)
	}
	if strings.Join(labels, "") != "abc" {
		t.Fatalf("expected steps sorted by index, got %v", labels)
	}
	if len(groups[1].Steps) != 1 || !groups[1].Visible {
		t.Fatalf("unexpected second group %#v", groups[1])
	}
}

func TestGetNoteLink(t *testing.T) {
	stub := newStubIndexer()
	noteID := noteIDFor("9")
	entityID := noteIDFor("e")
	stub.respond("NoteLink", resultOf(linkColumns, `[["`+noteID+`","0x`+strings.ToUpper(entityID[2:])+`",1,2,3]]`))
	service := newTestService(t, stub)

	link, err := service.GetNoteLink(context.Background(), noteID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if link == nil || link.X != 1 || link.Z != 3 || link.EntityID != entityID {
		t.Fatalf("unexpected link %#v", link)
	}
}

func TestNewServiceValidatesConfig(t *testing.T) {
	if _, err := NewService(ServiceConfig{}); err == nil {
		t.Fatalf("expected missing indexer error")
	}
	if _, err := NewService(ServiceConfig{Indexer: newStubIndexer(), WorldAddress: testWorldAddress, Namespace: "this-is-too-long-for-a-namespace"}); err == nil {
		t.Fatalf("expected namespace error")
	}
}
