package notes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/dailydust/internal/indexer"
	"github.com/MarcoPoloResearchLab/dailydust/internal/query"
	"go.uber.org/zap"
)

var (
	errMissingIndexer      = errors.New("indexer is required")
	errMissingWorldAddress = errors.New("world address is required")
	noOpLogger             = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew       = "notes.service.new"
	opListNotes        = "notes.list_notes"
	opGetNote          = "notes.get_note"
	opListNotesNear    = "notes.list_notes_near"
	opListTrending     = "notes.list_trending"
	opGetRoutes        = "notes.get_routes"
	opGetNoteLink      = "notes.get_note_link"
	fieldNoteID        = "note_id"
	reasonQueryFailed  = "query_failed"
	reasonBadColumns   = "column_mismatch"
	reasonInvalidID    = "invalid_note_id"
	reasonInvalidOwner = "invalid_owner"
	defaultLimit       = 100

	tableNote          = "Note"
	tableNoteLink      = "NoteLink"
	tableWaypointGroup = "WaypointGroup"
	tableWaypointStep  = "WaypointStep"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// Indexer runs one query against the world's table snapshots.
type Indexer interface {
	Query(ctx context.Context, queryText, address string) (indexer.Result, error)
}

type ServiceConfig struct {
	Indexer      Indexer
	WorldAddress string
	Namespace    string
	Clock        func() time.Time
	Logger       *zap.Logger
}

// Service composes query construction, the indexer and row mappers into note and route reads.
type Service struct {
	indexer      Indexer
	worldAddress string
	tables       tableNames
	clock        func() time.Time
	logger       *zap.Logger
}

type tableNames struct {
	note  string
	link  string
	group string
	step  string
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Indexer == nil {
		return nil, newServiceError(opServiceNew, "missing_indexer", errMissingIndexer)
	}
	worldAddress := strings.ToLower(strings.TrimSpace(cfg.WorldAddress))
	if worldAddress == "" {
		return nil, newServiceError(opServiceNew, "missing_world_address", errMissingWorldAddress)
	}

	tables, err := resolveTables(cfg.Namespace)
	if err != nil {
		return nil, newServiceError(opServiceNew, "invalid_namespace", err)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		indexer:      cfg.Indexer,
		worldAddress: worldAddress,
		tables:       tables,
		clock:        clock,
		logger:       logger,
	}, nil
}

func resolveTables(namespace string) (tableNames, error) {
	var names tableNames
	var err error
	if names.note, err = query.Table(namespace, tableNote); err != nil {
		return tableNames{}, err
	}
	if names.link, err = query.Table(namespace, tableNoteLink); err != nil {
		return tableNames{}, err
	}
	if names.group, err = query.Table(namespace, tableWaypointGroup); err != nil {
		return tableNames{}, err
	}
	if names.step, err = query.Table(namespace, tableWaypointStep); err != nil {
		return tableNames{}, err
	}
	return names, nil
}

// ListFilters narrows ListNotes. Zero values disable a filter.
type ListFilters struct {
	Owner       string
	UpdatedFrom *int64
	UpdatedTo   *int64
	BoostedOnly bool
	Tag         string
	Search      string
}

// Pager carries LIMIT/OFFSET. A non-positive limit falls back to 100.
type Pager struct {
	Limit  int64
	Offset int64
}

func (p Pager) normalized() Pager {
	if p.Limit <= 0 {
		p.Limit = defaultLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// ListNotes returns notes matching filters ordered by updatedAt DESC.
func (s *Service) ListNotes(ctx context.Context, filters ListFilters, pager Pager) ([]Note, error) {
	statement, err := s.buildListNotesQuery(filters, pager)
	if err != nil {
		s.logError(opListNotes, reasonInvalidOwner, err)
		return nil, newServiceError(opListNotes, reasonInvalidOwner, err)
	}
	return s.fetchNotes(ctx, opListNotes, statement)
}

func (s *Service) buildListNotesQuery(filters ListFilters, pager Pager) (string, error) {
	pager = pager.normalized()
	statement := query.NewSelect(query.Columns("", noteColumns), s.tables.note)

	if strings.TrimSpace(filters.Owner) != "" {
		owner, err := NormalizeAccount(filters.Owner)
		if err != nil {
			return "", err
		}
		statement.Where(query.QuoteIdentifier("owner") + " = " + query.QuoteString(owner))
	}
	if filters.UpdatedFrom != nil {
		statement.Where(query.QuoteIdentifier("updatedAt") + " >= " + query.QuoteInt(*filters.UpdatedFrom))
	}
	if filters.UpdatedTo != nil {
		statement.Where(query.QuoteIdentifier("updatedAt") + " <= " + query.QuoteInt(*filters.UpdatedTo))
	}
	if filters.BoostedOnly {
		statement.Where(query.QuoteIdentifier("boostUntil") + " > " + query.QuoteInt(s.clock().Unix()))
	}
	if tag := strings.TrimSpace(filters.Tag); tag != "" {
		tags := query.QuoteIdentifier("tags")
		statement.Where(query.AnyOf(
			query.Contains(tags, `"`+tag+`"`),
			query.Contains(tags, tag),
		))
	}
	if search := strings.ToLower(strings.TrimSpace(filters.Search)); search != "" {
		statement.Where(query.AnyOf(
			query.Contains("LOWER("+query.QuoteIdentifier("title")+")", search),
			query.Contains("LOWER("+query.QuoteIdentifier("content")+")", search),
		))
	}

	statement.OrderBy(query.QuoteIdentifier("updatedAt") + " DESC").
		Limit(pager.Limit).
		Offset(pager.Offset)
	return statement.String(), nil
}

// GetNoteByID returns the note or nil when the indexer has no such row.
func (s *Service) GetNoteByID(ctx context.Context, rawID string) (*Note, error) {
	idLiteral, err := query.QuoteHex32(rawID)
	if err != nil {
		s.logError(opGetNote, reasonInvalidID, err, zap.String(fieldNoteID, rawID))
		return nil, newServiceError(opGetNote, reasonInvalidID, err)
	}
	statement := query.NewSelect(query.Columns("", noteColumns), s.tables.note).
		Where(query.QuoteIdentifier("id") + " = " + idLiteral).
		Limit(1).
		String()

	notes, err := s.fetchNotes(ctx, opGetNote, statement)
	if err != nil {
		return nil, err
	}
	if len(notes) == 0 {
		return nil, nil
	}
	return &notes[0], nil
}

// ProximityBox is the axis-aligned search region [c-radius, c+radius] on every axis.
// It is not a sphere: corners at distance radius*sqrt(3) still match.
type ProximityBox struct {
	MinX, MaxX int64
	MinY, MaxY int64
	MinZ, MaxZ int64
}

// NewProximityBox centres a box on (x, y, z).
func NewProximityBox(x, y, z, radius int64) ProximityBox {
	if radius < 0 {
		radius = -radius
	}
	return ProximityBox{
		MinX: x - radius, MaxX: x + radius,
		MinY: y - radius, MaxY: y + radius,
		MinZ: z - radius, MaxZ: z + radius,
	}
}

// Contains reports whether the point lies inside the box, bounds inclusive.
func (b ProximityBox) Contains(x, y, z int64) bool {
	return x >= b.MinX && x <= b.MaxX &&
		y >= b.MinY && y <= b.MaxY &&
		z >= b.MinZ && z <= b.MaxZ
}

func (b ProximityBox) predicates(alias string) []string {
	axis := func(column string, lower, upper int64) string {
		reference := alias + "." + query.QuoteIdentifier(column)
		return reference + " >= " + query.QuoteInt(lower) + " AND " + reference + " <= " + query.QuoteInt(upper)
	}
	return []string{
		axis("x", b.MinX, b.MaxX),
		axis("y", b.MinY, b.MaxY),
		axis("z", b.MinZ, b.MaxZ),
	}
}

// ListNotesNear returns distinct notes with at least one route step inside the proximity box.
func (s *Service) ListNotesNear(ctx context.Context, x, y, z, radius int64) ([]Note, error) {
	statement := s.buildNearQuery(NewProximityBox(x, y, z, radius))
	return s.fetchNotes(ctx, opListNotesNear, statement)
}

func (s *Service) buildNearQuery(box ProximityBox) string {
	statement := query.NewSelect(query.Columns("n", noteColumns), s.tables.note+" n").
		Distinct().
		InnerJoin(s.tables.step+" s", "s."+query.QuoteIdentifier("noteId")+" = n."+query.QuoteIdentifier("id"))
	for _, predicate := range box.predicates("s") {
		statement.Where(predicate)
	}
	return statement.OrderBy("n." + query.QuoteIdentifier("updatedAt") + " DESC").String()
}

// ListBoosted returns notes whose boost has not expired.
func (s *Service) ListBoosted(ctx context.Context, pager Pager) ([]Note, error) {
	return s.ListNotes(ctx, ListFilters{BoostedOnly: true}, pager)
}

// ListTrending orders notes by tips, breaking ties by recency.
func (s *Service) ListTrending(ctx context.Context, pager Pager) ([]Note, error) {
	pager = pager.normalized()
	statement := query.NewSelect(query.Columns("", noteColumns), s.tables.note).
		OrderBy(query.QuoteIdentifier("totalTips") + " DESC").
		OrderBy(query.QuoteIdentifier("updatedAt") + " DESC").
		Limit(pager.Limit).
		Offset(pager.Offset).
		String()
	return s.fetchNotes(ctx, opListTrending, statement)
}

// GetNoteLink returns the location anchor of a note or nil when none is recorded.
func (s *Service) GetNoteLink(ctx context.Context, rawNoteID string) (*NoteLink, error) {
	idLiteral, err := query.QuoteHex32(rawNoteID)
	if err != nil {
		s.logError(opGetNoteLink, reasonInvalidID, err, zap.String(fieldNoteID, rawNoteID))
		return nil, newServiceError(opGetNoteLink, reasonInvalidID, err)
	}
	statement := query.NewSelect(query.Columns("", linkColumns), s.tables.link).
		Where(query.QuoteIdentifier("noteId") + " = " + idLiteral).
		Limit(1).
		String()

	records, err := s.fetchRecords(ctx, opGetNoteLink, statement, linkColumns)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	link := MapLinkRow(records[0])
	return &link, nil
}

func (s *Service) fetchNotes(ctx context.Context, operation, statement string) ([]Note, error) {
	records, err := s.fetchRecords(ctx, operation, statement, noteColumns)
	if err != nil {
		return nil, err
	}
	notes := make([]Note, 0, len(records))
	for _, record := range records {
		notes = append(notes, MapNoteRow(record))
	}
	return notes, nil
}

func (s *Service) fetchRecords(ctx context.Context, operation, statement string, columns []string) ([]indexer.Record, error) {
	result, err := s.indexer.Query(ctx, statement, s.worldAddress)
	if err != nil {
		s.logError(operation, reasonQueryFailed, err)
		return nil, newServiceError(operation, reasonQueryFailed, err)
	}
	records, err := result.Records(columns...)
	if err != nil {
		s.logError(operation, reasonBadColumns, err)
		return nil, newServiceError(operation, reasonBadColumns, err)
	}
	return records, nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("notes service error", attrs...)
}
