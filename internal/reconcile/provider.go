package reconcile

import (
	"context"
	"errors"
	"strings"

	"github.com/MarcoPoloResearchLab/dailydust/internal/indexer"
	"github.com/MarcoPoloResearchLab/dailydust/internal/query"
)

var forceFieldColumns = []string{"entityId", "x", "y", "z"}

var errMissingIndexer = errors.New("reconcile: indexer is required")

// Indexer runs one query against the world's table snapshots.
type Indexer interface {
	Query(ctx context.Context, queryText, address string) (indexer.Result, error)
}

type IndexerProviderConfig struct {
	Indexer      Indexer
	WorldAddress string
	Namespace    string
	Table        string
}

// IndexerSpatialProvider looks up force fields through the indexer, one query per cell.
type IndexerSpatialProvider struct {
	indexer      Indexer
	worldAddress string
	table        string
}

func NewIndexerSpatialProvider(cfg IndexerProviderConfig) (*IndexerSpatialProvider, error) {
	if cfg.Indexer == nil {
		return nil, errMissingIndexer
	}
	table, err := query.Table(cfg.Namespace, cfg.Table)
	if err != nil {
		return nil, err
	}
	return &IndexerSpatialProvider{
		indexer:      cfg.Indexer,
		worldAddress: strings.ToLower(strings.TrimSpace(cfg.WorldAddress)),
		table:        table,
	}, nil
}

func (p *IndexerSpatialProvider) ForceFieldAt(ctx context.Context, x, y, z int64) (*ForceField, error) {
	statement := query.NewSelect(query.Columns("", forceFieldColumns), p.table).
		Where(query.QuoteIdentifier("x") + " = " + query.QuoteInt(x)).
		Where(query.QuoteIdentifier("y") + " = " + query.QuoteInt(y)).
		Where(query.QuoteIdentifier("z") + " = " + query.QuoteInt(z)).
		Limit(1).
		String()
	result, err := p.indexer.Query(ctx, statement, p.worldAddress)
	if err != nil {
		return nil, err
	}
	records, err := result.Records(forceFieldColumns...)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	record := records[0]
	return &ForceField{
		EntityID: strings.ToLower(record["entityId"].String()),
		X:        record["x"].Int(),
		Y:        record["y"].Int(),
		Z:        record["z"].Int(),
	}, nil
}
