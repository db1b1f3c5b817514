package notes

import (
	"context"
	"sort"

	"github.com/MarcoPoloResearchLab/dailydust/internal/indexer"
	"github.com/MarcoPoloResearchLab/dailydust/internal/query"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// GetRoutesForNote loads groups and steps in parallel and attaches each group's steps sorted by index.
func (s *Service) GetRoutesForNote(ctx context.Context, rawNoteID string) ([]WaypointGroup, error) {
	idLiteral, err := query.QuoteHex32(rawNoteID)
	if err != nil {
		s.logError(opGetRoutes, reasonInvalidID, err, zap.String(fieldNoteID, rawNoteID))
		return nil, newServiceError(opGetRoutes, reasonInvalidID, err)
	}
	noteFilter := query.QuoteIdentifier("noteId") + " = " + idLiteral
	groupStatement := query.NewSelect(query.Columns("", groupColumns), s.tables.group).
		Where(noteFilter).
		OrderBy(query.QuoteIdentifier("groupId") + " ASC").
		String()
	stepStatement := query.NewSelect(query.Columns("", stepColumns), s.tables.step).
		Where(noteFilter).
		OrderBy(query.QuoteIdentifier("groupId") + " ASC").
		OrderBy(query.QuoteIdentifier("stepIndex") + " ASC").
		String()

	var groupRecords, stepRecords []indexer.Record
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		records, err := s.fetchRecords(groupCtx, opGetRoutes, groupStatement, groupColumns)
		groupRecords = records
		return err
	})
	group.Go(func() error {
		records, err := s.fetchRecords(groupCtx, opGetRoutes, stepStatement, stepColumns)
		stepRecords = records
		return err
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}

	return assembleRoutes(groupRecords, stepRecords, s.loggerOrDefault()), nil
}

func assembleRoutes(groupRecords, stepRecords []indexer.Record, logger *zap.Logger) []WaypointGroup {
	stepsByGroup := make(map[int64][]WaypointStep)
	for _, record := range stepRecords {
		step := MapStepRow(record)
		stepsByGroup[step.GroupID] = append(stepsByGroup[step.GroupID], step)
	}

	groups := make([]WaypointGroup, 0, len(groupRecords))
	for _, record := range groupRecords {
		group := MapGroupRow(record)
		steps := stepsByGroup[group.GroupID]
		// The indexer does not promise ORDER BY stability, so steps are re-sorted here.
		sort.SliceStable(steps, func(i, j int) bool {
			return steps[i].Index < steps[j].Index
		})
		if steps == nil {
			steps = []WaypointStep{}
		}
		group.Steps = steps
		delete(stepsByGroup, group.GroupID)
		groups = append(groups, group)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].GroupID < groups[j].GroupID
	})

	for groupID, orphans := range stepsByGroup {
		logger.Debug("dropping route steps without a group",
			zap.Int64("group_id", groupID),
			zap.Int("steps", len(orphans)))
	}
	return groups
}
