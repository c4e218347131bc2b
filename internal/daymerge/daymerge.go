// Package daymerge reconciles per-day rollups from the server store and the
// local store into one canonical set. Both merge modes are conservative:
// counts never move down and a day present on either side is always kept.
package daymerge

import (
	"sort"
	"time"

	"github.com/vidlens/trendsync/internal/daykey"
	"github.com/vidlens/trendsync/internal/record/domain"
	"go.uber.org/zap"
)

// MergeMode selects how the two sides are combined.
type MergeMode string

const (
	// ModeOverwrite takes the server aggregate as base and only raises counts.
	ModeOverwrite MergeMode = "overwrite"
	// ModeUnion additionally carries provenance fields and sums pending work.
	ModeUnion MergeMode = "union"
)

// Conflict records a day both sides contributed, with both originals and the
// resolution taken. Conflicts are expected steady-state behavior, not errors.
type Conflict struct {
	DayKey     string              `json:"day_key"`
	Server     domain.DayAggregate `json:"server"`
	Local      domain.DayAggregate `json:"local"`
	Resolution string              `json:"resolution"`
}

// Stats summarizes one merge pass.
type Stats struct {
	ServerDays int `json:"server_days"`
	LocalDays  int `json:"local_days"`
	MergedDays int `json:"merged_days"`
	Conflicts  int `json:"conflicts"`
}

// MergeResult is the outcome of MergeDays.
type MergeResult struct {
	MergedDays []*domain.DayAggregate `json:"merged_days"`
	Conflicts  []Conflict             `json:"conflicts"`
	Stats      Stats                  `json:"stats"`
}

// Service merges day aggregates. Pure: it never touches storage.
type Service struct {
	log *zap.Logger
	loc *time.Location
}

func NewService(log *zap.Logger, loc *time.Location) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{log: log.Named("daymerge"), loc: loc}
}

// NormalizeDayKey returns the canonical YYYY-MM-DD form of input. On parse
// failure it returns the input unchanged and logs a warning; it never fails.
func (s *Service) NormalizeDayKey(input string) string {
	normalized, ok := daykey.Normalize(input, s.loc)
	if !ok {
		s.log.Warn("unparseable day key left as-is", zap.String("day_key", input))
	}
	return normalized
}

// MergeDays merges the server and local day sets. Every day present in either
// input appears exactly once in the output, sorted most recent first.
func (s *Service) MergeDays(serverDays, localDays []*domain.DayAggregate, mode MergeMode) MergeResult {
	serverByDay := s.index(serverDays)
	localByDay := s.index(localDays)

	keys := make(map[string]struct{}, len(serverByDay)+len(localByDay))
	for key := range serverByDay {
		keys[key] = struct{}{}
	}
	for key := range localByDay {
		keys[key] = struct{}{}
	}

	result := MergeResult{
		MergedDays: make([]*domain.DayAggregate, 0, len(keys)),
		Conflicts:  []Conflict{},
		Stats: Stats{
			ServerDays: len(serverByDay),
			LocalDays:  len(localByDay),
		},
	}

	for key := range keys {
		server, hasServer := serverByDay[key]
		local, hasLocal := localByDay[key]

		switch {
		case hasServer && hasLocal:
			merged := mergeDay(server, local, mode)
			result.MergedDays = append(result.MergedDays, &merged)
			result.Conflicts = append(result.Conflicts, Conflict{
				DayKey:     key,
				Server:     server,
				Local:      local,
				Resolution: resolution(server, local, merged),
			})
		case hasServer:
			day := server
			result.MergedDays = append(result.MergedDays, &day)
		default:
			day := local
			result.MergedDays = append(result.MergedDays, &day)
		}
	}

	sort.Slice(result.MergedDays, func(i, j int) bool {
		return result.MergedDays[i].DayKey > result.MergedDays[j].DayKey
	})
	sort.Slice(result.Conflicts, func(i, j int) bool {
		return result.Conflicts[i].DayKey > result.Conflicts[j].DayKey
	})

	result.Stats.MergedDays = len(result.MergedDays)
	result.Stats.Conflicts = len(result.Conflicts)
	return result
}

// index normalizes day keys and collapses same-day duplicates within one side.
func (s *Service) index(days []*domain.DayAggregate) map[string]domain.DayAggregate {
	out := make(map[string]domain.DayAggregate, len(days))
	for _, day := range days {
		if day == nil {
			continue
		}
		normalized := *day
		normalized.DayKey = s.NormalizeDayKey(day.DayKey)
		if existing, ok := out[normalized.DayKey]; ok {
			out[normalized.DayKey] = mergeDay(existing, normalized, ModeUnion)
			continue
		}
		out[normalized.DayKey] = normalized
	}
	return out
}

// mergeDay folds one day with the server side as base. Counts are raised to
// the max of both sides, never lowered.
func mergeDay(server, local domain.DayAggregate, mode MergeMode) domain.DayAggregate {
	out := server
	out.Source = domain.SourceMerged

	if local.Total > out.Total {
		out.Total = local.Total
	}
	if local.Done > out.Done {
		out.Done = local.Done
	}
	if out.Done > out.Total {
		out.Total = out.Done
	}
	if local.UpdatedAt.After(out.UpdatedAt) {
		out.UpdatedAt = local.UpdatedAt
	}

	switch mode {
	case ModeUnion:
		if out.ItemsHash == "" {
			out.ItemsHash = local.ItemsHash
		}
		if server.PendingLocalOps > 0 && local.PendingLocalOps > 0 {
			out.PendingLocalOps = server.PendingLocalOps + local.PendingLocalOps
		} else if local.PendingLocalOps > out.PendingLocalOps {
			out.PendingLocalOps = local.PendingLocalOps
		}
	default:
		// overwrite mode drops local provenance but keeps pending work visible
		if local.PendingLocalOps > out.PendingLocalOps {
			out.PendingLocalOps = local.PendingLocalOps
		}
	}

	return out
}

func resolution(server, local, merged domain.DayAggregate) string {
	switch {
	case merged.Total == server.Total && merged.Done == server.Done:
		return "server"
	case merged.Total == local.Total && merged.Done == local.Done:
		return "local"
	default:
		return "mixed"
	}
}
