package permutation

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"fulcrum/internal/models"

	"gorm.io/gorm"
)

// Service issues trial-sequence permutations for studies and answers
// coverage queries over historical trials.
type Service struct {
	db     *gorm.DB
	cache  *Cache
	rng    *rand.Rand
	budget time.Duration
}

// NewService creates a permutation service. cache may be nil; used-hash sets
// are then rebuilt from the database on every request.
func NewService(db *gorm.DB, cache *Cache) *Service {
	return &Service{
		db:     db,
		cache:  cache,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		budget: SearchBudget,
	}
}

// Result is a generated sequence plus how it was obtained.
type Result struct {
	Sequence []Pair `json:"new_perm"`
	Status   Status `json:"status_msg"`
}

// NewPerm generates a trial sequence of the requested length for a study,
// unique against all sequences issued to the study's prior sessions when the
// space allows it.
func (s *Service) NewPerm(ctx context.Context, studyID uint, trialCount int) (*Result, error) {
	if trialCount <= 0 {
		return nil, fmt.Errorf("trial count must be positive, got %d", trialCount)
	}

	var study models.Study
	if err := s.db.WithContext(ctx).First(&study, "study_id = ?", studyID).Error; err != nil {
		return nil, fmt.Errorf("study %d not found: %w", studyID, err)
	}

	var taskIDs []uint
	if err := s.db.WithContext(ctx).Model(&models.Task{}).
		Where("study_id = ?", studyID).
		Order("task_id").
		Pluck("task_id", &taskIDs).Error; err != nil {
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}

	var factorIDs []uint
	if err := s.db.WithContext(ctx).Model(&models.Factor{}).
		Where("study_id = ?", studyID).
		Order("factor_id").
		Pluck("factor_id", &factorIDs).Error; err != nil {
		return nil, fmt.Errorf("failed to load factors: %w", err)
	}

	if len(taskIDs) == 0 || len(factorIDs) == 0 {
		return nil, fmt.Errorf("study %d has no tasks or no factors", studyID)
	}

	used, err := s.usedHashes(ctx, studyID)
	if err != nil {
		return nil, err
	}

	var sequence []Pair
	var status Status
	switch study.DesignType {
	case models.DesignWithin:
		sequence, status = WithinPerm(s.rng, taskIDs, factorIDs, trialCount, used, s.budget)
	case models.DesignBetween:
		sequence, status = BetweenPerm(s.rng, taskIDs, factorIDs, trialCount, used, s.budget)
	default:
		return nil, fmt.Errorf("invalid study design type %q", study.DesignType)
	}

	if status == StatusError {
		return nil, fmt.Errorf("failed to generate permutation for study %d", studyID)
	}

	return &Result{Sequence: sequence, Status: status}, nil
}

// usedHashes summarizes every prior session's trial sequence as a hash set.
// The cache, when present, avoids re-walking the trial table; it is
// invalidated by the ingest path whenever new trials land.
func (s *Service) usedHashes(ctx context.Context, studyID uint) (map[string]struct{}, error) {
	if s.cache != nil {
		if hashes, ok := s.cache.UsedHashes(ctx, studyID); ok {
			return hashes, nil
		}
	}

	type trialRow struct {
		ParticipantSessionID uint
		TaskID               uint
		FactorID             uint
	}
	var rows []trialRow
	if err := s.db.WithContext(ctx).Model(&models.Trial{}).
		Select("trial.participant_session_id, trial.task_id, trial.factor_id").
		Joins("JOIN participant_session ps ON ps.participant_session_id = trial.participant_session_id").
		Where("ps.study_id = ?", studyID).
		Order("trial.participant_session_id, trial.started_at").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load prior trial sequences: %w", err)
	}

	sequences := make(map[uint][]Pair)
	var sessionOrder []uint
	for _, row := range rows {
		if _, seen := sequences[row.ParticipantSessionID]; !seen {
			sessionOrder = append(sessionOrder, row.ParticipantSessionID)
		}
		sequences[row.ParticipantSessionID] = append(sequences[row.ParticipantSessionID],
			Pair{TaskID: row.TaskID, FactorID: row.FactorID})
	}

	used := make(map[string]struct{}, len(sequences))
	for _, sessionID := range sessionOrder {
		used[Hash(sequences[sessionID])] = struct{}{}
	}

	if s.cache != nil {
		s.cache.StoreUsedHashes(ctx, studyID, used)
	}
	return used, nil
}

// PreviousSessionLength returns the trial count of the study's most recent
// session, or nil when the study has no sessions yet. Facilitators use it to
// keep sequence lengths consistent across sessions.
func (s *Service) PreviousSessionLength(ctx context.Context, studyID uint) (*int, error) {
	var sessionID uint
	err := s.db.WithContext(ctx).Model(&models.ParticipantSession{}).
		Where("study_id = ?", studyID).
		Order("created_at DESC").
		Limit(1).
		Pluck("participant_session_id", &sessionID).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find latest session: %w", err)
	}
	if sessionID == 0 {
		return nil, nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Trial{}).
		Where("participant_session_id = ?", sessionID).
		Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to count trials: %w", err)
	}
	if count == 0 {
		return nil, nil
	}

	length := int(count)
	return &length, nil
}

// TrialOccurrences builds the task_name x factor_name coverage matrix over
// every trial the study has run.
func (s *Service) TrialOccurrences(ctx context.Context, studyID uint) (map[string]map[string]int, error) {
	type occRow struct {
		TaskName   string
		FactorName string
	}
	var rows []occRow
	if err := s.db.WithContext(ctx).Model(&models.Trial{}).
		Select("task.name AS task_name, factor.name AS factor_name").
		Joins("JOIN task ON task.task_id = trial.task_id").
		Joins("JOIN factor ON factor.factor_id = trial.factor_id").
		Joins("JOIN participant_session ps ON ps.participant_session_id = trial.participant_session_id").
		Where("ps.study_id = ?", studyID).
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load trial occurrences: %w", err)
	}

	matrix := make(map[string]map[string]int)
	for _, row := range rows {
		if matrix[row.TaskName] == nil {
			matrix[row.TaskName] = make(map[string]int)
		}
		matrix[row.TaskName][row.FactorName]++
	}
	return matrix, nil
}

// InvalidateUsed drops the cached used-hash set for a study. Called by the
// ingest path after new trials are persisted.
func (s *Service) InvalidateUsed(ctx context.Context, studyID uint) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, studyID)
	}
}
