package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/pageforge/chrono"
	"github.com/pageforge/chrono/id"
	"github.com/pageforge/chrono/job"
)

// InsertJob persists a new job.
func (s *Store) InsertJob(ctx context.Context, j *job.Job) error {
	if _, err := s.jobs().InsertOne(ctx, toJobModel(j)); err != nil {
		if isDuplicateKey(err) {
			return chrono.ErrJobAlreadyExists
		}
		return fmt.Errorf("chrono/mongo: insert job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var m jobModel
	err := s.jobs().FindOne(ctx, bson.M{"_id": jobID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, chrono.ErrJobNotFound
		}
		return nil, fmt.Errorf("chrono/mongo: get job: %w", err)
	}
	return fromJobModel(&m)
}

// ClaimDue atomically claims up to limit due jobs, one FindOneAndUpdate per
// job. Single-document atomicity means no two schedulers can claim the same
// job. Cron templates are excluded; the trigger manager drives those.
func (s *Store) ClaimDue(ctx context.Context, limit int) ([]*job.Job, error) {
	t := now()
	col := s.jobs()
	jobs := make([]*job.Job, 0, limit)

	for i := 0; i < limit; i++ {
		filter := bson.M{
			"status": string(job.StatusPending),
			"kind":   bson.M{"$ne": string(job.KindCron)},
			"$or": []bson.M{
				{"run_immediately": true},
				{"next_run_at": bson.M{"$lte": t}},
			},
		}

		update := bson.M{
			"$set": bson.M{
				"status":          string(job.StatusRunning),
				"started_at":      t,
				"run_immediately": false,
				"updated_at":      t,
			},
		}

		opts := options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetSort(bson.D{
				{Key: "priority", Value: -1},
				{Key: "next_run_at", Value: 1},
			})

		var m jobModel
		err := col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
		if err != nil {
			if isNoDocuments(err) {
				break
			}
			return nil, fmt.Errorf("chrono/mongo: claim due jobs: %w", err)
		}

		j, convErr := fromJobModel(&m)
		if convErr != nil {
			return nil, fmt.Errorf("chrono/mongo: claim convert: %w", convErr)
		}
		jobs = append(jobs, j)
	}

	return jobs, nil
}

// UpdateJob persists changes to an existing job unconditionally.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	m := toJobModel(j)
	m.UpdatedAt = now()
	res, err := s.jobs().ReplaceOne(ctx, bson.M{"_id": m.ID}, m)
	if err != nil {
		return fmt.Errorf("chrono/mongo: update job: %w", err)
	}
	if res.MatchedCount == 0 {
		return chrono.ErrJobNotFound
	}
	return nil
}

// UpdateJobIf persists j only if the stored status equals expect. The status
// guard rides in the replace filter, so the compare-and-swap is atomic.
func (s *Store) UpdateJobIf(ctx context.Context, j *job.Job, expect job.Status) (bool, error) {
	m := toJobModel(j)
	m.UpdatedAt = now()
	res, err := s.jobs().ReplaceOne(ctx,
		bson.M{"_id": m.ID, "status": string(expect)}, m,
	)
	if err != nil {
		return false, fmt.Errorf("chrono/mongo: conditional update job: %w", err)
	}
	if res.MatchedCount == 0 {
		// Distinguish a failed precondition from a missing document.
		count, countErr := s.jobs().CountDocuments(ctx, bson.M{"_id": m.ID})
		if countErr != nil {
			return false, fmt.Errorf("chrono/mongo: conditional update job: %w", countErr)
		}
		if count == 0 {
			return false, chrono.ErrJobNotFound
		}
		return false, nil
	}
	return true, nil
}

// ListJobs returns jobs matching the filter with the total match count.
func (s *Store) ListJobs(ctx context.Context, f job.Filter, opts job.ListOpts) ([]*job.Job, int64, error) {
	col := s.jobs()
	filter := buildFilter(f)

	total, err := col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("chrono/mongo: count jobs: %w", err)
	}

	findOpts := options.Find().SetSort(bson.D{{Key: sortKey(opts.SortBy), Value: sortOrder(opts.Desc)}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := col.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, 0, fmt.Errorf("chrono/mongo: list jobs: %w", err)
	}
	defer cursor.Close(ctx)

	var models []jobModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, 0, fmt.Errorf("chrono/mongo: list jobs decode: %w", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, 0, fmt.Errorf("chrono/mongo: list jobs convert: %w", convErr)
		}
		jobs = append(jobs, j)
	}
	return jobs, total, nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.jobs().DeleteOne(ctx, bson.M{"_id": jobID.String()})
	if err != nil {
		return fmt.Errorf("chrono/mongo: delete job: %w", err)
	}
	if res.DeletedCount == 0 {
		return chrono.ErrJobNotFound
	}
	return nil
}

// DeleteJobs removes all jobs matching the filter.
func (s *Store) DeleteJobs(ctx context.Context, f job.Filter) (int64, error) {
	res, err := s.jobs().DeleteMany(ctx, buildFilter(f))
	if err != nil {
		return 0, fmt.Errorf("chrono/mongo: delete jobs: %w", err)
	}
	return res.DeletedCount, nil
}

// DistinctNames returns the distinct handler names among matching jobs.
func (s *Store) DistinctNames(ctx context.Context, f job.Filter) ([]string, error) {
	res := s.jobs().Distinct(ctx, "name", buildFilter(f))
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("chrono/mongo: distinct names: %w", err)
	}

	var names []string
	if err := res.Decode(&names); err != nil {
		return nil, fmt.Errorf("chrono/mongo: distinct names decode: %w", err)
	}
	return names, nil
}

// buildFilter renders a Filter to a bson query document.
func buildFilter(f job.Filter) bson.M {
	filter := bson.M{}

	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		filter["status"] = bson.M{"$in": statuses}
	}
	if f.Name != "" {
		filter["name"] = f.Name
	}
	if f.Kind != "" {
		filter["kind"] = string(f.Kind)
	}
	if len(f.Tags) > 0 {
		filter["tags"] = bson.M{"$all": f.Tags}
	}

	created := bson.M{}
	if f.CreatedAfter != nil {
		created["$gt"] = *f.CreatedAfter
	}
	if f.CreatedBefore != nil {
		created["$lt"] = *f.CreatedBefore
	}
	if len(created) > 0 {
		filter["created_at"] = created
	}

	if f.OlderThan != nil {
		filter["updated_at"] = bson.M{"$lt": *f.OlderThan}
	}

	return filter
}

func sortKey(by job.SortField) string {
	switch by {
	case job.SortByUpdatedAt, job.SortByNextRunAt, job.SortByPriority, job.SortByName:
		return string(by)
	default:
		return string(job.SortByCreatedAt)
	}
}

func sortOrder(desc bool) int {
	if desc {
		return -1
	}
	return 1
}
