// internal/platform/client.go

// Package platform implements the typed client for the fitness platform's
// private REST API. It layers entity operations over the HTTP engine; all
// authentication, retry and cookie handling happens below in
// internal/network.
package platform

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/fitbridge/api/schemas"
	"github.com/xkilldash9x/fitbridge/internal/network"
)

const (
	pathProfile  = "api/user/profile"
	pathWorkouts = "api/workouts"

	// queryDateLayout is the platform's date format for range filters.
	queryDateLayout = "2006-01-02"

	// defaultPageLimit caps one listing call; the platform rejects larger
	// pages with a 400.
	defaultPageLimit = 100
)

// Client exposes the platform's private API as typed operations.
type Client struct {
	engine *network.Client
	logger *zap.Logger
}

// NewClient wraps the HTTP engine with the entity surface.
func NewClient(engine *network.Client, logger *zap.Logger) *Client {
	return &Client{
		engine: engine,
		logger: logger.Named("platform"),
	}
}

// Profile fetches the authenticated account's profile.
func (c *Client) Profile(ctx context.Context) (schemas.UserProfile, error) {
	outcome := c.engine.Get(ctx, pathProfile, nil)

	var profile schemas.UserProfile
	if err := outcome.DecodeJSON(&profile); err != nil {
		return schemas.UserProfile{}, err
	}
	if profile.ID == "" {
		return schemas.UserProfile{}, network.NewValidationError("profile response carried no id", nil)
	}

	c.logger.Debug("Fetched profile.", zap.String("user_id", profile.ID))
	return profile, nil
}

// Workouts lists workouts scheduled between from and to, inclusive.
func (c *Client) Workouts(ctx context.Context, from, to time.Time) (schemas.WorkoutList, error) {
	if to.Before(from) {
		return schemas.WorkoutList{}, network.NewValidationError(
			fmt.Sprintf("invalid date range: %s is after %s",
				from.Format(queryDateLayout), to.Format(queryDateLayout)), nil)
	}

	query := url.Values{}
	query.Set("startDate", from.Format(queryDateLayout))
	query.Set("endDate", to.Format(queryDateLayout))
	query.Set("limit", strconv.Itoa(defaultPageLimit))

	outcome := c.engine.Get(ctx, pathWorkouts, query)

	var list schemas.WorkoutList
	if err := outcome.DecodeJSON(&list); err != nil {
		return schemas.WorkoutList{}, err
	}

	c.logger.Debug("Listed workouts.",
		zap.Int("count", len(list.Workouts)),
		zap.Int("total", list.Total))
	return list, nil
}

// Workout fetches a single workout by id.
func (c *Client) Workout(ctx context.Context, id string) (schemas.Workout, error) {
	if id == "" {
		return schemas.Workout{}, network.NewValidationError("workout id is required", nil)
	}

	outcome := c.engine.Get(ctx, workoutPath(id), nil)

	var workout schemas.Workout
	if err := outcome.DecodeJSON(&workout); err != nil {
		return schemas.Workout{}, err
	}
	if workout.ID == "" {
		return schemas.Workout{}, network.NewValidationError("workout response carried no id", nil)
	}
	return workout, nil
}

// CreateWorkout creates a new workout and returns it with its platform id.
func (c *Client) CreateWorkout(ctx context.Context, workout schemas.Workout) (schemas.Workout, error) {
	if workout.Name == "" {
		return schemas.Workout{}, network.NewValidationError("workout name is required", nil)
	}
	if workout.Sport == "" {
		return schemas.Workout{}, network.NewValidationError("workout sport is required", nil)
	}

	outcome := c.engine.Post(ctx, pathWorkouts, workout)

	var created schemas.Workout
	if err := outcome.DecodeJSON(&created); err != nil {
		return schemas.Workout{}, err
	}
	if created.ID == "" {
		return schemas.Workout{}, network.NewValidationError("create response carried no id", nil)
	}

	c.logger.Info("Created workout.",
		zap.String("workout_id", created.ID),
		zap.String("name", created.Name))
	return created, nil
}

// UpdateWorkout applies a partial update and returns the updated workout.
// Nil patch fields leave the corresponding platform fields untouched.
func (c *Client) UpdateWorkout(ctx context.Context, id string, patch schemas.WorkoutPatch) (schemas.Workout, error) {
	if id == "" {
		return schemas.Workout{}, network.NewValidationError("workout id is required", nil)
	}
	if patch == (schemas.WorkoutPatch{}) {
		return schemas.Workout{}, network.NewValidationError("workout patch is empty", nil)
	}

	outcome := c.engine.Patch(ctx, workoutPath(id), patch)

	var updated schemas.Workout
	if err := outcome.DecodeJSON(&updated); err != nil {
		return schemas.Workout{}, err
	}
	if updated.ID == "" {
		return schemas.Workout{}, network.NewValidationError("update response carried no id", nil)
	}

	c.logger.Info("Updated workout.", zap.String("workout_id", updated.ID))
	return updated, nil
}

// DeleteWorkout removes a workout from the platform.
func (c *Client) DeleteWorkout(ctx context.Context, id string) error {
	if id == "" {
		return network.NewValidationError("workout id is required", nil)
	}

	outcome := c.engine.Delete(ctx, workoutPath(id))
	if outcome.Err != nil {
		return outcome.Err
	}

	c.logger.Info("Deleted workout.", zap.String("workout_id", id))
	return nil
}

func workoutPath(id string) string {
	return pathWorkouts + "/" + url.PathEscape(id)
}
