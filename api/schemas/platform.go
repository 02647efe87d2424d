package schemas

import "time"

// -- Platform Resource Schemas --

// SportType enumerates the activity categories the platform understands.
type SportType string

const (
	SportRunning  SportType = "RUNNING"
	SportCycling  SportType = "CYCLING"
	SportWalking  SportType = "WALKING"
	SportSwimming SportType = "SWIMMING"
	SportHiking   SportType = "HIKING"
	SportStrength SportType = "STRENGTH_TRAINING"
	SportOther    SportType = "OTHER"
)

// UserProfile is the account record returned by the users endpoint.
type UserProfile struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	Email       string    `json:"email"`
	Gender      string    `json:"gender,omitempty"`
	BirthDate   string    `json:"birth_date,omitempty"`
	WeightKG    float64   `json:"weight_kg,omitempty"`
	HeightCM    float64   `json:"height_cm,omitempty"`
	Premium     bool      `json:"premium"`
	CreatedAt   time.Time `json:"created_at"`
	LastLoginAt time.Time `json:"last_login_at,omitempty"`
}

// DisplayName returns a human readable name for the profile, falling back to
// the username when no real name is set.
func (p UserProfile) DisplayName() string {
	switch {
	case p.FirstName != "" && p.LastName != "":
		return p.FirstName + " " + p.LastName
	case p.FirstName != "":
		return p.FirstName
	default:
		return p.Username
	}
}

// TrackPoint is a single GPS/biometric sample inside a workout track.
type TrackPoint struct {
	Time           time.Time `json:"time"`
	LatitudeDeg    float64   `json:"latitude_deg"`
	LongitudeDeg   float64   `json:"longitude_deg"`
	AltitudeMeters float64   `json:"altitude_meters,omitempty"`
	DistanceMeters float64   `json:"distance_meters,omitempty"`
	HeartRateBPM   int       `json:"heart_rate_bpm,omitempty"`
}

// Workout is the platform's primary exercise record. A zero ID marks a
// workout that has not been created on the platform yet.
type Workout struct {
	ID              string       `json:"id,omitempty"`
	Name            string       `json:"name"`
	Description     string       `json:"description,omitempty"`
	Sport           SportType    `json:"sport"`
	StartTime       time.Time    `json:"start_time"`
	DurationSeconds int          `json:"duration_seconds"`
	DistanceMeters  float64      `json:"distance_meters,omitempty"`
	Calories        int          `json:"calories,omitempty"`
	AvgHeartRateBPM int          `json:"avg_heart_rate_bpm,omitempty"`
	MaxHeartRateBPM int          `json:"max_heart_rate_bpm,omitempty"`
	Points          []TrackPoint `json:"points,omitempty"`
}

// Duration returns the workout duration as a time.Duration.
func (w Workout) Duration() time.Duration {
	return time.Duration(w.DurationSeconds) * time.Second
}

// WorkoutPatch carries a partial update for an existing workout. Nil fields
// are left untouched on the platform.
type WorkoutPatch struct {
	Name        *string    `json:"name,omitempty"`
	Description *string    `json:"description,omitempty"`
	Sport       *SportType `json:"sport,omitempty"`
	Calories    *int       `json:"calories,omitempty"`
}

// WorkoutList is a page of workout summaries.
type WorkoutList struct {
	Workouts []Workout `json:"workouts"`
	Total    int       `json:"total"`
	Offset   int       `json:"offset"`
	Limit    int       `json:"limit"`
}
