// internal/platform/tcx.go
package platform

import (
	"fmt"
	"strconv"
	"time"

	"github.com/beevik/etree"

	"github.com/xkilldash9x/fitbridge/api/schemas"
	"github.com/xkilldash9x/fitbridge/internal/network"
)

const tcxNamespace = "http://www.garmin.com/xmlschemas/TrainingCenterDatabase/v2"

// tcxSport maps the platform's sport types onto the values the TCX schema
// allows for the Activity Sport attribute. Everything without a direct TCX
// counterpart exports as Other.
func tcxSport(sport schemas.SportType) string {
	switch sport {
	case schemas.SportRunning:
		return "Running"
	case schemas.SportCycling:
		return "Biking"
	default:
		return "Other"
	}
}

// ExportTCX renders the workouts as a Training Center XML document, one
// Activity per workout. Workouts without track points still export with
// their lap summary.
func ExportTCX(workouts []schemas.Workout) ([]byte, error) {
	if len(workouts) == 0 {
		return nil, network.NewValidationError("no workouts to export", nil)
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("TrainingCenterDatabase")
	root.CreateAttr("xmlns", tcxNamespace)
	root.CreateAttr("xmlns:xsi", "http://www.w3.org/2001/XMLSchema-instance")

	activities := root.CreateElement("Activities")
	for _, workout := range workouts {
		if err := appendActivity(activities, workout); err != nil {
			return nil, err
		}
	}

	doc.Indent(2)
	return doc.WriteToBytes()
}

func appendActivity(parent *etree.Element, workout schemas.Workout) error {
	if workout.StartTime.IsZero() {
		return network.NewValidationError(
			fmt.Sprintf("workout %q has no start time", workout.Name), nil)
	}
	startTime := workout.StartTime.UTC().Format(time.RFC3339)

	activity := parent.CreateElement("Activity")
	activity.CreateAttr("Sport", tcxSport(workout.Sport))
	// The TCX schema defines the Id element as the activity's start time.
	activity.CreateElement("Id").SetText(startTime)

	lap := activity.CreateElement("Lap")
	lap.CreateAttr("StartTime", startTime)
	lap.CreateElement("TotalTimeSeconds").SetText(strconv.Itoa(workout.DurationSeconds))
	if workout.DistanceMeters > 0 {
		lap.CreateElement("DistanceMeters").SetText(formatFloat(workout.DistanceMeters))
	}
	if workout.Calories > 0 {
		lap.CreateElement("Calories").SetText(strconv.Itoa(workout.Calories))
	}
	if workout.AvgHeartRateBPM > 0 {
		lap.CreateElement("AverageHeartRateBpm").
			CreateElement("Value").SetText(strconv.Itoa(workout.AvgHeartRateBPM))
	}
	if workout.MaxHeartRateBPM > 0 {
		lap.CreateElement("MaximumHeartRateBpm").
			CreateElement("Value").SetText(strconv.Itoa(workout.MaxHeartRateBPM))
	}
	lap.CreateElement("Intensity").SetText("Active")
	lap.CreateElement("TriggerMethod").SetText("Manual")

	if len(workout.Points) > 0 {
		track := lap.CreateElement("Track")
		for _, point := range workout.Points {
			appendTrackpoint(track, point)
		}
	}

	if workout.Description != "" {
		activity.CreateElement("Notes").SetText(workout.Description)
	}
	return nil
}

func appendTrackpoint(track *etree.Element, point schemas.TrackPoint) {
	tp := track.CreateElement("Trackpoint")
	tp.CreateElement("Time").SetText(point.Time.UTC().Format(time.RFC3339))

	// (0, 0) is how the platform reports samples without a GPS fix; those
	// trackpoints export without a Position.
	if point.LatitudeDeg != 0 || point.LongitudeDeg != 0 {
		position := tp.CreateElement("Position")
		position.CreateElement("LatitudeDegrees").SetText(formatFloat(point.LatitudeDeg))
		position.CreateElement("LongitudeDegrees").SetText(formatFloat(point.LongitudeDeg))
	}
	if point.AltitudeMeters != 0 {
		tp.CreateElement("AltitudeMeters").SetText(formatFloat(point.AltitudeMeters))
	}
	if point.DistanceMeters > 0 {
		tp.CreateElement("DistanceMeters").SetText(formatFloat(point.DistanceMeters))
	}
	if point.HeartRateBPM > 0 {
		tp.CreateElement("HeartRateBpm").
			CreateElement("Value").SetText(strconv.Itoa(point.HeartRateBPM))
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
