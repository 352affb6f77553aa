package airquality

import "math"

// Category is a PM2.5 health band.
type Category string

const (
	CategoryGood          Category = "good"
	CategoryModerate      Category = "moderate"
	CategoryUnhealthy     Category = "unhealthy"
	CategoryVeryUnhealthy Category = "very_unhealthy"
	CategoryHazardous     Category = "hazardous"
)

type categoryInfo struct {
	upper  float64 // exclusive
	label  string
	color  string
	advice string
}

var categories = []struct {
	cat Category
	categoryInfo
}{
	{CategoryGood, categoryInfo{12, "Good", "00E400", "Air quality is satisfactory. Outdoor activities are encouraged."}},
	{CategoryModerate, categoryInfo{35.5, "Moderate", "FFFF00", "Air quality is acceptable. Sensitive individuals should consider limiting prolonged outdoor exertion."}},
	{CategoryUnhealthy, categoryInfo{55.5, "Unhealthy", "FF7E00", "Everyone may begin to experience health effects. Limit outdoor activities."}},
	{CategoryVeryUnhealthy, categoryInfo{150.5, "Very Unhealthy", "FF0000", "Health alert: the risk of health effects is increased for everyone. Avoid outdoor activities."}},
	{CategoryHazardous, categoryInfo{math.Inf(1), "Hazardous", "8F3F97", "Health warning of emergency conditions. Stay indoors and use air purifiers."}},
}

// CategoryFor classifies a PM2.5 concentration in ug/m3.
func CategoryFor(pm25 float64) Category {
	for _, c := range categories {
		if pm25 < c.upper {
			return c.cat
		}
	}
	return CategoryHazardous
}

func (c Category) info() categoryInfo {
	for _, e := range categories {
		if e.cat == c {
			return e.categoryInfo
		}
	}
	return categoryInfo{label: "Unknown"}
}

// Label is a human readable name.
func (c Category) Label() string { return c.info().label }

// Color is the hex RGB colour conventionally used for the band.
func (c Category) Color() string { return c.info().color }

// Advice is a short health recommendation.
func (c Category) Advice() string { return c.info().advice }
