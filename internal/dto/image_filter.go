// ImageFilters describe user-provided filters to narrow the analysis history.
package dto

import "time"

type ImageFilters struct {
	UserID     int64
	Object     string
	DateAfter  time.Time
	DateBefore time.Time
	Limit      int
	Offset     int
}
