package models

// ProductivityFilter represents query parameters for productivity lookups
type ProductivityFilter struct {
	Refresh bool `form:"refresh"`
}

// ReportFilter represents query parameters for composed productivity reports
type ReportFilter struct {
	Kind      string `form:"kind"`      // weekly, monthly, custom
	StartDate string `form:"startDate"` // YYYY-MM-DD
	EndDate   string `form:"endDate"`   // YYYY-MM-DD, required for custom
}

// ParkingFilter represents query parameters for parking periods
type ParkingFilter struct {
	Date string `form:"date" binding:"required"` // YYYY-MM-DD
}
