package domain

type RouterRequestLogin struct {
	Cookie string `json:"cookie" binding:"required"`
}

type RouterRequestImportRow struct {
	Title      string `json:"title"`
	Link       string `json:"link"`
	Password   string `json:"password"`
	TargetPath string `json:"target_path"`
}

type RouterRequestImportTransfers struct {
	Rows              []RouterRequestImportRow `json:"rows" binding:"required"`
	DefaultTargetPath string                   `json:"default_target_path"`
	AutoShare         bool                     `json:"auto_share"`
}

type RouterRequestImportShares struct {
	Path       string `json:"path" binding:"required"`
	ExpiryDays *int   `json:"expiry_days" binding:"omitempty,validate_expiry"`
	Password   string `json:"password"`
}

type RouterRequestReorder struct {
	IDs []int64 `json:"ids" binding:"required"`
}

type RouterRequestClear struct {
	Status string `json:"status" binding:"omitempty,validate_status"`
}

type RouterRequestToggleAutoShare struct {
	Enabled *bool `json:"enabled" binding:"required"`
}
