package screen

type CreateScreenRequest struct {
	Width  float64 `json:"width" validate:"required,gt=0,lte=10000"`
	Height float64 `json:"height" validate:"required,gt=0,lte=10000"`
}

type ScreenSummary struct {
	ID        string `json:"id"`
	Recording string `json:"recording"`
}

type ListScreensResponse struct {
	Screens []ScreenSummary `json:"screens"`
}
