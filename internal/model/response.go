package model

type ErrorResponse struct {
	Error string `json:"error"`
}

type PingResponse struct {
	Message string `json:"message"`
}

type RootResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status    string       `json:"status"`
	Service   string       `json:"service"`
	Scheduler string       `json:"scheduler"`
	CloudID   string       `json:"jsm_cloud_id,omitempty"`
	LastCycle *CycleResult `json:"last_cycle,omitempty"`
}

type SyncResponse struct {
	Status string      `json:"status"`
	Data   CycleResult `json:"data"`
}

// AuthUser - JWT access token에서 추출한 사용자
type AuthUser struct {
	LoginID string
}
