package api

const ApiVersion_1_0 = "1.0"

const ServerVersion = "HatchDbPool: 1.0.0"

type GetVersionReq struct {
	ApiVersion string `json:"api_version,omitempty"`
}

func (r GetVersionReq) RequestMethod() (string, string) {
	return "GET", "/version"
}

type GetVersionRsp struct {
	ServerVersion string `json:"server_version"`
	ApiVersion    string `json:"api_version"`
}

type GetDbPingRsp struct {
	LeaseId  string `json:"lease_id"`
	Database string `json:"database"`
}

type GetDbStatsRsp struct {
	Requests    uint64 `json:"requests"`
	Returns     uint64 `json:"returns"`
	Failures    uint64 `json:"failures"`
	Outstanding uint64 `json:"outstanding"`
	InUse       int    `json:"in_use"`
	MaxOpen     int    `json:"max_open"`
}
