package dto

import (
	"time"

	"opendavinci/internal/microservices/supercomponent"
)

// DTOs for the module status endpoints

type ModuleResponse struct {
	Key              string   `json:"key"`
	Name             string   `json:"name"`
	Identifier       string   `json:"identifier,omitempty"`
	Version          string   `json:"version,omitempty"`
	State            string   `json:"state"`
	HasExitCode      bool     `json:"has_exit_code"`
	ExitCode         string   `json:"exit_code,omitempty"`
	ConnectedAt      string   `json:"connected_at"`
	UpdatedAt        string   `json:"updated_at"`
	SliceConsumption *float64 `json:"slice_consumption,omitempty"`
}

type ModuleListResponse struct {
	Count   int              `json:"count"`
	Modules []ModuleResponse `json:"modules"`
}

func ModuleFromInfo(info supercomponent.ModuleInfo) ModuleResponse {
	resp := ModuleResponse{
		Key:              info.Key,
		Name:             info.Name,
		Identifier:       info.Identifier,
		Version:          info.Version,
		State:            info.State.String(),
		HasExitCode:      info.HasExitCode,
		ConnectedAt:      info.ConnectedAt.Format(time.RFC3339),
		UpdatedAt:        info.UpdatedAt.Format(time.RFC3339),
		SliceConsumption: info.SliceConsumption,
	}
	if info.ExitCode != nil {
		resp.ExitCode = info.ExitCode.String()
	}
	return resp
}
