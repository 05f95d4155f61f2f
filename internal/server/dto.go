package server

import (
	"time"

	"github.com/google/uuid"

	"machinepark/internal/domain"
	"machinepark/internal/engine"
)

// Request payloads

type RegisterMachineRequest struct {
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"`
	CommerceID  string `json:"commerce_id,omitempty"`
	PlateID     string `json:"plate_id"`
	EnclosureID string `json:"enclosure_id"`
}

type TransitionRequest struct {
	// Success resolves finish-maintenance; other operations ignore it.
	Success *bool `json:"success,omitempty"`
	// Message overrides the notification text for the operation.
	Message string `json:"message,omitempty"`
}

type UseComponentRequest struct {
	MachineID string `json:"machine_id"`
}

type ReleaseBatchRequest struct {
	ComponentIDs []string `json:"component_ids"`
}

type UpsertUserRequest struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Type      string  `json:"type" enum:"Tecnico,Logistica"`
	Specialty *string `json:"specialty,omitempty" enum:"Ensamblador,Comprobador,Mantenimiento"`
	Active    *bool   `json:"active,omitempty"`
}

type CreateAPIKeyRequest struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Key    string `json:"key"`
}

// Response payloads

type TransitionResponse struct {
	Machine  domain.Machine `json:"machine"`
	Warnings []string       `json:"warnings,omitempty"`
}

type ComponentListResponse struct {
	Items []domain.Component `json:"items"`
	Total int                `json:"total"`
}

type ReleaseBatchResponse struct {
	Released []string `json:"released"`
}

func transitionResponse(res engine.TransitionResult) TransitionResponse {
	return TransitionResponse{Machine: res.Machine, Warnings: res.Warnings}
}

func nowRFC3339(e *engine.Engine) string {
	if e != nil && e.Now != nil {
		return e.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

func newID() string {
	return uuid.NewString()
}
