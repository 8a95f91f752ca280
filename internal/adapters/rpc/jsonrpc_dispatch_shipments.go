package rpc

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"blockroute/go-coordinator/internal/coordinator"
	"blockroute/go-coordinator/pkg/models"
)

// Service error codes. The category of a coordinator failure picks the
// code so callers can tell a rejected request from a backend outage.
const (
	codeInvalidInput   = -32020
	codeContextFailure = -32021
	codeLedgerFailure  = -32022
	codePartialFailure = -32023
	codeNotFound       = -32004
)

func (s *Server) dispatchShipmentRPC(r *http.Request, method string, rawParams json.RawMessage) (any, *rpcError, bool) {
	switch method {
	case "shipment_create":
		result, rpcErr := s.rpcShipmentCreate(r, rawParams)
		return result, rpcErr, true
	case "shipment_track":
		result, rpcErr := s.rpcShipmentTrack(r, rawParams)
		return result, rpcErr, true
	case "shipment_update_status":
		result, rpcErr := s.rpcShipmentUpdateStatus(r, rawParams)
		return result, rpcErr, true
	case "shipment_list":
		result, rpcErr := s.rpcShipmentList(r)
		return result, rpcErr, true
	case "shipment_status":
		result, rpcErr := s.rpcShipmentStatus(rawParams)
		return result, rpcErr, true
	case "records_list":
		return s.service.Records(), nil, true
	default:
		return nil, nil, false
	}
}

func (s *Server) rpcShipmentCreate(r *http.Request, rawParams json.RawMessage) (any, *rpcError) {
	var in models.ShipmentInput
	if err := decodeParams(rawParams, &in); err != nil {
		return nil, rpcInvalidParams()
	}
	rec, err := s.service.Create(r.Context(), in)
	if err != nil {
		return nil, mapCoordinatorError(err)
	}
	return rec, nil
}

func (s *Server) rpcShipmentTrack(r *http.Request, rawParams json.RawMessage) (any, *rpcError) {
	identifier, err := decodeSingleStringParam(rawParams, "id")
	if err != nil {
		return nil, rpcInvalidParams()
	}
	view, err := s.service.Track(r.Context(), identifier)
	if err != nil {
		return nil, mapCoordinatorError(err)
	}
	return view, nil
}

func (s *Server) rpcShipmentUpdateStatus(r *http.Request, rawParams json.RawMessage) (any, *rpcError) {
	var params struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Notes  string `json:"notes"`
	}
	if err := decodeParams(rawParams, &params); err != nil {
		return nil, rpcInvalidParams()
	}
	requested := models.ShipmentStatus(strings.TrimSpace(params.Status))
	if params.ID == "" || !requested.Valid() {
		return nil, rpcInvalidParams()
	}
	next, err := s.service.UpdateStatus(r.Context(), params.ID, requested, params.Notes)
	if err != nil {
		return nil, mapCoordinatorError(err)
	}
	return map[string]string{"id": params.ID, "status": string(next)}, nil
}

func (s *Server) rpcShipmentList(r *http.Request) (any, *rpcError) {
	views, err := s.service.ListShipments(r.Context())
	if err != nil {
		return nil, mapCoordinatorError(err)
	}
	return views, nil
}

func (s *Server) rpcShipmentStatus(rawParams json.RawMessage) (any, *rpcError) {
	fingerprint, err := decodeSingleStringParam(rawParams, "fingerprint")
	if err != nil {
		return nil, rpcInvalidParams()
	}
	rec, err := s.service.Record(fingerprint)
	if err != nil {
		return nil, mapCoordinatorError(err)
	}
	return rec, nil
}

func decodeParams(rawParams json.RawMessage, dst any) error {
	if len(rawParams) == 0 {
		return errors.New("params are required")
	}
	dec := json.NewDecoder(strings.NewReader(string(rawParams)))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func decodeSingleStringParam(rawParams json.RawMessage, key string) (string, error) {
	var params map[string]string
	if err := json.Unmarshal(rawParams, &params); err != nil {
		return "", err
	}
	value := strings.TrimSpace(params[key])
	if value == "" {
		return "", errors.New(key + " is required")
	}
	return value, nil
}

func rpcInvalidParams() *rpcError {
	return &rpcError{Code: -32602, Message: "invalid params"}
}

func mapCoordinatorError(err error) *rpcError {
	if errors.Is(err, coordinator.ErrUnknownRecord) {
		return &rpcError{Code: codeNotFound, Message: err.Error()}
	}
	var partial *coordinator.PartialFailureError
	if errors.As(err, &partial) {
		return &rpcError{Code: codePartialFailure, Message: err.Error()}
	}
	switch coordinator.ErrorCategory(err) {
	case "context":
		return &rpcError{Code: codeContextFailure, Message: err.Error()}
	case "ledger":
		return &rpcError{Code: codeLedgerFailure, Message: err.Error()}
	default:
		return &rpcError{Code: codeInvalidInput, Message: err.Error()}
	}
}
