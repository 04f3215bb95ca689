package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"yieldstake/native/staking"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

var errInvalidOwner = errors.New("invalid owner address")

var statusByCode = map[string]int{
	"not_initialized":          http.StatusConflict,
	"already_initialized":      http.StatusConflict,
	"invalid_rate":             http.StatusBadRequest,
	"below_threshold":          http.StatusUnprocessableEntity,
	"insufficient_principal":   http.StatusUnprocessableEntity,
	"overflow":                 http.StatusUnprocessableEntity,
	"invalid_amount":           http.StatusBadRequest,
	"invalid_decimals":         http.StatusBadRequest,
	"invalid_model":            http.StatusBadRequest,
	"immutable_model":          http.StatusConflict,
	"unauthorized":             http.StatusForbidden,
	"nothing_staked":           http.StatusUnprocessableEntity,
	"insufficient_balance":     http.StatusUnprocessableEntity,
	"insufficient_reward_pool": http.StatusUnprocessableEntity,
	"settlement_conflict":      http.StatusConflict,
	"invalid_settlement_id":    http.StatusBadRequest,
}

// toHTTPError maps a ledger error onto a status code and a JSON body that
// carries enough detail for a client to explain the rejection.
func toHTTPError(err error) (int, errorBody) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorBody{Error: errorDetail{Code: "timeout", Message: "settlement timed out"}}
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, errorBody{Error: errorDetail{Code: "cancelled", Message: "request cancelled"}}
	case errors.Is(err, errInvalidOwner):
		return http.StatusBadRequest, errorBody{Error: errorDetail{Code: "invalid_owner", Message: err.Error()}}
	}
	code := staking.ErrorCode(err)
	status, ok := statusByCode[code]
	if !ok {
		return http.StatusInternalServerError, errorBody{Error: errorDetail{Code: "internal", Message: "internal error"}}
	}
	detail := errorDetail{Code: code, Message: err.Error()}

	var thresholdErr *staking.ThresholdError
	var principalErr *staking.PrincipalError
	var poolErr *staking.PoolError
	var rateErr *staking.RateError
	switch {
	case errors.As(err, &thresholdErr):
		detail.Details = map[string]string{
			"operation": string(thresholdErr.Operation),
			"amount":    strconv.FormatUint(thresholdErr.AmountRaw, 10),
			"threshold": strconv.FormatUint(thresholdErr.ThresholdRaw, 10),
		}
	case errors.As(err, &principalErr):
		detail.Details = map[string]string{
			"requested": strconv.FormatUint(principalErr.RequestedRaw, 10),
			"staked":    strconv.FormatUint(principalErr.StakedRaw, 10),
		}
	case errors.As(err, &poolErr):
		detail.Details = map[string]string{
			"required":  strconv.FormatUint(poolErr.RequiredRaw, 10),
			"available": strconv.FormatUint(poolErr.AvailableRaw, 10),
		}
	case errors.As(err, &rateErr):
		detail.Details = map[string]string{
			"value":  rateErr.Value,
			"reason": rateErr.Reason,
		}
	}
	return status, errorBody{Error: detail}
}
