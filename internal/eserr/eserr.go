// Package eserr defines the Elasticsearch error kinds and their HTTP rendering.
package eserr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error is a search failure carrying the HTTP status and the Elasticsearch
// error type it is reported as.
type Error struct {
	Status int    `json:"status"`
	Type   string `json:"type"`
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on the error type so callers can test kinds with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

// Body renders the error the way Elasticsearch does.
func (e *Error) Body() map[string]any {
	cause := map[string]any{"type": e.Type, "reason": e.Reason}
	return map[string]any{
		"error": map[string]any{
			"root_cause": []any{cause},
			"type":       e.Type,
			"reason":     e.Reason,
		},
		"status": e.Status,
	}
}

func New(status int, typ string, reason string, err error) *Error {
	return &Error{Status: status, Type: typ, Reason: reason, Err: err}
}

// Sentinels for errors.Is checks.
var (
	ErrUnsupportedQueryType        = &Error{Type: "unsupported_query_type"}
	ErrUnsupportedAggregationType  = &Error{Type: "unsupported_aggregation_type"}
	ErrNoSuchMapping               = &Error{Type: "no_such_mapping"}
	ErrInvalidAggregationFieldType = &Error{Type: "invalid_aggregation_field_type"}
	ErrShardFailed                 = &Error{Type: "shard_failed"}
	ErrIndexNotFound               = &Error{Type: "index_not_found_exception"}
	ErrParsing                     = &Error{Type: "parsing_exception"}
	ErrResourceAlreadyExists       = &Error{Type: "resource_already_exists_exception"}
	ErrInvalidIndexName            = &Error{Type: "invalid_index_name_exception"}
	ErrRejectedExecution           = &Error{Type: "es_rejected_execution_exception"}
)

func UnsupportedQueryType(key string) *Error {
	return New(http.StatusBadRequest, ErrUnsupportedQueryType.Type, fmt.Sprintf("unsupported query type [%s]", key), nil)
}

func UnsupportedAggregationType(name string) *Error {
	return New(http.StatusBadRequest, ErrUnsupportedAggregationType.Type, fmt.Sprintf("unsupported aggregation type for [%s]", name), nil)
}

func NoSuchMapping(field string) *Error {
	return New(http.StatusBadRequest, ErrNoSuchMapping.Type, fmt.Sprintf("no mapping found for field [%s]", field), nil)
}

func InvalidAggregationFieldType(expected []string, actual string) *Error {
	reason := fmt.Sprintf("field type [%s] is not one of [%s]", actual, strings.Join(expected, ", "))
	return New(http.StatusBadRequest, ErrInvalidAggregationFieldType.Type, reason, nil)
}

func ShardFailed(err error) *Error {
	return New(http.StatusInternalServerError, ErrShardFailed.Type, "all shards failed", err)
}

func IndexNotFound(pattern string) *Error {
	return New(http.StatusNotFound, ErrIndexNotFound.Type, fmt.Sprintf("no such index [%s]", pattern), nil)
}

func ResourceAlreadyExists(index string) *Error {
	return New(http.StatusBadRequest, ErrResourceAlreadyExists.Type, fmt.Sprintf("index [%s] already exists", index), nil)
}

func InvalidIndexName(index string) *Error {
	return New(http.StatusBadRequest, ErrInvalidIndexName.Type, fmt.Sprintf("invalid index name [%s]", index), nil)
}

// RejectedExecution reports a search turned away because the node is at its
// request rate limit.
func RejectedExecution() *Error {
	return New(http.StatusTooManyRequests, ErrRejectedExecution.Type, "rejected execution of search request", nil)
}

func Parsing(format string, args ...any) *Error {
	return New(http.StatusBadRequest, ErrParsing.Type, fmt.Sprintf(format, args...), nil)
}

// From converts any error into an *Error, treating unknown errors as shard
// failures.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ShardFailed(err)
}
