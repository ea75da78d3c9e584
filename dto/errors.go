package dto

import "errors"

// Custom errors
var (
	ErrBatchNotFound = errors.New("batch not found")
	ErrBatchRunning  = errors.New("batch is still running")
	ErrBatchFinished = errors.New("batch already finished")
	ErrNoInputFiles  = errors.New("no invoices or payment screenshots found")
	ErrInvalidInput  = errors.New("invalid request")
)
