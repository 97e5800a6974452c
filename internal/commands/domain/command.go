package commands

import (
	"context"
	"errors"
	"time"
)

const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// ErrDispatch indicates the device-management API did not accept a downlink.
var ErrDispatch = errors.New("commands: dispatch failed")

// Command is one downlink submitted to the actuator.
type Command struct {
	CommandID string
	DevEUI    string
	Signal    string
	Action    string
	Payload   string
	FPort     int
	Status    string
	Error     string
	CreatedAt time.Time
}

// Repository records dispatched commands.
type Repository interface {
	Create(ctx context.Context, cmd *Command) error
	ListRecent(ctx context.Context, limit int) ([]Command, error)
}
